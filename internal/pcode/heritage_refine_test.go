package pcode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoundsToSizes(t *testing.T) {
	require.Equal(t, []int{4}, boundsToSizes([]int{0, 4}))
	require.Equal(t, []int{1, 3}, boundsToSizes([]int{0, 1, 4}))
	require.Equal(t, []int{1, 1, 1, 1}, boundsToSizes([]int{0, 1, 2, 3, 4}))
}

// TestRemove13RefinementCollapses is spec §8 scenario F: a double-precision
// value refined by a 1-byte access at offset 3 collapses the resulting
// 3+1 partition back into a single 4-byte partition rather than leaving
// three separate pieces.
func TestRemove13RefinementCollapses(t *testing.T) {
	require.Equal(t, []int{4, 4}, remove13Refinement([]int{3, 1, 4}))
	require.Equal(t, []int{4, 4}, remove13Refinement([]int{1, 3, 4}))
	require.Equal(t, []int{4}, remove13Refinement([]int{1, 3}))
	require.Equal(t, []int{4}, remove13Refinement([]int{3, 1}))
}

func TestRemove13RefinementLeavesOtherSizesAlone(t *testing.T) {
	require.Equal(t, []int{2, 2}, remove13Refinement([]int{2, 2}))
	require.Equal(t, []int{1, 1}, remove13Refinement([]int{1, 1}))
	require.Equal(t, []int{8}, remove13Refinement([]int{8}))
}

func TestRemove13RefinementDoesNotDoubleConsume(t *testing.T) {
	// 1,3,1,3 should pair up as (1,3) then (1,3), not skip past a middle 3.
	require.Equal(t, []int{4, 4}, remove13Refinement([]int{1, 3, 1, 3}))
}

func TestShortestPartitionMatch(t *testing.T) {
	require.Equal(t, 4, shortestPartitionMatch([]int{4}, 4))
	require.Equal(t, -1, shortestPartitionMatch([]int{1, 3}, 4))
}
