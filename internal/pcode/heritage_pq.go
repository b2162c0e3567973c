package pcode

import "github.com/emirpasic/gods/queues/priorityqueue"

// depthPQ orders BlockBasic entries by dominator-tree depth, deepest
// first, backing calcMultiequals's phi-placement work-list (spec §4.2.2
// step 4: "a priority queue over dominator depth").
type depthPQ struct {
	q *priorityqueue.Queue
}

func newDepthPriorityQueue() *depthPQ {
	return &depthPQ{q: priorityqueue.NewWith(byDepthDesc)}
}

func byDepthDesc(a, b interface{}) int {
	ba, bb := a.(*BlockBasic), b.(*BlockBasic)
	return bb.domDepth - ba.domDepth
}

func (p *depthPQ) push(b *BlockBasic) { p.q.Enqueue(b) }

func (p *depthPQ) pop() *BlockBasic {
	v, _ := p.q.Dequeue()
	b, _ := v.(*BlockBasic)
	return b
}

func (p *depthPQ) len() int { return p.q.Size() }
