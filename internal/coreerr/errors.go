// Package coreerr implements the error taxonomy and attached-warning model
// described by the core's error handling design: a family of recoverable
// LowLevelErrors the driver (or a jump-table model loop) may catch and
// retry past, a JumptableThunkError subtype that is fatal to jump-table
// recovery but not to the function, a DataUnavailError raised by the
// emulator and wrapped by its caller, and Warnings that attach to a
// Function rather than propagating as errors at all.
package coreerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Reason enumerates the recoverable failure reasons named in the spec.
// Keeping it a closed enum (rather than free-form strings) lets callers
// switch on Reason without string matching.
type Reason int

const (
	ReasonCouldNotEmulate Reason = iota
	ReasonDestinationNotFound
	ReasonSanityCheckFailed
	ReasonBadExecuteAddress
	ReasonDivideByZero128
	ReasonUnresolvedMultiequal
	ReasonForcedMergeIntersection
)

func (r Reason) String() string {
	switch r {
	case ReasonCouldNotEmulate:
		return "could not emulate"
	case ReasonDestinationNotFound:
		return "jumptable destination not found"
	case ReasonSanityCheckFailed:
		return "sanity check failed"
	case ReasonBadExecuteAddress:
		return "bad execute address"
	case ReasonDivideByZero128:
		return "divide by 0 in 128-bit division"
	case ReasonUnresolvedMultiequal:
		return "unresolved MULTIEQUAL at jumptable emulation start"
	case ReasonForcedMergeIntersection:
		return "forced merge caused intersection"
	default:
		return "unknown low-level error"
	}
}

// LowLevelError is recoverable at the caller: a model attempt, a heritage
// pass, or a merge step may catch it and take the fallback path the spec
// describes for that reason.
type LowLevelError struct {
	Reason Reason
	cause  error
}

func NewLowLevelError(reason Reason) *LowLevelError {
	return &LowLevelError{Reason: reason}
}

func WrapLowLevelError(reason Reason, cause error) *LowLevelError {
	return &LowLevelError{Reason: reason, cause: errors.WithStack(cause)}
}

func (e *LowLevelError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.cause)
	}
	return e.Reason.String()
}

func (e *LowLevelError) Unwrap() error { return e.cause }

// JumptableThunkError is a LowLevelError subtype: a single-entry table that
// looks like a thunk (destination offset 0, or an address far outside the
// load image). It is fatal to jump-table recovery for this BRANCHIND but
// not to the function: the caller demotes the op to a tail call.
type JumptableThunkError struct {
	*LowLevelError
	Destination uint64
}

func NewJumptableThunkError(dest uint64) *JumptableThunkError {
	return &JumptableThunkError{
		LowLevelError: NewLowLevelError(ReasonSanityCheckFailed),
		Destination:   dest,
	}
}

func (e *JumptableThunkError) Error() string {
	return fmt.Sprintf("jumptable thunk at destination 0x%x", e.Destination)
}

// DataUnavailError is raised by the emulator when it cannot resolve a read
// (e.g. a LOAD from unmapped memory during path emulation). Callers wrap it
// into a LowLevelError carrying the offending op's address.
type DataUnavailError struct {
	Addr string // formatted address of the unavailable location
}

func (e *DataUnavailError) Error() string {
	return fmt.Sprintf("data unavailable at %s", e.Addr)
}

// WrapDataUnavail turns a DataUnavailError into the LowLevelError the spec
// says the caller produces, tagging the offending op's address.
func WrapDataUnavail(opAddr string, cause *DataUnavailError) *LowLevelError {
	return WrapLowLevelError(ReasonCouldNotEmulate, errors.WithMessagef(cause, "at op %s", opAddr))
}

// WarningKind enumerates the fixed set of non-fatal diagnostics the core
// attaches to a function rather than throwing.
type WarningKind int

const (
	WarnMayNotBeProperlyLabeled WarningKind = iota
	WarnBadSwitchCase
	WarnSanityTruncation
	WarnManuallyOverridden
	WarnSecondStageRecoveryError
	WarnHeritageAfterDeadRemoval
)

func (k WarningKind) String() string {
	switch k {
	case WarnMayNotBeProperlyLabeled:
		return "may not be properly labeled"
	case WarnBadSwitchCase:
		return "bad switch case"
	case WarnSanityTruncation:
		return "sanity check required truncation"
	case WarnManuallyOverridden:
		return "switch is manually overridden"
	case WarnSecondStageRecoveryError:
		return "second-stage recovery error"
	case WarnHeritageAfterDeadRemoval:
		return "heritage AFTER dead removal"
	default:
		return "warning"
	}
}

// Warning is attached to a Function, not thrown. Frame is the call site
// that raised it (see corelog.CallerFrame), kept for diagnostics.
type Warning struct {
	Kind    WarningKind
	Detail  string
	Frame   string
}

func (w Warning) String() string {
	if w.Detail == "" {
		return w.Kind.String()
	}
	return fmt.Sprintf("%s: %s", w.Kind, w.Detail)
}

// WarningSink is satisfied by anything that can accumulate Warnings; the
// core's Function type implements it.
type WarningSink interface {
	AddWarning(kind WarningKind, detail string)
}
