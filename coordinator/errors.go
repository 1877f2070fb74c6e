package coordinator

import "fmt"

// Kind classifies a coordinator-level error by how it propagates (spec.md
// §7). The tracer and its collaborators never abort capture on a per-event
// failure; only Setup and PackWrite ever reach the caller as a non-zero
// coordinator exit.
type Kind string

const (
	// KindSetup covers tracer attach, store open, and pipe-create failures.
	// Fatal: surfaced to the caller, no pack is produced.
	KindSetup Kind = "Setup"

	// KindTransientCapture is a single failed memory read or an ambiguous
	// event decode. Recorded as an annotated event; capture continues.
	KindTransientCapture Kind = "TransientCapture"

	// KindSpill is a dropped record from a full store channel or ring.
	// Counted in stats, never surfaced as a per-event error.
	KindSpill Kind = "Spill"

	// KindSamplerUnavailable marks the stack sampler disabled for this run
	// (no perf_event_open, or a restrictive perf_event_paranoid). Recorded
	// once in diagnostics.
	KindSamplerUnavailable Kind = "SamplerUnavailable"

	// KindPackWrite is fatal after a successful capture: the event store is
	// sealed and left on disk, but the archive itself could not be written.
	KindPackWrite Kind = "PackWrite"
)

// Error wraps an underlying failure with its propagation Kind so callers
// can errors.As into it and decide whether to abort.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("coordinator: %s", e.Kind)
	}
	return fmt.Sprintf("coordinator: %s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Fatal reports whether an error of this kind should abort the run (no
// pack, or a pack write failure after an otherwise complete capture).
func (k Kind) Fatal() bool {
	return k == KindSetup || k == KindPackWrite
}
