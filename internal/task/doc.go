// Package task implements the per-bundle fetch state machine.
//
// One Task exists per bundle id being downloaded or queued; the scheduler
// enforces that invariant. A task moves through:
//
//	Queued -> Fetching -> ResolvingDependencies -> MappingAssets -> Done
//
// with detours to Failed (retryable until the attempt budget is spent, then
// terminal), Cancelled, and Paused. Transition methods validate the current
// state and return ErrInvalidTransition otherwise, so an illegal transition
// is a bug surfaced immediately rather than silent state corruption.
//
// # Ownership
//
// A Task is owned by the scheduler and mutated only on its tick; it carries
// no lock of its own. The single concurrently shared piece is the byte
// progress counter, which the transport goroutine increments and the stall
// sampler reads.
//
// # Stall detection
//
// SampleProgress compares the cumulative byte count against the previous
// sample. The caller owns the (escalating) threshold; a true return means
// the transfer made no progress for longer than the threshold and should be
// treated as a transport error. Tasks on transports that cannot report
// progress are never sampled.
package task
