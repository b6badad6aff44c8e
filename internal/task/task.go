package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KDRohit/Aruze10-sub023/internal/archive"
	"github.com/KDRohit/Aruze10-sub023/internal/transport"
	"github.com/KDRohit/Aruze10-sub023/pkg/manifest"
)

// Common errors.
var (
	// ErrInvalidTransition is returned when a state transition is attempted
	// from a state that does not allow it.
	ErrInvalidTransition = errors.New("task: invalid state transition")

	// ErrStalled marks a transfer that made no byte progress for longer
	// than the stall threshold. Treated exactly like a transport error.
	ErrStalled = errors.New("task: download stalled")

	// ErrStructural marks a bundle whose archive failed to open or map.
	// Never retried: broken bytes stay broken.
	ErrStructural = errors.New("task: bundle archive is structurally broken")

	// ErrPauseUnsupported is returned when pausing a task whose transport
	// cannot pause (local/offline sources).
	ErrPauseUnsupported = errors.New("task: transport does not support pausing")
)

// State is the lifecycle state of a fetch task.
type State int

const (
	Queued State = iota
	Fetching
	ResolvingDependencies
	MappingAssets
	Done
	Failed
	Cancelled
	Paused
)

var stateNames = map[State]string{
	Queued:                "queued",
	Fetching:              "fetching",
	ResolvingDependencies: "resolving_dependencies",
	MappingAssets:         "mapping_assets",
	Done:                  "done",
	Failed:                "failed",
	Cancelled:             "cancelled",
	Paused:                "paused",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Options carries the per-request flags that shape a task's behavior.
type Options struct {
	// KeepLoaded pins the resulting cache entry so it is never auto-evicted.
	KeepLoaded bool

	// Lazy marks an opportunistic pre-cache download: runs in the single
	// background slot, is dropped under memory pressure, and its failures
	// never interrupt the user.
	Lazy bool

	// SkipMapping loads the bundle without building the asset-name map;
	// assets are then looked up on demand by canonical path.
	SkipMapping bool

	// BlockingUI marks a download the loading screen is waiting on; it
	// sorts before non-blocking work of equal dependency rank.
	BlockingUI bool
}

// Callback is one caller waiting on a specific asset inside the bundle.
// OnSuccess and OnFailure may each be nil; the scheduler logs and proceeds.
type Callback struct {
	Path      string
	OnSuccess func(path string, asset archive.AssetHandle, ref any)
	OnFailure func(path string, ref any)
	Ref       any
}

// Task is one in-flight or queued bundle download. See the package comment
// for the ownership rules.
type Task struct {
	ID   manifest.BundleID
	Base manifest.BaseName
	Opts Options

	// Seq is the enqueue order, the FIFO tiebreaker in the run queue.
	Seq uint64

	// MaxRetries is the retry budget for retryable failures.
	MaxRetries int

	// Attempt counts fetch attempts, starting at 0.
	Attempt int

	// Gen counts fetch generations. It advances whenever the task re-enters
	// the queue (retry, resume, reattach), so the scheduler can discard
	// results delivered by a superseded transfer.
	Gen int

	// DependsOn holds unsatisfied prerequisite bundle ids. Only ever
	// shrinks; the task leaves ResolvingDependencies when it is empty.
	DependsOn map[manifest.BundleID]struct{}

	// Dependents holds reverse edges: bundles whose task waits on this one.
	Dependents map[manifest.BundleID]struct{}

	// Data holds the fetched bundle bytes once Fetching completes.
	Data []byte

	// Archive and AssetMap hold the mapping result, set before Done.
	// AssetMap is nil when mapping was skipped.
	Archive  archive.Archive
	AssetMap map[string]archive.AssetHandle

	StartedAt   time.Time
	PausedFor   string
	hostIndex   int
	state       State
	terminal    bool
	failure     error
	waiters     []Callback
	cancelFetch context.CancelFunc

	progress     *transport.Counter
	hasProgress  bool
	lastBytes    int64
	lastChangeAt time.Time
}

// New creates a queued task for a bundle.
func New(id manifest.BundleID, base manifest.BaseName, opts Options, seq uint64, maxRetries int) *Task {
	return &Task{
		ID:         id,
		Base:       base,
		Opts:       opts,
		Seq:        seq,
		MaxRetries: maxRetries,
		DependsOn:  make(map[manifest.BundleID]struct{}),
		Dependents: make(map[manifest.BundleID]struct{}),
		state:      Queued,
		progress:   &transport.Counter{},
	}
}

// State returns the current state.
func (t *Task) State() State {
	return t.state
}

// Terminal reports whether the task has reached a state it cannot leave:
// Done, or Failed with the retry budget spent or a structural error.
func (t *Task) Terminal() bool {
	return t.state == Done || (t.state == Failed && t.terminal)
}

// Failure returns the error recorded by the most recent failure.
func (t *Task) Failure() error {
	return t.failure
}

// ReadyToStart reports whether the scheduler may begin this task's fetch.
// Only a Queued task qualifies; dependencies gate mapping, not fetching.
func (t *Task) ReadyToStart() bool {
	return t.state == Queued
}

// Progress returns the shared byte counter handed to the transport.
func (t *Task) Progress() *transport.Counter {
	return t.progress
}

// BytesDownloaded returns the cumulative bytes received so far.
func (t *Task) BytesDownloaded() int64 {
	return t.progress.Load()
}

// Fraction reports download completion in [0,1]. A payload that has fully
// arrived reports 1 even while dependencies resolve or mapping runs; an
// in-flight transfer whose expected size is unknown reports 0.
func (t *Task) Fraction() float64 {
	switch t.state {
	case ResolvingDependencies, MappingAssets, Done:
		return 1
	}
	total := t.progress.Total()
	if total <= 0 {
		return 0
	}
	f := float64(t.progress.Load()) / float64(total)
	if f > 1 {
		f = 1
	}
	return f
}

// AddWaiter appends a pending callback. Waiters are notified in order on
// completion or terminal failure. A task with no waiters is a cache warmer.
func (t *Task) AddWaiter(cb Callback) {
	t.waiters = append(t.waiters, cb)
}

// TakeWaiters returns and clears the pending callbacks.
func (t *Task) TakeWaiters() []Callback {
	w := t.waiters
	t.waiters = nil
	return w
}

// WaiterCount returns the number of pending callbacks.
func (t *Task) WaiterCount() int {
	return len(t.waiters)
}

// HostIndex returns the current host rotation index.
func (t *Task) HostIndex() int {
	return t.hostIndex
}

// Start moves Queued -> Fetching. cancel aborts the in-flight transport
// fetch; supportsProgress enables stall sampling.
func (t *Task) Start(now time.Time, cancel context.CancelFunc, supportsProgress bool) error {
	if !t.ReadyToStart() {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, t.state)
	}
	t.state = Fetching
	t.StartedAt = now
	t.cancelFetch = cancel
	t.hasProgress = supportsProgress
	t.lastBytes = t.progress.Load()
	t.lastChangeAt = now
	return nil
}

// BytesComplete moves Fetching -> ResolvingDependencies once the transport
// delivered the full payload.
func (t *Task) BytesComplete(data []byte) error {
	if t.state != Fetching {
		return fmt.Errorf("%w: bytes complete from %s", ErrInvalidTransition, t.state)
	}
	t.Data = data
	t.cancelFetch = nil
	t.state = ResolvingDependencies
	return nil
}

// DependencyDone records that a prerequisite bundle reached Done. DependsOn
// only ever shrinks.
func (t *Task) DependencyDone(id manifest.BundleID) {
	delete(t.DependsOn, id)
}

// DependenciesResolved reports whether every prerequisite is satisfied.
func (t *Task) DependenciesResolved() bool {
	return len(t.DependsOn) == 0
}

// BeginMapping moves ResolvingDependencies -> MappingAssets. Refused while
// any dependency is outstanding: archives may reference objects that resolve
// only once their dependency bundles are in memory.
func (t *Task) BeginMapping() error {
	if t.state != ResolvingDependencies {
		return fmt.Errorf("%w: begin mapping from %s", ErrInvalidTransition, t.state)
	}
	if !t.DependenciesResolved() {
		return fmt.Errorf("%w: %d dependencies outstanding", ErrInvalidTransition, len(t.DependsOn))
	}
	t.state = MappingAssets
	return nil
}

// Complete moves MappingAssets -> Done with the mapping result. assetMap is
// nil when mapping was skipped.
func (t *Task) Complete(a archive.Archive, assetMap map[string]archive.AssetHandle) error {
	if t.state != MappingAssets {
		return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, t.state)
	}
	t.Archive = a
	t.AssetMap = assetMap
	t.state = Done
	return nil
}

// FailRetryable records a transport or stall failure, aborting any in-flight
// fetch. The task lands in Failed; whether it is terminal depends on the
// remaining retry budget.
func (t *Task) FailRetryable(err error) {
	t.failure = err
	t.state = Failed
	t.abortFetch()
	if t.Attempt >= t.MaxRetries {
		t.terminal = true
	}
}

// FailTerminal records an unretryable failure (structural error, or a caller
// that knows better). The task is terminal regardless of attempts.
func (t *Task) FailTerminal(err error) {
	t.failure = err
	t.state = Failed
	t.terminal = true
	t.abortFetch()
}

// abortFetch cancels the in-flight transport fetch, if any.
func (t *Task) abortFetch() {
	if t.cancelFetch != nil {
		t.cancelFetch()
		t.cancelFetch = nil
	}
}

// Requeue moves a retryable Failed task back to Queued, advancing the
// attempt counter and rotating to the next source host. The caller bumps the
// persisted version counter so the retry cannot be served from a poisoned
// cache entry.
func (t *Task) Requeue() error {
	if t.state != Failed || t.terminal {
		return fmt.Errorf("%w: requeue from %s (terminal=%v)", ErrInvalidTransition, t.state, t.terminal)
	}
	t.Attempt++
	t.Gen++
	t.hostIndex++
	t.state = Queued
	t.failure = nil
	t.Data = nil
	t.progress = &transport.Counter{}
	return nil
}

// Cancel marks the task cancelled. Idempotent, and a no-op on a task that
// already reached Done or a terminal failure: cancellation checks state, so
// it can never resurrect or un-finish a task that completed in the same
// scheduling tick. An in-flight transport fetch is aborted cooperatively.
func (t *Task) Cancel() {
	if t.Terminal() || t.state == Cancelled {
		return
	}
	t.state = Cancelled
	t.abortFetch()
}

// Pause suspends a queued or in-flight fetch, keeping progress metadata.
func (t *Task) Pause(reason string) error {
	if t.state != Fetching && t.state != Queued {
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, t.state)
	}
	t.abortFetch()
	t.state = Paused
	t.PausedFor = reason
	return nil
}

// Resume moves a Paused task back to Queued; the scheduler restarts the
// fetch under the normal concurrency cap.
func (t *Task) Resume() error {
	if t.state != Paused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, t.state)
	}
	t.state = Queued
	t.Gen++
	t.PausedFor = ""
	t.progress = &transport.Counter{}
	return nil
}

// Reattach flips a Paused or Cancelled task back to Queued so a new request
// for the same bundle reuses it instead of spawning a duplicate.
func (t *Task) Reattach() error {
	switch t.state {
	case Paused, Cancelled:
		t.state = Queued
		t.Gen++
		t.PausedFor = ""
		t.progress = &transport.Counter{}
		return nil
	default:
		return fmt.Errorf("%w: reattach from %s", ErrInvalidTransition, t.state)
	}
}

// SampleProgress compares the cumulative byte count against the previous
// sample and reports whether the transfer has been stalled for longer than
// threshold. Only meaningful while Fetching on a progress-capable transport.
func (t *Task) SampleProgress(now time.Time, threshold time.Duration) bool {
	if t.state != Fetching || !t.hasProgress {
		return false
	}
	cur := t.progress.Load()
	if cur != t.lastBytes {
		t.lastBytes = cur
		t.lastChangeAt = now
		return false
	}
	return now.Sub(t.lastChangeAt) > threshold
}
