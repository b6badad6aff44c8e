package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pbnjay/memory"
	"go.uber.org/zap"
	"gocloud.dev/blob"

	"github.com/KDRohit/Aruze10-sub023/internal/archive"
	"github.com/KDRohit/Aruze10-sub023/internal/cache"
	"github.com/KDRohit/Aruze10-sub023/internal/config"
	"github.com/KDRohit/Aruze10-sub023/internal/store"
	"github.com/KDRohit/Aruze10-sub023/internal/task"
	"github.com/KDRohit/Aruze10-sub023/internal/transport"
	"github.com/KDRohit/Aruze10-sub023/pkg/manifest"
)

// Common errors.
var (
	// ErrClosed is returned by requests made after Close.
	ErrClosed = errors.New("session: session is closed")

	// ErrNoSource is returned when neither a CDN host list nor a local
	// bundle source is available for a fetch.
	ErrNoSource = errors.New("session: no download source configured")

	// ErrKnownBad is returned when the requested bundle (or one of its
	// dependencies) already failed terminally this session. The request's
	// callbacks still fire, through the local fallback if one exists.
	ErrKnownBad = errors.New("session: bundle previously failed this session")
)

// completionKind discriminates worker results.
type completionKind int

const (
	fetchOK completionKind = iota
	fetchErr
	mapOK
	mapErr
)

// completion is a worker result. gen tags which fetch generation produced
// it; the tick discards results from superseded transfers.
type completion struct {
	id        manifest.BundleID
	gen       int
	kind      completionKind
	data      []byte
	archive   archive.Archive
	assets    map[string]archive.AssetHandle
	err       error
	fromStore bool
}

// Session owns the full delivery pipeline for one client run.
type Session struct {
	cfg config.Config
	log *zap.Logger
	clk clock.Clock
	man *manifest.Manifest

	fetcher    transport.Fetcher
	hosts      *transport.HostList
	local      *transport.LocalFetcher
	opener     archive.Opener
	store      *store.Store
	freeMemory func() uint64

	mu             sync.Mutex
	tasks          map[manifest.BundleID]*task.Task
	queue          *runQueue
	cache          *cache.Cache
	scene          cache.Scene
	seq            uint64
	lazySlot       manifest.BundleID
	stallThreshold time.Duration
	lastSweep      time.Time
	paused         bool
	started        bool
	closedFlag     bool

	completions chan completion
	closed      chan struct{}
	done        chan struct{}
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. Defaults to a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock sets the clock driving the tick loop and stall sampling.
func WithClock(clk clock.Clock) Option {
	return func(s *Session) { s.clk = clk }
}

// WithFetcher replaces the default HTTP fetcher.
func WithFetcher(f transport.Fetcher) Option {
	return func(s *Session) { s.fetcher = f }
}

// WithOpener sets the archive opener. Defaults to [archive.Opaque].
func WithOpener(o archive.Opener) Option {
	return func(s *Session) { s.opener = o }
}

// WithStore attaches the persistent bundle store. Without one, every fetch
// goes to the network and version counters reset each run.
func WithStore(st *store.Store) Option {
	return func(s *Session) { s.store = st }
}

// WithLocalBucket attaches the local asset source used for offline bundle
// loads and last-resort fallback reads.
func WithLocalBucket(bucket *blob.Bucket) Option {
	return func(s *Session) {
		s.local = transport.NewLocalFetcher(bucket, s.cfg.LocalRoot, s.cfg.Platform)
	}
}

// WithMemoryProbe replaces the free-memory probe used to gate lazy work.
func WithMemoryProbe(probe func() uint64) Option {
	return func(s *Session) { s.freeMemory = probe }
}

// New creates a session over a built manifest.
func New(cfg config.Config, man *manifest.Manifest, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if man == nil {
		return nil, errors.New("session: manifest is required")
	}

	s := &Session{
		cfg:            cfg,
		log:            zap.NewNop(),
		clk:            clock.New(),
		man:            man,
		opener:         archive.Opaque(),
		freeMemory:     memory.FreeMemory,
		tasks:          make(map[manifest.BundleID]*task.Task),
		queue:          newRunQueue(),
		stallThreshold: cfg.StallFloor,
		completions:    make(chan completion, 64),
		closed:         make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	var reserved manifest.BundleID
	if cfg.InitBundle != "" {
		reserved = s.qualify(manifest.BaseName(cfg.InitBundle))
	}
	s.cache = cache.New(s.log, reserved)

	if len(cfg.Hosts) > 0 {
		hosts, err := transport.NewHostList(cfg.Hosts)
		if err != nil {
			return nil, err
		}
		s.hosts = hosts
		if s.fetcher == nil {
			s.fetcher = transport.NewHTTPFetcher(transport.DefaultOptions())
		}
	}
	return s, nil
}

// Start launches the tick loop. Safe to call once; tests usually skip it and
// drive Tick directly.
func (s *Session) Start() {
	s.mu.Lock()
	if s.started || s.closedFlag {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()
	go s.run()
}

func (s *Session) run() {
	defer close(s.done)
	ticker := s.clk.Ticker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Close stops the tick loop, cancels in-flight work, fires failure callbacks
// for unresolved waiters, and releases every cached bundle.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closedFlag {
		s.mu.Unlock()
		return nil
	}
	s.closedFlag = true
	started := s.started
	s.mu.Unlock()

	close(s.closed)
	if started {
		<-s.done
	}

	s.mu.Lock()
	var fires []func()
	for _, t := range s.tasks {
		t.Cancel()
		for _, cb := range t.TakeWaiters() {
			cb := cb
			if cb.OnFailure != nil {
				fires = append(fires, func() { cb.OnFailure(cb.Path, cb.Ref) })
			}
		}
	}
	s.tasks = make(map[manifest.BundleID]*task.Task)

	// Absorb results already in flight so their archives are not leaked.
drain:
	for {
		select {
		case c := <-s.completions:
			if c.archive != nil {
				_ = c.archive.Close()
			}
		default:
			break drain
		}
	}
	err := s.cache.Close()
	s.mu.Unlock()

	for _, f := range fires {
		f()
	}
	return err
}

// RequestResource asks for the asset at path. The callback fires exactly
// once: OnSuccess with a live asset handle once the owning bundle is loaded,
// or OnFailure after the bundle fails past its retry budget and the local
// fallback (if any) comes up empty. A path with no manifest entry goes
// straight to the fallback. The returned error is advisory; callbacks fire
// regardless, except on a closed session.
func (s *Session) RequestResource(path string, opts task.Options, cb task.Callback) error {
	cb.Path = path

	s.mu.Lock()
	if s.closedFlag {
		s.mu.Unlock()
		return ErrClosed
	}
	var fires []func()
	var err error
	if id, ok := s.man.Resolve(path); ok {
		err = s.requestLocked(id, opts, &cb, &fires)
	} else {
		fires = append(fires, s.fallbackFire(cb))
		err = fmt.Errorf("%w: resource %s", manifest.ErrNotFound, path)
	}
	s.mu.Unlock()

	for _, f := range fires {
		f()
	}
	return err
}

// RequestBundle loads a bundle and its dependencies by base name. cb may be
// nil for a pure cache warm; a non-nil cb with an empty Path is notified of
// bundle completion with a nil handle.
func (s *Session) RequestBundle(base manifest.BaseName, opts task.Options, cb *task.Callback) error {
	s.mu.Lock()
	if s.closedFlag {
		s.mu.Unlock()
		return ErrClosed
	}
	var fires []func()
	var err error
	if id, ok := s.man.FullyQualify(base); ok {
		err = s.requestLocked(id, opts, cb, &fires)
	} else {
		if cb != nil {
			fires = append(fires, s.fallbackFire(*cb))
		}
		err = fmt.Errorf("%w: bundle %s", manifest.ErrNotFound, base)
	}
	s.mu.Unlock()

	for _, f := range fires {
		f()
	}
	return err
}

// requestLocked routes a request for a qualified bundle id. Caller holds mu.
func (s *Session) requestLocked(id manifest.BundleID, opts task.Options, cb *task.Callback, fires *[]func()) error {
	if e, ok := s.cache.Get(id); ok {
		s.cache.Touch(id, s.scene)
		if opts.KeepLoaded {
			e.Pin = cache.PinAlways
		}
		if cb != nil {
			s.fireFromEntry(e, *cb, fires)
		}
		return nil
	}

	if s.badSubtree(id) {
		if cb != nil {
			*fires = append(*fires, s.fallbackFire(*cb))
		}
		return fmt.Errorf("%w: %s", ErrKnownBad, id)
	}

	t := s.ensureTask(id, opts)
	if cb != nil {
		t.AddWaiter(*cb)
	}
	s.raiseRank(id, 0)
	return nil
}

// badSubtree reports whether the bundle or any uncached transitive
// dependency failed terminally this session.
func (s *Session) badSubtree(id manifest.BundleID) bool {
	if s.store == nil {
		return false
	}
	if s.store.IsKnownBad(id) {
		return true
	}
	for _, dep := range s.man.DependenciesOf(id) {
		if _, cached := s.cache.Get(dep); cached {
			continue
		}
		if s.badSubtree(dep) {
			return true
		}
	}
	return false
}

// ensureTask returns the live task for a bundle, creating it (and tasks for
// its uncached dependencies) on first request. A repeated request absorbs
// stronger options and reattaches paused or cancelled tasks.
func (s *Session) ensureTask(id manifest.BundleID, opts task.Options) *task.Task {
	if t, ok := s.tasks[id]; ok {
		if opts.KeepLoaded {
			t.Opts.KeepLoaded = true
		}
		if opts.BlockingUI && !t.Opts.BlockingUI {
			t.Opts.BlockingUI = true
			s.queue.MarkDirty()
		}
		if !opts.Lazy {
			t.Opts.Lazy = false
		}
		if !opts.SkipMapping {
			t.Opts.SkipMapping = false
		}
		switch t.State() {
		case task.Paused, task.Cancelled:
			if err := t.Reattach(); err == nil {
				s.queue.Enqueue(t)
				s.expandDeps(t)
			}
		}
		return t
	}

	base, ok := s.man.BaseOf(id)
	if !ok {
		base = manifest.BaseName(id)
	}
	s.seq++
	t := task.New(id, base, opts, s.seq, s.cfg.MaxRetries)
	s.tasks[id] = t
	s.queue.Enqueue(t)
	s.expandDeps(t)
	return t
}

// expandDeps wires a task to its uncached dependencies, creating or reviving
// their tasks as needed. Reattached tasks run through it again: cancellation
// propagated to the whole dependent chain, so a revived task may find its
// dependency tasks still cancelled, swept away, or cached in the meantime.
func (s *Session) expandDeps(t *task.Task) {
	childOpts := task.Options{
		Lazy:        t.Opts.Lazy,
		SkipMapping: t.Opts.SkipMapping,
		BlockingUI:  t.Opts.BlockingUI,
	}
	for _, dep := range s.man.DependenciesOf(t.ID) {
		if de, cached := s.cache.Get(dep); cached {
			// Keep the dependency alive while this task is in flight;
			// promotion rewires the edge permanently.
			s.cache.Touch(dep, s.scene)
			de.ReferencedBy[t.ID] = struct{}{}
			delete(t.DependsOn, dep)
			continue
		}
		dt := s.ensureTask(dep, childOpts)
		t.DependsOn[dep] = struct{}{}
		dt.Dependents[t.ID] = struct{}{}
	}
}

// raiseRank propagates priority down the dependency graph so prerequisites
// always sort ahead of their dependents. Bundles without a live task (cached
// dependencies) get no rank entry; their subtrees spawned no tasks either.
func (s *Session) raiseRank(id manifest.BundleID, rank int) {
	if _, ok := s.tasks[id]; !ok {
		return
	}
	if !s.queue.RaiseRank(id, rank) {
		return
	}
	for _, dep := range s.man.DependenciesOf(id) {
		s.raiseRank(dep, rank+1)
	}
}

// qualify maps a base name to its bundle id, falling back to the raw name
// for pre-variant manifests.
func (s *Session) qualify(base manifest.BaseName) manifest.BundleID {
	if id, ok := s.man.FullyQualify(base); ok {
		return id
	}
	return manifest.BundleID(base)
}

// IsBundleCached reports whether the bundle is loaded and usable.
func (s *Session) IsBundleCached(base manifest.BaseName) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cache.Get(s.qualify(base))
	return ok
}

// Progress describes a bundle's load state. Fraction is download completion
// in [0,1], derived from the transport's expected size; a transfer whose
// size is unknown reports 0 until its payload has fully arrived.
type Progress struct {
	Fraction float64
	Bytes    int64
	State    task.State
}

// LoadProgress reports load progress for a bundle. A cached bundle reports
// fraction 1 and its payload size. The second return is false when the
// bundle is neither cached nor in flight.
func (s *Session) LoadProgress(base manifest.BaseName) (Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.qualify(base)
	if e, ok := s.cache.Get(id); ok {
		return Progress{Fraction: 1, Bytes: e.Size, State: task.Done}, true
	}
	if t, ok := s.tasks[id]; ok {
		return Progress{Fraction: t.Fraction(), Bytes: t.BytesDownloaded(), State: t.State()}, true
	}
	return Progress{}, false
}

// SetScene records the active scene. Entries pinned to the previous scene
// become sweepable; a sweep is forced on the next tick.
func (s *Session) SetScene(scene cache.Scene) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if scene == s.scene {
		return
	}
	s.scene = scene
	s.lastSweep = time.Time{}
}

// Scene returns the active scene.
func (s *Session) Scene() cache.Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scene
}

// Unload releases a loaded bundle immediately. See [cache.Cache.Unload] for
// the force semantics.
func (s *Session) Unload(base manifest.BaseName, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Unload(s.qualify(base), force)
}

// MarkForUnload clears a bundle's pin; the next sweep reclaims it if nothing
// references it.
func (s *Session) MarkForUnload(base manifest.BaseName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.MarkForUnload(s.qualify(base))
}

// UnloadAllUnused drops every scene pin and sweeps, returning the evicted
// bundle ids.
func (s *Session) UnloadAllUnused() []manifest.BundleID {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted, err := s.cache.UnloadAllUnused()
	if err != nil {
		s.log.Warn("session: unload all unused", zap.Error(err))
	}
	return evicted
}

// Cancel revokes an in-flight request, along with anything that was waiting
// on it as a dependency. Idempotent; a no-op once the bundle is loaded or
// the task is already gone. Waiters get OnFailure without the fallback read:
// cancellation means the caller no longer wants the asset.
func (s *Session) Cancel(base manifest.BaseName) {
	s.mu.Lock()
	var fires []func()
	if t, ok := s.tasks[s.qualify(base)]; ok {
		s.cancelLocked(t, &fires)
	}
	s.mu.Unlock()

	for _, f := range fires {
		f()
	}
}

func (s *Session) cancelLocked(t *task.Task, fires *[]func()) {
	if t.Terminal() || t.State() == task.Cancelled {
		return
	}
	t.Cancel()
	s.queue.Remove(t.ID)
	if s.lazySlot == t.ID {
		s.lazySlot = ""
	}
	for _, cb := range t.TakeWaiters() {
		cb := cb
		if cb.OnFailure != nil {
			*fires = append(*fires, func() { cb.OnFailure(cb.Path, cb.Ref) })
		}
	}
	for depID := range t.Dependents {
		if dt, ok := s.tasks[depID]; ok {
			s.cancelLocked(dt, fires)
		}
	}
}

// PauseAll suspends queued and in-flight downloads, keeping their progress
// metadata. Refused when the effective source cannot pause: a session whose
// fetches route through the local bucket (no hosts, or downloads disabled)
// is refused along with a remote transport that reports no pause support.
func (s *Session) PauseAll(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	remote := s.fetcher != nil && s.hosts != nil && !s.cfg.DisableDownloads
	if !remote || !s.fetcher.SupportsPause() {
		return task.ErrPauseUnsupported
	}
	for _, t := range s.tasks {
		switch t.State() {
		case task.Fetching, task.Queued:
			if err := t.Pause(reason); err == nil {
				s.queue.Remove(t.ID)
				if s.lazySlot == t.ID {
					s.lazySlot = ""
				}
			}
		}
	}
	s.paused = true
	return nil
}

// ResumeAll requeues paused downloads; the scheduler restarts them under the
// normal concurrency cap.
func (s *Session) ResumeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.State() == task.Paused {
			if err := t.Resume(); err == nil {
				s.queue.Enqueue(t)
			}
		}
	}
	s.paused = false
}

// Diagnostics returns recorded background failures, if a store is attached.
func (s *Session) Diagnostics(ctx context.Context) ([]store.Diagnostic, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.Diagnostics(ctx)
}

// fireFromEntry resolves a waiter against a cached entry while the lock is
// held and defers the callback invocation.
func (s *Session) fireFromEntry(e *cache.Entry, cb task.Callback, fires *[]func()) {
	if cb.Path == "" {
		if cb.OnSuccess != nil {
			*fires = append(*fires, func() { cb.OnSuccess("", nil, cb.Ref) })
		}
		return
	}
	h, err := e.Lookup(cb.Path)
	if err != nil {
		s.log.Warn("session: asset missing from loaded bundle",
			zap.String("bundle", string(e.ID)),
			zap.String("path", cb.Path),
			zap.Error(err))
		if cb.OnFailure != nil {
			*fires = append(*fires, func() { cb.OnFailure(cb.Path, cb.Ref) })
		}
		return
	}
	if cb.OnSuccess != nil {
		*fires = append(*fires, func() { cb.OnSuccess(cb.Path, h, cb.Ref) })
	}
}

// fallbackFire builds the deferred last-resort path for a waiter whose
// bundle cannot be delivered: a loose-asset read from the local source, then
// OnFailure. The read runs outside the scheduler lock.
func (s *Session) fallbackFire(cb task.Callback) func() {
	local := s.local
	log := s.log
	return func() {
		if local != nil && cb.Path != "" {
			data, err := local.Fetch(context.Background(), local.Key(cb.Path), 0, nil)
			if err == nil {
				log.Info("session: served from local fallback", zap.String("path", cb.Path))
				if cb.OnSuccess != nil {
					cb.OnSuccess(cb.Path, data, cb.Ref)
				}
				return
			}
			log.Debug("session: local fallback miss",
				zap.String("path", cb.Path), zap.Error(err))
		}
		if cb.OnFailure != nil {
			cb.OnFailure(cb.Path, cb.Ref)
		}
	}
}

// send delivers a worker completion unless the session is closing, in which
// case any carried archive is released on the spot.
func (s *Session) send(c completion) {
	select {
	case s.completions <- c:
	case <-s.closed:
		if c.archive != nil {
			_ = c.archive.Close()
		}
	}
}
