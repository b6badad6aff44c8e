package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/KDRohit/Aruze10-sub023/internal/archive"
	"github.com/KDRohit/Aruze10-sub023/internal/cache"
	"github.com/KDRohit/Aruze10-sub023/internal/store"
	"github.com/KDRohit/Aruze10-sub023/internal/task"
	"github.com/KDRohit/Aruze10-sub023/internal/transport"
	"github.com/KDRohit/Aruze10-sub023/pkg/manifest"
)

// Tick runs one scheduling pass: worker completions are absorbed, ready
// tasks advance to mapping, in-flight transfers are sampled for stalls,
// queued work is started under the concurrency cap, and the cache is swept
// on its interval. The run loop calls it every TickInterval; tests call it
// directly.
func (s *Session) Tick() {
	s.mu.Lock()
	if s.closedFlag {
		s.mu.Unlock()
		return
	}
	now := s.clk.Now()
	var fires []func()

	s.drainCompletions(now, &fires)
	s.advanceMapping()
	s.sampleStalls(now, &fires)
	s.checkLazyPressure(&fires)
	s.startQueued(&fires)
	s.maybeSweep(now)
	s.mu.Unlock()

	for _, f := range fires {
		f()
	}
}

func (s *Session) drainCompletions(now time.Time, fires *[]func()) {
	for {
		select {
		case c := <-s.completions:
			s.handleCompletion(c, now, fires)
		default:
			return
		}
	}
}

func (s *Session) handleCompletion(c completion, now time.Time, fires *[]func()) {
	t, ok := s.tasks[c.id]
	if !ok || t.Gen != c.gen {
		// Stale result from a superseded transfer.
		if c.archive != nil {
			_ = c.archive.Close()
		}
		return
	}

	switch c.kind {
	case fetchOK:
		if t.State() != task.Fetching {
			return
		}
		if err := t.BytesComplete(c.data); err != nil {
			s.log.Error("session: record fetched bytes", zap.Error(err))
			return
		}
		if c.fromStore {
			s.log.Debug("session: bundle served from persistent store",
				zap.String("bundle", string(t.ID)))
		}
	case fetchErr:
		if t.State() != task.Fetching {
			return
		}
		s.failRetryable(t, c.err, fires)
	case mapOK:
		if t.State() != task.MappingAssets {
			if c.archive != nil {
				_ = c.archive.Close()
			}
			return
		}
		if err := t.Complete(c.archive, c.assets); err != nil {
			_ = c.archive.Close()
			s.log.Error("session: complete mapping", zap.Error(err))
			return
		}
		s.promote(t, now, fires)
	case mapErr:
		if t.State() != task.MappingAssets {
			return
		}
		t.FailTerminal(c.err)
		s.finishFailed(t, fires)
	}
}

// advanceMapping moves tasks whose payload arrived and whose dependencies
// all promoted into the mapping phase.
func (s *Session) advanceMapping() {
	for _, t := range s.tasks {
		if t.State() == task.ResolvingDependencies && t.DependenciesResolved() {
			s.beginMapping(t)
		}
	}
}

func (s *Session) beginMapping(t *task.Task) {
	if err := t.BeginMapping(); err != nil {
		s.log.Error("session: begin mapping", zap.Error(err))
		return
	}
	id, gen, data, skip := t.ID, t.Gen, t.Data, t.Opts.SkipMapping
	opener := s.opener
	go func() {
		a, err := opener.Open(string(id), data)
		if err != nil {
			s.send(completion{id: id, gen: gen, kind: mapErr,
				err: fmt.Errorf("%w: open %s: %v", task.ErrStructural, id, err)})
			return
		}
		if skip {
			s.send(completion{id: id, gen: gen, kind: mapOK, archive: a})
			return
		}
		names := a.AssetNames()
		mapped := make(map[string]archive.AssetHandle, len(names))
		for _, name := range names {
			h, lerr := a.Lookup(name)
			if lerr != nil {
				_ = a.Close()
				s.send(completion{id: id, gen: gen, kind: mapErr,
					err: fmt.Errorf("%w: map %s in %s: %v", task.ErrStructural, name, id, lerr)})
				return
			}
			mapped[manifest.CanonicalPath(name)] = h
		}
		s.send(completion{id: id, gen: gen, kind: mapOK, archive: a, assets: mapped})
	}()
}

// sampleStalls checks every in-flight transfer against the escalating stall
// threshold. A confirmed stall ratchets the threshold up one step (capped at
// the ceiling, never back down) and fails the transfer retryably.
func (s *Session) sampleStalls(now time.Time, fires *[]func()) {
	for _, t := range s.tasks {
		if t.State() != task.Fetching {
			continue
		}
		if !t.SampleProgress(now, s.stallThreshold) {
			continue
		}
		s.log.Warn("session: download stalled",
			zap.String("bundle", string(t.ID)),
			zap.Duration("threshold", s.stallThreshold),
			zap.Int64("bytes", t.BytesDownloaded()))
		if next := s.stallThreshold + s.cfg.StallStep; next < s.cfg.StallCeiling {
			s.stallThreshold = next
		} else {
			s.stallThreshold = s.cfg.StallCeiling
		}
		s.failRetryable(t, task.ErrStalled, fires)
	}
}

// checkLazyPressure drops the in-flight lazy download when free system
// memory falls under the configured floor. A lazy task something else
// depends on is spared.
func (s *Session) checkLazyPressure(fires *[]func()) {
	if s.lazySlot == "" || !s.memoryLow() {
		return
	}
	t, ok := s.tasks[s.lazySlot]
	if !ok {
		s.lazySlot = ""
		return
	}
	if len(t.Dependents) > 0 {
		return
	}
	s.dropLazy(t, fires)
}

func (s *Session) memoryLow() bool {
	return s.cfg.LazyMemoryFloor > 0 && s.freeMemory() < uint64(s.cfg.LazyMemoryFloor)
}

// startQueued fills the fetch slots: up to Concurrency simultaneous regular
// downloads plus one lazy download in its own slot.
func (s *Session) startQueued(fires *[]func()) {
	if s.paused {
		return
	}
	active := 0
	for _, t := range s.tasks {
		if t.State() == task.Fetching && !t.Opts.Lazy {
			active++
		}
	}

	var deferred []*task.Task
	for {
		if active >= s.cfg.Concurrency && s.lazySlot != "" {
			break
		}
		t := s.queue.Dequeue()
		if t == nil {
			break
		}
		if t.State() != task.Queued {
			continue
		}
		if t.Opts.Lazy {
			if s.lazySlot != "" {
				deferred = append(deferred, t)
				continue
			}
			if s.memoryLow() {
				if len(t.Dependents) > 0 {
					deferred = append(deferred, t)
					continue
				}
				s.dropLazy(t, fires)
				continue
			}
			if err := s.startFetch(t); err != nil {
				t.FailTerminal(err)
				s.finishFailed(t, fires)
				continue
			}
			s.lazySlot = t.ID
			continue
		}
		if active >= s.cfg.Concurrency {
			deferred = append(deferred, t)
			continue
		}
		if err := s.startFetch(t); err != nil {
			t.FailTerminal(err)
			s.finishFailed(t, fires)
			continue
		}
		active++
	}
	for _, t := range deferred {
		s.queue.Enqueue(t)
	}
}

// startFetch launches the fetch worker for a queued task. The store is
// consulted before the network: a payload persisted under the current
// version counter short-circuits the download.
func (s *Session) startFetch(t *task.Task) error {
	version := 0
	if s.store != nil {
		version = s.store.Version(t.Base)
	}

	remote := s.fetcher != nil && s.hosts != nil && !s.cfg.DisableDownloads
	var f transport.Fetcher
	var location string
	switch {
	case remote:
		f = s.fetcher
		location = s.hosts.URL(t.HostIndex(), string(t.ID))
	case s.local != nil:
		f = s.local
		location = s.local.Key(string(t.ID))
	default:
		return ErrNoSource
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := t.Start(s.clk.Now(), cancel, f.SupportsProgress()); err != nil {
		cancel()
		return err
	}
	s.log.Debug("session: fetch started",
		zap.String("bundle", string(t.ID)),
		zap.Int("attempt", t.Attempt),
		zap.String("location", location))

	id, gen, progress := t.ID, t.Gen, t.Progress()
	st := s.store
	go func() {
		defer cancel()
		if st != nil && remote {
			if st.Has(ctx, id, version) {
				if data, err := st.Load(ctx, id, version); err == nil {
					s.send(completion{id: id, gen: gen, kind: fetchOK,
						data: data, fromStore: true})
					return
				}
			}
		}
		data, err := f.Fetch(ctx, location, version, progress)
		if err != nil {
			s.send(completion{id: id, gen: gen, kind: fetchErr, err: err})
			return
		}
		if st != nil && remote {
			if perr := st.Put(ctx, id, version, data); perr != nil {
				s.log.Warn("session: persist bundle",
					zap.String("bundle", string(id)), zap.Error(perr))
			}
		}
		s.send(completion{id: id, gen: gen, kind: fetchOK, data: data})
	}()
	return nil
}

// failRetryable handles a transport or stall failure. Within budget the task
// requeues with the next host and a bumped version counter; past it the
// failure is terminal.
func (s *Session) failRetryable(t *task.Task, err error, fires *[]func()) {
	t.FailRetryable(err)
	if t.Terminal() {
		s.finishFailed(t, fires)
		return
	}
	if s.store != nil {
		if _, berr := s.store.BumpVersion(context.Background(), t.Base); berr != nil {
			s.log.Warn("session: bump version",
				zap.String("bundle", string(t.ID)), zap.Error(berr))
		}
	}
	s.log.Warn("session: bundle fetch failed, retrying",
		zap.String("bundle", string(t.ID)),
		zap.Int("attempt", t.Attempt+1),
		zap.Error(err))
	if rerr := t.Requeue(); rerr != nil {
		s.log.Error("session: requeue", zap.Error(rerr))
		return
	}
	s.queue.Enqueue(t)
}

// finishFailed retires a terminally failed task: the bundle is flagged
// known-bad, lazy failures leave a diagnostic record, waiters fall back to
// the local source, and the failure propagates to every dependent task.
func (s *Session) finishFailed(t *task.Task, fires *[]func()) {
	s.log.Error("session: bundle failed",
		zap.String("bundle", string(t.ID)),
		zap.Int("attempts", t.Attempt+1),
		zap.Error(t.Failure()))

	if s.store != nil {
		s.store.MarkKnownBad(t.ID)
		if t.Opts.Lazy {
			s.store.RecordDiagnostic(context.Background(), store.Diagnostic{
				Bundle:   string(t.ID),
				Attempts: t.Attempt + 1,
				Error:    t.Failure().Error(),
				At:       s.clk.Now(),
			})
		}
	}

	for _, cb := range t.TakeWaiters() {
		*fires = append(*fires, s.fallbackFire(cb))
	}

	dependents := make([]manifest.BundleID, 0, len(t.Dependents))
	for id := range t.Dependents {
		dependents = append(dependents, id)
	}
	s.removeTask(t)

	for _, depID := range dependents {
		dt, ok := s.tasks[depID]
		if !ok || dt.Terminal() {
			continue
		}
		dt.FailTerminal(fmt.Errorf("dependency %s: %w", t.ID, t.Failure()))
		s.finishFailed(dt, fires)
	}
}

// dropLazy abandons a lazy download under memory pressure, leaving only a
// diagnostic record behind.
func (s *Session) dropLazy(t *task.Task, fires *[]func()) {
	s.log.Info("session: dropping lazy download, low system memory",
		zap.String("bundle", string(t.ID)))
	t.Cancel()
	if s.store != nil {
		s.store.RecordDiagnostic(context.Background(), store.Diagnostic{
			Bundle:   string(t.ID),
			Attempts: t.Attempt,
			Error:    "dropped: low system memory",
			At:       s.clk.Now(),
		})
	}
	for _, cb := range t.TakeWaiters() {
		*fires = append(*fires, s.fallbackFire(cb))
	}
	s.removeTask(t)
}

// removeTask unregisters a task and unwires its edges.
func (s *Session) removeTask(t *task.Task) {
	delete(s.tasks, t.ID)
	s.queue.Remove(t.ID)
	s.queue.DropRank(t.ID)
	if s.lazySlot == t.ID {
		s.lazySlot = ""
	}
	for _, dep := range s.man.DependenciesOf(t.ID) {
		if de, ok := s.cache.Get(dep); ok {
			delete(de.ReferencedBy, t.ID)
		}
	}
	for dep := range t.DependsOn {
		if dt, ok := s.tasks[dep]; ok {
			delete(dt.Dependents, t.ID)
		}
	}
}

// promote installs a completed bundle into the cache and notifies waiters.
// Handles resolve before any callback is deferred, so a sweep can never run
// between promotion and notification.
func (s *Session) promote(t *task.Task, now time.Time, fires *[]func()) {
	pin := s.scene
	if t.Opts.KeepLoaded {
		pin = cache.PinAlways
	}
	deps := s.man.DependenciesOf(t.ID)
	e := cache.NewEntry(t.ID, t.Archive, t.AssetMap, pin, int64(len(t.Data)), now)
	s.cache.Put(e, deps)

	for depID := range t.Dependents {
		if dt, ok := s.tasks[depID]; ok {
			// Pin the new entry via a reverse edge until the dependent
			// promotes (which rewires it) or fails (which removes it).
			e.ReferencedBy[depID] = struct{}{}
			dt.DependencyDone(t.ID)
		}
	}

	for _, cb := range t.TakeWaiters() {
		s.fireFromEntry(e, cb, fires)
	}

	delete(s.tasks, t.ID)
	s.queue.DropRank(t.ID)
	if s.lazySlot == t.ID {
		s.lazySlot = ""
	}
	t.Data = nil
}

// maybeSweep runs the periodic eviction sweep and reaps cancelled tasks
// nothing reattached to.
func (s *Session) maybeSweep(now time.Time) {
	if !s.lastSweep.IsZero() && now.Sub(s.lastSweep) < s.cfg.SweepInterval {
		return
	}
	s.lastSweep = now

	for _, t := range s.tasks {
		if t.State() == task.Cancelled {
			s.removeTask(t)
		}
	}
	if _, err := s.cache.Sweep(s.scene); err != nil {
		s.log.Warn("session: sweep", zap.Error(err))
	}
}
