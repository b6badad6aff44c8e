package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"gocloud.dev/blob/memblob"

	"github.com/KDRohit/Aruze10-sub023/internal/archive"
	"github.com/KDRohit/Aruze10-sub023/internal/cache"
	"github.com/KDRohit/Aruze10-sub023/internal/config"
	"github.com/KDRohit/Aruze10-sub023/internal/store"
	"github.com/KDRohit/Aruze10-sub023/internal/task"
	"github.com/KDRohit/Aruze10-sub023/internal/testutil"
	"github.com/KDRohit/Aruze10-sub023/internal/transport"
	"github.com/KDRohit/Aruze10-sub023/pkg/manifest"
)

// testManifest: "game" depends on "shared"; "solo" stands alone.
func testManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	doc := &manifest.Document{
		BundleNameToAssets: map[string][]string{
			"game":   {"Game/Board.png", "game/rules.txt"},
			"shared": {"Shared/Atlas.png"},
			"solo":   {"Solo/Sprite.png"},
		},
		BundleDependencies: map[string][]string{
			"game": {"shared"},
		},
	}
	man, err := manifest.Build(doc, "")
	if err != nil {
		t.Fatalf("build manifest: %v", err)
	}
	return man
}

func testPayloads() map[string][]byte {
	return map[string][]byte{
		"game":   testutil.Payload(map[string]string{"Game/Board.png": "board", "game/rules.txt": "rules"}),
		"shared": testutil.Payload(map[string]string{"Shared/Atlas.png": "atlas"}),
		"solo":   testutil.Payload(map[string]string{"Solo/Sprite.png": "sprite"}),
	}
}

type fetchRequest struct {
	location string
	version  int
}

// scriptedFetcher is a deterministic in-memory transport. hold channels, when
// present, block a fetch until released or cancelled; prefill reports that
// many bytes of progress before blocking.
type scriptedFetcher struct {
	mu       sync.Mutex
	payloads map[string][]byte
	failures map[string]int
	hold     map[string]chan struct{}
	prefill  map[string]int64
	requests []fetchRequest
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		payloads: testPayloads(),
		failures: make(map[string]int),
		hold:     make(map[string]chan struct{}),
		prefill:  make(map[string]int64),
	}
}

func bundleFromLocation(location string) string {
	return location[strings.LastIndex(location, "/")+1:]
}

func (f *scriptedFetcher) Fetch(ctx context.Context, location string, version int, progress *transport.Counter) ([]byte, error) {
	id := bundleFromLocation(location)

	f.mu.Lock()
	f.requests = append(f.requests, fetchRequest{location: location, version: version})
	hold := f.hold[id]
	prefill := f.prefill[id]
	fail := false
	if f.failures[id] > 0 {
		f.failures[id]--
		fail = true
	}
	data, ok := f.payloads[id]
	f.mu.Unlock()

	if progress != nil && ok {
		progress.SetTotal(int64(len(data)))
	}
	if hold != nil {
		if progress != nil && prefill > 0 {
			progress.Add(prefill)
		}
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, transport.ErrServerError
	}
	if !ok {
		return nil, transport.ErrNotFound
	}
	if progress != nil {
		progress.Add(int64(len(data)) - prefill)
	}
	return data, nil
}

func (f *scriptedFetcher) SupportsProgress() bool { return true }
func (f *scriptedFetcher) SupportsPause() bool    { return true }

func (f *scriptedFetcher) requestsFor(id string) []fetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fetchRequest
	for _, r := range f.requests {
		if bundleFromLocation(r.location) == id {
			out = append(out, r)
		}
	}
	return out
}

// capture records callback invocations.
type capture struct {
	mu        sync.Mutex
	successes []captureResult
	failures  []string
}

type captureResult struct {
	path   string
	handle archive.AssetHandle
}

func newCapture() *capture { return &capture{} }

func (c *capture) callback() task.Callback {
	return task.Callback{
		OnSuccess: func(path string, h archive.AssetHandle, ref any) {
			c.mu.Lock()
			c.successes = append(c.successes, captureResult{path: path, handle: h})
			c.mu.Unlock()
		},
		OnFailure: func(path string, ref any) {
			c.mu.Lock()
			c.failures = append(c.failures, path)
			c.mu.Unlock()
		},
	}
}

func (c *capture) successCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.successes)
}

func (c *capture) failureCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.failures)
}

func (c *capture) handle(i int) archive.AssetHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.successes[i].handle
}

type testEnv struct {
	s       *Session
	clk     *clock.Mock
	fetcher *scriptedFetcher
	opener  *testutil.Opener
	st      *store.Store
}

func newTestEnv(t *testing.T, mutate func(*config.Config), extra ...Option) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Hosts = []string{"http://cdn-a.test", "http://cdn-b.test"}
	cfg.MaxRetries = 2
	if mutate != nil {
		mutate(&cfg)
	}

	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { bucket.Close() })
	st, err := store.Open(context.Background(), bucket, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	clk := clock.NewMock()
	fetcher := newScriptedFetcher()
	opener := testutil.NewOpener()

	opts := append([]Option{
		WithClock(clk),
		WithFetcher(fetcher),
		WithOpener(opener),
		WithStore(st),
	}, extra...)
	s, err := New(cfg, testManifest(t), opts...)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return &testEnv{s: s, clk: clk, fetcher: fetcher, opener: opener, st: st}
}

// settle ticks the scheduler until cond holds. Workers run on real time even
// though the scheduler clock is mocked.
func settle(t *testing.T, s *Session, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.Tick()
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestResourceLoadWithDependency(t *testing.T) {
	env := newTestEnv(t, nil)
	c := newCapture()

	if err := env.s.RequestResource("Game/Board.png", task.Options{}, c.callback()); err != nil {
		t.Fatalf("request: %v", err)
	}
	settle(t, env.s, "board callback", func() bool { return c.successCount() == 1 })

	if h, ok := c.handle(0).(string); !ok || h != "board" {
		t.Errorf("expected board handle, got %#v", c.handle(0))
	}
	if !env.s.IsBundleCached("game") || !env.s.IsBundleCached("shared") {
		t.Error("expected game and its dependency cached")
	}

	// The dependency is held by its dependent.
	if err := env.s.Unload("shared", false); !errors.Is(err, cache.ErrInUse) {
		t.Errorf("expected ErrInUse unloading shared, got %v", err)
	}
	if err := env.s.Unload("game", false); err != nil {
		t.Errorf("unload game: %v", err)
	}
	if err := env.s.Unload("shared", false); err != nil {
		t.Errorf("unload shared after dependent gone: %v", err)
	}
}

func TestRequestDeduplication(t *testing.T) {
	env := newTestEnv(t, nil)
	release := make(chan struct{})
	env.fetcher.hold["solo"] = release

	c1, c2 := newCapture(), newCapture()
	env.s.RequestResource("solo/sprite.png", task.Options{}, c1.callback())
	env.s.RequestResource("Solo/Sprite.png", task.Options{}, c2.callback())
	env.s.Tick()

	close(release)
	settle(t, env.s, "both callbacks", func() bool {
		return c1.successCount() == 1 && c2.successCount() == 1
	})

	if got := len(env.fetcher.requestsFor("solo")); got != 1 {
		t.Errorf("expected 1 fetch for deduplicated requests, got %d", got)
	}
}

func TestRetryRotatesHostsAndBumpsVersion(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fetcher.failures["solo"] = 2

	c := newCapture()
	env.s.RequestResource("solo/sprite.png", task.Options{}, c.callback())
	settle(t, env.s, "success after retries", func() bool { return c.successCount() == 1 })

	reqs := env.fetcher.requestsFor("solo")
	if len(reqs) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(reqs))
	}
	wantHosts := []string{"http://cdn-a.test/", "http://cdn-b.test/", "http://cdn-a.test/"}
	for i, r := range reqs {
		if !strings.HasPrefix(r.location, wantHosts[i]) {
			t.Errorf("attempt %d hit %s, expected host %s", i, r.location, wantHosts[i])
		}
		if r.version != i {
			t.Errorf("attempt %d used version %d, expected %d", i, r.version, i)
		}
	}
	if v := env.st.Version("solo"); v != 2 {
		t.Errorf("expected persisted version 2, got %d", v)
	}
}

func TestTerminalFailureFallsBackToLocal(t *testing.T) {
	local := memblob.OpenBucket(nil)
	t.Cleanup(func() { local.Close() })
	ctx := context.Background()
	if err := local.WriteAll(ctx, "standalone/solo/sprite.png", []byte("loose-sprite"), nil); err != nil {
		t.Fatalf("seed local bucket: %v", err)
	}

	env := newTestEnv(t, nil, WithLocalBucket(local))
	env.fetcher.failures["solo"] = 10

	c := newCapture()
	env.s.RequestResource("solo/sprite.png", task.Options{}, c.callback())
	settle(t, env.s, "fallback delivery", func() bool { return c.successCount() == 1 })

	if h, ok := c.handle(0).([]byte); !ok || string(h) != "loose-sprite" {
		t.Errorf("expected loose asset bytes, got %#v", c.handle(0))
	}
	if !env.st.IsKnownBad("solo") {
		t.Error("expected solo flagged known-bad")
	}
	if got := len(env.fetcher.requestsFor("solo")); got != 3 {
		t.Errorf("expected 3 attempts before giving up, got %d", got)
	}

	// A repeat request goes straight to the fallback without refetching.
	c2 := newCapture()
	if err := env.s.RequestResource("solo/sprite.png", task.Options{}, c2.callback()); !errors.Is(err, ErrKnownBad) {
		t.Errorf("expected ErrKnownBad, got %v", err)
	}
	settle(t, env.s, "repeat fallback", func() bool { return c2.successCount() == 1 })
	if got := len(env.fetcher.requestsFor("solo")); got != 3 {
		t.Errorf("known-bad bundle was refetched: %d attempts", got)
	}
}

func TestUnknownPathFallsBackToLocal(t *testing.T) {
	local := memblob.OpenBucket(nil)
	t.Cleanup(func() { local.Close() })
	if err := local.WriteAll(context.Background(), "standalone/ui/logo.png", []byte("logo"), nil); err != nil {
		t.Fatalf("seed local bucket: %v", err)
	}

	env := newTestEnv(t, nil, WithLocalBucket(local))
	c := newCapture()
	err := env.s.RequestResource("ui/logo.png", task.Options{}, c.callback())
	if !errors.Is(err, manifest.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unmapped path, got %v", err)
	}
	settle(t, env.s, "fallback callback", func() bool { return c.successCount() == 1 })
}

func TestStallEscalation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fetcher.hold["solo"] = make(chan struct{}) // never released

	c := newCapture()
	env.s.RequestResource("solo/sprite.png", task.Options{}, c.callback())
	env.s.Tick()

	threshold := func() time.Duration {
		env.s.mu.Lock()
		defer env.s.mu.Unlock()
		return env.s.stallThreshold
	}

	env.clk.Add(16 * time.Second)
	env.s.Tick() // first stall: 15s threshold tripped, escalates to 25s
	if got := threshold(); got != 25*time.Second {
		t.Errorf("expected 25s threshold after first stall, got %v", got)
	}

	env.clk.Add(26 * time.Second)
	env.s.Tick() // second stall: escalates to the 35s ceiling
	if got := threshold(); got != 35*time.Second {
		t.Errorf("expected 35s ceiling after second stall, got %v", got)
	}

	env.clk.Add(36 * time.Second)
	env.s.Tick() // third stall exhausts the retry budget
	settle(t, env.s, "terminal failure", func() bool { return c.failureCount() == 1 })

	if got := threshold(); got != 35*time.Second {
		t.Errorf("threshold must never decrease, got %v", got)
	}
	if !env.st.IsKnownBad("solo") {
		t.Error("expected stalled-out bundle flagged known-bad")
	}
}

func TestLazySingleSlot(t *testing.T) {
	env := newTestEnv(t, nil)
	soloRelease := make(chan struct{})
	sharedRelease := make(chan struct{})
	env.fetcher.hold["solo"] = soloRelease
	env.fetcher.hold["shared"] = sharedRelease

	env.s.RequestBundle("solo", task.Options{Lazy: true}, nil)
	env.s.RequestBundle("shared", task.Options{Lazy: true}, nil)
	env.s.Tick()

	if p, ok := env.s.LoadProgress("solo"); !ok || p.State != task.Fetching {
		t.Fatalf("expected solo fetching in the lazy slot, got %v ok=%v", p.State, ok)
	}
	if p, ok := env.s.LoadProgress("shared"); !ok || p.State != task.Queued {
		t.Fatalf("expected shared queued behind the lazy slot, got %v ok=%v", p.State, ok)
	}

	close(soloRelease)
	settle(t, env.s, "solo cached", func() bool { return env.s.IsBundleCached("solo") })

	close(sharedRelease)
	settle(t, env.s, "shared cached", func() bool { return env.s.IsBundleCached("shared") })
}

func TestLazyDroppedUnderMemoryPressure(t *testing.T) {
	env := newTestEnv(t,
		func(cfg *config.Config) { cfg.LazyMemoryFloor = 1 << 30 },
		WithMemoryProbe(func() uint64 { return 1 << 20 }))

	env.s.RequestBundle("solo", task.Options{Lazy: true}, nil)
	env.s.Tick()

	if got := len(env.fetcher.requestsFor("solo")); got != 0 {
		t.Errorf("lazy fetch should have been dropped, saw %d requests", got)
	}
	if _, ok := env.s.LoadProgress("solo"); ok {
		t.Error("dropped lazy task should be gone")
	}
	diags, err := env.s.Diagnostics(context.Background())
	if err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	if len(diags) != 1 || diags[0].Bundle != "solo" {
		t.Errorf("expected one diagnostic for solo, got %+v", diags)
	}
}

func TestSceneEviction(t *testing.T) {
	env := newTestEnv(t, nil)
	env.s.SetScene("lobby")

	c := newCapture()
	env.s.RequestResource("game/board.png", task.Options{}, c.callback())
	settle(t, env.s, "game loaded", func() bool { return c.successCount() == 1 })

	env.s.SetScene("match")
	env.s.Tick()

	if env.s.IsBundleCached("game") || env.s.IsBundleCached("shared") {
		t.Error("expected lobby-pinned bundles evicted on scene change")
	}
	if a := env.opener.Archive("game"); a == nil || !a.Closed() {
		t.Error("expected game archive closed by eviction")
	}
	if a := env.opener.Archive("shared"); a == nil || !a.Closed() {
		t.Error("expected shared archive closed once its dependent was gone")
	}
}

func TestKeepLoadedSurvivesSceneChange(t *testing.T) {
	env := newTestEnv(t, nil)
	env.s.SetScene("lobby")

	c := newCapture()
	env.s.RequestResource("solo/sprite.png", task.Options{KeepLoaded: true}, c.callback())
	settle(t, env.s, "solo loaded", func() bool { return c.successCount() == 1 })

	env.s.SetScene("match")
	env.s.Tick()
	if !env.s.IsBundleCached("solo") {
		t.Error("keep-loaded bundle must survive scene changes")
	}
	if evicted := env.s.UnloadAllUnused(); len(evicted) != 0 {
		t.Errorf("keep-loaded bundle must survive UnloadAllUnused, evicted %v", evicted)
	}
	// An explicit unload still works.
	if err := env.s.Unload("solo", false); err != nil {
		t.Errorf("explicit unload: %v", err)
	}
}

func TestInitBundleReserved(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.InitBundle = "shared" })

	c := newCapture()
	env.s.RequestResource("shared/atlas.png", task.Options{}, c.callback())
	settle(t, env.s, "shared loaded", func() bool { return c.successCount() == 1 })

	if err := env.s.Unload("shared", true); !errors.Is(err, cache.ErrReserved) {
		t.Errorf("expected ErrReserved for the initialization bundle, got %v", err)
	}
}

func TestCancelIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	release := make(chan struct{})
	env.fetcher.hold["solo"] = release

	c := newCapture()
	env.s.RequestResource("solo/sprite.png", task.Options{}, c.callback())
	env.s.Tick()

	env.s.Cancel("solo")
	env.s.Cancel("solo")
	if c.failureCount() != 1 {
		t.Fatalf("expected exactly one failure callback, got %d", c.failureCount())
	}

	// A new request reattaches the cancelled task and completes.
	c2 := newCapture()
	env.s.RequestResource("solo/sprite.png", task.Options{}, c2.callback())
	close(release)
	settle(t, env.s, "reattached load", func() bool { return c2.successCount() == 1 })
}

func TestCancelledDependencyRevivedOnReattach(t *testing.T) {
	env := newTestEnv(t, nil)
	release := make(chan struct{})
	env.fetcher.hold["shared"] = release

	c := newCapture()
	env.s.RequestResource("Game/Board.png", task.Options{}, c.callback())
	env.s.Tick()

	// Cancelling the dependency propagates to the dependent.
	env.s.Cancel("shared")
	if c.failureCount() != 1 {
		t.Fatalf("expected the dependent's waiter notified on cancel, got %d", c.failureCount())
	}

	// A new request for the dependent must revive the cancelled dependency
	// along with it, or the dependent sits in ResolvingDependencies forever.
	c2 := newCapture()
	env.s.RequestResource("Game/Board.png", task.Options{}, c2.callback())
	close(release)
	settle(t, env.s, "revived load", func() bool { return c2.successCount() == 1 })

	if !env.s.IsBundleCached("game") || !env.s.IsBundleCached("shared") {
		t.Error("expected both bundles cached after reattach")
	}
}

func TestPauseRefusedOnLocalSource(t *testing.T) {
	local := memblob.OpenBucket(nil)
	t.Cleanup(func() { local.Close() })
	if err := local.WriteAll(context.Background(), "standalone/solo", testPayloads()["solo"], nil); err != nil {
		t.Fatalf("seed local bucket: %v", err)
	}

	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Hosts = nil
		cfg.LocalBucket = "mem://"
	}, WithLocalBucket(local))

	c := newCapture()
	env.s.RequestResource("solo/sprite.png", task.Options{}, c.callback())
	env.s.Tick()

	if err := env.s.PauseAll("backgrounded"); !errors.Is(err, task.ErrPauseUnsupported) {
		t.Fatalf("expected ErrPauseUnsupported on a local-only source, got %v", err)
	}
	settle(t, env.s, "local load", func() bool { return c.successCount() == 1 })
}

func TestLoadProgressFraction(t *testing.T) {
	env := newTestEnv(t, nil)
	release := make(chan struct{})
	total := int64(len(testPayloads()["solo"]))
	env.fetcher.hold["solo"] = release
	env.fetcher.prefill["solo"] = total / 2

	env.s.RequestBundle("solo", task.Options{}, nil)
	env.s.Tick()

	settle(t, env.s, "mid-flight fraction", func() bool {
		p, ok := env.s.LoadProgress("solo")
		return ok && p.Fraction > 0 && p.Fraction < 1
	})

	close(release)
	settle(t, env.s, "solo cached", func() bool { return env.s.IsBundleCached("solo") })

	p, ok := env.s.LoadProgress("solo")
	if !ok || p.Fraction != 1 {
		t.Errorf("cached bundle must report fraction 1, got %v ok=%v", p.Fraction, ok)
	}
	if p.Bytes != total {
		t.Errorf("expected %d bytes for the cached bundle, got %d", total, p.Bytes)
	}
}

func TestEveryListedAssetResolves(t *testing.T) {
	env := newTestEnv(t, nil)

	c := newCapture()
	env.s.RequestResource("Game/Board.png", task.Options{}, c.callback())
	settle(t, env.s, "game loaded", func() bool { return c.successCount() == 1 })

	// Every path the manifest lists for a loaded bundle must resolve to a
	// live handle, not just the one that triggered the load.
	for _, base := range []manifest.BaseName{"game", "shared"} {
		id, ok := env.s.man.FullyQualify(base)
		if !ok {
			t.Fatalf("qualify %s", base)
		}
		for _, path := range env.s.man.AssetsOf(id) {
			cc := newCapture()
			if err := env.s.RequestResource(path, task.Options{}, cc.callback()); err != nil {
				t.Errorf("request %s: %v", path, err)
				continue
			}
			// Cached hits fire before RequestResource returns.
			if cc.successCount() != 1 {
				t.Errorf("asset %s not resolvable from its loaded bundle", path)
				continue
			}
			if cc.handle(0) == nil {
				t.Errorf("asset %s resolved to a nil handle", path)
			}
		}
	}
}

func TestRankEntriesDropped(t *testing.T) {
	env := newTestEnv(t, nil)

	// Cache the dependency first, then load the dependent on top of it.
	c := newCapture()
	env.s.RequestResource("Shared/Atlas.png", task.Options{}, c.callback())
	settle(t, env.s, "shared loaded", func() bool { return c.successCount() == 1 })

	c2 := newCapture()
	env.s.RequestResource("Game/Board.png", task.Options{}, c2.callback())
	settle(t, env.s, "game loaded", func() bool { return c2.successCount() == 1 })

	env.s.mu.Lock()
	leftover := len(env.s.queue.rank)
	env.s.mu.Unlock()
	if leftover != 0 {
		t.Errorf("expected no leftover rank entries, got %d", leftover)
	}
}

func TestStructuralFailureIsTerminal(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fetcher.payloads["solo"] = []byte("not a bundle")

	c := newCapture()
	env.s.RequestResource("solo/sprite.png", task.Options{}, c.callback())
	settle(t, env.s, "structural failure", func() bool { return c.failureCount() == 1 })

	if got := len(env.fetcher.requestsFor("solo")); got != 1 {
		t.Errorf("broken bytes must not be refetched, saw %d attempts", got)
	}
	if !env.st.IsKnownBad("solo") {
		t.Error("expected structurally broken bundle flagged known-bad")
	}
}

func TestDependencyFailurePropagates(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fetcher.failures["shared"] = 10

	c := newCapture()
	env.s.RequestResource("game/board.png", task.Options{}, c.callback())
	settle(t, env.s, "propagated failure", func() bool { return c.failureCount() == 1 })

	if !env.st.IsKnownBad("shared") {
		t.Error("expected failing dependency flagged known-bad")
	}
	if env.s.IsBundleCached("game") {
		t.Error("dependent bundle must not be promoted")
	}
}

func TestStoreShortCircuitsNetwork(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	if err := env.st.Put(ctx, "solo", 0, testPayloads()["solo"]); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	c := newCapture()
	env.s.RequestResource("solo/sprite.png", task.Options{}, c.callback())
	settle(t, env.s, "store hit", func() bool { return c.successCount() == 1 })

	if got := len(env.fetcher.requestsFor("solo")); got != 0 {
		t.Errorf("expected the persisted payload to skip the network, saw %d fetches", got)
	}
}

func TestPauseAndResume(t *testing.T) {
	env := newTestEnv(t, nil)
	release := make(chan struct{})
	env.fetcher.hold["solo"] = release

	c := newCapture()
	env.s.RequestResource("solo/sprite.png", task.Options{}, c.callback())
	env.s.Tick()

	if err := env.s.PauseAll("backgrounded"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if p, ok := env.s.LoadProgress("solo"); !ok || p.State != task.Paused {
		t.Fatalf("expected solo paused, got %v ok=%v", p.State, ok)
	}
	env.s.Tick() // paused sessions start nothing
	if p, _ := env.s.LoadProgress("solo"); p.State != task.Paused {
		t.Fatalf("paused task restarted: %v", p.State)
	}

	env.s.ResumeAll()
	close(release)
	settle(t, env.s, "resumed load", func() bool { return c.successCount() == 1 })
}

func TestRequestBundleNotify(t *testing.T) {
	env := newTestEnv(t, nil)
	c := newCapture()
	cb := c.callback()
	if err := env.s.RequestBundle("solo", task.Options{}, &cb); err != nil {
		t.Fatalf("request bundle: %v", err)
	}
	settle(t, env.s, "bundle notification", func() bool { return c.successCount() == 1 })
	if h := c.handle(0); h != nil {
		t.Errorf("bundle-level notification carries no handle, got %#v", h)
	}
	// A repeat request is served from cache.
	c2 := newCapture()
	cb2 := c2.callback()
	env.s.RequestBundle("solo", task.Options{}, &cb2)
	settle(t, env.s, "cached notification", func() bool { return c2.successCount() == 1 })
}

func TestRequestAfterClose(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	c := newCapture()
	if err := env.s.RequestResource("solo/sprite.png", task.Options{}, c.callback()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if c.successCount() != 0 || c.failureCount() != 0 {
		t.Error("no callbacks may fire after close")
	}
}

func TestHTTPEndToEnd(t *testing.T) {
	cdn := testutil.NewCDN()
	defer cdn.Close()
	cdn.Set("solo", testPayloads()["solo"])
	cdn.FailNext("solo", 1)

	cfg := config.Default()
	cfg.Hosts = []string{cdn.URL()}
	cfg.TickInterval = 5 * time.Millisecond

	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	st, err := store.Open(context.Background(), bucket, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	s, err := New(cfg, testManifest(t), WithOpener(testutil.NewOpener()), WithStore(st))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer s.Close()
	s.Start()

	c := newCapture()
	if err := s.RequestResource("solo/sprite.png", task.Options{}, c.callback()); err != nil {
		t.Fatalf("request: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for c.successCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for HTTP delivery")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if hits := cdn.Hits("solo"); hits != 2 {
		t.Errorf("expected one failed and one successful request, got %d", hits)
	}
	if h, ok := c.handle(0).(string); !ok || h != "sprite" {
		t.Errorf("unexpected handle %#v", c.handle(0))
	}
}
