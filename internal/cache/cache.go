package cache

import (
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/KDRohit/Aruze10-sub023/internal/archive"
	"github.com/KDRohit/Aruze10-sub023/pkg/manifest"
)

// Common errors.
var (
	// ErrInUse is returned by Unload when the entry is still referenced by
	// a loaded dependent and force was not requested.
	ErrInUse = errors.New("cache: bundle is referenced by loaded dependents")

	// ErrReserved is returned when unloading the bundle reserved for core
	// initialization assets. Even forced unloads refuse it.
	ErrReserved = errors.New("cache: bundle is reserved and cannot be unloaded")

	// ErrNotCached is returned when the bundle has no cache entry.
	ErrNotCached = errors.New("cache: bundle is not cached")
)

// Scene identifies the scene an entry is pinned to.
type Scene string

// Pin sentinels. A concrete scene name means "keep while that scene is
// active".
const (
	// PinNone marks an entry eligible for eviction on the next sweep.
	PinNone Scene = ""

	// PinAlways marks an entry that is never auto-evicted.
	PinAlways Scene = "*"
)

// lookupMemoSize bounds the on-demand lookup memo per skip-mapping entry.
const lookupMemoSize = 256

// Entry is one materialized, in-memory bundle.
type Entry struct {
	ID      manifest.BundleID
	Archive archive.Archive

	// Pin governs scene-scoped eviction. See the package comment.
	Pin Scene

	// DependsOn lists the dependency bundles this entry was promoted with;
	// used to unwire reverse edges on eviction.
	DependsOn []manifest.BundleID

	// ReferencedBy holds currently loaded bundles whose dependency list
	// includes this one.
	ReferencedBy map[manifest.BundleID]struct{}

	Size       int64
	InsertedAt time.Time

	// assetMap is nil when the bundle was loaded in skip-mapping mode;
	// lookups then go through the archive on demand, memoized in memo.
	assetMap map[string]archive.AssetHandle
	memo     *lru.Cache[string, archive.AssetHandle]
}

// NewEntry creates an entry for a promoted bundle. assetMap may be nil for
// skip-mapping loads.
func NewEntry(id manifest.BundleID, a archive.Archive, assetMap map[string]archive.AssetHandle, pin Scene, size int64, now time.Time) *Entry {
	e := &Entry{
		ID:           id,
		Archive:      a,
		Pin:          pin,
		ReferencedBy: make(map[manifest.BundleID]struct{}),
		Size:         size,
		InsertedAt:   now,
		assetMap:     assetMap,
	}
	if assetMap == nil {
		// Sized LRU keeps unbounded on-demand lookups from pinning every
		// handle the archive ever resolved.
		e.memo, _ = lru.New[string, archive.AssetHandle](lookupMemoSize)
	}
	return e
}

// Lookup resolves an asset by resource path. With a populated asset map this
// is a map hit; in skip-mapping mode the canonical path is resolved through
// the archive on demand and memoized.
func (e *Entry) Lookup(path string) (archive.AssetHandle, error) {
	cp := manifest.CanonicalPath(path)
	if e.assetMap != nil {
		if h, ok := e.assetMap[cp]; ok {
			return h, nil
		}
		return nil, fmt.Errorf("%w: %s in %s", archive.ErrAssetNotFound, cp, e.ID)
	}

	if h, ok := e.memo.Get(cp); ok {
		return h, nil
	}
	h, err := e.Archive.Lookup(cp)
	if err != nil {
		return nil, fmt.Errorf("lookup %s in %s: %w", cp, e.ID, err)
	}
	e.memo.Add(cp, h)
	return h, nil
}

// Mapped reports whether the entry carries a prebuilt asset map.
func (e *Entry) Mapped() bool {
	return e.assetMap != nil
}

// Evictable reports eviction eligibility against the active scene.
func (e *Entry) Evictable(active Scene) bool {
	if e.Pin == PinAlways {
		return false
	}
	if e.Pin != PinNone && e.Pin == active {
		return false
	}
	return len(e.ReferencedBy) == 0
}

// Cache maps bundle ids to materialized entries. It is owned by the
// scheduler and mutated only on its tick.
type Cache struct {
	log      *zap.Logger
	reserved manifest.BundleID
	entries  map[manifest.BundleID]*Entry
}

// New creates an empty cache. reserved names the bundle holding core
// initialization assets, which no unload may remove; it may be empty.
func New(log *zap.Logger, reserved manifest.BundleID) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		log:      log,
		reserved: reserved,
		entries:  make(map[manifest.BundleID]*Entry),
	}
}

// Get returns the entry for a bundle id.
func (c *Cache) Get(id manifest.BundleID) (*Entry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

// Len returns the number of cached bundles.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Bundles returns the cached bundle ids.
func (c *Cache) Bundles() []manifest.BundleID {
	out := make([]manifest.BundleID, 0, len(c.entries))
	for id := range c.entries {
		out = append(out, id)
	}
	return out
}

// TotalBytes returns the summed payload size of all entries.
func (c *Cache) TotalBytes() int64 {
	var total int64
	for _, e := range c.entries {
		total += e.Size
	}
	return total
}

// Put inserts a promoted entry and wires reverse reference edges into each
// of its cached dependencies.
func (c *Cache) Put(e *Entry, deps []manifest.BundleID) {
	e.DependsOn = deps
	c.entries[e.ID] = e
	for _, dep := range deps {
		if de, ok := c.entries[dep]; ok {
			de.ReferencedBy[e.ID] = struct{}{}
		}
	}
	c.log.Debug("cache: bundle promoted",
		zap.String("bundle", string(e.ID)),
		zap.String("pin", string(e.Pin)),
		zap.Int64("bytes", e.Size))
}

// Touch extends an entry's pin to the active scene so it survives the next
// sweep. ALWAYS pins are left alone.
func (c *Cache) Touch(id manifest.BundleID, active Scene) {
	e, ok := c.entries[id]
	if !ok {
		return
	}
	if e.Pin != PinAlways {
		e.Pin = active
	}
}

// MarkForUnload clears an entry's pin without forcing immediate eviction;
// the next sweep reclaims it if nothing references it.
func (c *Cache) MarkForUnload(id manifest.BundleID) {
	if e, ok := c.entries[id]; ok {
		e.Pin = PinNone
	}
}

// Unload releases an entry immediately and synchronously. Without force it
// refuses entries still referenced by loaded dependents; force bypasses the
// in-use check for callers that assert safety (memory-pressure response).
// The reserved initialization bundle is refused unconditionally.
func (c *Cache) Unload(id manifest.BundleID, force bool) error {
	e, ok := c.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotCached, id)
	}
	if c.reserved != "" && id == c.reserved {
		return fmt.Errorf("%w: %s", ErrReserved, id)
	}
	if !force && len(e.ReferencedBy) > 0 {
		return fmt.Errorf("%w: %s (%d dependents)", ErrInUse, id, len(e.ReferencedBy))
	}
	return c.release(e)
}

// release closes the archive handle, then removes the entry and unwires its
// reverse edges. Close-before-remove ordering is load-bearing.
func (c *Cache) release(e *Entry) error {
	var err error
	if e.Archive != nil {
		err = e.Archive.Close()
	}
	delete(c.entries, e.ID)
	for _, dep := range e.DependsOn {
		if de, ok := c.entries[dep]; ok {
			delete(de.ReferencedBy, e.ID)
		}
	}
	if err != nil {
		return fmt.Errorf("release %s: %w", e.ID, err)
	}
	return nil
}

// Sweep frees every entry eligible under the active scene. Evicting a
// dependent can strand its dependencies, so passes repeat until a pass frees
// nothing. Returns the evicted ids and any release errors, aggregated.
func (c *Cache) Sweep(active Scene) ([]manifest.BundleID, error) {
	var evicted []manifest.BundleID
	var errs error

	for {
		var round []manifest.BundleID
		for id, e := range c.entries {
			if c.reserved != "" && id == c.reserved {
				continue
			}
			if e.Evictable(active) {
				round = append(round, id)
			}
		}
		if len(round) == 0 {
			break
		}
		for _, id := range round {
			e := c.entries[id]
			if err := c.release(e); err != nil {
				errs = multierr.Append(errs, err)
			}
			evicted = append(evicted, id)
		}
	}

	if len(evicted) > 0 {
		c.log.Info("cache: sweep evicted bundles",
			zap.Int("count", len(evicted)),
			zap.String("scene", string(active)))
	}
	return evicted, errs
}

// Close releases every entry unconditionally, reserved and ALWAYS-pinned
// ones included. For session shutdown only.
func (c *Cache) Close() error {
	var errs error
	for _, id := range c.Bundles() {
		if e, ok := c.entries[id]; ok {
			errs = multierr.Append(errs, c.release(e))
		}
	}
	return errs
}

// UnloadAllUnused clears every scene pin (ALWAYS pins excepted) and sweeps.
func (c *Cache) UnloadAllUnused() ([]manifest.BundleID, error) {
	for _, e := range c.entries {
		if e.Pin != PinAlways {
			e.Pin = PinNone
		}
	}
	return c.Sweep(PinNone)
}
