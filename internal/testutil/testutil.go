// Package testutil provides test doubles for the delivery pipeline: an
// archive opener over a trivial JSON payload format, and an in-process CDN
// with per-bundle fault injection.
package testutil

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/KDRohit/Aruze10-sub023/internal/archive"
	"github.com/KDRohit/Aruze10-sub023/pkg/manifest"
)

// Payload encodes a test bundle: a JSON object mapping asset paths to string
// contents. Opener understands this format.
func Payload(assets map[string]string) []byte {
	data, err := json.Marshal(assets)
	if err != nil {
		panic(err)
	}
	return data
}

// Opener opens payloads produced by [Payload] and remembers every archive it
// produced so tests can assert on close behavior.
type Opener struct {
	mu       sync.Mutex
	archives map[string]*Archive
}

// NewOpener creates an Opener.
func NewOpener() *Opener {
	return &Opener{archives: make(map[string]*Archive)}
}

// Open implements archive.Opener. Non-JSON payloads fail, standing in for
// structurally broken bundles.
func (o *Opener) Open(bundleID string, data []byte) (archive.Archive, error) {
	var assets map[string]string
	if err := json.Unmarshal(data, &assets); err != nil {
		return nil, fmt.Errorf("testutil: malformed bundle %s: %w", bundleID, err)
	}
	a := &Archive{id: bundleID, assets: assets}
	o.mu.Lock()
	o.archives[bundleID] = a
	o.mu.Unlock()
	return a, nil
}

// Archive returns the most recently opened archive for a bundle, or nil.
func (o *Opener) Archive(bundleID string) *Archive {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.archives[bundleID]
}

// Archive is an opened test bundle. Lookup returns asset contents as string
// handles.
type Archive struct {
	id     string
	assets map[string]string

	mu     sync.Mutex
	closed bool
}

// AssetNames returns the asset paths in sorted order.
func (a *Archive) AssetNames() []string {
	names := make([]string, 0, len(a.assets))
	for name := range a.assets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves an asset by path, case-insensitively.
func (a *Archive) Lookup(name string) (archive.AssetHandle, error) {
	cp := manifest.CanonicalPath(name)
	for stored, content := range a.assets {
		if manifest.CanonicalPath(stored) == cp {
			return content, nil
		}
	}
	return nil, fmt.Errorf("%w: %s in %s", archive.ErrAssetNotFound, name, a.id)
}

// Close marks the archive closed.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Closed reports whether Close was called.
func (a *Archive) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
