package archive

import "fmt"

// opaqueArchive treats bundle bytes as a sealed blob with no named assets.
// Used where the delivery layer runs without a real archive parser (cache
// warming, CLI tooling).
type opaqueArchive struct {
	id   string
	size int
}

func (a *opaqueArchive) AssetNames() []string { return nil }

func (a *opaqueArchive) Lookup(name string) (AssetHandle, error) {
	return nil, fmt.Errorf("%w: %s (opaque bundle %s)", ErrAssetNotFound, name, a.id)
}

func (a *opaqueArchive) Close() error { return nil }

// Opaque returns an Opener whose archives expose no named assets. Requests
// should use skip-mapping mode with it.
func Opaque() Opener {
	return OpenerFunc(func(bundleID string, data []byte) (Archive, error) {
		return &opaqueArchive{id: bundleID, size: len(data)}, nil
	})
}
