// Package archive abstracts the opaque bundle archive format. The delivery
// layer never inspects bundle bytes itself; it hands them to an Opener and
// receives back a name-to-handle mapping. Parsing the archive into assets is
// someone else's problem.
package archive

import "errors"

// ErrAssetNotFound is returned by Archive.Lookup for unknown asset names.
var ErrAssetNotFound = errors.New("archive: asset not found")

// AssetHandle is an opaque reference to a materialized asset inside an open
// archive.
type AssetHandle any

// Archive is an open bundle.
type Archive interface {
	// AssetNames lists every asset name in the archive, canonical form.
	AssetNames() []string

	// Lookup resolves an asset by canonical name.
	Lookup(name string) (AssetHandle, error)

	// Close releases the archive and every handle derived from it.
	Close() error
}

// Opener opens bundle bytes into an Archive. Opening may be expensive; the
// scheduler runs it off the tick and awaits the result. An error from Open
// means the bundle is structurally broken and must not be retried.
type Opener interface {
	Open(bundleID string, data []byte) (Archive, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(bundleID string, data []byte) (Archive, error)

// Open implements Opener.
func (f OpenerFunc) Open(bundleID string, data []byte) (Archive, error) {
	return f(bundleID, data)
}
