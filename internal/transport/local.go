package transport

import (
	"context"
	"fmt"
	"path"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// LocalFetcher reads bundles from a blob bucket laid out as
// {root}/{platform}/{bundle-id}. It backs both offline/local bundle mode and
// the last-resort fallback asset source.
type LocalFetcher struct {
	bucket   *blob.Bucket
	root     string
	platform string
}

// NewLocalFetcher creates a local fetcher over bucket. root may be empty.
func NewLocalFetcher(bucket *blob.Bucket, root, platform string) *LocalFetcher {
	return &LocalFetcher{bucket: bucket, root: root, platform: platform}
}

// Key returns the bucket key for a bundle id.
func (f *LocalFetcher) Key(id string) string {
	return path.Join(f.root, f.platform, id)
}

// Fetch reads the complete bundle. The version parameter is ignored: local
// sources have no intermediary caches to bust. progress is not updated.
func (f *LocalFetcher) Fetch(ctx context.Context, location string, version int, progress *Counter) ([]byte, error) {
	data, err := f.bucket.ReadAll(ctx, location)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
		}
		return nil, fmt.Errorf("read local bundle: %w", err)
	}
	return data, nil
}

// SupportsProgress reports false: ReadAll cannot report in-flight bytes, so
// stall detection is skipped on this transport.
func (f *LocalFetcher) SupportsProgress() bool { return false }

// SupportsPause reports false: pausing is disallowed on a local source.
func (f *LocalFetcher) SupportsPause() bool { return false }
