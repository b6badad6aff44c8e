package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/KDRohit/Aruze10-sub023/pkg/manifest"
)

const (
	bundlePrefix      = "bundles/"
	versionsObject    = "versions.json"
	diagnosticsObject = "diagnostics.json"

	// maxDiagnostics caps the retained background-failure records.
	maxDiagnostics = 100
)

// Diagnostic records a background (lazy) bundle failure for later inspection.
// Lazy failures must never interrupt the user, so this file is all they get.
type Diagnostic struct {
	Bundle   string    `json:"bundle"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error"`
	At       time.Time `json:"at"`
}

// Store is the persistent bundle layer. The version counters and known-bad
// set are mutated only on the scheduler tick; bucket reads and writes may
// run from fetch workers and lean on the bucket's own concurrency safety.
type Store struct {
	bucket   *blob.Bucket
	log      *zap.Logger
	versions map[string]int
	knownBad map[manifest.BundleID]struct{}
}

// Open loads the version counters and returns a store over bucket.
func Open(ctx context.Context, bucket *blob.Bucket, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		bucket:   bucket,
		log:      log,
		versions: make(map[string]int),
		knownBad: make(map[manifest.BundleID]struct{}),
	}

	data, err := bucket.ReadAll(ctx, versionsObject)
	if err != nil {
		if !isNotExist(err) {
			return nil, fmt.Errorf("store: read versions: %w", err)
		}
		return s, nil
	}
	if err := json.Unmarshal(data, &s.versions); err != nil {
		return nil, fmt.Errorf("store: parse versions: %w", err)
	}
	return s, nil
}

func versionKey(base manifest.BaseName) string {
	return string(base) + "_version"
}

// Version returns the current cache-busting version for a base bundle name.
func (s *Store) Version(base manifest.BaseName) int {
	return s.versions[versionKey(base)]
}

// BumpVersion increments and persists the version counter for base. Called
// on every retry so the next attempt cannot be satisfied from a stale cache
// entry under the previous host.
func (s *Store) BumpVersion(ctx context.Context, base manifest.BaseName) (int, error) {
	s.versions[versionKey(base)]++
	v := s.versions[versionKey(base)]
	data, err := json.MarshalIndent(s.versions, "", "  ")
	if err != nil {
		return v, fmt.Errorf("store: marshal versions: %w", err)
	}
	if err := s.bucket.WriteAll(ctx, versionsObject, data, nil); err != nil {
		return v, fmt.Errorf("store: write versions: %w", err)
	}
	return v, nil
}

func bundleKey(id manifest.BundleID, version int) string {
	return fmt.Sprintf("%s%s.v%d", bundlePrefix, id, version)
}

// Has reports whether the exact bundle version is persisted.
func (s *Store) Has(ctx context.Context, id manifest.BundleID, version int) bool {
	ok, err := s.bucket.Exists(ctx, bundleKey(id, version))
	return err == nil && ok
}

// Load reads a persisted bundle payload.
func (s *Store) Load(ctx context.Context, id manifest.BundleID, version int) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, bundleKey(id, version))
	if err != nil {
		return nil, fmt.Errorf("store: load %s v%d: %w", id, version, err)
	}
	return data, nil
}

// Put persists a bundle payload and deletes any stale versions of the same
// bundle left over from earlier sessions.
func (s *Store) Put(ctx context.Context, id manifest.BundleID, version int, data []byte) error {
	key := bundleKey(id, version)
	if err := s.bucket.WriteAll(ctx, key, data, nil); err != nil {
		return fmt.Errorf("store: put %s v%d: %w", id, version, err)
	}

	iter := s.bucket.List(&blob.ListOptions{Prefix: bundlePrefix + string(id) + ".v"})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("store: list stale versions: %w", err)
		}
		if obj.Key == key {
			continue
		}
		if err := s.bucket.Delete(ctx, obj.Key); err != nil && !isNotExist(err) {
			s.log.Warn("store: delete stale bundle version",
				zap.String("key", obj.Key), zap.Error(err))
		}
	}
	return nil
}

// Delete removes every persisted version of a bundle.
func (s *Store) Delete(ctx context.Context, id manifest.BundleID) error {
	iter := s.bucket.List(&blob.ListOptions{Prefix: bundlePrefix + string(id) + ".v"})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("store: list %s: %w", id, err)
		}
		if err := s.bucket.Delete(ctx, obj.Key); err != nil && !isNotExist(err) {
			return fmt.Errorf("store: delete %s: %w", obj.Key, err)
		}
	}
}

// GC removes persisted bundles the keep predicate rejects. Returns the
// removed bundle ids.
func (s *Store) GC(ctx context.Context, keep func(id manifest.BundleID) bool) ([]manifest.BundleID, error) {
	var removed []manifest.BundleID
	iter := s.bucket.List(&blob.ListOptions{Prefix: bundlePrefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			return removed, nil
		}
		if err != nil {
			return removed, fmt.Errorf("store: gc list: %w", err)
		}
		id, ok := parseBundleKey(obj.Key)
		if !ok || keep(id) {
			continue
		}
		if err := s.bucket.Delete(ctx, obj.Key); err != nil && !isNotExist(err) {
			return removed, fmt.Errorf("store: gc delete %s: %w", obj.Key, err)
		}
		removed = append(removed, id)
	}
}

// parseBundleKey extracts the bundle id from "bundles/{id}.v{N}".
func parseBundleKey(key string) (manifest.BundleID, bool) {
	name := strings.TrimPrefix(key, bundlePrefix)
	i := strings.LastIndex(name, ".v")
	if i <= 0 {
		return "", false
	}
	return manifest.BundleID(name[:i]), true
}

// MarkKnownBad flags a bundle as failed-terminal for the rest of this
// session; requests for it go straight to the local fallback.
func (s *Store) MarkKnownBad(id manifest.BundleID) {
	s.knownBad[id] = struct{}{}
}

// IsKnownBad reports whether the bundle failed terminally this session.
func (s *Store) IsKnownBad(id manifest.BundleID) bool {
	_, ok := s.knownBad[id]
	return ok
}

// RecordDiagnostic appends a background failure record, keeping the most
// recent maxDiagnostics entries. Errors are logged, not returned: recording
// a diagnostic must never fail a caller.
func (s *Store) RecordDiagnostic(ctx context.Context, d Diagnostic) {
	var records []Diagnostic
	if data, err := s.bucket.ReadAll(ctx, diagnosticsObject); err == nil {
		// A corrupt file starts over; diagnostics are best effort.
		_ = json.Unmarshal(data, &records)
	}
	records = append(records, d)
	if len(records) > maxDiagnostics {
		records = records[len(records)-maxDiagnostics:]
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		s.log.Warn("store: marshal diagnostics", zap.Error(err))
		return
	}
	if err := s.bucket.WriteAll(ctx, diagnosticsObject, data, nil); err != nil {
		s.log.Warn("store: write diagnostics", zap.Error(err))
	}
}

// Diagnostics returns the recorded background failure records.
func (s *Store) Diagnostics(ctx context.Context) ([]Diagnostic, error) {
	data, err := s.bucket.ReadAll(ctx, diagnosticsObject)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read diagnostics: %w", err)
	}
	var records []Diagnostic
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("store: parse diagnostics: %w", err)
	}
	return records, nil
}

// isNotExist returns true if the error indicates the object doesn't exist.
func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
