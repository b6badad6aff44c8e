// Package store persists downloaded bundles across application sessions.
//
// Bundle bytes live in a blob bucket keyed by bundle id and version; putting
// a new version deletes stale ones, so at most one version of a bundle is
// ever on disk. Version counters are the cache-busting integers incremented
// on every retry: a bumped counter makes both the persisted copy and any
// intermediary HTTP cache unusable for the next attempt.
//
// # Storage Layout
//
//	bundles/{bundle-id}.v{N}   bundle payloads
//	versions.json              {"{base}_version": N, ...}
//	diagnostics.json           recent background failure records
//
// The known-bad set is deliberately not persisted: a bundle that failed
// terminally this session gets a fresh chance next launch.
package store
