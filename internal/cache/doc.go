// Package cache holds the in-memory bundles materialized during a run and
// decides when they may be freed.
//
// An [Entry] is created only when the scheduler promotes a completed fetch
// task, and destroyed only by [Cache.Sweep] or an explicit unload. Release
// ordering is strict: the archive handle is closed before the map entry is
// removed, so a consumer can never observe a removed-but-unreleased entry or
// the reverse.
//
// # Eviction eligibility
//
// An entry may be evicted iff all three hold:
//
//   - it is not pinned PinAlways
//   - its pin does not match the active scene
//   - no other loaded bundle references it as a dependency
//
// The reference rule is absolute: unloading a bundle that a loaded dependent
// still needs would invalidate objects inside that dependent.
package cache
