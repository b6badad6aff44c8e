// Package session is the delivery scheduler: it turns resource and bundle
// requests into fetch tasks, drives them through download, dependency
// resolution, and asset mapping, and promotes finished bundles into the
// in-memory cache.
//
// # Ownership
//
// All mutable state (tasks, run queue, cache, store counters) lives behind
// one mutex and is touched only by the public API and the scheduler tick.
// Fetch and mapping workers run on their own goroutines but never reach into
// that state: they report through a completions channel, tagged with the
// attempt number they worked on, and the tick discards anything stale.
//
// # Callbacks
//
// Request callbacks fire exactly once, after the bundle is promoted into the
// cache (or has failed past its retry budget). Asset handles are resolved
// while the scheduler lock is held, so an eviction sweep can never run
// between promotion and notification; the callbacks themselves run with no
// locks held.
//
// # Scheduling
//
// The run loop ticks on a clock.Ticker. Each tick absorbs worker
// completions, samples in-flight transfers for stalls, starts queued work up
// to the concurrency cap (plus the single lazy slot), and sweeps the cache
// on its interval. Tests drive [Session.Tick] directly with a mock clock
// instead of calling [Session.Start].
package session
