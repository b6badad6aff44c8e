// Package transport fetches raw bundle bytes from a CDN host or a local
// bundle source.
//
// A [Fetcher] performs exactly one attempt per call: retry policy, host
// rotation, and stall handling belong to the fetch task state machine, not
// the transport. While a fetch is in flight the caller observes cumulative
// received bytes through the [Counter] it supplied, which is how stall
// detection samples progress without blocking on the transfer.
//
// # Implementations
//
//   - [HTTPFetcher]: HTTP GET with a cache-busting integer version parameter
//     and a transport tuned for large downloads.
//   - [LocalFetcher]: reads bundles from a blob bucket laid out as
//     {root}/{platform}/{bundle-id}. Reports no byte progress and disallows
//     pausing, matching an offline bundle source.
package transport
