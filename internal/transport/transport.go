package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Common errors.
var (
	ErrNotFound     = errors.New("transport: resource not found")
	ErrForbidden    = errors.New("transport: access forbidden")
	ErrUnauthorized = errors.New("transport: unauthorized")
	ErrServerError  = errors.New("transport: server error")
)

// Counter is a cumulative received-byte count shared between a transfer in
// flight and the stall sampler polling it. The transport also records the
// expected transfer size here when it learns it, so callers can report a
// completion fraction.
type Counter struct {
	n     atomic.Int64
	total atomic.Int64
}

// Add records n more received bytes.
func (c *Counter) Add(n int64) {
	c.n.Add(n)
}

// Load returns the cumulative byte count.
func (c *Counter) Load() int64 {
	return c.n.Load()
}

// SetTotal records the expected size of the transfer.
func (c *Counter) SetTotal(n int64) {
	c.total.Store(n)
}

// Total returns the expected transfer size, zero when unknown.
func (c *Counter) Total() int64 {
	return c.total.Load()
}

// Fetcher retrieves the complete bytes of one bundle in a single attempt.
// location is transport-specific: a URL for HTTP, a blob key for local
// sources. progress may be nil when the caller does not sample it.
type Fetcher interface {
	Fetch(ctx context.Context, location string, version int, progress *Counter) ([]byte, error)

	// SupportsProgress reports whether Fetch updates the progress counter
	// while the transfer runs. Stall detection is skipped when false.
	SupportsProgress() bool

	// SupportsPause reports whether in-flight work may be paused and
	// resumed. False for local/offline sources.
	SupportsPause() bool
}

// Options configures the HTTP fetcher.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int

	// Timeout for individual requests. Zero means no client timeout; the
	// caller's stall detection bounds dead transfers instead.
	Timeout time.Duration
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 16,
	}
}

// HTTPFetcher downloads bundles over HTTP GET.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates an HTTP fetcher with the given options.
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	transport := &http.Transport{
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // bundles are already compressed archives
	}
	return &HTTPFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
	}
}

// Fetch performs a single GET of the bundle at url. version is appended as a
// cache-validation query parameter so a bumped version can never be served
// from a stale intermediary cache.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, version int, progress *Counter) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("v", strconv.Itoa(version))
	req.URL.RawQuery = q.Encode()

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatusCode(resp.StatusCode, resp.Status); err != nil {
		return nil, err
	}
	if progress != nil && resp.ContentLength > 0 {
		progress.SetTotal(resp.ContentLength)
	}

	buf := &countingBuffer{counter: progress}
	if resp.ContentLength > 0 {
		buf.data = make([]byte, 0, resp.ContentLength)
	}
	if _, err := io.Copy(buf, resp.Body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return buf.data, nil
}

// SupportsProgress reports true: bytes are counted as they arrive.
func (f *HTTPFetcher) SupportsProgress() bool { return true }

// SupportsPause reports true.
func (f *HTTPFetcher) SupportsPause() bool { return true }

// countingBuffer accumulates bytes and mirrors the count into a Counter.
type countingBuffer struct {
	data    []byte
	counter *Counter
}

func (b *countingBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	if b.counter != nil {
		b.counter.Add(int64(len(p)))
	}
	return len(p), nil
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int, status string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 500:
		return fmt.Errorf("%w: %d %s", ErrServerError, code, status)
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}
