package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// CDN is an in-process bundle server with per-bundle fault injection.
type CDN struct {
	srv *httptest.Server

	mu       sync.Mutex
	bundles  map[string][]byte
	failNext map[string]int
	stalled  map[string]bool
	hits     map[string]int
}

// NewCDN starts a CDN. Callers must Close it.
func NewCDN() *CDN {
	c := &CDN{
		bundles:  make(map[string][]byte),
		failNext: make(map[string]int),
		stalled:  make(map[string]bool),
		hits:     make(map[string]int),
	}
	c.srv = httptest.NewServer(http.HandlerFunc(c.serve))
	return c
}

func (c *CDN) serve(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/")

	c.mu.Lock()
	c.hits[id]++
	if c.failNext[id] > 0 {
		c.failNext[id]--
		c.mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	stall := c.stalled[id]
	data, ok := c.bundles[id]
	c.mu.Unlock()

	if stall {
		// Hold the request open without sending a byte until the client
		// gives up.
		<-r.Context().Done()
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Write(data)
}

// URL returns the server's base URL, suitable for a host list entry.
func (c *CDN) URL() string {
	return c.srv.URL
}

// Set installs the payload served for a bundle id.
func (c *CDN) Set(id string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bundles[id] = payload
}

// FailNext makes the next n requests for a bundle return a server error.
func (c *CDN) FailNext(id string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext[id] = n
}

// Stall makes requests for a bundle hang without sending bytes.
func (c *CDN) Stall(id string, stalled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stalled[id] = stalled
}

// Hits returns how many requests a bundle has received.
func (c *CDN) Hits(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[id]
}

// Close shuts the server down.
func (c *CDN) Close() {
	c.srv.Close()
}
