package transport

import (
	"errors"
	"strings"
)

// ErrNoHosts is returned when a host list has no entries.
var ErrNoHosts = errors.New("transport: no CDN hosts configured")

// HostList is an externally supplied, ordered list of CDN base URLs. Rotation
// is deterministic: attempt n for a bundle uses entry n modulo the list
// length, so retries walk the list and wrap around.
type HostList struct {
	hosts []string
}

// NewHostList creates a host list. Base URLs are normalized to end with a
// single slash.
func NewHostList(hosts []string) (*HostList, error) {
	if len(hosts) == 0 {
		return nil, ErrNoHosts
	}
	normalized := make([]string, len(hosts))
	for i, h := range hosts {
		normalized[i] = strings.TrimRight(h, "/") + "/"
	}
	return &HostList{hosts: normalized}, nil
}

// Len returns the number of hosts.
func (l *HostList) Len() int {
	return len(l.hosts)
}

// URL returns the fetch URL for a bundle id at rotation index i.
func (l *HostList) URL(i int, id string) string {
	return l.hosts[i%len(l.hosts)] + id
}

// Host returns the base URL at rotation index i.
func (l *HostList) Host(i int) string {
	return l.hosts[i%len(l.hosts)]
}
