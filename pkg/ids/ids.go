// Package ids generates identifiers for outbound frames.
package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// RequestPrefix starts every generated request id.
const RequestPrefix = "req_"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewRequestID returns "req_" followed by 8 lowercase hex characters taken
// from a random UUID.
func NewRequestID() string {
	u := uuid.New()
	return RequestPrefix + strings.ReplaceAll(u.String(), "-", "")[:8]
}

// UniqueRequestID generates request ids until taken reports the id unused.
func UniqueRequestID(taken func(string) bool) string {
	for {
		id := NewRequestID()
		if taken == nil || !taken(id) {
			return id
		}
	}
}

// NewNonce returns a time-sortable ULID string, used for ping nonces.
func NewNonce() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Short truncates id to n characters for display. Empty ids render as "-".
func Short(id string, n int) string {
	if id == "" {
		return "-"
	}
	if len(id) <= n {
		return id
	}
	return id[:n]
}

// ShortRequest renders a request id for display, keeping ids that already
// carry the request prefix intact.
func ShortRequest(id string) string {
	if id == "" {
		return "-"
	}
	if strings.HasPrefix(id, RequestPrefix) {
		return id
	}
	return RequestPrefix + Short(id, 8)
}
