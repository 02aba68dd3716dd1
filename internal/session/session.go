// Package session holds the mutable authentication material for one
// authenticated crawling session: the base request headers and the browser
// cookie state, kept consistent under a single lock.
//
// The cookie state is modeled as an immutable Credentials value that is
// replaced wholesale on refresh, so no request can ever observe a serialized
// Cookie header from one login state paired with a cookie map from another.
package session

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/RockyZHH/MediaCrawler/api/schemas"
)

// Credentials is an immutable snapshot of the browser's cookie state in both
// representations the client needs: the serialized Cookie header value and a
// name → value map for direct lookups (the signer reads "a1" from it).
type Credentials struct {
	Header string
	Jar    map[string]string
}

// NewCredentials builds both representations from a browser cookie list.
func NewCredentials(cookies []schemas.Cookie) Credentials {
	jar := make(map[string]string, len(cookies))
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		jar[c.Name] = c.Value
		pairs = append(pairs, fmt.Sprintf("%s=%s", c.Name, c.Value))
	}
	// Deterministic header ordering keeps signed requests reproducible.
	sort.Strings(pairs)
	return Credentials{Header: strings.Join(pairs, "; "), Jar: jar}
}

// Value returns the named cookie, or "" when absent.
func (c Credentials) Value(name string) string { return c.Jar[name] }

// State owns the request headers and credentials for one session. It is
// constructed once per authenticated session and refreshed on demand by the
// owning orchestrator whenever login state is renewed.
type State struct {
	mu    sync.RWMutex
	base  map[string]string
	creds Credentials
}

// NewState creates session state seeded with the given base headers. The map
// is copied; callers keep no handle into the state.
func NewState(base map[string]string) *State {
	headers := make(map[string]string, len(base))
	for k, v := range base {
		headers[k] = v
	}
	return &State{base: headers}
}

// Refresh converts a raw browser cookie collection and atomically replaces
// both the Cookie header and the cookie jar. No request sent after Refresh
// returns can observe one without the other.
func (s *State) Refresh(cookies []schemas.Cookie) {
	creds := NewCredentials(cookies)
	s.mu.Lock()
	s.creds = creds
	s.base["Cookie"] = creds.Header
	s.mu.Unlock()
}

// ApplySignature installs the four signature headers in one step. A partial
// header set is rejected before anything is written.
func (s *State) ApplySignature(h schemas.SignatureHeaders) error {
	if !h.Complete() {
		return fmt.Errorf("refusing partial signature header set")
	}
	s.mu.Lock()
	s.base[schemas.HeaderXS] = h.XS
	s.base[schemas.HeaderXT] = h.XT
	s.base[schemas.HeaderXCommon] = h.XCommon
	s.base[schemas.HeaderTraceID] = h.TraceID
	s.mu.Unlock()
	return nil
}

// Credentials returns the current immutable cookie snapshot.
func (s *State) Credentials() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// CookieValue returns one cookie from the current jar.
func (s *State) CookieValue(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.Jar[name]
}

// Snapshot returns a copy of the full header set for a single request.
// Mutating the returned header does not affect the session.
func (s *State) Snapshot() http.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := make(http.Header, len(s.base))
	for k, v := range s.base {
		h.Set(k, v)
	}
	return h
}
