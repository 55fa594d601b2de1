package kit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// WriteLimiter caps requests per client address over a sliding window.
// Clients are keyed by the RemoteAddr host; X-Forwarded-For is only
// consulted when TrustForwarded is set, i.e. behind a proxy that
// overwrites the header.
type WriteLimiter struct {
	TrustForwarded bool

	mu        sync.Mutex
	limit     int
	window    time.Duration
	clients   map[string][]time.Time
	lastSweep time.Time
	now       func() time.Time
}

func NewWriteLimiter(limit int, window time.Duration) *WriteLimiter {
	return &WriteLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string][]time.Time),
		now:     time.Now,
	}
}

func (l *WriteLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(l.clientKey(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())))
			WriteError(w, r, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Tracked reports how many client keys currently hold window state.
func (l *WriteLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *WriteLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	// Once per window drop every client whose hits have all expired.
	if now.Sub(l.lastSweep) >= l.window {
		for k, hits := range l.clients {
			if len(within(hits, cutoff)) == 0 {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	hits := within(l.clients[key], cutoff)
	if len(hits) >= l.limit {
		l.clients[key] = hits
		return false
	}
	l.clients[key] = append(hits, now)
	return true
}

// within drops timestamps at or before cutoff, reusing the backing array.
func within(hits []time.Time, cutoff time.Time) []time.Time {
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (l *WriteLimiter) clientKey(r *http.Request) string {
	if l.TrustForwarded {
		if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
