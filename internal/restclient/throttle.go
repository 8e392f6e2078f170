package restclient

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// throttle keeps the client polite towards the backend: each endpoint group
// (e.g. "chat", "live") gets its own token bucket so a hot poll loop cannot
// starve the rest. Idle buckets expire after ttl.
type throttle struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

func newThrottle(requests int, window time.Duration, burst int) *throttle {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	if burst <= 0 {
		burst = 1
	}
	return &throttle{
		buckets: make(map[string]*bucket),
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   burst,
		ttl:     5 * time.Minute,
		now:     time.Now,
	}
}

func (t *throttle) wait(ctx context.Context, path string) error {
	key := endpointGroup(path)

	now := t.now()
	t.mu.Lock()
	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[key] = b
	}
	b.lastSeen = now
	t.gcLocked(now)
	t.mu.Unlock()

	return b.limiter.Wait(ctx)
}

func (t *throttle) gcLocked(now time.Time) {
	for key, b := range t.buckets {
		if now.Sub(b.lastSeen) > t.ttl {
			delete(t.buckets, key)
		}
	}
}

// endpointGroup maps "/api/v1/chat/chats/" to "chat".
func endpointGroup(path string) string {
	trimmed := strings.TrimPrefix(path, "/api/v1/")
	if idx := strings.IndexByte(trimmed, '/'); idx > 0 {
		return trimmed[:idx]
	}
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
