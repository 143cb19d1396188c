package ads

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache TTL bounds. A pod stays cached at most for its own duration, so a
// later viewer hitting the same live break cannot be served ads that have
// already played out, and failures are retried quickly.
const (
	DefaultMaxCacheTTL = 300 * time.Second
	negativeTTL        = 5 * time.Second
	lookupGrace        = 15 * time.Minute
)

type cacheEntry struct {
	pod    AdPod
	expiry time.Time
}

// BreakCache deduplicates ad resolution per break across all sessions and
// manifest refreshes. Concurrent requests for the same break share a single
// provider call.
type BreakCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group
	maxTTL  time.Duration
	now     func() time.Time
}

func NewBreakCache(maxTTL time.Duration) *BreakCache {
	if maxTTL <= 0 {
		maxTTL = DefaultMaxCacheTTL
	}
	return &BreakCache{
		entries: make(map[string]cacheEntry),
		maxTTL:  maxTTL,
		now:     time.Now,
	}
}

// Resolve returns the pod for breakID, consulting p on a miss. The provider
// runs detached from the caller's cancellation so a disconnecting waiter
// does not abort resolution for the others. Provider failures are swallowed
// into a short-lived empty entry.
func (c *BreakCache) Resolve(ctx context.Context, p Provider, breakID string, durationS float64) AdPod {
	if pod, ok := c.getFresh(breakID); ok {
		return pod
	}
	v, _, _ := c.group.Do(breakID, func() (any, error) {
		if pod, ok := c.getFresh(breakID); ok {
			return pod, nil
		}
		pod, err := p.Resolve(context.WithoutCancel(ctx), breakID, durationS)
		if err != nil {
			slog.Error("ad resolution failed", "breakID", breakID, "provider", p.Name(), "err", err)
			pod = AdPod{}
		}
		ttl := c.ttlFor(pod)
		c.put(breakID, pod, ttl)
		return pod, nil
	})
	return v.(AdPod)
}

// Lookup returns a previously resolved pod for segment serving. Entries are
// served past their manifest expiry so players finishing a long break still
// find their segments.
func (c *BreakCache) Lookup(breakID string) (AdPod, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[breakID]
	if !ok {
		return AdPod{}, false
	}
	return e.pod, true
}

func (c *BreakCache) ttlFor(pod AdPod) time.Duration {
	if pod.Empty() {
		return negativeTTL
	}
	ttl := time.Duration(pod.DurationS * float64(time.Second))
	if ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	return ttl
}

func (c *BreakCache) getFresh(breakID string) (AdPod, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[breakID]
	if !ok || c.now().After(e.expiry) {
		return AdPod{}, false
	}
	return e.pod, true
}

func (c *BreakCache) put(breakID string, pod AdPod, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[breakID] = cacheEntry{pod: pod, expiry: c.now().Add(ttl)}
}

// Len returns the number of cached breaks.
func (c *BreakCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Purge drops entries whose lookup grace has passed.
func (c *BreakCache) Purge() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		if now.After(e.expiry.Add(lookupGrace)) {
			delete(c.entries, id)
		}
	}
}

// RunPurger purges expired entries on interval until ctx is done.
func (c *BreakCache) RunPurger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Purge()
		}
	}
}
