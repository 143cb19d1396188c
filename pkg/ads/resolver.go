package ads

import "context"

// CachedResolver couples a provider with the break cache so that stitchers
// can ask for pods without caring about deduplication or failure handling.
type CachedResolver struct {
	Cache    *BreakCache
	Provider Provider
}

// Pod returns the pod for a break, resolving through the cache. A failed or
// empty resolution yields an empty pod.
func (r *CachedResolver) Pod(ctx context.Context, breakID string, durationS float64) AdPod {
	return r.Cache.Resolve(ctx, r.Provider, breakID, durationS)
}
