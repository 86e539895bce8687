package identity

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"portal-gateway/internal/metadata"
)

var (
	profileCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_profile_cache_hits_total",
		Help: "Profile lookups served from the cache.",
	})
	profileCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_profile_cache_misses_total",
		Help: "Profile lookups that went to the identity authority.",
	})
)

// ProfileCache is an Authority that keeps fetched profiles for a short time,
// keyed by session token. A new token after a role switch is a new key, so a
// cached profile never outlives the session state it was fetched for.
type ProfileCache struct {
	Authority
	cache *expirable.LRU[string, *metadata.User]
}

// NewProfileCache wraps an authority with an LRU of maxSize entries living ttl.
func NewProfileCache(inner Authority, maxSize int, ttl time.Duration) *ProfileCache {
	return &ProfileCache{
		Authority: inner,
		cache:     expirable.NewLRU[string, *metadata.User](maxSize, nil, ttl),
	}
}

// Profile returns the cached profile or fetches and caches it.
func (pc *ProfileCache) Profile(ctx context.Context, token string) (*metadata.User, error) {
	if u, ok := pc.cache.Get(token); ok {
		profileCacheHitsTotal.Inc()
		return u, nil
	}
	profileCacheMissesTotal.Inc()

	u, err := pc.Authority.Profile(ctx, token)
	if err != nil {
		return nil, err
	}
	pc.cache.Add(token, u)
	return u, nil
}

// SelectRole switches the session and drops the profile cached for the old token.
func (pc *ProfileCache) SelectRole(ctx context.Context, token string, moduleID, roleID int) (string, error) {
	newToken, err := pc.Authority.SelectRole(ctx, token, moduleID, roleID)
	if err != nil {
		return "", err
	}
	pc.cache.Remove(token)
	return newToken, nil
}

// Invalidate drops the cached profile for a token.
func (pc *ProfileCache) Invalidate(token string) {
	pc.cache.Remove(token)
}

// Len returns the number of cached profiles.
func (pc *ProfileCache) Len() int {
	return pc.cache.Len()
}
