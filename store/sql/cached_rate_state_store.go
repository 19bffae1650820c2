package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/gallerio/go-storage/ratelimit"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const rateStateCacheKeyPrefix = "go-storage::rate_state::v1"

// CachedRateStateStore keeps hot window reads out of the database. Writes
// go through to the base store and invalidate the cached entry; reads use
// get-or-fetch so a miss repopulates from the base store.
type CachedRateStateStore struct {
	base  ratelimit.StateStore
	cache repositorycache.CacheService
}

func NewCachedRateStateStore(
	base ratelimit.StateStore,
	cacheService repositorycache.CacheService,
) (*CachedRateStateStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base rate state store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: rate state cache service is required")
	}
	return &CachedRateStateStore{base: base, cache: cacheService}, nil
}

// RateWindowCacheKey returns the deterministic cache key for one window
// bucket: go-storage::rate_state::v1::window::<provider>::<class> with each
// segment URL-path escaped.
func RateWindowCacheKey(key ratelimit.Key) (string, error) {
	provider := strings.TrimSpace(key.Provider)
	class := strings.TrimSpace(string(key.Class))
	if provider == "" || class == "" {
		return "", fmt.Errorf("sqlstore: provider and operation class are required")
	}
	return joinCacheKey(rateStateCacheKeyPrefix, "window", provider, class), nil
}

// RateBackoffCacheKey returns the deterministic cache key for one provider
// backoff record.
func RateBackoffCacheKey(provider string) (string, error) {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return "", fmt.Errorf("sqlstore: provider is required")
	}
	return joinCacheKey(rateStateCacheKeyPrefix, "backoff", provider), nil
}

func (s *CachedRateStateStore) GetWindow(ctx context.Context, key ratelimit.Key) (ratelimit.WindowState, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return ratelimit.WindowState{}, fmt.Errorf("sqlstore: cached rate state store is not configured")
	}
	cacheKey, err := RateWindowCacheKey(key)
	if err != nil {
		return ratelimit.WindowState{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (ratelimit.WindowState, error) {
		return s.base.GetWindow(ctx, key)
	})
}

func (s *CachedRateStateStore) UpsertWindow(ctx context.Context, state ratelimit.WindowState) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached rate state store is not configured")
	}
	if err := s.base.UpsertWindow(ctx, state); err != nil {
		return err
	}
	cacheKey, err := RateWindowCacheKey(state.Key)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

// ListWindows always reads through; usage snapshots must reflect writes
// from other processes.
func (s *CachedRateStateStore) ListWindows(ctx context.Context, provider string) ([]ratelimit.WindowState, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached rate state store is not configured")
	}
	return s.base.ListWindows(ctx, provider)
}

func (s *CachedRateStateStore) GetBackoff(ctx context.Context, provider string) (ratelimit.BackoffState, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return ratelimit.BackoffState{}, fmt.Errorf("sqlstore: cached rate state store is not configured")
	}
	cacheKey, err := RateBackoffCacheKey(provider)
	if err != nil {
		return ratelimit.BackoffState{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (ratelimit.BackoffState, error) {
		return s.base.GetBackoff(ctx, provider)
	})
}

func (s *CachedRateStateStore) UpsertBackoff(ctx context.Context, state ratelimit.BackoffState) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached rate state store is not configured")
	}
	if err := s.base.UpsertBackoff(ctx, state); err != nil {
		return err
	}
	cacheKey, err := RateBackoffCacheKey(state.Provider)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func joinCacheKey(segments ...string) string {
	escaped := make([]string, 0, len(segments))
	for i, segment := range segments {
		if i == 0 {
			escaped = append(escaped, segment)
			continue
		}
		escaped = append(escaped, url.PathEscape(segment))
	}
	return strings.Join(escaped, "::")
}
