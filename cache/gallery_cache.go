package cache

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/gallerio/go-storage/core"
	glog "github.com/goliatone/go-logger/glog"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const galleryCacheKeyPrefix = "go-storage::gallery::v1"

// GalleryCache is the cache-aside layer over the relational stores. A
// failing cache never fails a read: lookups degrade to the fetch function
// and log the cache error. Each key family can run on its own cache
// service so photo listings, file URLs, and provider snapshots expire on
// independent TTLs.
type GalleryCache struct {
	photos    repositorycache.CacheService
	fileURLs  repositorycache.CacheService
	providers repositorycache.CacheService
	logger    glog.Logger
}

type Option func(*GalleryCache)

func WithLogger(logger glog.Logger) Option {
	return func(c *GalleryCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithFileURLService routes file URL entries to a dedicated cache service.
func WithFileURLService(service repositorycache.CacheService) Option {
	return func(c *GalleryCache) {
		if service != nil {
			c.fileURLs = service
		}
	}
}

// WithProviderService routes provider snapshots to a dedicated cache service.
func WithProviderService(service repositorycache.CacheService) Option {
	return func(c *GalleryCache) {
		if service != nil {
			c.providers = service
		}
	}
}

func New(cacheService repositorycache.CacheService, opts ...Option) (*GalleryCache, error) {
	if cacheService == nil {
		return nil, fmt.Errorf("cache: cache service is required")
	}
	c := &GalleryCache{photos: cacheService}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.fileURLs == nil {
		c.fileURLs = c.photos
	}
	if c.providers == nil {
		c.providers = c.photos
	}
	c.logger = glog.Ensure(c.logger)
	return c, nil
}

// GalleryPhotosCacheKey returns the deterministic key for one gallery's
// photo listing: go-storage::gallery::v1::photos::<gallery_id>.
func GalleryPhotosCacheKey(galleryID string) string {
	return joinKey("photos", galleryID)
}

func FileURLCacheKey(fileID string) string {
	return joinKey("file_url", fileID)
}

func ProvidersCacheKey(userID string) string {
	return joinKey("providers", userID)
}

func (c *GalleryCache) GetGalleryPhotos(ctx context.Context, galleryID string, fetch func(context.Context) ([]core.Photo, error)) ([]core.Photo, error) {
	return getOrDegrade(ctx, c, c.service(c.photos), GalleryPhotosCacheKey(galleryID), fetch)
}

func (c *GalleryCache) InvalidateGalleryPhotos(ctx context.Context, galleryID string) error {
	return c.invalidate(ctx, c.service(c.photos), GalleryPhotosCacheKey(galleryID))
}

func (c *GalleryCache) GetFileURL(ctx context.Context, fileID string, fetch func(context.Context) (string, error)) (string, error) {
	return getOrDegrade(ctx, c, c.service(c.fileURLs), FileURLCacheKey(fileID), fetch)
}

func (c *GalleryCache) InvalidateFileURL(ctx context.Context, fileID string) error {
	return c.invalidate(ctx, c.service(c.fileURLs), FileURLCacheKey(fileID))
}

func (c *GalleryCache) GetProviders(ctx context.Context, userID string, fetch func(context.Context) ([]core.ProviderInfo, error)) ([]core.ProviderInfo, error) {
	return getOrDegrade(ctx, c, c.service(c.providers), ProvidersCacheKey(userID), fetch)
}

func (c *GalleryCache) InvalidateProviders(ctx context.Context, userID string) error {
	return c.invalidate(ctx, c.service(c.providers), ProvidersCacheKey(userID))
}

func (c *GalleryCache) service(preferred repositorycache.CacheService) repositorycache.CacheService {
	if c == nil {
		return nil
	}
	if preferred != nil {
		return preferred
	}
	return c.photos
}

func (c *GalleryCache) invalidate(ctx context.Context, service repositorycache.CacheService, key string) error {
	if c == nil || service == nil {
		return fmt.Errorf("cache: gallery cache is not configured")
	}
	return service.Delete(ctx, key)
}

// getOrDegrade reads through the cache. When the cache itself fails, the
// fetch result is returned directly so the store stays the source of truth;
// fetch errors propagate unchanged.
func getOrDegrade[T any](ctx context.Context, c *GalleryCache, service repositorycache.CacheService, key string, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	if c == nil || service == nil {
		return zero, fmt.Errorf("cache: gallery cache is not configured")
	}
	if fetch == nil {
		return zero, fmt.Errorf("cache: fetch function is required")
	}

	var fetchErr error
	value, err := repositorycache.GetOrFetch(ctx, service, key, func(ctx context.Context) (T, error) {
		fetched, err := fetch(ctx)
		fetchErr = err
		return fetched, err
	})
	if err == nil {
		return value, nil
	}
	if fetchErr != nil {
		return zero, fetchErr
	}

	c.logger.Warn("cache read failed; serving from store", "key", key, "error", err)
	return fetch(ctx)
}

func joinKey(segments ...string) string {
	escaped := make([]string, 0, len(segments)+1)
	escaped = append(escaped, galleryCacheKeyPrefix)
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(strings.TrimSpace(segment)))
	}
	return strings.Join(escaped, "::")
}

var _ core.GalleryCache = (*GalleryCache)(nil)
