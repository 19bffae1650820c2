package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gallerio/go-storage/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

func newTestCache(t *testing.T) *GalleryCache {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	galleryCache, err := New(service)
	if err != nil {
		t.Fatalf("new gallery cache: %v", err)
	}
	return galleryCache
}

func TestGetGalleryPhotosCachesFetchResult(t *testing.T) {
	galleryCache := newTestCache(t)
	ctx := context.Background()

	fetchCalls := 0
	fetch := func(context.Context) ([]core.Photo, error) {
		fetchCalls++
		return []core.Photo{{ID: "photo-1", Name: "a.jpg"}}, nil
	}

	photos, err := galleryCache.GetGalleryPhotos(ctx, "gal_1", fetch)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	if len(photos) != 1 || photos[0].ID != "photo-1" {
		t.Fatalf("unexpected photos %+v", photos)
	}

	if _, err := galleryCache.GetGalleryPhotos(ctx, "gal_1", fetch); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if fetchCalls != 1 {
		t.Fatalf("expected one fetch, got %d", fetchCalls)
	}
}

func TestInvalidateGalleryPhotosForcesRefetch(t *testing.T) {
	galleryCache := newTestCache(t)
	ctx := context.Background()

	fetchCalls := 0
	fetch := func(context.Context) ([]core.Photo, error) {
		fetchCalls++
		return nil, nil
	}

	if _, err := galleryCache.GetGalleryPhotos(ctx, "gal_1", fetch); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if err := galleryCache.InvalidateGalleryPhotos(ctx, "gal_1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := galleryCache.GetGalleryPhotos(ctx, "gal_1", fetch); err != nil {
		t.Fatalf("read after invalidate: %v", err)
	}
	if fetchCalls != 2 {
		t.Fatalf("expected refetch after invalidation, got %d fetches", fetchCalls)
	}
}

func TestKeyFamiliesRouteToDedicatedServices(t *testing.T) {
	ctx := context.Background()
	newService := func(ttl time.Duration) repositorycache.CacheService {
		t.Helper()
		config := repositorycache.DefaultConfig()
		config.TTL = ttl
		service, err := repositorycache.NewCacheService(config)
		if err != nil {
			t.Fatalf("new cache service: %v", err)
		}
		return service
	}

	galleryCache, err := New(newService(time.Minute),
		WithFileURLService(newService(time.Second)),
		WithProviderService(newService(time.Hour)),
	)
	if err != nil {
		t.Fatalf("new gallery cache: %v", err)
	}

	urlFetches := 0
	if _, err := galleryCache.GetFileURL(ctx, "file-1", func(context.Context) (string, error) {
		urlFetches++
		return "https://example.test/file-1", nil
	}); err != nil {
		t.Fatalf("prime file url: %v", err)
	}
	providerFetches := 0
	if _, err := galleryCache.GetProviders(ctx, "usr_1", func(context.Context) ([]core.ProviderInfo, error) {
		providerFetches++
		return []core.ProviderInfo{{ID: "gdrive"}}, nil
	}); err != nil {
		t.Fatalf("prime providers: %v", err)
	}

	// Dropping one family's entries must not evict the others.
	if err := galleryCache.InvalidateFileURL(ctx, "file-1"); err != nil {
		t.Fatalf("invalidate file url: %v", err)
	}
	if _, err := galleryCache.GetFileURL(ctx, "file-1", func(context.Context) (string, error) {
		urlFetches++
		return "https://example.test/file-1", nil
	}); err != nil {
		t.Fatalf("reread file url: %v", err)
	}
	if _, err := galleryCache.GetProviders(ctx, "usr_1", func(context.Context) ([]core.ProviderInfo, error) {
		providerFetches++
		return nil, nil
	}); err != nil {
		t.Fatalf("reread providers: %v", err)
	}
	if urlFetches != 2 {
		t.Fatalf("expected refetch after file url invalidation, got %d", urlFetches)
	}
	if providerFetches != 1 {
		t.Fatalf("expected provider snapshot to stay cached, got %d fetches", providerFetches)
	}
}

func TestFetchErrorPropagates(t *testing.T) {
	galleryCache := newTestCache(t)

	wantErr := errors.New("store unavailable")
	_, err := galleryCache.GetFileURL(context.Background(), "file-1", func(context.Context) (string, error) {
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestProvidersKeysAreScopedPerUser(t *testing.T) {
	galleryCache := newTestCache(t)
	ctx := context.Background()

	first, err := galleryCache.GetProviders(ctx, "usr_1", func(context.Context) ([]core.ProviderInfo, error) {
		return []core.ProviderInfo{{ID: "gdrive", Name: "Google Drive"}}, nil
	})
	if err != nil {
		t.Fatalf("usr_1 read: %v", err)
	}
	second, err := galleryCache.GetProviders(ctx, "usr_2", func(context.Context) ([]core.ProviderInfo, error) {
		return []core.ProviderInfo{{ID: "dropbox", Name: "Dropbox"}}, nil
	})
	if err != nil {
		t.Fatalf("usr_2 read: %v", err)
	}
	if first[0].ID == second[0].ID {
		t.Fatalf("expected distinct cache entries per user")
	}
}
