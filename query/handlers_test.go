package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/gallerio/go-storage/core"
)

type stubReadService struct {
	galleryPhotosFn      func(context.Context, string) ([]core.Photo, error)
	connectedProvidersFn func(context.Context, string) ([]core.ProviderInfo, error)
	connectionFn         func(context.Context, string, string) (core.Connection, error)
	rateUsageFn          func(context.Context, string) ([]core.RateUsage, error)
	photoURLFn           func(context.Context, string, string) (string, error)
	resolveShareFn       func(context.Context, string, string) (core.ShareLink, error)
}

func (s stubReadService) GetGalleryPhotos(ctx context.Context, galleryID string) ([]core.Photo, error) {
	if s.galleryPhotosFn == nil {
		return nil, fmt.Errorf("unexpected GetGalleryPhotos call")
	}
	return s.galleryPhotosFn(ctx, galleryID)
}

func (s stubReadService) GetConnectedProviders(ctx context.Context, userID string) ([]core.ProviderInfo, error) {
	if s.connectedProvidersFn == nil {
		return nil, fmt.Errorf("unexpected GetConnectedProviders call")
	}
	return s.connectedProvidersFn(ctx, userID)
}

func (s stubReadService) GetConnection(ctx context.Context, userID string, provider string) (core.Connection, error) {
	if s.connectionFn == nil {
		return core.Connection{}, fmt.Errorf("unexpected GetConnection call")
	}
	return s.connectionFn(ctx, userID, provider)
}

func (s stubReadService) GetRateUsage(ctx context.Context, provider string) ([]core.RateUsage, error) {
	if s.rateUsageFn == nil {
		return nil, fmt.Errorf("unexpected GetRateUsage call")
	}
	return s.rateUsageFn(ctx, provider)
}

func (s stubReadService) GetPhotoURL(ctx context.Context, userID string, photoID string) (string, error) {
	if s.photoURLFn == nil {
		return "", fmt.Errorf("unexpected GetPhotoURL call")
	}
	return s.photoURLFn(ctx, userID, photoID)
}

func (s stubReadService) ResolveShareLink(ctx context.Context, token string, password string) (core.ShareLink, error) {
	if s.resolveShareFn == nil {
		return core.ShareLink{}, fmt.Errorf("unexpected ResolveShareLink call")
	}
	return s.resolveShareFn(ctx, token, password)
}

func TestGetGalleryPhotosQuery_Delegates(t *testing.T) {
	svc := stubReadService{
		galleryPhotosFn: func(_ context.Context, galleryID string) ([]core.Photo, error) {
			if galleryID != "gal_1" {
				t.Fatalf("unexpected gallery id %q", galleryID)
			}
			return []core.Photo{{ID: "ph_1"}}, nil
		},
	}
	q := NewGetGalleryPhotosQuery(svc)
	photos, err := q.Query(context.Background(), GetGalleryPhotosMessage{GalleryID: "gal_1"})
	if err != nil {
		t.Fatalf("query gallery photos: %v", err)
	}
	if len(photos) != 1 || photos[0].ID != "ph_1" {
		t.Fatalf("unexpected photos: %#v", photos)
	}
}

func TestReadQueries_DelegateToService(t *testing.T) {
	t.Run("connected providers", func(t *testing.T) {
		svc := stubReadService{
			connectedProvidersFn: func(_ context.Context, userID string) ([]core.ProviderInfo, error) {
				if userID != "usr_1" {
					t.Fatalf("unexpected user id %q", userID)
				}
				return []core.ProviderInfo{{ID: "google_drive", Name: "Google Drive"}}, nil
			},
		}
		q := NewGetConnectedProvidersQuery(svc)
		providers, err := q.Query(context.Background(), GetConnectedProvidersMessage{UserID: "usr_1"})
		if err != nil {
			t.Fatalf("query providers: %v", err)
		}
		if len(providers) != 1 || providers[0].ID != "google_drive" {
			t.Fatalf("unexpected providers: %#v", providers)
		}
	})

	t.Run("rate usage", func(t *testing.T) {
		svc := stubReadService{
			rateUsageFn: func(_ context.Context, provider string) ([]core.RateUsage, error) {
				return []core.RateUsage{{Provider: provider, OperationClass: "upload", HourUsed: 3}}, nil
			},
		}
		q := NewGetRateUsageQuery(svc)
		usage, err := q.Query(context.Background(), GetRateUsageMessage{Provider: "dropbox"})
		if err != nil {
			t.Fatalf("query rate usage: %v", err)
		}
		if len(usage) != 1 || usage[0].HourUsed != 3 {
			t.Fatalf("unexpected usage: %#v", usage)
		}
	})

	t.Run("resolve share link passes password", func(t *testing.T) {
		svc := stubReadService{
			resolveShareFn: func(_ context.Context, token string, password string) (core.ShareLink, error) {
				if token != "tok_1" || password != "hunter2" {
					t.Fatalf("unexpected resolve payload: %q %q", token, password)
				}
				return core.ShareLink{ID: "shr_1"}, nil
			},
		}
		q := NewResolveShareLinkQuery(svc)
		link, err := q.Query(context.Background(), ResolveShareLinkMessage{Token: "tok_1", Password: "hunter2"})
		if err != nil {
			t.Fatalf("resolve share link: %v", err)
		}
		if link.ID != "shr_1" {
			t.Fatalf("unexpected link: %#v", link)
		}
	})

	t.Run("photo url", func(t *testing.T) {
		svc := stubReadService{
			photoURLFn: func(_ context.Context, _ string, photoID string) (string, error) {
				return "https://cdn.example.com/" + photoID, nil
			},
		}
		q := NewGetPhotoURLQuery(svc)
		url, err := q.Query(context.Background(), GetPhotoURLMessage{UserID: "usr_1", PhotoID: "ph_1"})
		if err != nil {
			t.Fatalf("query photo url: %v", err)
		}
		if url != "https://cdn.example.com/ph_1" {
			t.Fatalf("unexpected url %q", url)
		}
	})
}

func TestQueryMessages_Validate(t *testing.T) {
	cases := []struct {
		name    string
		message interface{ Validate() error }
		wantErr bool
	}{
		{"gallery photos missing id", GetGalleryPhotosMessage{}, true},
		{"gallery photos ok", GetGalleryPhotosMessage{GalleryID: "gal_1"}, false},
		{"connection missing provider", GetConnectionMessage{UserID: "u"}, true},
		{"share missing token", ResolveShareLinkMessage{}, true},
		{"share ok without password", ResolveShareLinkMessage{Token: "tok"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.message.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestQueries_MissingDependencyError(t *testing.T) {
	var q *GetRateUsageQuery
	if _, err := q.Query(context.Background(), GetRateUsageMessage{Provider: "dropbox"}); err == nil {
		t.Fatalf("expected dependency error from nil query")
	}
}
