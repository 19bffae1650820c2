package query

import (
	"context"

	"github.com/gallerio/go-storage/core"
)

// ReadService is the read surface of the storage service. *core.Service
// satisfies it.
type ReadService interface {
	GetGalleryPhotos(ctx context.Context, galleryID string) ([]core.Photo, error)
	GetConnectedProviders(ctx context.Context, userID string) ([]core.ProviderInfo, error)
	GetConnection(ctx context.Context, userID string, provider string) (core.Connection, error)
	GetRateUsage(ctx context.Context, provider string) ([]core.RateUsage, error)
	GetPhotoURL(ctx context.Context, userID string, photoID string) (string, error)
	ResolveShareLink(ctx context.Context, token string, password string) (core.ShareLink, error)
}

type GetGalleryPhotosQuery struct {
	service ReadService
}

func NewGetGalleryPhotosQuery(service ReadService) *GetGalleryPhotosQuery {
	return &GetGalleryPhotosQuery{service: service}
}

func (q *GetGalleryPhotosQuery) Query(ctx context.Context, msg GetGalleryPhotosMessage) ([]core.Photo, error) {
	if q == nil || q.service == nil {
		return nil, queryDependencyError("query: gallery photos service is required")
	}
	return q.service.GetGalleryPhotos(ctx, msg.GalleryID)
}

type GetConnectedProvidersQuery struct {
	service ReadService
}

func NewGetConnectedProvidersQuery(service ReadService) *GetConnectedProvidersQuery {
	return &GetConnectedProvidersQuery{service: service}
}

func (q *GetConnectedProvidersQuery) Query(
	ctx context.Context,
	msg GetConnectedProvidersMessage,
) ([]core.ProviderInfo, error) {
	if q == nil || q.service == nil {
		return nil, queryDependencyError("query: provider service is required")
	}
	return q.service.GetConnectedProviders(ctx, msg.UserID)
}

type GetConnectionQuery struct {
	service ReadService
}

func NewGetConnectionQuery(service ReadService) *GetConnectionQuery {
	return &GetConnectionQuery{service: service}
}

func (q *GetConnectionQuery) Query(ctx context.Context, msg GetConnectionMessage) (core.Connection, error) {
	if q == nil || q.service == nil {
		return core.Connection{}, queryDependencyError("query: connection service is required")
	}
	return q.service.GetConnection(ctx, msg.UserID, msg.Provider)
}

type GetRateUsageQuery struct {
	service ReadService
}

func NewGetRateUsageQuery(service ReadService) *GetRateUsageQuery {
	return &GetRateUsageQuery{service: service}
}

func (q *GetRateUsageQuery) Query(ctx context.Context, msg GetRateUsageMessage) ([]core.RateUsage, error) {
	if q == nil || q.service == nil {
		return nil, queryDependencyError("query: rate usage service is required")
	}
	return q.service.GetRateUsage(ctx, msg.Provider)
}

type GetPhotoURLQuery struct {
	service ReadService
}

func NewGetPhotoURLQuery(service ReadService) *GetPhotoURLQuery {
	return &GetPhotoURLQuery{service: service}
}

func (q *GetPhotoURLQuery) Query(ctx context.Context, msg GetPhotoURLMessage) (string, error) {
	if q == nil || q.service == nil {
		return "", queryDependencyError("query: photo url service is required")
	}
	return q.service.GetPhotoURL(ctx, msg.UserID, msg.PhotoID)
}

type ResolveShareLinkQuery struct {
	service ReadService
}

func NewResolveShareLinkQuery(service ReadService) *ResolveShareLinkQuery {
	return &ResolveShareLinkQuery{service: service}
}

func (q *ResolveShareLinkQuery) Query(ctx context.Context, msg ResolveShareLinkMessage) (core.ShareLink, error) {
	if q == nil || q.service == nil {
		return core.ShareLink{}, queryDependencyError("query: share link service is required")
	}
	return q.service.ResolveShareLink(ctx, msg.Token, msg.Password)
}
