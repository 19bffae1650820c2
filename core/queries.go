package core

import (
	"context"
	"fmt"
	"strings"
)

// GetConnectedProviders lists the providers a user has an active connection
// to, served cache-first.
func (s *Service) GetConnectedProviders(ctx context.Context, userID string) ([]ProviderInfo, error) {
	if s == nil {
		return nil, fmt.Errorf("core: service is nil")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, s.mapError(NewValidationError("core: user id is required"))
	}

	fetch := func(ctx context.Context) ([]ProviderInfo, error) {
		connections, err := s.connectionStore.ListByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		infos := make([]ProviderInfo, 0, len(connections))
		for _, connection := range connections {
			if connection.Status != ConnectionStatusActive {
				continue
			}
			info := ProviderInfo{ID: connection.Provider, Name: connection.Provider}
			if adapter, resolveErr := s.resolveProvider(connection.Provider); resolveErr == nil {
				info.Name = adapter.Name()
			}
			infos = append(infos, info)
		}
		return infos, nil
	}

	if s.cache == nil {
		infos, err := fetch(ctx)
		if err != nil {
			return nil, s.mapError(err)
		}
		return infos, nil
	}
	infos, err := s.cache.GetProviders(ctx, userID, fetch)
	if err != nil {
		return nil, s.mapError(err)
	}
	return infos, nil
}

// GetGalleryPhotos returns the non-deleted photos of a gallery, cache-first.
func (s *Service) GetGalleryPhotos(ctx context.Context, galleryID string) ([]Photo, error) {
	if s == nil {
		return nil, fmt.Errorf("core: service is nil")
	}
	if s.photoStore == nil {
		return nil, fmt.Errorf("core: photo store is not configured")
	}
	galleryID = strings.TrimSpace(galleryID)
	if galleryID == "" {
		return nil, s.mapError(NewValidationError("core: gallery id is required"))
	}

	fetch := func(ctx context.Context) ([]Photo, error) {
		return s.photoStore.ListByGallery(ctx, galleryID)
	}

	if s.cache == nil {
		photos, err := fetch(ctx)
		if err != nil {
			return nil, s.mapError(err)
		}
		return photos, nil
	}
	photos, err := s.cache.GetGalleryPhotos(ctx, galleryID, fetch)
	if err != nil {
		return nil, s.mapError(err)
	}
	return photos, nil
}

// GetRateUsage reports per-class quota consumption for one provider.
func (s *Service) GetRateUsage(ctx context.Context, provider string) ([]RateUsage, error) {
	if s == nil {
		return nil, fmt.Errorf("core: service is nil")
	}
	if s.governor == nil {
		return nil, fmt.Errorf("core: rate governor is not configured")
	}
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return nil, s.mapError(NewValidationError("core: provider is required"))
	}
	usage, err := s.governor.Usage(ctx, provider)
	if err != nil {
		return nil, s.mapError(err)
	}
	return usage, nil
}

// GetConnection exposes the connection record without credential material.
func (s *Service) GetConnection(ctx context.Context, userID string, provider string) (Connection, error) {
	if s == nil {
		return Connection{}, fmt.Errorf("core: service is nil")
	}
	if err := validateUserProvider(userID, provider); err != nil {
		return Connection{}, s.mapError(NewValidationError(err.Error()))
	}
	connection, err := s.connectionStore.Get(ctx, strings.TrimSpace(userID), strings.TrimSpace(provider))
	if err != nil {
		return Connection{}, s.mapError(err)
	}
	return connection, nil
}
