package core

import (
	"context"
	"fmt"
	"strings"
)

// DefaultRootFolderName is the top-level application folder created in each
// connected account. Every gallery folder nests under it.
const DefaultRootFolderName = "Photo Gallery"

// InitializeRootFolder guarantees the provider-side application folder and
// its local record exist. Safe to call repeatedly and from concurrent
// requests; the store resolves races through its unique constraint.
func (s *Service) InitializeRootFolder(ctx context.Context, userID string, provider string) (RootFolder, error) {
	if s == nil {
		return RootFolder{}, fmt.Errorf("core: service is nil")
	}
	if s.folderStore == nil {
		return RootFolder{}, fmt.Errorf("core: folder store is not configured")
	}
	if err := validateUserProvider(userID, provider); err != nil {
		return RootFolder{}, s.mapError(NewValidationError(err.Error()))
	}
	userID = strings.TrimSpace(userID)
	provider = strings.TrimSpace(provider)

	existing, err := s.folderStore.GetRootFolder(ctx, userID, provider)
	if err == nil {
		return existing, nil
	}
	if !IsNotFound(s.mapError(err)) {
		return RootFolder{}, s.mapError(err)
	}

	adapter, err := s.resolveProvider(provider)
	if err != nil {
		return RootFolder{}, s.mapError(err)
	}
	token, err := s.GetValidToken(ctx, userID, provider)
	if err != nil {
		return RootFolder{}, err
	}

	var created Folder
	err = Retry(ctx, s.retryPolicy, func(ctx context.Context) error {
		return s.governedCall(ctx, provider, OperationClassAPI, func(ctx context.Context) error {
			folder, createErr := adapter.CreateFolder(ctx, token.AccessToken, DefaultRootFolderName, "")
			if createErr != nil {
				return createErr
			}
			created = folder
			return nil
		})
	})
	if err != nil {
		s.auditRecorder().LogError(ctx, userID, "folder.root.create", err, map[string]any{
			"provider": provider,
		})
		return RootFolder{}, s.mapError(err)
	}

	root, err := s.folderStore.EnsureRootFolder(ctx, EnsureRootFolderInput{
		UserID:           userID,
		Provider:         provider,
		ProviderFolderID: created.ID,
	})
	if err != nil {
		return RootFolder{}, s.mapError(err)
	}
	s.auditRecorder().LogFileOperation(ctx, userID, "folder.root.create", root.ProviderFolderID, "success", map[string]any{
		"provider": provider,
	})
	return root, nil
}

// EnsureGalleryFolder returns the provider folder backing a gallery, creating
// it under the application root on first use.
func (s *Service) EnsureGalleryFolder(ctx context.Context, userID string, galleryID string, galleryName string, provider string) (FolderMapping, error) {
	if s == nil {
		return FolderMapping{}, fmt.Errorf("core: service is nil")
	}
	if s.folderStore == nil {
		return FolderMapping{}, fmt.Errorf("core: folder store is not configured")
	}
	if err := validateUserProvider(userID, provider); err != nil {
		return FolderMapping{}, s.mapError(NewValidationError(err.Error()))
	}
	galleryID = strings.TrimSpace(galleryID)
	if galleryID == "" {
		return FolderMapping{}, s.mapError(NewValidationError("core: gallery id is required"))
	}
	galleryName = strings.TrimSpace(galleryName)
	if galleryName == "" {
		galleryName = galleryID
	}
	userID = strings.TrimSpace(userID)
	provider = strings.TrimSpace(provider)

	existing, err := s.folderStore.GetMapping(ctx, galleryID, provider)
	if err == nil {
		return existing, nil
	}
	if !IsNotFound(s.mapError(err)) {
		return FolderMapping{}, s.mapError(err)
	}

	root, err := s.InitializeRootFolder(ctx, userID, provider)
	if err != nil {
		return FolderMapping{}, err
	}

	adapter, err := s.resolveProvider(provider)
	if err != nil {
		return FolderMapping{}, s.mapError(err)
	}
	token, err := s.GetValidToken(ctx, userID, provider)
	if err != nil {
		return FolderMapping{}, err
	}

	var created Folder
	err = Retry(ctx, s.retryPolicy, func(ctx context.Context) error {
		return s.governedCall(ctx, provider, OperationClassAPI, func(ctx context.Context) error {
			folder, createErr := adapter.CreateFolder(ctx, token.AccessToken, galleryName, root.ProviderFolderID)
			if createErr != nil {
				return createErr
			}
			created = folder
			return nil
		})
	})
	if err != nil {
		s.auditRecorder().LogError(ctx, userID, "folder.gallery.create", err, map[string]any{
			"provider":   provider,
			"gallery_id": galleryID,
		})
		return FolderMapping{}, s.mapError(err)
	}

	mapping, err := s.folderStore.EnsureMapping(ctx, EnsureFolderMappingInput{
		GalleryID:        galleryID,
		Provider:         provider,
		ProviderFolderID: created.ID,
		ParentFolderID:   root.ProviderFolderID,
	})
	if err != nil {
		return FolderMapping{}, s.mapError(err)
	}
	s.auditRecorder().LogFileOperation(ctx, userID, "folder.gallery.create", mapping.ProviderFolderID, "success", map[string]any{
		"provider":   provider,
		"gallery_id": galleryID,
	})
	return mapping, nil
}
