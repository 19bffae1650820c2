package core

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

type UploadPhotoInput struct {
	UserID      string
	GalleryID   string
	GalleryName string
	Provider    string
	Name        string
	MimeType    string
	// Size must be the exact byte length of Content; it selects the direct
	// or resumable path against the configured threshold.
	Size    int64
	Content io.Reader
}

func (in UploadPhotoInput) Validate() error {
	if err := validateUserProvider(in.UserID, in.Provider); err != nil {
		return err
	}
	if strings.TrimSpace(in.GalleryID) == "" {
		return fmt.Errorf("core: gallery id is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("core: file name is required")
	}
	if in.Size <= 0 {
		return fmt.Errorf("core: file size must be > 0")
	}
	if in.Content == nil {
		return fmt.Errorf("core: file content is required")
	}
	return nil
}

// UploadPhoto pushes one photo into the user's cloud account and records it
// locally. Payloads at or below the resumable threshold go up in a single
// request; larger ones stream through the provider's chunked session, which
// survives transient failures without re-sending acknowledged bytes.
func (s *Service) UploadPhoto(ctx context.Context, in UploadPhotoInput) (Photo, error) {
	if s == nil {
		return Photo{}, fmt.Errorf("core: service is nil")
	}
	if s.photoStore == nil {
		return Photo{}, fmt.Errorf("core: photo store is not configured")
	}
	if err := in.Validate(); err != nil {
		return Photo{}, s.mapError(NewValidationError(err.Error()))
	}
	userID := strings.TrimSpace(in.UserID)
	provider := strings.TrimSpace(in.Provider)

	adapter, err := s.resolveProvider(provider)
	if err != nil {
		return Photo{}, s.mapError(err)
	}
	mapping, err := s.EnsureGalleryFolder(ctx, userID, in.GalleryID, in.GalleryName, provider)
	if err != nil {
		return Photo{}, err
	}
	token, err := s.GetValidToken(ctx, userID, provider)
	if err != nil {
		return Photo{}, err
	}

	metadata, err := s.dispatchUpload(ctx, adapter, token.AccessToken, mapping.ProviderFolderID, in)
	if err != nil {
		s.auditRecorder().LogError(ctx, userID, "file.upload", err, map[string]any{
			"provider":   provider,
			"gallery_id": in.GalleryID,
			"name":       in.Name,
			"size":       in.Size,
		})
		return Photo{}, s.mapError(err)
	}

	photo, err := s.photoStore.Upsert(ctx, UpsertPhotoInput{
		GalleryID:      strings.TrimSpace(in.GalleryID),
		UserID:         userID,
		Provider:       provider,
		ProviderFileID: metadata.ID,
		Name:           metadata.Name,
		MimeType:       metadata.MimeType,
		FileSize:       metadata.Size,
		URL:            metadata.URL,
	})
	if err != nil {
		return Photo{}, s.mapError(err)
	}

	s.invalidateGalleryPhotos(ctx, photo.GalleryID)
	s.auditRecorder().LogFileOperation(ctx, userID, "file.upload", photo.ProviderFileID, "success", map[string]any{
		"provider":   provider,
		"gallery_id": photo.GalleryID,
		"size":       metadata.Size,
	})
	return photo, nil
}

// dispatchUpload picks the upload strategy. The direct path buffers the
// payload and retries whole; the resumable path never replays acknowledged
// chunks, so only the adapter retries inside its session.
func (s *Service) dispatchUpload(ctx context.Context, adapter StorageProvider, accessToken string, folderID string, in UploadPhotoInput) (FileMetadata, error) {
	threshold := s.config.Upload.ResumableThresholdBytes
	if threshold <= 0 {
		threshold = DefaultResumableThresholdBytes
	}

	if in.Size > threshold {
		var metadata FileMetadata
		err := s.governedCall(ctx, adapter.ID(), OperationClassUpload, func(ctx context.Context) error {
			result, uploadErr := adapter.UploadFileResumable(ctx, accessToken, ResumableUploadRequest{
				Stream:   in.Content,
				Name:     strings.TrimSpace(in.Name),
				MimeType: strings.TrimSpace(in.MimeType),
				Size:     in.Size,
				FolderID: folderID,
			})
			if uploadErr != nil {
				return uploadErr
			}
			metadata = result
			return nil
		})
		return metadata, err
	}

	payload, err := io.ReadAll(io.LimitReader(in.Content, in.Size+1))
	if err != nil {
		return FileMetadata{}, NewTransientError("core: reading upload payload failed", err)
	}
	if int64(len(payload)) != in.Size {
		return FileMetadata{}, NewValidationError(
			fmt.Sprintf("core: payload length %d does not match declared size %d", len(payload), in.Size),
		)
	}

	var metadata FileMetadata
	err = Retry(ctx, s.retryPolicy, func(ctx context.Context) error {
		return s.governedCall(ctx, adapter.ID(), OperationClassUpload, func(ctx context.Context) error {
			result, uploadErr := adapter.UploadFile(ctx, accessToken, UploadRequest{
				Bytes:    payload,
				Name:     strings.TrimSpace(in.Name),
				MimeType: strings.TrimSpace(in.MimeType),
				FolderID: folderID,
			})
			if uploadErr != nil {
				return uploadErr
			}
			metadata = result
			return nil
		})
	})
	return metadata, err
}

// DeletePhoto removes the remote file and tombstones the local row. A file
// already gone remotely still tombstones locally.
func (s *Service) DeletePhoto(ctx context.Context, userID string, photoID string) error {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	if s.photoStore == nil {
		return fmt.Errorf("core: photo store is not configured")
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(photoID) == "" {
		return s.mapError(NewValidationError("core: user id and photo id are required"))
	}
	userID = strings.TrimSpace(userID)

	photo, err := s.photoStore.Get(ctx, strings.TrimSpace(photoID))
	if err != nil {
		return s.mapError(err)
	}

	adapter, err := s.resolveProvider(photo.Provider)
	if err != nil {
		return s.mapError(err)
	}
	token, err := s.GetValidToken(ctx, userID, photo.Provider)
	if err != nil {
		return err
	}

	err = Retry(ctx, s.retryPolicy, func(ctx context.Context) error {
		return s.governedCall(ctx, photo.Provider, OperationClassAPI, func(ctx context.Context) error {
			return adapter.DeleteFile(ctx, token.AccessToken, photo.ProviderFileID)
		})
	})
	if err != nil && !IsNotFound(err) {
		s.auditRecorder().LogError(ctx, userID, "file.delete", err, map[string]any{
			"provider": photo.Provider,
			"file_id":  photo.ProviderFileID,
		})
		return s.mapError(err)
	}

	changed, err := s.photoStore.MarkDeleted(ctx, photo.Provider, photo.ProviderFileID, time.Now().UTC())
	if err != nil {
		return s.mapError(err)
	}

	s.invalidateGalleryPhotos(ctx, photo.GalleryID)
	s.invalidateFileURL(ctx, photo.ProviderFileID)
	if changed {
		s.auditRecorder().LogFileOperation(ctx, userID, "file.delete", photo.ProviderFileID, "success", map[string]any{
			"provider":   photo.Provider,
			"gallery_id": photo.GalleryID,
		})
	}
	return nil
}

// UpdatePhotoName edits local metadata only; the remote file keeps its name.
// The edit timestamp feeds sync conflict detection.
func (s *Service) UpdatePhotoName(ctx context.Context, userID string, photoID string, name string) (Photo, error) {
	if s == nil {
		return Photo{}, fmt.Errorf("core: service is nil")
	}
	if s.photoStore == nil {
		return Photo{}, fmt.Errorf("core: photo store is not configured")
	}
	name = strings.TrimSpace(name)
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(photoID) == "" || name == "" {
		return Photo{}, s.mapError(NewValidationError("core: user id, photo id, and name are required"))
	}

	photo, err := s.photoStore.Get(ctx, strings.TrimSpace(photoID))
	if err != nil {
		return Photo{}, s.mapError(err)
	}
	if err := s.photoStore.Rename(ctx, photo.Provider, photo.ProviderFileID, name); err != nil {
		return Photo{}, s.mapError(err)
	}
	now := time.Now().UTC()
	if err := s.photoStore.TouchEdited(ctx, photo.ID, now); err != nil {
		return Photo{}, s.mapError(err)
	}

	photo.Name = name
	photo.EditedAt = &now
	s.invalidateGalleryPhotos(ctx, photo.GalleryID)
	s.auditRecorder().LogFileOperation(ctx, strings.TrimSpace(userID), "file.rename", photo.ProviderFileID, "success", map[string]any{
		"provider":   photo.Provider,
		"gallery_id": photo.GalleryID,
		"name":       name,
	})
	return photo, nil
}

// GetPhotoURL resolves a display URL through the cache, falling back to a
// provider lookup on miss or expiry.
func (s *Service) GetPhotoURL(ctx context.Context, userID string, photoID string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("core: service is nil")
	}
	if s.photoStore == nil {
		return "", fmt.Errorf("core: photo store is not configured")
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(photoID) == "" {
		return "", s.mapError(NewValidationError("core: user id and photo id are required"))
	}
	userID = strings.TrimSpace(userID)

	photo, err := s.photoStore.Get(ctx, strings.TrimSpace(photoID))
	if err != nil {
		return "", s.mapError(err)
	}

	fetch := func(ctx context.Context) (string, error) {
		adapter, resolveErr := s.resolveProvider(photo.Provider)
		if resolveErr != nil {
			return "", resolveErr
		}
		token, tokenErr := s.GetValidToken(ctx, userID, photo.Provider)
		if tokenErr != nil {
			return "", tokenErr
		}
		var url string
		callErr := Retry(ctx, s.retryPolicy, func(ctx context.Context) error {
			return s.governedCall(ctx, photo.Provider, OperationClassAPI, func(ctx context.Context) error {
				resolved, urlErr := adapter.GetFileURL(ctx, token.AccessToken, photo.ProviderFileID)
				if urlErr != nil {
					return urlErr
				}
				url = resolved
				return nil
			})
		})
		if callErr != nil {
			return "", callErr
		}
		return url, nil
	}

	if s.cache == nil {
		url, err := fetch(ctx)
		if err != nil {
			return "", s.mapError(err)
		}
		return url, nil
	}
	url, err := s.cache.GetFileURL(ctx, photo.ProviderFileID, fetch)
	if err != nil {
		return "", s.mapError(err)
	}
	return url, nil
}

func (s *Service) invalidateGalleryPhotos(ctx context.Context, galleryID string) {
	if s == nil || s.cache == nil {
		return
	}
	if err := s.cache.InvalidateGalleryPhotos(ctx, galleryID); err != nil {
		s.logWarn("gallery photo cache invalidation failed", "gallery_id", galleryID, "error", err)
	}
}

func (s *Service) invalidateFileURL(ctx context.Context, fileID string) {
	if s == nil || s.cache == nil {
		return
	}
	if err := s.cache.InvalidateFileURL(ctx, fileID); err != nil {
		s.logWarn("file url cache invalidation failed", "file_id", fileID, "error", err)
	}
}
