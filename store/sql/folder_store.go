package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gallerio/go-storage/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// FolderStore persists the local mirror of provider folder structure: one
// root folder per (user, provider) and one mapping per (gallery, provider).
type FolderStore struct {
	db *bun.DB
}

func NewFolderStore(db *bun.DB) (*FolderStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &FolderStore{db: db}, nil
}

func (s *FolderStore) GetRootFolder(ctx context.Context, userID string, provider string) (core.RootFolder, error) {
	if s == nil || s.db == nil {
		return core.RootFolder{}, fmt.Errorf("sqlstore: folder store is not configured")
	}
	userID = strings.TrimSpace(userID)
	provider = strings.TrimSpace(provider)
	if userID == "" || provider == "" {
		return core.RootFolder{}, fmt.Errorf("sqlstore: user id and provider are required")
	}

	record := &rootFolderRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.provider = ?", provider).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.RootFolder{}, core.NewNotFoundError("sqlstore: root folder not found: " + userID + "/" + provider)
		}
		return core.RootFolder{}, err
	}
	return record.toDomain(), nil
}

func (s *FolderStore) EnsureRootFolder(ctx context.Context, in core.EnsureRootFolderInput) (core.RootFolder, error) {
	if s == nil || s.db == nil {
		return core.RootFolder{}, fmt.Errorf("sqlstore: folder store is not configured")
	}
	in.UserID = strings.TrimSpace(in.UserID)
	in.Provider = strings.TrimSpace(in.Provider)
	in.ProviderFolderID = strings.TrimSpace(in.ProviderFolderID)
	if in.UserID == "" || in.Provider == "" || in.ProviderFolderID == "" {
		return core.RootFolder{}, fmt.Errorf("sqlstore: user id, provider, and provider folder id are required")
	}

	record := &rootFolderRecord{
		ID:               uuid.NewString(),
		UserID:           in.UserID,
		Provider:         in.Provider,
		ProviderFolderID: in.ProviderFolderID,
		CreatedAt:        time.Now().UTC(),
	}
	result, err := s.db.NewInsert().Model(record).Ignore().Exec(ctx)
	if err != nil {
		return core.RootFolder{}, err
	}
	if inserted(result) {
		return record.toDomain(), nil
	}
	// Lost the race or the row already existed; the first writer wins.
	return s.GetRootFolder(ctx, in.UserID, in.Provider)
}

func (s *FolderStore) GetMapping(ctx context.Context, galleryID string, provider string) (core.FolderMapping, error) {
	if s == nil || s.db == nil {
		return core.FolderMapping{}, fmt.Errorf("sqlstore: folder store is not configured")
	}
	galleryID = strings.TrimSpace(galleryID)
	provider = strings.TrimSpace(provider)
	if galleryID == "" || provider == "" {
		return core.FolderMapping{}, fmt.Errorf("sqlstore: gallery id and provider are required")
	}

	record := &folderMappingRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.gallery_id = ?", galleryID).
		Where("?TableAlias.provider = ?", provider).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.FolderMapping{}, core.NewNotFoundError("sqlstore: folder mapping not found: " + galleryID + "/" + provider)
		}
		return core.FolderMapping{}, err
	}
	return record.toDomain(), nil
}

func (s *FolderStore) GetMappingByProviderFolder(ctx context.Context, provider string, providerFolderID string) (core.FolderMapping, error) {
	if s == nil || s.db == nil {
		return core.FolderMapping{}, fmt.Errorf("sqlstore: folder store is not configured")
	}
	provider = strings.TrimSpace(provider)
	providerFolderID = strings.TrimSpace(providerFolderID)
	if provider == "" || providerFolderID == "" {
		return core.FolderMapping{}, fmt.Errorf("sqlstore: provider and provider folder id are required")
	}

	record := &folderMappingRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ?", provider).
		Where("?TableAlias.provider_folder_id = ?", providerFolderID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.FolderMapping{}, core.NewNotFoundError("sqlstore: folder mapping not found: " + provider + "/" + providerFolderID)
		}
		return core.FolderMapping{}, err
	}
	return record.toDomain(), nil
}

func (s *FolderStore) EnsureMapping(ctx context.Context, in core.EnsureFolderMappingInput) (core.FolderMapping, error) {
	if s == nil || s.db == nil {
		return core.FolderMapping{}, fmt.Errorf("sqlstore: folder store is not configured")
	}
	in.GalleryID = strings.TrimSpace(in.GalleryID)
	in.Provider = strings.TrimSpace(in.Provider)
	in.ProviderFolderID = strings.TrimSpace(in.ProviderFolderID)
	in.ParentFolderID = strings.TrimSpace(in.ParentFolderID)
	if in.GalleryID == "" || in.Provider == "" || in.ProviderFolderID == "" {
		return core.FolderMapping{}, fmt.Errorf("sqlstore: gallery id, provider, and provider folder id are required")
	}
	now := time.Now().UTC()

	record := &folderMappingRecord{
		ID:               uuid.NewString(),
		GalleryID:        in.GalleryID,
		Provider:         in.Provider,
		ProviderFolderID: in.ProviderFolderID,
		ParentFolderID:   in.ParentFolderID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	result, err := s.db.NewInsert().Model(record).Ignore().Exec(ctx)
	if err != nil {
		return core.FolderMapping{}, err
	}
	if inserted(result) {
		return record.toDomain(), nil
	}
	// Lost the race or the mapping already existed; the first writer wins.
	return s.GetMapping(ctx, in.GalleryID, in.Provider)
}

func (s *FolderStore) UpdateMappingParent(ctx context.Context, galleryID string, provider string, parentFolderID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: folder store is not configured")
	}
	galleryID = strings.TrimSpace(galleryID)
	provider = strings.TrimSpace(provider)
	if galleryID == "" || provider == "" {
		return fmt.Errorf("sqlstore: gallery id and provider are required")
	}

	result, err := s.db.NewUpdate().
		Model((*folderMappingRecord)(nil)).
		Set("parent_folder_id = ?", strings.TrimSpace(parentFolderID)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("gallery_id = ?", galleryID).
		Where("provider = ?", provider).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.NewNotFoundError("sqlstore: folder mapping not found: " + galleryID + "/" + provider)
	}
	return nil
}
