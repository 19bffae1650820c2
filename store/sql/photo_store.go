package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gallerio/go-storage/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type PhotoStore struct {
	db   *bun.DB
	repo repository.Repository[*photoRecord]
}

func NewPhotoStore(db *bun.DB) (*PhotoStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*photoRecord](db, photoHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid photo repository wiring: %w", err)
		}
	}
	return &PhotoStore{db: db, repo: repo}, nil
}

func (s *PhotoStore) Upsert(ctx context.Context, in core.UpsertPhotoInput) (core.Photo, error) {
	if s == nil || s.db == nil {
		return core.Photo{}, fmt.Errorf("sqlstore: photo store is not configured")
	}
	in.GalleryID = strings.TrimSpace(in.GalleryID)
	in.UserID = strings.TrimSpace(in.UserID)
	in.Provider = strings.TrimSpace(in.Provider)
	in.ProviderFileID = strings.TrimSpace(in.ProviderFileID)
	in.Name = strings.TrimSpace(in.Name)
	if in.Provider == "" || in.ProviderFileID == "" {
		return core.Photo{}, fmt.Errorf("sqlstore: provider and provider file id are required")
	}
	if in.Name == "" {
		return core.Photo{}, fmt.Errorf("sqlstore: photo name is required")
	}
	now := time.Now().UTC()

	var out core.Photo
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findPhotoTx(ctx, tx, in.Provider, in.ProviderFileID)
		if err != nil {
			return err
		}
		if record == nil {
			record = &photoRecord{
				ID:             uuid.NewString(),
				GalleryID:      in.GalleryID,
				UserID:         in.UserID,
				Provider:       in.Provider,
				ProviderFileID: in.ProviderFileID,
				Name:           in.Name,
				MimeType:       strings.TrimSpace(in.MimeType),
				FileSize:       in.FileSize,
				URL:            strings.TrimSpace(in.URL),
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			result, insertErr := tx.NewInsert().Model(record).Ignore().Exec(ctx)
			if insertErr != nil {
				return insertErr
			}
			if inserted(result) {
				out = record.toDomain()
				return nil
			}
			// Lost the insert race; adopt the winner's row and update it.
			record, err = findPhotoTx(ctx, tx, in.Provider, in.ProviderFileID)
			if err != nil {
				return err
			}
			if record == nil {
				return fmt.Errorf("sqlstore: photo vanished during upsert: %s/%s", in.Provider, in.ProviderFileID)
			}
		}

		if in.GalleryID != "" {
			record.GalleryID = in.GalleryID
		}
		if in.UserID != "" {
			record.UserID = in.UserID
		}
		record.Name = in.Name
		if trimmed := strings.TrimSpace(in.MimeType); trimmed != "" {
			record.MimeType = trimmed
		}
		if in.FileSize > 0 {
			record.FileSize = in.FileSize
		}
		if trimmed := strings.TrimSpace(in.URL); trimmed != "" {
			record.URL = trimmed
		}
		// A resurfaced provider file clears a prior soft delete.
		record.DeletedAt = nil
		record.UpdatedAt = now
		if _, updateErr := tx.NewUpdate().Model(record).Where("id = ?", record.ID).Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = record.toDomain()
		return nil
	})
	if err != nil {
		return core.Photo{}, err
	}
	return out, nil
}

func (s *PhotoStore) Get(ctx context.Context, id string) (core.Photo, error) {
	if s == nil || s.db == nil {
		return core.Photo{}, fmt.Errorf("sqlstore: photo store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.Photo{}, fmt.Errorf("sqlstore: photo id is required")
	}
	record := &photoRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Photo{}, core.NewNotFoundError("sqlstore: photo not found: " + id)
		}
		return core.Photo{}, err
	}
	return record.toDomain(), nil
}

func (s *PhotoStore) GetByProviderFile(ctx context.Context, provider string, providerFileID string) (core.Photo, error) {
	if s == nil || s.db == nil {
		return core.Photo{}, fmt.Errorf("sqlstore: photo store is not configured")
	}
	provider = strings.TrimSpace(provider)
	providerFileID = strings.TrimSpace(providerFileID)
	if provider == "" || providerFileID == "" {
		return core.Photo{}, fmt.Errorf("sqlstore: provider and provider file id are required")
	}
	record := &photoRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ?", provider).
		Where("?TableAlias.provider_file_id = ?", providerFileID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Photo{}, core.NewNotFoundError("sqlstore: photo not found: " + provider + "/" + providerFileID)
		}
		return core.Photo{}, err
	}
	return record.toDomain(), nil
}

func (s *PhotoStore) ListByGallery(ctx context.Context, galleryID string) ([]core.Photo, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: photo store is not configured")
	}
	galleryID = strings.TrimSpace(galleryID)
	if galleryID == "" {
		return nil, fmt.Errorf("sqlstore: gallery id is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("gallery_id", "=", galleryID),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL")
		}),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Photo, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *PhotoStore) Rename(ctx context.Context, provider string, providerFileID string, name string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: photo store is not configured")
	}
	provider = strings.TrimSpace(provider)
	providerFileID = strings.TrimSpace(providerFileID)
	name = strings.TrimSpace(name)
	if provider == "" || providerFileID == "" {
		return fmt.Errorf("sqlstore: provider and provider file id are required")
	}
	if name == "" {
		return fmt.Errorf("sqlstore: photo name is required")
	}

	result, err := s.db.NewUpdate().
		Model((*photoRecord)(nil)).
		Set("name = ?", name).
		Set("updated_at = ?", time.Now().UTC()).
		Where("provider = ?", provider).
		Where("provider_file_id = ?", providerFileID).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.NewNotFoundError("sqlstore: photo not found: " + provider + "/" + providerFileID)
	}
	return nil
}

func (s *PhotoStore) MarkDeleted(ctx context.Context, provider string, providerFileID string, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: photo store is not configured")
	}
	provider = strings.TrimSpace(provider)
	providerFileID = strings.TrimSpace(providerFileID)
	if provider == "" || providerFileID == "" {
		return false, fmt.Errorf("sqlstore: provider and provider file id are required")
	}
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	result, err := s.db.NewUpdate().
		Model((*photoRecord)(nil)).
		Set("deleted_at = ?", at).
		Set("updated_at = ?", at).
		Where("provider = ?", provider).
		Where("provider_file_id = ?", providerFileID).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *PhotoStore) TouchEdited(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: photo store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: photo id is required")
	}
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	result, err := s.db.NewUpdate().
		Model((*photoRecord)(nil)).
		Set("edited_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.NewNotFoundError("sqlstore: photo not found: " + id)
	}
	return nil
}

func findPhotoTx(ctx context.Context, tx bun.Tx, provider string, providerFileID string) (*photoRecord, error) {
	record := &photoRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ?", provider).
		Where("?TableAlias.provider_file_id = ?", providerFileID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}
