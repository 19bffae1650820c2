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

type ShareLinkStore struct {
	db   *bun.DB
	repo repository.Repository[*shareLinkRecord]
}

func NewShareLinkStore(db *bun.DB) (*ShareLinkStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*shareLinkRecord](db, shareLinkHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid share link repository wiring: %w", err)
		}
	}
	return &ShareLinkStore{db: db, repo: repo}, nil
}

func (s *ShareLinkStore) Create(ctx context.Context, in core.CreateShareLinkInput) (core.ShareLink, error) {
	if s == nil || s.repo == nil {
		return core.ShareLink{}, fmt.Errorf("sqlstore: share link store is not configured")
	}
	in.GalleryID = strings.TrimSpace(in.GalleryID)
	in.Token = strings.TrimSpace(in.Token)
	if in.GalleryID == "" {
		return core.ShareLink{}, fmt.Errorf("sqlstore: gallery id is required")
	}
	if in.Token == "" {
		return core.ShareLink{}, fmt.Errorf("sqlstore: share token is required")
	}

	record := &shareLinkRecord{
		ID:           uuid.NewString(),
		GalleryID:    in.GalleryID,
		Token:        in.Token,
		PasswordHash: in.PasswordHash,
		PasswordSalt: in.PasswordSalt,
		ExpiresAt:    cloneTime(in.ExpiresAt),
		CreatedAt:    time.Now().UTC(),
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.ShareLink{}, err
	}
	return created.toDomain(), nil
}

func (s *ShareLinkStore) GetByToken(ctx context.Context, token string) (core.ShareLink, error) {
	if s == nil || s.db == nil {
		return core.ShareLink{}, fmt.Errorf("sqlstore: share link store is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return core.ShareLink{}, fmt.Errorf("sqlstore: share token is required")
	}

	record := &shareLinkRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.token = ?", token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.ShareLink{}, core.NewNotFoundError("sqlstore: share link not found: " + token)
		}
		return core.ShareLink{}, err
	}
	return record.toDomain(), nil
}

func (s *ShareLinkStore) Revoke(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: share link store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: share link id is required")
	}
	if at.IsZero() {
		at = time.Now()
	}

	// Revocation is idempotent; revoked_at keeps the first revocation time.
	result, err := s.db.NewUpdate().
		Model((*shareLinkRecord)(nil)).
		Set("revoked_at = ?", at.UTC()).
		Where("id = ?", id).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	if _, err := result.RowsAffected(); err != nil {
		return err
	}
	return nil
}
