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

type ConnectionStore struct {
	db   *bun.DB
	repo repository.Repository[*connectionRecord]
}

func NewConnectionStore(db *bun.DB) (*ConnectionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*connectionRecord](db, connectionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid connection repository wiring: %w", err)
		}
	}
	return &ConnectionStore{db: db, repo: repo}, nil
}

func (s *ConnectionStore) Upsert(ctx context.Context, in core.UpsertConnectionInput) (core.Connection, error) {
	if s == nil || s.db == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	in.UserID = strings.TrimSpace(in.UserID)
	in.Provider = strings.TrimSpace(in.Provider)
	if in.UserID == "" || in.Provider == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: user id and provider are required")
	}
	if len(in.Credential.AccessCiphertext) == 0 {
		return core.Connection{}, fmt.Errorf("sqlstore: access token ciphertext is required")
	}
	status := in.Status
	if strings.TrimSpace(string(status)) == "" {
		status = core.ConnectionStatusActive
	}
	if !status.Valid() {
		return core.Connection{}, fmt.Errorf("sqlstore: invalid connection status %q", status)
	}
	now := time.Now().UTC()

	var out core.Connection
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findConnectionTx(ctx, tx, in.UserID, in.Provider)
		if err != nil {
			return err
		}
		if record == nil {
			record = &connectionRecord{
				ID:        uuid.NewString(),
				UserID:    in.UserID,
				Provider:  in.Provider,
				Status:    string(status),
				CreatedAt: now,
				UpdatedAt: now,
			}
			record.applyCredential(in.Credential)
			result, insertErr := tx.NewInsert().Model(record).Ignore().Exec(ctx)
			if insertErr != nil {
				return insertErr
			}
			if inserted(result) {
				out = record.toDomain()
				return nil
			}
			// Lost the insert race; adopt the winner's row and update it.
			record, err = findConnectionTx(ctx, tx, in.UserID, in.Provider)
			if err != nil {
				return err
			}
			if record == nil {
				return fmt.Errorf("sqlstore: connection vanished during upsert: %s/%s", in.UserID, in.Provider)
			}
		}

		record.applyCredential(in.Credential)
		record.Status = string(status)
		record.LastError = ""
		record.LastErrorAt = nil
		record.UpdatedAt = now
		if _, updateErr := tx.NewUpdate().Model(record).Where("id = ?", record.ID).Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = record.toDomain()
		return nil
	})
	if err != nil {
		return core.Connection{}, err
	}
	return out, nil
}

func (s *ConnectionStore) Get(ctx context.Context, userID string, provider string) (core.Connection, error) {
	record, err := s.getRecord(ctx, userID, provider)
	if err != nil {
		return core.Connection{}, err
	}
	return record.toDomain(), nil
}

func (s *ConnectionStore) GetCredential(ctx context.Context, connectionID string) (core.EncryptedCredential, error) {
	record, err := s.getRecordByID(ctx, connectionID)
	if err != nil {
		return core.EncryptedCredential{}, err
	}
	return record.toCredential(), nil
}

func (s *ConnectionStore) SaveCredential(ctx context.Context, connectionID string, credential core.EncryptedCredential) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	if len(credential.AccessCiphertext) == 0 {
		return fmt.Errorf("sqlstore: access token ciphertext is required")
	}

	result, err := s.db.NewUpdate().
		Model((*connectionRecord)(nil)).
		Set("access_token_ciphertext = ?", credential.AccessCiphertext).
		Set("refresh_token_ciphertext = ?", credential.RefreshCiphertext).
		Set("token_expires_at = ?", cloneTime(credential.ExpiresAt)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", connectionID).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.NewNotFoundError("sqlstore: connection not found: " + connectionID)
	}
	return nil
}

func (s *ConnectionStore) UpdateStatus(ctx context.Context, connectionID string, status core.ConnectionStatus, reason string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	if !status.Valid() {
		return fmt.Errorf("sqlstore: invalid connection status %q", status)
	}
	record, err := s.getRecordByID(ctx, connectionID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	record.Status = string(status)
	record.LastError = strings.TrimSpace(reason)
	if record.LastError == "" {
		record.LastErrorAt = nil
	} else {
		record.LastErrorAt = &now
	}
	record.UpdatedAt = now

	_, err = s.repo.Update(ctx, record, repository.UpdateByID(connectionID))
	return err
}

func (s *ConnectionStore) ListByUser(ctx context.Context, userID string) ([]core.Connection, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("sqlstore: user id is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", userID),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Connection, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *ConnectionStore) ListActive(ctx context.Context) ([]core.Connection, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("status", "=", string(core.ConnectionStatusActive)),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Connection, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *ConnectionStore) getRecord(ctx context.Context, userID string, provider string) (*connectionRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	userID = strings.TrimSpace(userID)
	provider = strings.TrimSpace(provider)
	if userID == "" || provider == "" {
		return nil, fmt.Errorf("sqlstore: user id and provider are required")
	}
	record := &connectionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.provider = ?", provider).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.NewNotFoundError("sqlstore: connection not found: " + userID + "/" + provider)
		}
		return nil, err
	}
	return record, nil
}

func (s *ConnectionStore) getRecordByID(ctx context.Context, connectionID string) (*connectionRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return nil, fmt.Errorf("sqlstore: connection id is required")
	}
	record := &connectionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", connectionID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.NewNotFoundError("sqlstore: connection not found: " + connectionID)
		}
		return nil, err
	}
	return record, nil
}

func findConnectionTx(ctx context.Context, tx bun.Tx, userID string, provider string) (*connectionRecord, error) {
	record := &connectionRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.provider = ?", provider).
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
