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

type SyncStateStore struct {
	db *bun.DB
}

func NewSyncStateStore(db *bun.DB) (*SyncStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &SyncStateStore{db: db}, nil
}

func (s *SyncStateStore) Get(ctx context.Context, userID string, provider string) (core.SyncState, error) {
	if s == nil || s.db == nil {
		return core.SyncState{}, fmt.Errorf("sqlstore: sync state store is not configured")
	}
	userID = strings.TrimSpace(userID)
	provider = strings.TrimSpace(provider)
	if userID == "" || provider == "" {
		return core.SyncState{}, fmt.Errorf("sqlstore: user id and provider are required")
	}

	record := &syncStateRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.provider = ?", provider).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.SyncState{}, core.NewNotFoundError("sqlstore: sync state not found: " + userID + "/" + provider)
		}
		return core.SyncState{}, err
	}
	return record.toDomain(), nil
}

func (s *SyncStateStore) Upsert(ctx context.Context, in core.UpsertSyncStateInput) (core.SyncState, error) {
	if s == nil || s.db == nil {
		return core.SyncState{}, fmt.Errorf("sqlstore: sync state store is not configured")
	}
	in.UserID = strings.TrimSpace(in.UserID)
	in.Provider = strings.TrimSpace(in.Provider)
	in.LastSyncToken = strings.TrimSpace(in.LastSyncToken)
	if in.UserID == "" || in.Provider == "" {
		return core.SyncState{}, fmt.Errorf("sqlstore: user id and provider are required")
	}
	if strings.TrimSpace(string(in.Phase)) == "" {
		in.Phase = core.SyncPhaseNeedsFullSync
	}
	if !in.Phase.Valid() {
		return core.SyncState{}, fmt.Errorf("sqlstore: invalid sync phase %q", in.Phase)
	}
	now := time.Now().UTC()

	var out core.SyncState
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findSyncStateTx(ctx, tx, in.UserID, in.Provider)
		if err != nil {
			return err
		}
		if record == nil {
			record = &syncStateRecord{
				ID:            uuid.NewString(),
				UserID:        in.UserID,
				Provider:      in.Provider,
				LastSyncToken: in.LastSyncToken,
				LastSyncAt:    cloneTime(in.LastSyncAt),
				Phase:         string(in.Phase),
				UpdatedAt:     now,
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
			record, err = findSyncStateTx(ctx, tx, in.UserID, in.Provider)
			if err != nil {
				return err
			}
			if record == nil {
				return fmt.Errorf("sqlstore: sync state vanished during upsert: %s/%s", in.UserID, in.Provider)
			}
		}

		record.LastSyncToken = in.LastSyncToken
		record.LastSyncAt = cloneTime(in.LastSyncAt)
		record.Phase = string(in.Phase)
		record.UpdatedAt = now
		if _, updateErr := tx.NewUpdate().Model(record).Where("id = ?", record.ID).Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = record.toDomain()
		return nil
	})
	if err != nil {
		return core.SyncState{}, err
	}
	return out, nil
}

func findSyncStateTx(ctx context.Context, tx bun.Tx, userID string, provider string) (*syncStateRecord, error) {
	record := &syncStateRecord{}
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
