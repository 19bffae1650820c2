package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gallerio/go-storage/core"
	"github.com/gallerio/go-storage/ratelimit"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RateStateStore is the durable backing for the governor, so window and
// backoff accounting survives process restarts.
type RateStateStore struct {
	db *bun.DB
}

func NewRateStateStore(db *bun.DB) (*RateStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &RateStateStore{db: db}, nil
}

func (s *RateStateStore) GetWindow(ctx context.Context, key ratelimit.Key) (ratelimit.WindowState, error) {
	if s == nil || s.db == nil {
		return ratelimit.WindowState{}, fmt.Errorf("sqlstore: rate state store is not configured")
	}
	provider := strings.TrimSpace(key.Provider)
	class := strings.TrimSpace(string(key.Class))
	if provider == "" || class == "" {
		return ratelimit.WindowState{}, fmt.Errorf("sqlstore: provider and operation class are required")
	}

	record := &rateWindowRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ?", provider).
		Where("?TableAlias.class = ?", class).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return ratelimit.WindowState{}, ratelimit.ErrStateNotFound
		}
		return ratelimit.WindowState{}, err
	}
	return windowFromRecord(record), nil
}

func (s *RateStateStore) UpsertWindow(ctx context.Context, state ratelimit.WindowState) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: rate state store is not configured")
	}
	provider := strings.TrimSpace(state.Key.Provider)
	class := strings.TrimSpace(string(state.Key.Class))
	if provider == "" || class == "" {
		return fmt.Errorf("sqlstore: provider and operation class are required")
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &rateWindowRecord{}
		err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.provider = ?", provider).
			Where("?TableAlias.class = ?", class).
			Limit(1).
			Scan(ctx)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if err == sql.ErrNoRows {
			record = &rateWindowRecord{
				ID:       uuid.NewString(),
				Provider: provider,
				Class:    class,
			}
			applyWindowState(record, state)
			result, insertErr := tx.NewInsert().Model(record).Ignore().Exec(ctx)
			if insertErr != nil {
				return insertErr
			}
			if inserted(result) {
				return nil
			}
			// Lost the insert race; adopt the winner's row and update it.
			record = &rateWindowRecord{}
			if selErr := tx.NewSelect().
				Model(record).
				Where("?TableAlias.provider = ?", provider).
				Where("?TableAlias.class = ?", class).
				Limit(1).
				Scan(ctx); selErr != nil {
				return selErr
			}
		}

		applyWindowState(record, state)
		_, err = tx.NewUpdate().Model(record).Where("id = ?", record.ID).Exec(ctx)
		return err
	})
}

func (s *RateStateStore) ListWindows(ctx context.Context, provider string) ([]ratelimit.WindowState, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: rate state store is not configured")
	}
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return nil, fmt.Errorf("sqlstore: provider is required")
	}

	var records []*rateWindowRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.provider = ?", provider).
		OrderExpr("?TableAlias.class ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ratelimit.WindowState, 0, len(records))
	for _, record := range records {
		out = append(out, windowFromRecord(record))
	}
	return out, nil
}

func (s *RateStateStore) GetBackoff(ctx context.Context, provider string) (ratelimit.BackoffState, error) {
	if s == nil || s.db == nil {
		return ratelimit.BackoffState{}, fmt.Errorf("sqlstore: rate state store is not configured")
	}
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return ratelimit.BackoffState{}, fmt.Errorf("sqlstore: provider is required")
	}

	record := &rateBackoffRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ?", provider).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return ratelimit.BackoffState{}, ratelimit.ErrStateNotFound
		}
		return ratelimit.BackoffState{}, err
	}
	return ratelimit.BackoffState{
		Provider:  record.Provider,
		Attempts:  record.Attempts,
		Until:     cloneTime(record.Until),
		UpdatedAt: record.UpdatedAt,
	}, nil
}

func (s *RateStateStore) UpsertBackoff(ctx context.Context, state ratelimit.BackoffState) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: rate state store is not configured")
	}
	provider := strings.TrimSpace(state.Provider)
	if provider == "" {
		return fmt.Errorf("sqlstore: provider is required")
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &rateBackoffRecord{}
		err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.provider = ?", provider).
			Limit(1).
			Scan(ctx)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if err == sql.ErrNoRows {
			record = &rateBackoffRecord{
				ID:       uuid.NewString(),
				Provider: provider,
			}
			applyBackoffState(record, state)
			result, insertErr := tx.NewInsert().Model(record).Ignore().Exec(ctx)
			if insertErr != nil {
				return insertErr
			}
			if inserted(result) {
				return nil
			}
			// Lost the insert race; adopt the winner's row and update it.
			record = &rateBackoffRecord{}
			if selErr := tx.NewSelect().
				Model(record).
				Where("?TableAlias.provider = ?", provider).
				Limit(1).
				Scan(ctx); selErr != nil {
				return selErr
			}
		}

		applyBackoffState(record, state)
		_, err = tx.NewUpdate().Model(record).Where("id = ?", record.ID).Exec(ctx)
		return err
	})
}

func windowFromRecord(record *rateWindowRecord) ratelimit.WindowState {
	return ratelimit.WindowState{
		Key: ratelimit.Key{
			Provider: record.Provider,
			Class:    core.OperationClass(record.Class),
		},
		HourStart: record.HourStart,
		HourCount: record.HourCount,
		DayStart:  record.DayStart,
		DayCount:  record.DayCount,
		UpdatedAt: record.UpdatedAt,
	}
}

func applyWindowState(record *rateWindowRecord, state ratelimit.WindowState) {
	record.HourStart = state.HourStart.UTC()
	record.HourCount = state.HourCount
	record.DayStart = state.DayStart.UTC()
	record.DayCount = state.DayCount
	record.UpdatedAt = normalizeUpdatedAt(state.UpdatedAt)
}

func applyBackoffState(record *rateBackoffRecord, state ratelimit.BackoffState) {
	record.Attempts = state.Attempts
	record.Until = cloneTime(state.Until)
	record.UpdatedAt = normalizeUpdatedAt(state.UpdatedAt)
}

func normalizeUpdatedAt(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now().UTC()
	}
	return value.UTC()
}
