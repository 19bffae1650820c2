package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gallerio/go-storage/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AuditStore is append-only; entries are never updated or removed.
type AuditStore struct {
	repo repository.Repository[*auditEntryRecord]
}

func NewAuditStore(db *bun.DB) (*AuditStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*auditEntryRecord](db, auditHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid audit repository wiring: %w", err)
		}
	}
	return &AuditStore{repo: repo}, nil
}

func (s *AuditStore) Append(ctx context.Context, entry core.AuditEntry) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: audit store is not configured")
	}
	if strings.TrimSpace(entry.Action) == "" {
		return fmt.Errorf("sqlstore: audit action is required")
	}

	record := &auditEntryRecord{
		ID:           strings.TrimSpace(entry.ID),
		UserID:       strings.TrimSpace(entry.UserID),
		Action:       strings.TrimSpace(entry.Action),
		ResourceType: strings.TrimSpace(entry.ResourceType),
		ResourceID:   strings.TrimSpace(entry.ResourceID),
		Outcome:      strings.TrimSpace(entry.Outcome),
		Metadata:     copyAnyMap(entry.Metadata),
		IPAddress:    strings.TrimSpace(entry.IPAddress),
		CreatedAt:    entry.CreatedAt,
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.repo.Create(ctx, record)
	return err
}
