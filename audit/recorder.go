package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gallerio/go-storage/core"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

// Recorder writes audit entries through an AuditStore. Recording never
// fails the calling operation: a store error is reported on the logger and
// swallowed.
type Recorder struct {
	store  core.AuditStore
	logger glog.Logger
	now    func() time.Time
}

type Option func(*Recorder)

func WithLogger(logger glog.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRecorder(store core.AuditStore, opts ...Option) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("audit: audit store is required")
	}
	r := &Recorder{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = glog.Ensure(r.logger)
	return r, nil
}

func (r *Recorder) LogConnection(ctx context.Context, userID string, provider string, outcome string, metadata map[string]any) {
	r.append(ctx, core.AuditEntry{
		UserID:       userID,
		Action:       "connection." + normalizeOutcome(outcome),
		ResourceType: "connection",
		ResourceID:   provider,
		Outcome:      normalizeOutcome(outcome),
		Metadata:     withProvider(metadata, provider),
	})
}

func (r *Recorder) LogFileOperation(ctx context.Context, userID string, action string, fileID string, outcome string, metadata map[string]any) {
	r.append(ctx, core.AuditEntry{
		UserID:       userID,
		Action:       action,
		ResourceType: "file",
		ResourceID:   fileID,
		Outcome:      normalizeOutcome(outcome),
		Metadata:     metadata,
	})
}

func (r *Recorder) LogShareOperation(ctx context.Context, userID string, action string, shareID string, outcome string, metadata map[string]any) {
	r.append(ctx, core.AuditEntry{
		UserID:       userID,
		Action:       action,
		ResourceType: "share_link",
		ResourceID:   shareID,
		Outcome:      normalizeOutcome(outcome),
		Metadata:     metadata,
	})
}

func (r *Recorder) LogError(ctx context.Context, userID string, action string, cause error, metadata map[string]any) {
	entry := core.AuditEntry{
		UserID:       userID,
		Action:       action,
		ResourceType: "operation",
		Outcome:      "error",
		Metadata:     metadata,
	}
	if cause != nil {
		if entry.Metadata == nil {
			entry.Metadata = map[string]any{}
		}
		entry.Metadata["error"] = cause.Error()
	}
	r.append(ctx, entry)
}

func (r *Recorder) LogConflict(ctx context.Context, userID string, provider string, fileID string, metadata map[string]any) {
	r.append(ctx, core.AuditEntry{
		UserID:       userID,
		Action:       "sync.conflict",
		ResourceType: "file",
		ResourceID:   fileID,
		Outcome:      "conflict",
		Metadata:     withProvider(metadata, provider),
	})
}

func (r *Recorder) append(ctx context.Context, entry core.AuditEntry) {
	if r == nil || r.store == nil {
		return
	}
	entry.ID = uuid.NewString()
	entry.CreatedAt = r.now()
	if err := r.store.Append(ctx, entry); err != nil {
		r.logger.Warn("audit append failed",
			"action", entry.Action,
			"user_id", entry.UserID,
			"error", err,
		)
	}
}

func normalizeOutcome(outcome string) string {
	trimmed := strings.TrimSpace(strings.ToLower(outcome))
	if trimmed == "" {
		return "success"
	}
	return trimmed
}

func withProvider(metadata map[string]any, provider string) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	for key, value := range metadata {
		out[key] = value
	}
	if strings.TrimSpace(provider) != "" {
		out["provider"] = provider
	}
	return out
}

var _ core.AuditRecorder = (*Recorder)(nil)
