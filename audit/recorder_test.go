package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gallerio/go-storage/core"
)

type stubAuditStore struct {
	mu      sync.Mutex
	entries []core.AuditEntry
	err     error
}

func (s *stubAuditStore) Append(_ context.Context, entry core.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func TestRecorderStampsIDAndTimestamp(t *testing.T) {
	store := &stubAuditStore{}
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	recorder, err := NewRecorder(store, WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	recorder.LogFileOperation(context.Background(), "usr_1", "file.upload", "file-1", "", map[string]any{"provider": "gdrive"})

	if len(store.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(store.entries))
	}
	entry := store.entries[0]
	if entry.ID == "" {
		t.Fatalf("expected generated id")
	}
	if !entry.CreatedAt.Equal(fixed) {
		t.Fatalf("expected fixed timestamp, got %v", entry.CreatedAt)
	}
	if entry.Outcome != "success" {
		t.Fatalf("expected default success outcome, got %q", entry.Outcome)
	}
	if entry.ResourceType != "file" || entry.ResourceID != "file-1" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestRecorderSwallowsStoreFailures(t *testing.T) {
	store := &stubAuditStore{err: errors.New("db gone")}
	recorder, err := NewRecorder(store)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	// Must not panic or surface the store error.
	recorder.LogConnection(context.Background(), "usr_1", "gdrive", "success", nil)
	recorder.LogError(context.Background(), "usr_1", "token.refresh", errors.New("boom"), nil)
}

func TestRecorderConflictEntry(t *testing.T) {
	store := &stubAuditStore{}
	recorder, err := NewRecorder(store)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	recorder.LogConflict(context.Background(), "usr_1", "dropbox", "file-9", map[string]any{"name": "a.jpg"})

	if len(store.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(store.entries))
	}
	entry := store.entries[0]
	if entry.Action != "sync.conflict" || entry.Outcome != "conflict" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Metadata["provider"] != "dropbox" || entry.Metadata["name"] != "a.jpg" {
		t.Fatalf("unexpected metadata %+v", entry.Metadata)
	}
}

func TestRecorderErrorEntryCapturesCause(t *testing.T) {
	store := &stubAuditStore{}
	recorder, err := NewRecorder(store)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	recorder.LogError(context.Background(), "usr_1", "token.refresh", errors.New("invalid_grant"), nil)

	if len(store.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(store.entries))
	}
	entry := store.entries[0]
	if entry.Outcome != "error" || entry.Metadata["error"] != "invalid_grant" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}
