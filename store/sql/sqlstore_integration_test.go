package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/gallerio/go-storage/core"
	storagemigrations "github.com/gallerio/go-storage/migrations"
	"github.com/gallerio/go-storage/ratelimit"
	sqlstore "github.com/gallerio/go-storage/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool                { return false }
func (c testPersistenceConfig) GetDriver() string             { return c.driver }
func (c testPersistenceConfig) GetServer() string             { return c.server }
func (c testPersistenceConfig) GetPingTimeout() time.Duration { return time.Second }
func (c testPersistenceConfig) GetOtelIdentifier() string     { return "go-storage-tests" }

func newSQLiteClient(t *testing.T) *persistence.Client {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:storage-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{driver: "sqlite3", server: dsn}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	err = storagemigrations.Register(ctx, func(_ context.Context, _ string, fsys fs.FS) error {
		client.RegisterSQLMigrations(fsys)
		return nil
	}, storagemigrations.WithDialects(storagemigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newFactory(t *testing.T) *sqlstore.RepositoryFactory {
	t.Helper()
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(newSQLiteClient(t))
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	return factory
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client := newSQLiteClient(t)

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"storage_connections",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "storage_connections" {
		t.Fatalf("expected storage_connections table, got %q", tableName)
	}
}

func TestConnectionStoreUpsertReplacesCredentialWithoutDuplicating(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).ConnectionStore()

	expires := time.Now().Add(time.Hour).UTC()
	first, err := store.Upsert(ctx, core.UpsertConnectionInput{
		UserID:   "usr_1",
		Provider: "gdrive",
		Credential: core.EncryptedCredential{
			AccessCiphertext:  []byte("sealed-access-1"),
			RefreshCiphertext: []byte("sealed-refresh-1"),
			ExpiresAt:         &expires,
		},
	})
	if err != nil {
		t.Fatalf("upsert connection: %v", err)
	}
	if first.Status != core.ConnectionStatusActive {
		t.Fatalf("expected active status, got %q", first.Status)
	}

	second, err := store.Upsert(ctx, core.UpsertConnectionInput{
		UserID:   "usr_1",
		Provider: "gdrive",
		Credential: core.EncryptedCredential{
			AccessCiphertext: []byte("sealed-access-2"),
		},
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same row, got %q and %q", first.ID, second.ID)
	}

	credential, err := store.GetCredential(ctx, first.ID)
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if string(credential.AccessCiphertext) != "sealed-access-2" {
		t.Fatalf("expected replaced ciphertext, got %q", credential.AccessCiphertext)
	}

	connections, err := store.ListByUser(ctx, "usr_1")
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(connections) != 1 {
		t.Fatalf("expected one connection, got %d", len(connections))
	}
}

func TestConnectionStoreUpsertReactivatesDisconnectedRow(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).ConnectionStore()

	created, err := store.Upsert(ctx, core.UpsertConnectionInput{
		UserID:     "usr_1",
		Provider:   "dropbox",
		Credential: core.EncryptedCredential{AccessCiphertext: []byte("sealed-1")},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.UpdateStatus(ctx, created.ID, core.ConnectionStatusDisconnected, "user disconnect"); err != nil {
		t.Fatalf("update status: %v", err)
	}

	reactivated, err := store.Upsert(ctx, core.UpsertConnectionInput{
		UserID:     "usr_1",
		Provider:   "dropbox",
		Credential: core.EncryptedCredential{AccessCiphertext: []byte("sealed-2")},
	})
	if err != nil {
		t.Fatalf("reconnect upsert: %v", err)
	}
	if reactivated.Status != core.ConnectionStatusActive {
		t.Fatalf("expected reactivated connection, got %q", reactivated.Status)
	}
	if reactivated.LastError != "" {
		t.Fatalf("expected cleared last error, got %q", reactivated.LastError)
	}

	active, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected one active connection, got %d", len(active))
	}
}

func TestConnectionStoreUpdateStatusRecordsReason(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).ConnectionStore()

	created, err := store.Upsert(ctx, core.UpsertConnectionInput{
		UserID:     "usr_1",
		Provider:   "gdrive",
		Credential: core.EncryptedCredential{AccessCiphertext: []byte("sealed")},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.UpdateStatus(ctx, created.ID, core.ConnectionStatusError, "refresh token rejected"); err != nil {
		t.Fatalf("update status: %v", err)
	}

	fetched, err := store.Get(ctx, "usr_1", "gdrive")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched.Status != core.ConnectionStatusError || fetched.LastError != "refresh token rejected" {
		t.Fatalf("unexpected connection %+v", fetched)
	}
	if fetched.LastErrorAt == nil {
		t.Fatalf("expected last error timestamp")
	}
}

func TestConnectionStoreGetMissingIsNotFound(t *testing.T) {
	store := newFactory(t).ConnectionStore()
	if _, err := store.Get(context.Background(), "usr_1", "gdrive"); !core.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestFolderStoreEnsureIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).FolderStore()

	first, err := store.EnsureRootFolder(ctx, core.EnsureRootFolderInput{
		UserID:           "usr_1",
		Provider:         "gdrive",
		ProviderFolderID: "folder-root",
	})
	if err != nil {
		t.Fatalf("ensure root: %v", err)
	}
	second, err := store.EnsureRootFolder(ctx, core.EnsureRootFolderInput{
		UserID:           "usr_1",
		Provider:         "gdrive",
		ProviderFolderID: "folder-other",
	})
	if err != nil {
		t.Fatalf("ensure root again: %v", err)
	}
	if second.ID != first.ID || second.ProviderFolderID != "folder-root" {
		t.Fatalf("expected first root folder to win, got %+v", second)
	}

	mapping, err := store.EnsureMapping(ctx, core.EnsureFolderMappingInput{
		GalleryID:        "gal_1",
		Provider:         "gdrive",
		ProviderFolderID: "folder-gal",
		ParentFolderID:   "folder-root",
	})
	if err != nil {
		t.Fatalf("ensure mapping: %v", err)
	}
	again, err := store.EnsureMapping(ctx, core.EnsureFolderMappingInput{
		GalleryID:        "gal_1",
		Provider:         "gdrive",
		ProviderFolderID: "folder-dup",
	})
	if err != nil {
		t.Fatalf("ensure mapping again: %v", err)
	}
	if again.ID != mapping.ID || again.ProviderFolderID != "folder-gal" {
		t.Fatalf("expected existing mapping, got %+v", again)
	}

	if err := store.UpdateMappingParent(ctx, "gal_1", "gdrive", "folder-moved"); err != nil {
		t.Fatalf("update mapping parent: %v", err)
	}
	moved, err := store.GetMapping(ctx, "gal_1", "gdrive")
	if err != nil {
		t.Fatalf("get mapping: %v", err)
	}
	if moved.ParentFolderID != "folder-moved" {
		t.Fatalf("expected moved parent, got %+v", moved)
	}
}

func TestFolderStoreEnsureToleratesConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).FolderStore()

	// Racing writers must converge on one row without surfacing a unique
	// violation; a conflicting insert is ignored, never raised, so it can
	// not poison a surrounding transaction.
	const writers = 8
	results := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.EnsureRootFolder(ctx, core.EnsureRootFolderInput{
				UserID:           "usr_1",
				Provider:         "gdrive",
				ProviderFolderID: fmt.Sprintf("folder-%d", i),
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)
	for err := range results {
		if err != nil {
			t.Fatalf("concurrent ensure root: %v", err)
		}
	}

	if _, err := store.GetRootFolder(ctx, "usr_1", "gdrive"); err != nil {
		t.Fatalf("get root folder: %v", err)
	}
}

func TestPhotoStoreUpsertAndSoftDelete(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).PhotoStore()

	created, err := store.Upsert(ctx, core.UpsertPhotoInput{
		GalleryID:      "gal_1",
		UserID:         "usr_1",
		Provider:       "gdrive",
		ProviderFileID: "file-1",
		Name:           "a.jpg",
		MimeType:       "image/jpeg",
		FileSize:       512,
	})
	if err != nil {
		t.Fatalf("upsert photo: %v", err)
	}

	updated, err := store.Upsert(ctx, core.UpsertPhotoInput{
		Provider:       "gdrive",
		ProviderFileID: "file-1",
		Name:           "renamed.jpg",
	})
	if err != nil {
		t.Fatalf("reapply upsert: %v", err)
	}
	if updated.ID != created.ID || updated.Name != "renamed.jpg" {
		t.Fatalf("expected update in place, got %+v", updated)
	}
	if updated.GalleryID != "gal_1" || updated.FileSize != 512 {
		t.Fatalf("expected prior fields preserved, got %+v", updated)
	}

	changed, err := store.MarkDeleted(ctx, "gdrive", "file-1", time.Now())
	if err != nil {
		t.Fatalf("mark deleted: %v", err)
	}
	if !changed {
		t.Fatalf("expected first delete to report a change")
	}
	changed, err = store.MarkDeleted(ctx, "gdrive", "file-1", time.Now())
	if err != nil {
		t.Fatalf("second mark deleted: %v", err)
	}
	if changed {
		t.Fatalf("expected duplicate delete to report no change")
	}

	photos, err := store.ListByGallery(ctx, "gal_1")
	if err != nil {
		t.Fatalf("list by gallery: %v", err)
	}
	if len(photos) != 0 {
		t.Fatalf("expected soft-deleted photo excluded, got %d", len(photos))
	}

	// The provider resurfacing the file clears the soft delete.
	restored, err := store.Upsert(ctx, core.UpsertPhotoInput{
		Provider:       "gdrive",
		ProviderFileID: "file-1",
		Name:           "restored.jpg",
	})
	if err != nil {
		t.Fatalf("resurrect upsert: %v", err)
	}
	if restored.DeletedAt != nil {
		t.Fatalf("expected cleared deleted_at, got %+v", restored)
	}

	if err := store.TouchEdited(ctx, restored.ID, time.Now()); err != nil {
		t.Fatalf("touch edited: %v", err)
	}
	fetched, err := store.Get(ctx, restored.ID)
	if err != nil {
		t.Fatalf("get photo: %v", err)
	}
	if fetched.EditedAt == nil {
		t.Fatalf("expected edited timestamp, got %+v", fetched)
	}
}

func TestSyncStateStoreUpsertAdvancesToken(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).SyncStateStore()

	created, err := store.Upsert(ctx, core.UpsertSyncStateInput{
		UserID:   "usr_1",
		Provider: "gdrive",
	})
	if err != nil {
		t.Fatalf("upsert sync state: %v", err)
	}
	if created.Phase != core.SyncPhaseNeedsFullSync {
		t.Fatalf("expected needs_full_sync default, got %q", created.Phase)
	}

	syncedAt := time.Now().UTC()
	advanced, err := store.Upsert(ctx, core.UpsertSyncStateInput{
		UserID:        "usr_1",
		Provider:      "gdrive",
		LastSyncToken: "token-9",
		LastSyncAt:    &syncedAt,
		Phase:         core.SyncPhasePolling,
	})
	if err != nil {
		t.Fatalf("advance sync state: %v", err)
	}
	if advanced.ID != created.ID || advanced.LastSyncToken != "token-9" || advanced.Phase != core.SyncPhasePolling {
		t.Fatalf("unexpected sync state %+v", advanced)
	}
}

func TestShareLinkStoreRevokeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).ShareLinkStore()

	created, err := store.Create(ctx, core.CreateShareLinkInput{
		GalleryID: "gal_1",
		Token:     "tok-abc",
	})
	if err != nil {
		t.Fatalf("create share link: %v", err)
	}

	fetched, err := store.GetByToken(ctx, "tok-abc")
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if fetched.ID != created.ID {
		t.Fatalf("expected matching link, got %+v", fetched)
	}

	firstRevokeAt := time.Now().Add(-time.Minute)
	if err := store.Revoke(ctx, created.ID, firstRevokeAt); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := store.Revoke(ctx, created.ID, time.Now()); err != nil {
		t.Fatalf("second revoke: %v", err)
	}

	revoked, err := store.GetByToken(ctx, "tok-abc")
	if err != nil {
		t.Fatalf("get revoked: %v", err)
	}
	if revoked.RevokedAt == nil {
		t.Fatalf("expected revoked timestamp")
	}
	if !revoked.RevokedAt.Equal(firstRevokeAt.UTC()) {
		t.Fatalf("expected first revocation time kept, got %v", revoked.RevokedAt)
	}
}

func TestAuditStoreAppend(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).AuditStore()

	err := store.Append(ctx, core.AuditEntry{
		UserID:       "usr_1",
		Action:       "file.upload",
		ResourceType: "file",
		ResourceID:   "file-1",
		Outcome:      "success",
		Metadata:     map[string]any{"provider": "gdrive"},
	})
	if err != nil {
		t.Fatalf("append audit entry: %v", err)
	}
	if err := store.Append(ctx, core.AuditEntry{}); err == nil {
		t.Fatalf("expected error for missing action")
	}
}

func TestRateStateStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newFactory(t).RateStateStore()

	key := ratelimit.Key{Provider: "gdrive", Class: core.OperationClassUpload}
	if _, err := store.GetWindow(ctx, key); !errors.Is(err, ratelimit.ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}

	now := time.Now().UTC()
	window := ratelimit.WindowState{
		Key:       key,
		HourStart: now.Truncate(time.Hour),
		HourCount: 3,
		DayStart:  now.Truncate(24 * time.Hour),
		DayCount:  7,
		UpdatedAt: now,
	}
	if err := store.UpsertWindow(ctx, window); err != nil {
		t.Fatalf("upsert window: %v", err)
	}
	window.HourCount = 4
	if err := store.UpsertWindow(ctx, window); err != nil {
		t.Fatalf("update window: %v", err)
	}

	fetched, err := store.GetWindow(ctx, key)
	if err != nil {
		t.Fatalf("get window: %v", err)
	}
	if fetched.HourCount != 4 || fetched.DayCount != 7 {
		t.Fatalf("unexpected window %+v", fetched)
	}

	windows, err := store.ListWindows(ctx, "gdrive")
	if err != nil {
		t.Fatalf("list windows: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("expected one window, got %d", len(windows))
	}

	if _, err := store.GetBackoff(ctx, "gdrive"); !errors.Is(err, ratelimit.ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound for backoff, got %v", err)
	}
	until := now.Add(30 * time.Second)
	if err := store.UpsertBackoff(ctx, ratelimit.BackoffState{
		Provider:  "gdrive",
		Attempts:  2,
		Until:     &until,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("upsert backoff: %v", err)
	}
	backoff, err := store.GetBackoff(ctx, "gdrive")
	if err != nil {
		t.Fatalf("get backoff: %v", err)
	}
	if backoff.Attempts != 2 || backoff.Until == nil {
		t.Fatalf("unexpected backoff %+v", backoff)
	}
}
