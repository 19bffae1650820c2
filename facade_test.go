package storage_test

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"testing"
	"time"

	storage "github.com/gallerio/go-storage"
	storagecommand "github.com/gallerio/go-storage/command"
	"github.com/gallerio/go-storage/core"
	storagemigrations "github.com/gallerio/go-storage/migrations"
	"github.com/gallerio/go-storage/providers/devkit"
	storagequery "github.com/gallerio/go-storage/query"

	gocmd "github.com/goliatone/go-command"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/mattn/go-sqlite3"
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
		"file:storage-facade-%d?mode=memory&cache=shared&_foreign_keys=on",
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

func newStorage(t *testing.T, provider *devkit.Provider) *storage.Storage {
	t.Helper()
	s, err := storage.New(storage.DefaultConfig(), storage.Dependencies{
		Persistence: newSQLiteClient(t),
		SecretKey:   "facade-test-app-key",
		Providers:   []core.StorageProvider{provider},
	})
	if err != nil {
		t.Fatalf("build storage module: %v", err)
	}
	return s
}

func TestNewValidatesDependencies(t *testing.T) {
	if _, err := storage.New(storage.DefaultConfig(), storage.Dependencies{}); err == nil {
		t.Fatalf("expected error without persistence client")
	}

	client := newSQLiteClient(t)
	if _, err := storage.New(storage.DefaultConfig(), storage.Dependencies{
		Persistence: client,
		SecretKey:   "key",
	}); err == nil {
		t.Fatalf("expected error without providers")
	}
}

func TestFacadeConnectAndQueryRoundTrip(t *testing.T) {
	provider := devkit.New()
	provider.AllowToken("devkit-token")
	s := newStorage(t, provider)
	ctx := context.Background()

	expires := time.Now().Add(time.Hour).UTC()
	collector := gocmd.NewResult[core.Connection]()
	cmdCtx := gocmd.ContextWithResult(ctx, collector)

	connectMsg := storagecommand.ConnectMessage{Input: core.ConnectInput{
		UserID:      "usr_1",
		Provider:    "devkit",
		AccessToken: "devkit-token",
		ExpiresAt:   &expires,
	}}
	if err := connectMsg.Validate(); err != nil {
		t.Fatalf("validate connect message: %v", err)
	}
	if err := s.Commands().Connect.Execute(cmdCtx, connectMsg); err != nil {
		t.Fatalf("execute connect: %v", err)
	}
	connection, ok := collector.Load()
	if !ok || connection.ID == "" {
		t.Fatalf("expected stored connection result, got %#v", connection)
	}

	providers, err := s.Queries().ConnectedProviders.Query(ctx, storagequery.GetConnectedProvidersMessage{UserID: "usr_1"})
	if err != nil {
		t.Fatalf("query providers: %v", err)
	}
	if len(providers) != 1 || providers[0].ID != "devkit" {
		t.Fatalf("unexpected providers: %#v", providers)
	}
}

func TestFacadeSyncLifecycle(t *testing.T) {
	provider := devkit.New()
	provider.AllowToken("devkit-token")
	s := newStorage(t, provider)
	ctx := context.Background()

	s.StartSync(ctx)
	s.StopSync()

	// No connections yet, so an on-demand sweep is a clean no-op.
	if err := s.SyncEngine().SyncAll(ctx); err != nil {
		t.Fatalf("sync all: %v", err)
	}
}
