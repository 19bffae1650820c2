package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	"github.com/gallerio/go-storage/audit"
	storagecache "github.com/gallerio/go-storage/cache"
	storagecommand "github.com/gallerio/go-storage/command"
	"github.com/gallerio/go-storage/core"
	storagequery "github.com/gallerio/go-storage/query"
	"github.com/gallerio/go-storage/ratelimit"
	"github.com/gallerio/go-storage/security"
	sqlstore "github.com/gallerio/go-storage/store/sql"
	storagesync "github.com/gallerio/go-storage/sync"

	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun/dialect/pgdialect"

	_ "github.com/lib/pq"
)

// Dependencies carries the external collaborators New wires together.
type Dependencies struct {
	// Persistence is the migrated database client.
	Persistence *persistence.Client
	// SecretKey is the application key material for credential encryption.
	SecretKey string
	// Providers are the storage back-ends to register.
	Providers []core.StorageProvider
	Logger    glog.Logger
	// QuotaTable overrides the built-in per-provider quota reservations.
	QuotaTable ratelimit.QuotaTable
	// ServiceOptions append to the options New derives from the wiring.
	ServiceOptions []core.Option
}

type Commands struct {
	Connect         *storagecommand.ConnectCommand
	Disconnect      *storagecommand.DisconnectCommand
	UploadPhoto     *storagecommand.UploadPhotoCommand
	DeletePhoto     *storagecommand.DeletePhotoCommand
	RenamePhoto     *storagecommand.RenamePhotoCommand
	CreateShareLink *storagecommand.CreateShareLinkCommand
	RevokeShareLink *storagecommand.RevokeShareLinkCommand
	TriggerSync     *storagecommand.TriggerSyncCommand
}

type Queries struct {
	GalleryPhotos      *storagequery.GetGalleryPhotosQuery
	ConnectedProviders *storagequery.GetConnectedProvidersQuery
	Connection         *storagequery.GetConnectionQuery
	RateUsage          *storagequery.GetRateUsageQuery
	PhotoURL           *storagequery.GetPhotoURLQuery
	ResolveShareLink   *storagequery.ResolveShareLinkQuery
}

// Storage is the assembled module: the core service, its sync engine, and
// the command/query surface a host application dispatches through.
type Storage struct {
	service  *core.Service
	factory  *sqlstore.RepositoryFactory
	engine   *storagesync.Engine
	runner   *storagesync.Runner
	commands Commands
	queries  Queries
}

// New wires stores, cache, governor, audit, providers, and the sync engine
// into a ready Storage. The persistence client must already be migrated;
// see RegisterMigrations.
func New(cfg Config, deps Dependencies) (*Storage, error) {
	if deps.Persistence == nil {
		return nil, fmt.Errorf("storage: persistence client is required")
	}
	if deps.SecretKey == "" {
		return nil, fmt.Errorf("storage: secret key is required")
	}
	if len(deps.Providers) == 0 {
		return nil, fmt.Errorf("storage: at least one provider is required")
	}
	logger := glog.Ensure(deps.Logger)

	secretProvider, err := security.NewAppKeySecretProviderFromString(deps.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("storage: build secret provider: %w", err)
	}

	registry := core.NewProviderRegistry()
	for _, provider := range deps.Providers {
		if err := registry.Register(provider); err != nil {
			return nil, fmt.Errorf("storage: register provider: %w", err)
		}
	}

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(deps.Persistence)
	if err != nil {
		return nil, fmt.Errorf("storage: build repository factory: %w", err)
	}

	// Each key family gets its own cache service so the configured TTLs
	// apply independently.
	photoCacheService, err := newCacheService(cfg.Cache.PhotoTTL, core.DefaultPhotoCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("storage: build photo cache service: %w", err)
	}
	fileURLCacheService, err := newCacheService(cfg.Cache.FileURLTTL, core.DefaultFileURLCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("storage: build file url cache service: %w", err)
	}
	providerCacheService, err := newCacheService(cfg.Cache.ProviderTTL, core.DefaultProviderCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("storage: build provider cache service: %w", err)
	}
	galleryCache, err := storagecache.New(photoCacheService,
		storagecache.WithFileURLService(fileURLCacheService),
		storagecache.WithProviderService(providerCacheService),
		storagecache.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: build gallery cache: %w", err)
	}

	rateCacheService, err := repositorycache.NewCacheService(repositorycache.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("storage: build rate cache service: %w", err)
	}
	rateStore, err := sqlstore.NewCachedRateStateStore(factory.RateStateStore(), rateCacheService)
	if err != nil {
		return nil, fmt.Errorf("storage: build rate state store: %w", err)
	}
	governorOptions := []ratelimit.Option{ratelimit.WithLogger(logger)}
	if deps.QuotaTable != nil {
		governorOptions = append(governorOptions, ratelimit.WithQuotaTable(deps.QuotaTable))
	}
	governor, err := ratelimit.NewGovernor(rateStore, governorOptions...)
	if err != nil {
		return nil, fmt.Errorf("storage: build rate governor: %w", err)
	}

	recorder, err := audit.NewRecorder(factory.AuditStore(), audit.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("storage: build audit recorder: %w", err)
	}

	options := []core.Option{
		core.WithLogger(logger),
		core.WithSecretProvider(secretProvider),
		core.WithRegistry(registry),
		core.WithConnectionStore(factory.ConnectionStore()),
		core.WithFolderStore(factory.FolderStore()),
		core.WithPhotoStore(factory.PhotoStore()),
		core.WithSyncStateStore(factory.SyncStateStore()),
		core.WithShareLinkStore(factory.ShareLinkStore()),
		core.WithRateGovernor(governor),
		core.WithGalleryCache(galleryCache),
		core.WithAuditRecorder(recorder),
	}
	options = append(options, deps.ServiceOptions...)

	service, err := core.NewService(cfg, options...)
	if err != nil {
		return nil, fmt.Errorf("storage: build service: %w", err)
	}

	engine, err := storagesync.NewEngine(storagesync.Config{
		Service:     service,
		Connections: factory.ConnectionStore(),
		SyncStates:  factory.SyncStateStore(),
		Photos:      factory.PhotoStore(),
		Folders:     factory.FolderStore(),
		Governor:    governor,
		Cache:       galleryCache,
		Audit:       recorder,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: build sync engine: %w", err)
	}

	runner, err := storagesync.NewRunner(engine, service.Config().Sync.Interval, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: build sync runner: %w", err)
	}

	s := &Storage{
		service: service,
		factory: factory,
		engine:  engine,
		runner:  runner,
	}
	s.commands = Commands{
		Connect:         storagecommand.NewConnectCommand(service),
		Disconnect:      storagecommand.NewDisconnectCommand(service),
		UploadPhoto:     storagecommand.NewUploadPhotoCommand(service),
		DeletePhoto:     storagecommand.NewDeletePhotoCommand(service),
		RenamePhoto:     storagecommand.NewRenamePhotoCommand(service),
		CreateShareLink: storagecommand.NewCreateShareLinkCommand(service),
		RevokeShareLink: storagecommand.NewRevokeShareLinkCommand(service),
		TriggerSync:     storagecommand.NewTriggerSyncCommand(engine),
	}
	s.queries = Queries{
		GalleryPhotos:      storagequery.NewGetGalleryPhotosQuery(service),
		ConnectedProviders: storagequery.NewGetConnectedProvidersQuery(service),
		Connection:         storagequery.NewGetConnectionQuery(service),
		RateUsage:          storagequery.NewGetRateUsageQuery(service),
		PhotoURL:           storagequery.NewGetPhotoURLQuery(service),
		ResolveShareLink:   storagequery.NewResolveShareLinkQuery(service),
	}
	return s, nil
}

// newCacheService builds a repository cache service with the given entry
// TTL, falling back when the config leaves it unset.
func newCacheService(ttl time.Duration, fallback time.Duration) (repositorycache.CacheService, error) {
	if ttl <= 0 {
		ttl = fallback
	}
	config := repositorycache.DefaultConfig()
	config.TTL = ttl
	return repositorycache.NewCacheService(config)
}

func (s *Storage) Service() *core.Service {
	if s == nil {
		return nil
	}
	return s.service
}

func (s *Storage) Stores() *sqlstore.RepositoryFactory {
	if s == nil {
		return nil
	}
	return s.factory
}

func (s *Storage) SyncEngine() *storagesync.Engine {
	if s == nil {
		return nil
	}
	return s.engine
}

func (s *Storage) Commands() Commands {
	if s == nil {
		return Commands{}
	}
	return s.commands
}

func (s *Storage) Queries() Queries {
	if s == nil {
		return Queries{}
	}
	return s.queries
}

// StartSync launches the periodic sync runner.
func (s *Storage) StartSync(ctx context.Context) {
	if s == nil || s.runner == nil {
		return
	}
	s.runner.Start(ctx)
}

// StopSync waits for the in-flight pass before returning.
func (s *Storage) StopSync() {
	if s == nil || s.runner == nil {
		return
	}
	s.runner.Stop()
}

// RegisterMigrations attaches the embedded postgres migration tree to the
// client and applies it.
func RegisterMigrations(ctx context.Context, client *persistence.Client) error {
	if client == nil {
		return fmt.Errorf("storage: persistence client is required")
	}
	fsys, err := fs.Sub(GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		return fmt.Errorf("storage: resolve migrations filesystem: %w", err)
	}
	client.RegisterSQLMigrations(fsys)
	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("storage: apply migrations: %w", err)
	}
	return nil
}

type postgresConfig struct {
	dsn string
}

func (c postgresConfig) GetDebug() bool                { return false }
func (c postgresConfig) GetDriver() string             { return "postgres" }
func (c postgresConfig) GetServer() string             { return c.dsn }
func (c postgresConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c postgresConfig) GetOtelIdentifier() string     { return "go-storage" }

// NewPostgresClient opens a lib/pq backed persistence client for the given
// DSN. Callers still need RegisterMigrations before building the module.
func NewPostgresClient(dsn string) (*persistence.Client, error) {
	if dsn == "" {
		return nil, fmt.Errorf("storage: postgres dsn is required")
	}
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}
	client, err := persistence.New(postgresConfig{dsn: dsn}, sqlDB, pgdialect.New())
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("storage: build persistence client: %w", err)
	}
	return client, nil
}
