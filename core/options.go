package core

import (
	"context"
	"fmt"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	secretProvider  SecretProvider
	registry        Registry
	connectionStore ConnectionStore
	folderStore     FolderStore
	photoStore      PhotoStore
	syncStateStore  SyncStateStore
	shareLinkStore  ShareLinkStore
	governor        RateGovernor
	cache           GalleryCache
	audit           AuditRecorder
	retryPolicy     RetryPolicy
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) { b.logger = logger }
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) { b.loggerProvider = provider }
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) { b.errorMapper = mapper }
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) { b.configProvider = provider }
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) { b.optionsResolver = resolver }
}

func WithSecretProvider(provider SecretProvider) Option {
	return func(b *serviceBuilder) { b.secretProvider = provider }
}

func WithRegistry(registry Registry) Option {
	return func(b *serviceBuilder) { b.registry = registry }
}

func WithConnectionStore(store ConnectionStore) Option {
	return func(b *serviceBuilder) { b.connectionStore = store }
}

func WithFolderStore(store FolderStore) Option {
	return func(b *serviceBuilder) { b.folderStore = store }
}

func WithPhotoStore(store PhotoStore) Option {
	return func(b *serviceBuilder) { b.photoStore = store }
}

func WithSyncStateStore(store SyncStateStore) Option {
	return func(b *serviceBuilder) { b.syncStateStore = store }
}

func WithShareLinkStore(store ShareLinkStore) Option {
	return func(b *serviceBuilder) { b.shareLinkStore = store }
}

func WithRateGovernor(governor RateGovernor) Option {
	return func(b *serviceBuilder) { b.governor = governor }
}

func WithGalleryCache(cache GalleryCache) Option {
	return func(b *serviceBuilder) { b.cache = cache }
}

func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(b *serviceBuilder) { b.audit = recorder }
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(b *serviceBuilder) { b.retryPolicy = policy }
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("storage", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		registry:        NewProviderRegistry(),
		retryPolicy:     DefaultRetryPolicy(),
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return storageErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || cfg.ServiceName != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || cfg.Upload.ResumableThresholdBytes > 0 || cfg.Upload.ChunkSizeBytes > 0 {
		layer["upload"] = map[string]any{
			"resumable_threshold_bytes": cfg.Upload.ResumableThresholdBytes,
			"chunk_size_bytes":          cfg.Upload.ChunkSizeBytes,
		}
	}
	if includeZero || cfg.Vault.RefreshLeadWindow > 0 {
		layer["vault"] = map[string]any{
			"refresh_lead_window": cfg.Vault.RefreshLeadWindow,
		}
	}
	if includeZero || cfg.Cache.PhotoTTL > 0 || cfg.Cache.FileURLTTL > 0 || cfg.Cache.ProviderTTL > 0 {
		layer["cache"] = map[string]any{
			"photo_ttl":    cfg.Cache.PhotoTTL,
			"file_url_ttl": cfg.Cache.FileURLTTL,
			"provider_ttl": cfg.Cache.ProviderTTL,
		}
	}
	if includeZero || cfg.Sync.Interval > 0 {
		layer["sync"] = map[string]any{
			"interval": cfg.Sync.Interval,
		}
	}
	return layer
}
