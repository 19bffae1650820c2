package core

import (
	"context"
	"fmt"

	glog "github.com/goliatone/go-logger/glog"
)

// Service is the storage layer entry point. It owns the token vault, folder
// mapper, upload orchestration, and share links; the sync engine and the
// command/query surface compose on top of it.
type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	errorMapper     ErrorMapper
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

func NewService(cfg Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("storage", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("storage"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.registry == nil {
		builder.registry = NewProviderRegistry()
	}
	if builder.secretProvider == nil {
		return nil, fmt.Errorf("core: secret provider is required")
	}
	if builder.connectionStore == nil {
		return nil, fmt.Errorf("core: connection store is required")
	}

	defaults := DefaultConfig()
	loaded := defaults
	if builder.configProvider != nil {
		resolvedLoad, err := builder.configProvider.Load(context.Background(), defaults)
		if err != nil {
			return nil, err
		}
		loaded = resolvedLoad
	}
	resolved := builder.runtimeConfig.withDefaults()
	if builder.optionsResolver != nil {
		merged, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
		if err != nil {
			return nil, err
		}
		resolved = merged.withDefaults()
	}

	return &Service{
		config:          resolved,
		logger:          logger,
		loggerProvider:  provider,
		errorMapper:     builder.errorMapper,
		secretProvider:  builder.secretProvider,
		registry:        builder.registry,
		connectionStore: builder.connectionStore,
		folderStore:     builder.folderStore,
		photoStore:      builder.photoStore,
		syncStateStore:  builder.syncStateStore,
		shareLinkStore:  builder.shareLinkStore,
		governor:        builder.governor,
		cache:           builder.cache,
		audit:           builder.audit,
		retryPolicy:     builder.retryPolicy,
	}, nil
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Registry() Registry {
	if s == nil {
		return nil
	}
	return s.registry
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	if mapped := s.errorMapper(err); mapped != nil {
		return mapped
	}
	return err
}

func (s *Service) resolveProvider(providerID string) (StorageProvider, error) {
	if s == nil || s.registry == nil {
		return nil, fmt.Errorf("core: provider registry is not configured")
	}
	return s.registry.Resolve(providerID)
}

func (s *Service) auditRecorder() AuditRecorder {
	if s == nil || s.audit == nil {
		return nopAuditRecorder{}
	}
	return s.audit
}

func (s *Service) logWarn(message string, args ...any) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Warn(message, args...)
}

func (s *Service) logInfo(message string, args ...any) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Info(message, args...)
}

type nopAuditRecorder struct{}

func (nopAuditRecorder) LogConnection(context.Context, string, string, string, map[string]any) {}
func (nopAuditRecorder) LogFileOperation(context.Context, string, string, string, string, map[string]any) {
}
func (nopAuditRecorder) LogShareOperation(context.Context, string, string, string, string, map[string]any) {
}
func (nopAuditRecorder) LogError(context.Context, string, string, error, map[string]any)     {}
func (nopAuditRecorder) LogConflict(context.Context, string, string, string, map[string]any) {}

var _ ErrorMapper = defaultErrorMapper
