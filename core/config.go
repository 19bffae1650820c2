package core

import (
	"fmt"
	"time"
)

const (
	// DefaultResumableThresholdBytes is the payload size above which uploads
	// switch to the resumable path.
	DefaultResumableThresholdBytes int64 = 10 << 20
	DefaultUploadChunkBytes        int64 = 8 << 20

	DefaultRefreshLeadWindow = 5 * time.Minute

	DefaultPhotoCacheTTL    = time.Hour
	DefaultFileURLCacheTTL  = time.Hour
	DefaultProviderCacheTTL = time.Hour

	DefaultSyncInterval = time.Hour
)

type UploadConfig struct {
	ResumableThresholdBytes int64 `json:"resumable_threshold_bytes" mapstructure:"resumable_threshold_bytes"`
	ChunkSizeBytes          int64 `json:"chunk_size_bytes" mapstructure:"chunk_size_bytes"`
}

type VaultConfig struct {
	RefreshLeadWindow time.Duration `json:"refresh_lead_window" mapstructure:"refresh_lead_window"`
}

// CacheConfig TTLs are policy, not structure; deployments tune them.
type CacheConfig struct {
	PhotoTTL    time.Duration `json:"photo_ttl" mapstructure:"photo_ttl"`
	FileURLTTL  time.Duration `json:"file_url_ttl" mapstructure:"file_url_ttl"`
	ProviderTTL time.Duration `json:"provider_ttl" mapstructure:"provider_ttl"`
}

type SyncConfig struct {
	Interval time.Duration `json:"interval" mapstructure:"interval"`
}

type Config struct {
	ServiceName string       `json:"service_name" mapstructure:"service_name"`
	Upload      UploadConfig `json:"upload" mapstructure:"upload"`
	Vault       VaultConfig  `json:"vault" mapstructure:"vault"`
	Cache       CacheConfig  `json:"cache" mapstructure:"cache"`
	Sync        SyncConfig   `json:"sync" mapstructure:"sync"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "storage",
		Upload: UploadConfig{
			ResumableThresholdBytes: DefaultResumableThresholdBytes,
			ChunkSizeBytes:          DefaultUploadChunkBytes,
		},
		Vault: VaultConfig{
			RefreshLeadWindow: DefaultRefreshLeadWindow,
		},
		Cache: CacheConfig{
			PhotoTTL:    DefaultPhotoCacheTTL,
			FileURLTTL:  DefaultFileURLCacheTTL,
			ProviderTTL: DefaultProviderCacheTTL,
		},
		Sync: SyncConfig{
			Interval: DefaultSyncInterval,
		},
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("core: config is nil")
	}
	if c.Upload.ResumableThresholdBytes < 0 {
		return fmt.Errorf("core: upload resumable threshold must be >= 0")
	}
	if c.Upload.ChunkSizeBytes < 0 {
		return fmt.Errorf("core: upload chunk size must be >= 0")
	}
	if c.Vault.RefreshLeadWindow < 0 {
		return fmt.Errorf("core: vault refresh lead window must be >= 0")
	}
	if c.Cache.PhotoTTL < 0 || c.Cache.FileURLTTL < 0 || c.Cache.ProviderTTL < 0 {
		return fmt.Errorf("core: cache ttls must be >= 0")
	}
	if c.Sync.Interval < 0 {
		return fmt.Errorf("core: sync interval must be >= 0")
	}
	return nil
}

// withDefaults fills zero values so a partially specified runtime config is
// usable without a resolver pass.
func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.ServiceName == "" {
		c.ServiceName = defaults.ServiceName
	}
	if c.Upload.ResumableThresholdBytes == 0 {
		c.Upload.ResumableThresholdBytes = defaults.Upload.ResumableThresholdBytes
	}
	if c.Upload.ChunkSizeBytes == 0 {
		c.Upload.ChunkSizeBytes = defaults.Upload.ChunkSizeBytes
	}
	if c.Vault.RefreshLeadWindow == 0 {
		c.Vault.RefreshLeadWindow = defaults.Vault.RefreshLeadWindow
	}
	if c.Cache.PhotoTTL == 0 {
		c.Cache.PhotoTTL = defaults.Cache.PhotoTTL
	}
	if c.Cache.FileURLTTL == 0 {
		c.Cache.FileURLTTL = defaults.Cache.FileURLTTL
	}
	if c.Cache.ProviderTTL == 0 {
		c.Cache.ProviderTTL = defaults.Cache.ProviderTTL
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = defaults.Sync.Interval
	}
	return c
}
