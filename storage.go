package storage

import "github.com/gallerio/go-storage/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type StorageProvider = core.StorageProvider
type SecretProvider = core.SecretProvider
type ConnectionStore = core.ConnectionStore
type FolderStore = core.FolderStore
type PhotoStore = core.PhotoStore
type SyncStateStore = core.SyncStateStore
type ShareLinkStore = core.ShareLinkStore
type AuditStore = core.AuditStore
type RateGovernor = core.RateGovernor
type GalleryCache = core.GalleryCache
type AuditRecorder = core.AuditRecorder

type Connection = core.Connection
type Photo = core.Photo
type ShareLink = core.ShareLink
type RootFolder = core.RootFolder
type FolderMapping = core.FolderMapping
type SyncState = core.SyncState
type ProviderInfo = core.ProviderInfo
type RateUsage = core.RateUsage

type ConnectInput = core.ConnectInput
type UploadPhotoInput = core.UploadPhotoInput
type CreateShareInput = core.CreateShareInput

var (
	WithLogger         = core.WithLogger
	WithLoggerProvider = core.WithLoggerProvider
	WithErrorMapper    = core.WithErrorMapper
	WithConfigProvider = core.WithConfigProvider
	WithSecretProvider = core.WithSecretProvider
	WithRegistry       = core.WithRegistry
	WithRetryPolicy    = core.WithRetryPolicy
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
