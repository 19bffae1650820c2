package core

import (
	"context"
	"io"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

// UploadRequest is the single-request upload path, used for payloads below
// the resumable threshold.
type UploadRequest struct {
	Bytes    []byte
	Name     string
	MimeType string
	FolderID string
}

// ResumableUploadRequest streams a payload in chunks; Size must be the exact
// byte length of the stream.
type ResumableUploadRequest struct {
	Stream   io.Reader
	Name     string
	MimeType string
	Size     int64
	FolderID string
}

// StorageProvider is the capability contract every back-end satisfies.
// Callers depend on this interface only; adding a back-end never touches
// upload or sync orchestration. All operations take a decrypted access
// token; adapters normalize provider failures into the shared taxonomy
// before returning.
type StorageProvider interface {
	ID() string
	Name() string

	CreateFolder(ctx context.Context, accessToken string, name string, parentID string) (Folder, error)
	UploadFile(ctx context.Context, accessToken string, req UploadRequest) (FileMetadata, error)
	UploadFileResumable(ctx context.Context, accessToken string, req ResumableUploadRequest) (FileMetadata, error)
	GetFile(ctx context.Context, accessToken string, fileID string) (FileMetadata, error)
	DeleteFile(ctx context.Context, accessToken string, fileID string) error
	GetFileURL(ctx context.Context, accessToken string, fileID string) (string, error)

	RefreshAccessToken(ctx context.Context, refreshToken string) (RefreshedToken, error)

	// PollChanges returns the next page of change events. An empty
	// continuation token asks for a listing of the current state.
	PollChanges(ctx context.Context, accessToken string, continuationToken string) (ChangePage, error)
}

// Registry resolves provider adapters by id.
type Registry interface {
	Register(provider StorageProvider) error
	Resolve(providerID string) (StorageProvider, error)
	List() []StorageProvider
}

// SecretProvider seals and opens credential material. Ciphertext is
// self-describing; decryption needs no side-channel state.
type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type UpsertConnectionInput struct {
	UserID     string
	Provider   string
	Credential EncryptedCredential
	Status     ConnectionStatus
}

type ConnectionStore interface {
	// Upsert creates the (user, provider) connection or replaces its
	// credential material, reactivating a disconnected row.
	Upsert(ctx context.Context, in UpsertConnectionInput) (Connection, error)
	Get(ctx context.Context, userID string, provider string) (Connection, error)
	GetCredential(ctx context.Context, connectionID string) (EncryptedCredential, error)
	SaveCredential(ctx context.Context, connectionID string, credential EncryptedCredential) error
	UpdateStatus(ctx context.Context, connectionID string, status ConnectionStatus, reason string) error
	ListByUser(ctx context.Context, userID string) ([]Connection, error)
	ListActive(ctx context.Context) ([]Connection, error)
}

type EnsureRootFolderInput struct {
	UserID           string
	Provider         string
	ProviderFolderID string
}

type EnsureFolderMappingInput struct {
	GalleryID        string
	Provider         string
	ProviderFolderID string
	ParentFolderID   string
}

type FolderStore interface {
	GetRootFolder(ctx context.Context, userID string, provider string) (RootFolder, error)
	// EnsureRootFolder inserts the row or, on a unique violation, returns
	// the row the concurrent winner inserted.
	EnsureRootFolder(ctx context.Context, in EnsureRootFolderInput) (RootFolder, error)
	GetMapping(ctx context.Context, galleryID string, provider string) (FolderMapping, error)
	// GetMappingByProviderFolder resolves which gallery a provider folder
	// backs; sync handlers use it to route change events.
	GetMappingByProviderFolder(ctx context.Context, provider string, providerFolderID string) (FolderMapping, error)
	EnsureMapping(ctx context.Context, in EnsureFolderMappingInput) (FolderMapping, error)
	UpdateMappingParent(ctx context.Context, galleryID string, provider string, parentFolderID string) error
}

type UpsertPhotoInput struct {
	GalleryID      string
	UserID         string
	Provider       string
	ProviderFileID string
	Name           string
	MimeType       string
	FileSize       int64
	URL            string
}

type PhotoStore interface {
	// Upsert is keyed by (provider, provider_file_id); reapplying the same
	// change feed batch must not duplicate rows.
	Upsert(ctx context.Context, in UpsertPhotoInput) (Photo, error)
	Get(ctx context.Context, id string) (Photo, error)
	GetByProviderFile(ctx context.Context, provider string, providerFileID string) (Photo, error)
	ListByGallery(ctx context.Context, galleryID string) ([]Photo, error)
	Rename(ctx context.Context, provider string, providerFileID string, name string) error
	// MarkDeleted reports false when the photo was already deleted, so
	// callers can suppress duplicate audit entries.
	MarkDeleted(ctx context.Context, provider string, providerFileID string, at time.Time) (bool, error)
	TouchEdited(ctx context.Context, id string, at time.Time) error
}

type UpsertSyncStateInput struct {
	UserID        string
	Provider      string
	LastSyncToken string
	LastSyncAt    *time.Time
	Phase         SyncPhase
}

type SyncStateStore interface {
	Get(ctx context.Context, userID string, provider string) (SyncState, error)
	Upsert(ctx context.Context, in UpsertSyncStateInput) (SyncState, error)
}

type CreateShareLinkInput struct {
	GalleryID    string
	Token        string
	PasswordHash string
	PasswordSalt string
	ExpiresAt    *time.Time
}

type ShareLinkStore interface {
	Create(ctx context.Context, in CreateShareLinkInput) (ShareLink, error)
	GetByToken(ctx context.Context, token string) (ShareLink, error)
	Revoke(ctx context.Context, id string, at time.Time) error
}

type AuditStore interface {
	Append(ctx context.Context, entry AuditEntry) error
}

// AuditRecorder is the never-fails logging surface; implementations swallow
// store errors after reporting them on a fallback channel.
type AuditRecorder interface {
	LogConnection(ctx context.Context, userID string, provider string, outcome string, metadata map[string]any)
	LogFileOperation(ctx context.Context, userID string, action string, fileID string, outcome string, metadata map[string]any)
	LogShareOperation(ctx context.Context, userID string, action string, shareID string, outcome string, metadata map[string]any)
	LogError(ctx context.Context, userID string, action string, cause error, metadata map[string]any)
	LogConflict(ctx context.Context, userID string, provider string, fileID string, metadata map[string]any)
}

// OperationClass partitions quota accounting so best-effort sync polling
// never starves uploads.
type OperationClass string

const (
	OperationClassUpload OperationClass = "upload"
	OperationClassSync   OperationClass = "sync"
	OperationClassAPI    OperationClass = "api"
)

// RateGovernor is implemented by the ratelimit package.
type RateGovernor interface {
	CanMakeRequest(ctx context.Context, provider string, class OperationClass) (bool, error)
	RecordRequest(ctx context.Context, provider string, class OperationClass) error
	RecordThrottle(ctx context.Context, provider string, class OperationClass, retryAfter time.Duration) error
	IsInBackoff(ctx context.Context, provider string) (bool, *time.Time, error)
	Usage(ctx context.Context, provider string) ([]RateUsage, error)
}

// GalleryCache is the cache-aside surface consumed by the service; the
// cache package implements it over a repository-cache service. Reads that
// fail inside the cache degrade to the relational store.
type GalleryCache interface {
	GetGalleryPhotos(ctx context.Context, galleryID string, fetch func(context.Context) ([]Photo, error)) ([]Photo, error)
	InvalidateGalleryPhotos(ctx context.Context, galleryID string) error
	GetFileURL(ctx context.Context, fileID string, fetch func(context.Context) (string, error)) (string, error)
	InvalidateFileURL(ctx context.Context, fileID string) error
	GetProviders(ctx context.Context, userID string, fetch func(context.Context) ([]ProviderInfo, error)) ([]ProviderInfo, error)
	InvalidateProviders(ctx context.Context, userID string) error
}
