package core

import (
	"fmt"
	"strings"
	"time"
)

type ConnectionStatus string

const (
	ConnectionStatusActive       ConnectionStatus = "active"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusError        ConnectionStatus = "error"
)

// Connection is the durable record of one (user, provider) link. Credential
// ciphertext never travels on this struct; the vault reads it through
// EncryptedCredential.
type Connection struct {
	ID          string
	UserID      string
	Provider    string
	Status      ConnectionStatus
	ExpiresAt   *time.Time
	LastError   string
	LastErrorAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EncryptedCredential carries the sealed token material as persisted.
type EncryptedCredential struct {
	AccessCiphertext  []byte
	RefreshCiphertext []byte
	ExpiresAt         *time.Time
}

// ActiveToken is a decrypted credential. It exists only in memory, inside
// the vault and the call paths that need the access token.
type ActiveToken struct {
	UserID       string
	Provider     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// RefreshedToken is what a provider hands back from a token refresh. An
// empty RefreshToken means the provider kept the old one valid.
type RefreshedToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

type RootFolder struct {
	ID               string
	UserID           string
	Provider         string
	ProviderFolderID string
	CreatedAt        time.Time
}

type FolderMapping struct {
	ID               string
	GalleryID        string
	Provider         string
	ProviderFolderID string
	ParentFolderID   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type SyncPhase string

const (
	SyncPhaseNeedsFullSync SyncPhase = "needs_full_sync"
	SyncPhasePolling       SyncPhase = "polling"
	SyncPhaseReconciling   SyncPhase = "reconciling"
	SyncPhaseIdle          SyncPhase = "idle"
)

type SyncState struct {
	ID            string
	UserID        string
	Provider      string
	LastSyncToken string
	LastSyncAt    *time.Time
	Phase         SyncPhase
	UpdatedAt     time.Time
}

type Photo struct {
	ID             string
	GalleryID      string
	UserID         string
	Provider       string
	ProviderFileID string
	Name           string
	MimeType       string
	FileSize       int64
	URL            string
	// EditedAt tracks local metadata edits; the sync engine compares it
	// against the last sync timestamp to detect divergent state.
	EditedAt  *time.Time
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Folder struct {
	ID       string
	Name     string
	ParentID string
}

type FileMetadata struct {
	ID       string
	Name     string
	MimeType string
	Size     int64
	URL      string
}

type ChangeKind string

const (
	ChangeKindCreated  ChangeKind = "created"
	ChangeKindModified ChangeKind = "modified"
	ChangeKindDeleted  ChangeKind = "deleted"
	ChangeKindRenamed  ChangeKind = "renamed"
	ChangeKindMoved    ChangeKind = "moved"
)

type ChangeEvent struct {
	Kind       ChangeKind
	FileID     string
	Name       string
	MimeType   string
	Size       int64
	FolderID   string
	ParentID   string
	IsFolder   bool
	ModifiedAt *time.Time
}

// ChangePage is one page of a provider change feed. An empty NextToken means
// the feed is drained for now; the caller persists the token it already has.
type ChangePage struct {
	Changes   []ChangeEvent
	NextToken string
}

type ShareLink struct {
	ID           string
	GalleryID    string
	Token        string
	PasswordHash string
	PasswordSalt string
	ExpiresAt    *time.Time
	RevokedAt    *time.Time
	CreatedAt    time.Time
}

type AuditEntry struct {
	ID           string
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	Outcome      string
	Metadata     map[string]any
	IPAddress    string
	CreatedAt    time.Time
}

// ProviderInfo is the public descriptor surfaced to the CRUD layer.
type ProviderInfo struct {
	ID   string
	Name string
}

// RateUsage is a point-in-time snapshot of one provider window.
type RateUsage struct {
	Provider       string
	OperationClass string
	HourUsed       int
	HourLimit      int
	DayUsed        int
	DayLimit       int
	BackoffUntil   *time.Time
}

func (s ConnectionStatus) Valid() bool {
	switch s {
	case ConnectionStatusActive, ConnectionStatusDisconnected, ConnectionStatusError:
		return true
	}
	return false
}

func (p SyncPhase) Valid() bool {
	switch p {
	case SyncPhaseNeedsFullSync, SyncPhasePolling, SyncPhaseReconciling, SyncPhaseIdle:
		return true
	}
	return false
}

func (c Connection) Key() string {
	return strings.TrimSpace(c.UserID) + "|" + strings.TrimSpace(c.Provider)
}

func validateUserProvider(userID string, provider string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("core: user id is required")
	}
	if strings.TrimSpace(provider) == "" {
		return fmt.Errorf("core: provider is required")
	}
	return nil
}

func copyAnyMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
