package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type connectionRecord struct {
	bun.BaseModel `bun:"table:storage_connections,alias:sc"`

	ID                string     `bun:"id,pk"`
	UserID            string     `bun:"user_id,notnull"`
	Provider          string     `bun:"provider,notnull"`
	AccessCiphertext  []byte     `bun:"access_token_ciphertext,notnull"`
	RefreshCiphertext []byte     `bun:"refresh_token_ciphertext"`
	TokenExpiresAt    *time.Time `bun:"token_expires_at,nullzero"`
	Status            string     `bun:"status,notnull"`
	LastError         string     `bun:"last_error"`
	LastErrorAt       *time.Time `bun:"last_error_at,nullzero"`
	CreatedAt         time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type rootFolderRecord struct {
	bun.BaseModel `bun:"table:storage_root_folders,alias:srf"`

	ID               string    `bun:"id,pk"`
	UserID           string    `bun:"user_id,notnull"`
	Provider         string    `bun:"provider,notnull"`
	ProviderFolderID string    `bun:"provider_folder_id,notnull"`
	CreatedAt        time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type folderMappingRecord struct {
	bun.BaseModel `bun:"table:storage_folder_mappings,alias:sfm"`

	ID               string    `bun:"id,pk"`
	GalleryID        string    `bun:"gallery_id,notnull"`
	Provider         string    `bun:"provider,notnull"`
	ProviderFolderID string    `bun:"provider_folder_id,notnull"`
	ParentFolderID   string    `bun:"parent_folder_id"`
	CreatedAt        time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type photoRecord struct {
	bun.BaseModel `bun:"table:storage_photos,alias:sp"`

	ID             string     `bun:"id,pk"`
	GalleryID      string     `bun:"gallery_id,notnull"`
	UserID         string     `bun:"user_id,notnull"`
	Provider       string     `bun:"provider,notnull"`
	ProviderFileID string     `bun:"provider_file_id,notnull"`
	Name           string     `bun:"name,notnull"`
	MimeType       string     `bun:"mime_type"`
	FileSize       int64      `bun:"file_size"`
	URL            string     `bun:"url"`
	EditedAt       *time.Time `bun:"edited_at,nullzero"`
	DeletedAt      *time.Time `bun:"deleted_at,nullzero"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type syncStateRecord struct {
	bun.BaseModel `bun:"table:storage_sync_states,alias:sss"`

	ID            string     `bun:"id,pk"`
	UserID        string     `bun:"user_id,notnull"`
	Provider      string     `bun:"provider,notnull"`
	LastSyncToken string     `bun:"last_sync_token"`
	LastSyncAt    *time.Time `bun:"last_sync_at,nullzero"`
	Phase         string     `bun:"phase,notnull"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type shareLinkRecord struct {
	bun.BaseModel `bun:"table:storage_share_links,alias:ssl"`

	ID           string     `bun:"id,pk"`
	GalleryID    string     `bun:"gallery_id,notnull"`
	Token        string     `bun:"token,notnull"`
	PasswordHash string     `bun:"password_hash"`
	PasswordSalt string     `bun:"password_salt"`
	ExpiresAt    *time.Time `bun:"expires_at,nullzero"`
	RevokedAt    *time.Time `bun:"revoked_at,nullzero"`
	CreatedAt    time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type auditEntryRecord struct {
	bun.BaseModel `bun:"table:storage_audit_entries,alias:sae"`

	ID           string         `bun:"id,pk"`
	UserID       string         `bun:"user_id,notnull"`
	Action       string         `bun:"action,notnull"`
	ResourceType string         `bun:"resource_type,notnull"`
	ResourceID   string         `bun:"resource_id"`
	Outcome      string         `bun:"outcome,notnull"`
	Metadata     map[string]any `bun:"metadata,type:jsonb"`
	IPAddress    string         `bun:"ip_address"`
	CreatedAt    time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type rateWindowRecord struct {
	bun.BaseModel `bun:"table:storage_rate_windows,alias:srw"`

	ID        string    `bun:"id,pk"`
	Provider  string    `bun:"provider,notnull"`
	Class     string    `bun:"class,notnull"`
	HourStart time.Time `bun:"hour_start,notnull"`
	HourCount int       `bun:"hour_count,notnull"`
	DayStart  time.Time `bun:"day_start,notnull"`
	DayCount  int       `bun:"day_count,notnull"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type rateBackoffRecord struct {
	bun.BaseModel `bun:"table:storage_rate_backoffs,alias:srb"`

	ID        string     `bun:"id,pk"`
	Provider  string     `bun:"provider,notnull"`
	Attempts  int        `bun:"attempts,notnull"`
	Until     *time.Time `bun:"until,nullzero"`
	UpdatedAt time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
