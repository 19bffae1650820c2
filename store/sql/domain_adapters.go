package sqlstore

import (
	"database/sql"
	"time"

	"github.com/gallerio/go-storage/core"
)

func (r *connectionRecord) toDomain() core.Connection {
	if r == nil {
		return core.Connection{}
	}
	return core.Connection{
		ID:          r.ID,
		UserID:      r.UserID,
		Provider:    r.Provider,
		Status:      core.ConnectionStatus(r.Status),
		ExpiresAt:   cloneTime(r.TokenExpiresAt),
		LastError:   r.LastError,
		LastErrorAt: cloneTime(r.LastErrorAt),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func (r *connectionRecord) toCredential() core.EncryptedCredential {
	if r == nil {
		return core.EncryptedCredential{}
	}
	return core.EncryptedCredential{
		AccessCiphertext:  append([]byte(nil), r.AccessCiphertext...),
		RefreshCiphertext: append([]byte(nil), r.RefreshCiphertext...),
		ExpiresAt:         cloneTime(r.TokenExpiresAt),
	}
}

func (r *connectionRecord) applyCredential(credential core.EncryptedCredential) {
	if r == nil {
		return
	}
	r.AccessCiphertext = append([]byte(nil), credential.AccessCiphertext...)
	r.RefreshCiphertext = append([]byte(nil), credential.RefreshCiphertext...)
	r.TokenExpiresAt = cloneTime(credential.ExpiresAt)
}

func (r *rootFolderRecord) toDomain() core.RootFolder {
	if r == nil {
		return core.RootFolder{}
	}
	return core.RootFolder{
		ID:               r.ID,
		UserID:           r.UserID,
		Provider:         r.Provider,
		ProviderFolderID: r.ProviderFolderID,
		CreatedAt:        r.CreatedAt,
	}
}

func (r *folderMappingRecord) toDomain() core.FolderMapping {
	if r == nil {
		return core.FolderMapping{}
	}
	return core.FolderMapping{
		ID:               r.ID,
		GalleryID:        r.GalleryID,
		Provider:         r.Provider,
		ProviderFolderID: r.ProviderFolderID,
		ParentFolderID:   r.ParentFolderID,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func (r *photoRecord) toDomain() core.Photo {
	if r == nil {
		return core.Photo{}
	}
	return core.Photo{
		ID:             r.ID,
		GalleryID:      r.GalleryID,
		UserID:         r.UserID,
		Provider:       r.Provider,
		ProviderFileID: r.ProviderFileID,
		Name:           r.Name,
		MimeType:       r.MimeType,
		FileSize:       r.FileSize,
		URL:            r.URL,
		EditedAt:       cloneTime(r.EditedAt),
		DeletedAt:      cloneTime(r.DeletedAt),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func (r *syncStateRecord) toDomain() core.SyncState {
	if r == nil {
		return core.SyncState{}
	}
	return core.SyncState{
		ID:            r.ID,
		UserID:        r.UserID,
		Provider:      r.Provider,
		LastSyncToken: r.LastSyncToken,
		LastSyncAt:    cloneTime(r.LastSyncAt),
		Phase:         core.SyncPhase(r.Phase),
		UpdatedAt:     r.UpdatedAt,
	}
}

func (r *shareLinkRecord) toDomain() core.ShareLink {
	if r == nil {
		return core.ShareLink{}
	}
	return core.ShareLink{
		ID:           r.ID,
		GalleryID:    r.GalleryID,
		Token:        r.Token,
		PasswordHash: r.PasswordHash,
		PasswordSalt: r.PasswordSalt,
		ExpiresAt:    cloneTime(r.ExpiresAt),
		RevokedAt:    cloneTime(r.RevokedAt),
		CreatedAt:    r.CreatedAt,
	}
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	utc := value.UTC()
	return &utc
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

// inserted reports whether an ON CONFLICT DO NOTHING insert actually wrote a
// row. Conflicting inserts must not raise a statement error: on Postgres a
// failed statement aborts the surrounding transaction and any recovery select
// would fail with it.
func inserted(result sql.Result) bool {
	if result == nil {
		return false
	}
	affected, err := result.RowsAffected()
	return err == nil && affected > 0
}
