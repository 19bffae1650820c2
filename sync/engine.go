package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gallerio/go-storage/core"
	glog "github.com/goliatone/go-logger/glog"
)

// DefaultMaxPages bounds how many change-feed pages one sync pass consumes
// so a huge backlog cannot pin a worker; the persisted token resumes the
// remainder on the next pass.
const DefaultMaxPages = 25

// Engine reconciles provider change feeds into the relational store. One
// pass per (user, provider) walks the state machine
// needs_full_sync -> polling -> reconciling -> idle, persisting the
// continuation token after every applied page so a crash never replays more
// than one page.
type Engine struct {
	service     *core.Service
	connections core.ConnectionStore
	syncStates  core.SyncStateStore
	photos      core.PhotoStore
	folders     core.FolderStore
	governor    core.RateGovernor
	cache       core.GalleryCache
	audit       core.AuditRecorder
	logger      glog.Logger
	maxPages    int
	now         func() time.Time
}

type Config struct {
	Service     *core.Service
	Connections core.ConnectionStore
	SyncStates  core.SyncStateStore
	Photos      core.PhotoStore
	Folders     core.FolderStore
	Governor    core.RateGovernor
	Cache       core.GalleryCache
	Audit       core.AuditRecorder
	Logger      glog.Logger
	MaxPages    int
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("sync: core service is required")
	}
	if cfg.Connections == nil {
		return nil, fmt.Errorf("sync: connection store is required")
	}
	if cfg.SyncStates == nil {
		return nil, fmt.Errorf("sync: sync state store is required")
	}
	if cfg.Photos == nil {
		return nil, fmt.Errorf("sync: photo store is required")
	}
	if cfg.Folders == nil {
		return nil, fmt.Errorf("sync: folder store is required")
	}

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &Engine{
		service:     cfg.Service,
		connections: cfg.Connections,
		syncStates:  cfg.SyncStates,
		photos:      cfg.Photos,
		folders:     cfg.Folders,
		governor:    cfg.Governor,
		cache:       cfg.Cache,
		audit:       cfg.Audit,
		logger:      glog.Ensure(cfg.Logger),
		maxPages:    maxPages,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// SyncAll runs one pass over every active connection. A failing connection
// is logged and skipped; the pass continues so one broken provider cannot
// stall everyone else's sync.
func (e *Engine) SyncAll(ctx context.Context) error {
	if e == nil {
		return fmt.Errorf("sync: engine is not configured")
	}
	connections, err := e.connections.ListActive(ctx)
	if err != nil {
		return err
	}

	var failures int
	for _, connection := range connections {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.SyncUser(ctx, connection.UserID, connection.Provider); err != nil {
			failures++
			e.logger.Warn("sync pass failed for connection",
				"user_id", connection.UserID,
				"provider", connection.Provider,
				"error", err,
			)
		}
	}
	if failures > 0 {
		return fmt.Errorf("sync: %d of %d connections failed", failures, len(connections))
	}
	return nil
}

// SyncUser runs one sync pass for a single (user, provider) pair.
func (e *Engine) SyncUser(ctx context.Context, userID string, provider string) error {
	if e == nil {
		return fmt.Errorf("sync: engine is not configured")
	}
	userID = strings.TrimSpace(userID)
	provider = strings.TrimSpace(provider)
	if userID == "" || provider == "" {
		return core.NewValidationError("user id and provider are required")
	}

	connection, err := e.connections.Get(ctx, userID, provider)
	if err != nil {
		return err
	}
	if connection.Status != core.ConnectionStatusActive {
		return core.NewAuthExpiredError("sync: connection is not active; reconnect required")
	}

	state := e.loadState(ctx, userID, provider)
	cursor := state.LastSyncToken

	adapter, err := e.service.Registry().Resolve(provider)
	if err != nil {
		return err
	}
	token, err := e.service.GetValidToken(ctx, userID, provider)
	if err != nil {
		return err
	}

	if err := e.transition(ctx, userID, provider, cursor, state.LastSyncAt, core.SyncPhasePolling); err != nil {
		return err
	}

	for page := 0; page < e.maxPages; page++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Sync is best effort: when the governor denies admission the
		// pass parks instead of blocking, so uploads keep their quota.
		if skip, err := e.denied(ctx, provider); err != nil {
			return err
		} else if skip {
			e.logger.Info("sync deferred by rate governor", "user_id", userID, "provider", provider)
			return e.transition(ctx, userID, provider, cursor, state.LastSyncAt, core.SyncPhaseIdle)
		}

		changePage, err := adapter.PollChanges(ctx, token.AccessToken, cursor)
		e.recordPoll(ctx, provider, err)
		if err != nil {
			if failErr := e.transition(ctx, userID, provider, cursor, state.LastSyncAt, core.SyncPhaseIdle); failErr != nil {
				e.logger.Warn("sync state save failed after poll error", "error", failErr)
			}
			return err
		}

		if len(changePage.Changes) > 0 {
			if err := e.transition(ctx, userID, provider, cursor, state.LastSyncAt, core.SyncPhaseReconciling); err != nil {
				return err
			}
			for _, change := range changePage.Changes {
				if err := e.applyChange(ctx, connection, state, change); err != nil {
					return err
				}
			}
		}

		next := strings.TrimSpace(changePage.NextToken)
		if next != "" && next != cursor {
			cursor = next
			// Token persisted per page; replaying at most one page after
			// a crash keeps the idempotent handlers safe.
			if err := e.transition(ctx, userID, provider, cursor, state.LastSyncAt, core.SyncPhaseReconciling); err != nil {
				return err
			}
			if len(changePage.Changes) > 0 {
				continue
			}
		}
		break
	}

	syncedAt := e.now()
	return e.transition(ctx, userID, provider, cursor, &syncedAt, core.SyncPhaseIdle)
}

func (e *Engine) loadState(ctx context.Context, userID string, provider string) core.SyncState {
	state, err := e.syncStates.Get(ctx, userID, provider)
	if err != nil {
		if !core.IsNotFound(err) {
			e.logger.Warn("sync state read failed; forcing full sync", "error", err)
		}
		return core.SyncState{
			UserID:   userID,
			Provider: provider,
			Phase:    core.SyncPhaseNeedsFullSync,
		}
	}
	return state
}

func (e *Engine) transition(ctx context.Context, userID string, provider string, token string, syncedAt *time.Time, phase core.SyncPhase) error {
	_, err := e.syncStates.Upsert(ctx, core.UpsertSyncStateInput{
		UserID:        userID,
		Provider:      provider,
		LastSyncToken: token,
		LastSyncAt:    syncedAt,
		Phase:         phase,
	})
	return err
}

func (e *Engine) denied(ctx context.Context, provider string) (bool, error) {
	if e.governor == nil {
		return false, nil
	}
	inBackoff, _, err := e.governor.IsInBackoff(ctx, provider)
	if err != nil {
		return false, err
	}
	if inBackoff {
		return true, nil
	}
	allowed, err := e.governor.CanMakeRequest(ctx, provider, core.OperationClassSync)
	if err != nil {
		return false, err
	}
	return !allowed, nil
}

func (e *Engine) recordPoll(ctx context.Context, provider string, pollErr error) {
	if e.governor == nil {
		return
	}
	if pollErr == nil {
		// Only completed polls consume quota; a rejected call must not
		// count against the window or clear an active backoff.
		if err := e.governor.RecordRequest(ctx, provider, core.OperationClassSync); err != nil {
			e.logger.Warn("rate accounting failed for sync poll", "provider", provider, "error", err)
		}
		return
	}
	if core.IsRateLimited(pollErr) {
		retryAfter, _ := core.RetryAfterHint(pollErr)
		if err := e.governor.RecordThrottle(ctx, provider, core.OperationClassSync, retryAfter); err != nil {
			e.logger.Warn("throttle accounting failed", "provider", provider, "error", err)
		}
	}
}

func (e *Engine) applyChange(ctx context.Context, connection core.Connection, state core.SyncState, change core.ChangeEvent) error {
	if change.IsFolder {
		return e.applyFolderChange(ctx, connection, change)
	}

	switch change.Kind {
	case core.ChangeKindDeleted:
		return e.handleFileDeleted(ctx, connection, change)
	case core.ChangeKindRenamed:
		return e.handleFileRenamed(ctx, connection, state, change)
	default:
		return e.handleFileUpserted(ctx, connection, state, change)
	}
}

func (e *Engine) applyFolderChange(ctx context.Context, connection core.Connection, change core.ChangeEvent) error {
	if change.Kind == core.ChangeKindDeleted || strings.TrimSpace(change.ParentID) == "" {
		return nil
	}
	mapping, err := e.folders.GetMappingByProviderFolder(ctx, connection.Provider, change.FileID)
	if err != nil {
		if core.IsNotFound(err) {
			// Folder outside the gallery tree; nothing local to move.
			return nil
		}
		return err
	}
	if mapping.ParentFolderID == change.ParentID {
		return nil
	}
	return e.folders.UpdateMappingParent(ctx, mapping.GalleryID, connection.Provider, change.ParentID)
}

func (e *Engine) handleFileDeleted(ctx context.Context, connection core.Connection, change core.ChangeEvent) error {
	photo, err := e.photos.GetByProviderFile(ctx, connection.Provider, change.FileID)
	if err != nil {
		if core.IsNotFound(err) {
			return nil
		}
		return err
	}

	deletedAt := e.now()
	if change.ModifiedAt != nil {
		deletedAt = change.ModifiedAt.UTC()
	}
	changed, err := e.photos.MarkDeleted(ctx, connection.Provider, change.FileID, deletedAt)
	if err != nil {
		return err
	}
	if !changed {
		// Second sighting of the same deletion; no audit row, no churn.
		return nil
	}

	e.invalidate(ctx, photo.GalleryID, photo.ID)
	if e.audit != nil {
		e.audit.LogFileOperation(ctx, connection.UserID, "sync.file.delete", change.FileID, "success", map[string]any{
			"provider": connection.Provider,
		})
	}
	return nil
}

func (e *Engine) handleFileRenamed(ctx context.Context, connection core.Connection, state core.SyncState, change core.ChangeEvent) error {
	photo, err := e.photos.GetByProviderFile(ctx, connection.Provider, change.FileID)
	if err != nil {
		if core.IsNotFound(err) {
			return e.handleFileUpserted(ctx, connection, state, change)
		}
		return err
	}
	if e.isConflict(photo, state) {
		e.logConflict(ctx, connection, change)
		return nil
	}
	if photo.Name == change.Name || strings.TrimSpace(change.Name) == "" {
		return nil
	}
	if err := e.photos.Rename(ctx, connection.Provider, change.FileID, change.Name); err != nil {
		return err
	}
	e.invalidate(ctx, photo.GalleryID, photo.ID)
	return nil
}

func (e *Engine) handleFileUpserted(ctx context.Context, connection core.Connection, state core.SyncState, change core.ChangeEvent) error {
	existing, err := e.photos.GetByProviderFile(ctx, connection.Provider, change.FileID)
	if err != nil && !core.IsNotFound(err) {
		return err
	}

	if err == nil {
		if e.isConflict(existing, state) {
			e.logConflict(ctx, connection, change)
			return nil
		}
		updated, upsertErr := e.photos.Upsert(ctx, core.UpsertPhotoInput{
			Provider:       connection.Provider,
			ProviderFileID: change.FileID,
			Name:           pickName(change.Name, existing.Name),
			MimeType:       change.MimeType,
			FileSize:       change.Size,
		})
		if upsertErr != nil {
			return upsertErr
		}
		e.invalidate(ctx, updated.GalleryID, updated.ID)
		return nil
	}

	// New remote file: only adopt it when it lives under a mapped gallery
	// folder; anything else in the account is not ours to track. Some change
	// feeds only report the parent reference, so fall back to it.
	folderID := strings.TrimSpace(change.FolderID)
	if folderID == "" {
		folderID = strings.TrimSpace(change.ParentID)
	}
	if folderID == "" {
		return nil
	}
	mapping, err := e.folders.GetMappingByProviderFolder(ctx, connection.Provider, folderID)
	if err != nil {
		if core.IsNotFound(err) {
			return nil
		}
		return err
	}

	created, err := e.photos.Upsert(ctx, core.UpsertPhotoInput{
		GalleryID:      mapping.GalleryID,
		UserID:         connection.UserID,
		Provider:       connection.Provider,
		ProviderFileID: change.FileID,
		Name:           pickName(change.Name, change.FileID),
		MimeType:       change.MimeType,
		FileSize:       change.Size,
	})
	if err != nil {
		return err
	}
	e.invalidate(ctx, created.GalleryID, created.ID)
	return nil
}

// isConflict reports whether the local row was edited after the last
// completed sync; remote changes to such rows are surfaced, not applied.
func (e *Engine) isConflict(photo core.Photo, state core.SyncState) bool {
	if photo.EditedAt == nil {
		return false
	}
	if state.LastSyncAt == nil {
		return true
	}
	return photo.EditedAt.After(*state.LastSyncAt)
}

func (e *Engine) logConflict(ctx context.Context, connection core.Connection, change core.ChangeEvent) {
	e.logger.Warn("sync conflict: remote change to locally edited photo",
		"user_id", connection.UserID,
		"provider", connection.Provider,
		"file_id", change.FileID,
	)
	if e.audit != nil {
		e.audit.LogConflict(ctx, connection.UserID, connection.Provider, change.FileID, map[string]any{
			"kind": string(change.Kind),
			"name": change.Name,
		})
	}
}

func (e *Engine) invalidate(ctx context.Context, galleryID string, photoID string) {
	if e.cache == nil {
		return
	}
	if strings.TrimSpace(galleryID) != "" {
		if err := e.cache.InvalidateGalleryPhotos(ctx, galleryID); err != nil {
			e.logger.Warn("gallery cache invalidation failed", "gallery_id", galleryID, "error", err)
		}
	}
	if strings.TrimSpace(photoID) != "" {
		if err := e.cache.InvalidateFileURL(ctx, photoID); err != nil {
			e.logger.Warn("file url cache invalidation failed", "photo_id", photoID, "error", err)
		}
	}
}

func pickName(candidates ...string) string {
	for _, candidate := range candidates {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
