// Package dropbox adapts the Dropbox v2 API to the storage provider
// contract. Folders are addressed by path and files by their "id:" handle,
// both opaque to callers.
package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gallerio/go-storage/core"
	"github.com/gallerio/go-storage/providers"
)

const (
	ProviderID   = "dropbox"
	providerName = "Dropbox"

	defaultAPIBase     = "https://api.dropboxapi.com/2"
	defaultContentBase = "https://content.dropboxapi.com/2"
	defaultTokenURL    = "https://api.dropboxapi.com/oauth2/token"
)

type Config struct {
	ClientID     string
	ClientSecret string
	// APIBase, ContentBase, and TokenURL are overridable for tests.
	APIBase     string
	ContentBase string
	TokenURL    string
	ChunkSize   int64
	Retry       core.RetryPolicy
	HTTPClient  providers.HTTPDoer
}

type Provider struct {
	cfg    Config
	client providers.Client
}

func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("dropbox: client id is required")
	}
	if cfg.APIBase = strings.TrimSpace(cfg.APIBase); cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.ContentBase = strings.TrimSpace(cfg.ContentBase); cfg.ContentBase == "" {
		cfg.ContentBase = defaultContentBase
	}
	if cfg.TokenURL = strings.TrimSpace(cfg.TokenURL); cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = providers.DefaultChunkSize
	}
	return &Provider{
		cfg:    cfg,
		client: providers.NewClient(ProviderID, cfg.HTTPClient),
	}, nil
}

func (p *Provider) ID() string   { return ProviderID }
func (p *Provider) Name() string { return providerName }

type entryMetadata struct {
	Tag            string `json:".tag"`
	ID             string `json:"id"`
	Name           string `json:"name"`
	PathLower      string `json:"path_lower"`
	PathDisplay    string `json:"path_display"`
	Size           int64  `json:"size"`
	ServerModified string `json:"server_modified"`
}

func (p *Provider) CreateFolder(ctx context.Context, accessToken string, name string, parentID string) (core.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Folder{}, core.NewValidationError("dropbox: folder name is required")
	}
	path := joinPath(parentID, name)
	req, err := p.client.NewJSONRequest(ctx, http.MethodPost, p.cfg.APIBase+"/files/create_folder_v2", accessToken, map[string]any{
		"path":       path,
		"autorename": false,
	})
	if err != nil {
		return core.Folder{}, err
	}

	var payload struct {
		Metadata entryMetadata `json:"metadata"`
	}
	if err := p.client.DoJSON(req, &payload); err != nil {
		// Re-creating an existing folder is not a failure; callers treat
		// CreateFolder as ensure semantics.
		if isConflict(err, "path/conflict/folder") {
			return core.Folder{ID: path, Name: name, ParentID: strings.TrimSpace(parentID)}, nil
		}
		return core.Folder{}, normalizeRPCError(err)
	}
	folderID := strings.TrimSpace(payload.Metadata.PathDisplay)
	if folderID == "" {
		folderID = path
	}
	return core.Folder{ID: folderID, Name: payload.Metadata.Name, ParentID: strings.TrimSpace(parentID)}, nil
}

func (p *Provider) UploadFile(ctx context.Context, accessToken string, in core.UploadRequest) (core.FileMetadata, error) {
	if len(in.Bytes) == 0 {
		return core.FileMetadata{}, core.NewValidationError("dropbox: upload payload is empty")
	}
	req, err := p.newContentRequest(ctx, "/files/upload", accessToken, map[string]any{
		"path":       joinPath(in.FolderID, in.Name),
		"mode":       "add",
		"autorename": true,
	}, bytes.NewReader(in.Bytes), int64(len(in.Bytes)))
	if err != nil {
		return core.FileMetadata{}, err
	}

	var uploaded entryMetadata
	if err := p.client.DoJSON(req, &uploaded); err != nil {
		return core.FileMetadata{}, normalizeRPCError(err)
	}
	return toFileMetadata(uploaded, in.MimeType), nil
}

// UploadFileResumable streams the payload through an upload session:
// start, append per chunk, then finish with the commit path. A lost append
// answer is recovered from the incorrect_offset error Dropbox returns, so
// acknowledged bytes are never appended twice.
func (p *Provider) UploadFileResumable(ctx context.Context, accessToken string, in core.ResumableUploadRequest) (core.FileMetadata, error) {
	if in.Stream == nil || in.Size <= 0 {
		return core.FileMetadata{}, core.NewValidationError("dropbox: resumable upload requires a stream and size")
	}

	sessionID, err := p.startUploadSession(ctx, accessToken)
	if err != nil {
		return core.FileMetadata{}, err
	}

	var confirmedOffset int64
	var final core.FileMetadata
	session := providers.ResumableSession{
		ChunkSize: p.cfg.ChunkSize,
		Retry:     p.cfg.Retry,
		Send: func(ctx context.Context, chunk []byte, offset int64, totalSize int64, isLast bool) (providers.ChunkAck, error) {
			if isLast {
				metadata, finishErr := p.finishUploadSession(ctx, accessToken, sessionID, offset, chunk, in)
				if finishErr != nil {
					if corrected, ok := parseIncorrectOffset(finishErr); ok {
						confirmedOffset = corrected
						return providers.ChunkAck{}, core.NewTransientError("dropbox: session offset diverged", finishErr)
					}
					return providers.ChunkAck{}, finishErr
				}
				final = metadata
				return providers.ChunkAck{AckedBytes: totalSize, Done: true}, nil
			}

			appendErr := p.appendUploadSession(ctx, accessToken, sessionID, offset, chunk)
			if appendErr != nil {
				if corrected, ok := parseIncorrectOffset(appendErr); ok {
					confirmedOffset = corrected
					return providers.ChunkAck{}, core.NewTransientError("dropbox: session offset diverged", appendErr)
				}
				return providers.ChunkAck{}, appendErr
			}
			confirmedOffset = offset + int64(len(chunk))
			return providers.ChunkAck{AckedBytes: confirmedOffset}, nil
		},
		Probe: func(context.Context) (int64, error) {
			return confirmedOffset, nil
		},
	}
	if err := session.Run(ctx, in.Stream, in.Size); err != nil {
		return core.FileMetadata{}, err
	}
	if final.ID == "" {
		return core.FileMetadata{}, core.NewTransientError("dropbox: session finished without file metadata", nil)
	}
	return final, nil
}

func (p *Provider) startUploadSession(ctx context.Context, accessToken string) (string, error) {
	req, err := p.newContentRequest(ctx, "/files/upload_session/start", accessToken, map[string]any{
		"close": false,
	}, bytes.NewReader(nil), 0)
	if err != nil {
		return "", err
	}
	var payload struct {
		SessionID string `json:"session_id"`
	}
	if err := p.client.DoJSON(req, &payload); err != nil {
		return "", normalizeRPCError(err)
	}
	sessionID := strings.TrimSpace(payload.SessionID)
	if sessionID == "" {
		return "", core.NewTransientError("dropbox: empty upload session id", nil)
	}
	return sessionID, nil
}

func (p *Provider) appendUploadSession(ctx context.Context, accessToken string, sessionID string, offset int64, chunk []byte) error {
	req, err := p.newContentRequest(ctx, "/files/upload_session/append_v2", accessToken, map[string]any{
		"cursor": map[string]any{"session_id": sessionID, "offset": offset},
		"close":  false,
	}, bytes.NewReader(chunk), int64(len(chunk)))
	if err != nil {
		return err
	}
	return p.client.DoJSON(req, nil)
}

func (p *Provider) finishUploadSession(ctx context.Context, accessToken string, sessionID string, offset int64, chunk []byte, in core.ResumableUploadRequest) (core.FileMetadata, error) {
	req, err := p.newContentRequest(ctx, "/files/upload_session/finish", accessToken, map[string]any{
		"cursor": map[string]any{"session_id": sessionID, "offset": offset},
		"commit": map[string]any{
			"path":       joinPath(in.FolderID, in.Name),
			"mode":       "add",
			"autorename": true,
		},
	}, bytes.NewReader(chunk), int64(len(chunk)))
	if err != nil {
		return core.FileMetadata{}, err
	}
	var uploaded entryMetadata
	if err := p.client.DoJSON(req, &uploaded); err != nil {
		return core.FileMetadata{}, err
	}
	return toFileMetadata(uploaded, in.MimeType), nil
}

func (p *Provider) GetFile(ctx context.Context, accessToken string, fileID string) (core.FileMetadata, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return core.FileMetadata{}, core.NewValidationError("dropbox: file id is required")
	}
	req, err := p.client.NewJSONRequest(ctx, http.MethodPost, p.cfg.APIBase+"/files/get_metadata", accessToken, map[string]any{
		"path": fileID,
	})
	if err != nil {
		return core.FileMetadata{}, err
	}
	var metadata entryMetadata
	if err := p.client.DoJSON(req, &metadata); err != nil {
		return core.FileMetadata{}, normalizeRPCError(err)
	}
	return toFileMetadata(metadata, ""), nil
}

func (p *Provider) DeleteFile(ctx context.Context, accessToken string, fileID string) error {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return core.NewValidationError("dropbox: file id is required")
	}
	req, err := p.client.NewJSONRequest(ctx, http.MethodPost, p.cfg.APIBase+"/files/delete_v2", accessToken, map[string]any{
		"path": fileID,
	})
	if err != nil {
		return err
	}
	if err := p.client.DoJSON(req, nil); err != nil {
		return normalizeRPCError(err)
	}
	return nil
}

func (p *Provider) GetFileURL(ctx context.Context, accessToken string, fileID string) (string, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return "", core.NewValidationError("dropbox: file id is required")
	}
	req, err := p.client.NewJSONRequest(ctx, http.MethodPost, p.cfg.APIBase+"/files/get_temporary_link", accessToken, map[string]any{
		"path": fileID,
	})
	if err != nil {
		return "", err
	}
	var payload struct {
		Link string `json:"link"`
	}
	if err := p.client.DoJSON(req, &payload); err != nil {
		return "", normalizeRPCError(err)
	}
	link := strings.TrimSpace(payload.Link)
	if link == "" {
		return "", core.NewNotFoundError("dropbox: file has no temporary link")
	}
	return link, nil
}

func (p *Provider) RefreshAccessToken(ctx context.Context, refreshToken string) (core.RefreshedToken, error) {
	return providers.RefreshAccessToken(ctx, p.client, providers.TokenEndpointConfig{
		TokenURL:     p.cfg.TokenURL,
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
	}, refreshToken)
}

type listFolderPage struct {
	Entries []entryMetadata `json:"entries"`
	Cursor  string          `json:"cursor"`
	HasMore bool            `json:"has_more"`
}

// PollChanges walks the recursive folder listing. The first call without a
// cursor lists current state; later calls continue from the stored cursor
// and see only deltas.
func (p *Provider) PollChanges(ctx context.Context, accessToken string, continuationToken string) (core.ChangePage, error) {
	cursor := strings.TrimSpace(continuationToken)

	var req *http.Request
	var err error
	if cursor == "" {
		req, err = p.client.NewJSONRequest(ctx, http.MethodPost, p.cfg.APIBase+"/files/list_folder", accessToken, map[string]any{
			"path":            "",
			"recursive":       true,
			"include_deleted": true,
		})
	} else {
		req, err = p.client.NewJSONRequest(ctx, http.MethodPost, p.cfg.APIBase+"/files/list_folder/continue", accessToken, map[string]any{
			"cursor": cursor,
		})
	}
	if err != nil {
		return core.ChangePage{}, err
	}

	var page listFolderPage
	if err := p.client.DoJSON(req, &page); err != nil {
		return core.ChangePage{}, normalizeRPCError(err)
	}

	events := make([]core.ChangeEvent, 0, len(page.Entries))
	for _, entry := range page.Entries {
		event := core.ChangeEvent{
			FileID:   strings.TrimSpace(entry.ID),
			Name:     entry.Name,
			Size:     entry.Size,
			IsFolder: entry.Tag == "folder",
			ParentID: parentPath(entry.PathDisplay),
		}
		switch entry.Tag {
		case "deleted":
			event.Kind = core.ChangeKindDeleted
			// Deleted entries carry no id; the path is the only handle.
			if event.FileID == "" {
				event.FileID = strings.TrimSpace(entry.PathLower)
			}
		case "file", "folder":
			event.Kind = core.ChangeKindModified
			if entry.Tag == "file" {
				// Files report their containing folder so the sync engine
				// can route them to a mapped gallery.
				event.FolderID = event.ParentID
			}
			if at, parseErr := time.Parse(time.RFC3339, entry.ServerModified); parseErr == nil {
				utc := at.UTC()
				event.ModifiedAt = &utc
			}
		default:
			continue
		}
		if event.FileID == "" {
			continue
		}
		events = append(events, event)
	}
	return core.ChangePage{Changes: events, NextToken: strings.TrimSpace(page.Cursor)}, nil
}

// newContentRequest builds a content-endpoint request with the JSON argument
// in the Dropbox-API-Arg header and the raw payload as the body.
func (p *Provider) newContentRequest(ctx context.Context, path string, accessToken string, arg any, body io.Reader, contentLength int64) (*http.Request, error) {
	encodedArg, err := json.Marshal(arg)
	if err != nil {
		return nil, fmt.Errorf("dropbox: encode api arg: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.ContentBase+path, body)
	if err != nil {
		return nil, fmt.Errorf("dropbox: build content request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(accessToken))
	req.Header.Set("Dropbox-API-Arg", string(encodedArg))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = contentLength
	return req, nil
}

func joinPath(parent string, name string) string {
	parent = strings.TrimSuffix(strings.TrimSpace(parent), "/")
	name = strings.TrimSpace(name)
	if parent == "" {
		return "/" + name
	}
	if !strings.HasPrefix(parent, "/") {
		parent = "/" + parent
	}
	return parent + "/" + name
}

func parentPath(path string) string {
	path = strings.TrimSpace(path)
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return ""
	}
	return path[:idx]
}

func toFileMetadata(entry entryMetadata, mimeType string) core.FileMetadata {
	return core.FileMetadata{
		ID:       strings.TrimSpace(entry.ID),
		Name:     entry.Name,
		MimeType: strings.TrimSpace(mimeType),
		Size:     entry.Size,
	}
}

// isConflict matches a Dropbox 409 error summary fragment.
func isConflict(err error, fragment string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), fragment)
}

// normalizeRPCError upgrades Dropbox 409 path errors: a path/not_found
// summary means the target does not exist, not that the input was invalid.
func normalizeRPCError(err error) error {
	if err == nil {
		return nil
	}
	message := err.Error()
	if strings.Contains(message, "not_found") {
		return core.NewNotFoundError(message)
	}
	return err
}

// parseIncorrectOffset extracts the correct_offset Dropbox reports when an
// append raced a lost response.
func parseIncorrectOffset(err error) (int64, bool) {
	if err == nil {
		return 0, false
	}
	message := err.Error()
	marker := `"correct_offset":`
	idx := strings.Index(message, marker)
	if idx < 0 {
		return 0, false
	}
	rest := message[idx+len(marker):]
	var offset int64
	if _, scanErr := fmt.Sscanf(rest, "%d", &offset); scanErr != nil {
		return 0, false
	}
	return offset, offset >= 0
}

var _ core.StorageProvider = (*Provider)(nil)
