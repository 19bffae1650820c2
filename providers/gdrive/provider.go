// Package gdrive adapts Google Drive's v3 API to the storage provider
// contract.
package gdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gallerio/go-storage/core"
	"github.com/gallerio/go-storage/providers"
)

const (
	ProviderID   = "gdrive"
	providerName = "Google Drive"

	folderMimeType = "application/vnd.google-apps.folder"

	defaultAPIBase    = "https://www.googleapis.com/drive/v3"
	defaultUploadBase = "https://www.googleapis.com/upload/drive/v3"
	defaultTokenURL   = "https://oauth2.googleapis.com/token"

	fileFields = "id,name,mimeType,size,webViewLink,webContentLink"
)

type Config struct {
	ClientID     string
	ClientSecret string
	// APIBase, UploadBase, and TokenURL are overridable for tests.
	APIBase    string
	UploadBase string
	TokenURL   string
	ChunkSize  int64
	Retry      core.RetryPolicy
	HTTPClient providers.HTTPDoer
}

type Provider struct {
	cfg    Config
	client providers.Client
}

func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("gdrive: client id is required")
	}
	if cfg.APIBase = strings.TrimSpace(cfg.APIBase); cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.UploadBase = strings.TrimSpace(cfg.UploadBase); cfg.UploadBase == "" {
		cfg.UploadBase = defaultUploadBase
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

type driveFile struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	MimeType       string `json:"mimeType"`
	Size           string `json:"size"`
	WebViewLink    string `json:"webViewLink"`
	WebContentLink string `json:"webContentLink"`
	Trashed        bool   `json:"trashed"`
	ModifiedTime   string `json:"modifiedTime"`
	Parents        []string
}

func (p *Provider) CreateFolder(ctx context.Context, accessToken string, name string, parentID string) (core.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Folder{}, core.NewValidationError("gdrive: folder name is required")
	}
	payload := map[string]any{
		"name":     name,
		"mimeType": folderMimeType,
	}
	if parent := strings.TrimSpace(parentID); parent != "" {
		payload["parents"] = []string{parent}
	}
	req, err := p.client.NewJSONRequest(ctx, http.MethodPost, p.cfg.APIBase+"/files", accessToken, payload)
	if err != nil {
		return core.Folder{}, err
	}

	var created driveFile
	if err := p.client.DoJSON(req, &created); err != nil {
		return core.Folder{}, err
	}
	return core.Folder{ID: created.ID, Name: created.Name, ParentID: strings.TrimSpace(parentID)}, nil
}

// UploadFile sends the payload as one multipart/related request: a metadata
// part naming the file, then the media part.
func (p *Provider) UploadFile(ctx context.Context, accessToken string, in core.UploadRequest) (core.FileMetadata, error) {
	if len(in.Bytes) == 0 {
		return core.FileMetadata{}, core.NewValidationError("gdrive: upload payload is empty")
	}

	metadata := map[string]any{"name": strings.TrimSpace(in.Name)}
	if folder := strings.TrimSpace(in.FolderID); folder != "" {
		metadata["parents"] = []string{folder}
	}
	encodedMetadata, err := json.Marshal(metadata)
	if err != nil {
		return core.FileMetadata{}, fmt.Errorf("gdrive: encode upload metadata: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	metadataHeader := textproto.MIMEHeader{}
	metadataHeader.Set("Content-Type", "application/json; charset=UTF-8")
	metadataPart, err := writer.CreatePart(metadataHeader)
	if err != nil {
		return core.FileMetadata{}, fmt.Errorf("gdrive: build metadata part: %w", err)
	}
	if _, err := metadataPart.Write(encodedMetadata); err != nil {
		return core.FileMetadata{}, fmt.Errorf("gdrive: write metadata part: %w", err)
	}

	mediaHeader := textproto.MIMEHeader{}
	if mime := strings.TrimSpace(in.MimeType); mime != "" {
		mediaHeader.Set("Content-Type", mime)
	} else {
		mediaHeader.Set("Content-Type", "application/octet-stream")
	}
	mediaPart, err := writer.CreatePart(mediaHeader)
	if err != nil {
		return core.FileMetadata{}, fmt.Errorf("gdrive: build media part: %w", err)
	}
	if _, err := mediaPart.Write(in.Bytes); err != nil {
		return core.FileMetadata{}, fmt.Errorf("gdrive: write media part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return core.FileMetadata{}, fmt.Errorf("gdrive: finalize multipart body: %w", err)
	}

	endpoint := p.cfg.UploadBase + "/files?uploadType=multipart&fields=" + url.QueryEscape(fileFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return core.FileMetadata{}, fmt.Errorf("gdrive: build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(accessToken))
	req.Header.Set("Content-Type", "multipart/related; boundary="+writer.Boundary())

	var uploaded driveFile
	if err := p.client.DoJSON(req, &uploaded); err != nil {
		return core.FileMetadata{}, err
	}
	return p.toFileMetadata(uploaded), nil
}

// UploadFileResumable opens a session URI, then streams Content-Range chunks
// through it. A 308 answer's Range header tells the session how many bytes
// the server holds, so interrupted uploads resume instead of restarting.
func (p *Provider) UploadFileResumable(ctx context.Context, accessToken string, in core.ResumableUploadRequest) (core.FileMetadata, error) {
	if in.Stream == nil || in.Size <= 0 {
		return core.FileMetadata{}, core.NewValidationError("gdrive: resumable upload requires a stream and size")
	}

	sessionURI, err := p.openUploadSession(ctx, accessToken, in)
	if err != nil {
		return core.FileMetadata{}, err
	}

	var final core.FileMetadata
	session := providers.ResumableSession{
		ChunkSize: p.cfg.ChunkSize,
		Retry:     p.cfg.Retry,
		Send: func(ctx context.Context, chunk []byte, offset int64, totalSize int64, isLast bool) (providers.ChunkAck, error) {
			req, buildErr := http.NewRequestWithContext(ctx, http.MethodPut, sessionURI, bytes.NewReader(chunk))
			if buildErr != nil {
				return providers.ChunkAck{}, fmt.Errorf("gdrive: build chunk request: %w", buildErr)
			}
			req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(len(chunk))-1, totalSize))
			req.ContentLength = int64(len(chunk))

			response, doErr := p.client.Do(req)
			if doErr != nil {
				return providers.ChunkAck{}, doErr
			}
			defer response.Body.Close()

			switch {
			// Drive answers 308 Resume Incomplete until the final chunk.
			case response.StatusCode == http.StatusPermanentRedirect:
				return providers.ChunkAck{AckedBytes: parseAckedBytes(response.Header)}, nil
			case response.StatusCode >= 200 && response.StatusCode <= 299:
				body, readErr := io.ReadAll(io.LimitReader(response.Body, 1<<20))
				if readErr == nil {
					var uploaded driveFile
					if json.Unmarshal(body, &uploaded) == nil {
						final = p.toFileMetadata(uploaded)
					}
				}
				return providers.ChunkAck{AckedBytes: totalSize, Done: true}, nil
			default:
				body, _ := io.ReadAll(io.LimitReader(response.Body, 1<<20))
				return providers.ChunkAck{}, providers.NormalizeHTTPError(ProviderID, response.StatusCode, response.Header, body)
			}
		},
		Probe: func(ctx context.Context) (int64, error) {
			req, buildErr := http.NewRequestWithContext(ctx, http.MethodPut, sessionURI, nil)
			if buildErr != nil {
				return 0, buildErr
			}
			req.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", in.Size))
			response, doErr := p.client.Do(req)
			if doErr != nil {
				return 0, doErr
			}
			defer response.Body.Close()
			io.Copy(io.Discard, io.LimitReader(response.Body, 1<<20))
			return parseAckedBytes(response.Header), nil
		},
	}
	if err := session.Run(ctx, in.Stream, in.Size); err != nil {
		return core.FileMetadata{}, err
	}
	if final.ID == "" {
		return core.FileMetadata{}, core.NewTransientError("gdrive: session finished without file metadata", nil)
	}
	return final, nil
}

func (p *Provider) openUploadSession(ctx context.Context, accessToken string, in core.ResumableUploadRequest) (string, error) {
	metadata := map[string]any{"name": strings.TrimSpace(in.Name)}
	if folder := strings.TrimSpace(in.FolderID); folder != "" {
		metadata["parents"] = []string{folder}
	}
	endpoint := p.cfg.UploadBase + "/files?uploadType=resumable&fields=" + url.QueryEscape(fileFields)
	req, err := p.client.NewJSONRequest(ctx, http.MethodPost, endpoint, accessToken, metadata)
	if err != nil {
		return "", err
	}
	if mime := strings.TrimSpace(in.MimeType); mime != "" {
		req.Header.Set("X-Upload-Content-Type", mime)
	}
	req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(in.Size, 10))

	response, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return "", providers.NormalizeHTTPError(ProviderID, response.StatusCode, response.Header, body)
	}
	sessionURI := strings.TrimSpace(response.Header.Get("Location"))
	if sessionURI == "" {
		return "", core.NewTransientError("gdrive: session response is missing the upload location", nil)
	}
	return sessionURI, nil
}

func (p *Provider) GetFile(ctx context.Context, accessToken string, fileID string) (core.FileMetadata, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return core.FileMetadata{}, core.NewValidationError("gdrive: file id is required")
	}
	endpoint := fmt.Sprintf("%s/files/%s?fields=%s", p.cfg.APIBase, url.PathEscape(fileID), url.QueryEscape(fileFields))
	req, err := p.client.NewJSONRequest(ctx, http.MethodGet, endpoint, accessToken, nil)
	if err != nil {
		return core.FileMetadata{}, err
	}
	var file driveFile
	if err := p.client.DoJSON(req, &file); err != nil {
		return core.FileMetadata{}, err
	}
	return p.toFileMetadata(file), nil
}

func (p *Provider) DeleteFile(ctx context.Context, accessToken string, fileID string) error {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return core.NewValidationError("gdrive: file id is required")
	}
	endpoint := fmt.Sprintf("%s/files/%s", p.cfg.APIBase, url.PathEscape(fileID))
	req, err := p.client.NewJSONRequest(ctx, http.MethodDelete, endpoint, accessToken, nil)
	if err != nil {
		return err
	}
	return p.client.DoJSON(req, nil)
}

func (p *Provider) GetFileURL(ctx context.Context, accessToken string, fileID string) (string, error) {
	file, err := p.GetFile(ctx, accessToken, fileID)
	if err != nil {
		return "", err
	}
	if file.URL == "" {
		return "", core.NewNotFoundError("gdrive: file has no shareable link")
	}
	return file.URL, nil
}

func (p *Provider) RefreshAccessToken(ctx context.Context, refreshToken string) (core.RefreshedToken, error) {
	return providers.RefreshAccessToken(ctx, p.client, providers.TokenEndpointConfig{
		TokenURL:     p.cfg.TokenURL,
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
	}, refreshToken)
}

type changesPage struct {
	Changes []struct {
		FileID  string `json:"fileId"`
		Removed bool   `json:"removed"`
		File    struct {
			ID           string   `json:"id"`
			Name         string   `json:"name"`
			MimeType     string   `json:"mimeType"`
			Size         string   `json:"size"`
			Trashed      bool     `json:"trashed"`
			Parents      []string `json:"parents"`
			ModifiedTime string   `json:"modifiedTime"`
		} `json:"file"`
	} `json:"changes"`
	NextPageToken     string `json:"nextPageToken"`
	NewStartPageToken string `json:"newStartPageToken"`
}

// PollChanges walks the Drive changes feed. An empty continuation token
// bootstraps from the current head so history before connection is skipped.
func (p *Provider) PollChanges(ctx context.Context, accessToken string, continuationToken string) (core.ChangePage, error) {
	token := strings.TrimSpace(continuationToken)
	if token == "" {
		start, err := p.startPageToken(ctx, accessToken)
		if err != nil {
			return core.ChangePage{}, err
		}
		token = start
	}

	endpoint := fmt.Sprintf(
		"%s/changes?pageToken=%s&fields=%s",
		p.cfg.APIBase,
		url.QueryEscape(token),
		url.QueryEscape("changes(fileId,removed,file(id,name,mimeType,size,trashed,parents,modifiedTime)),nextPageToken,newStartPageToken"),
	)
	req, err := p.client.NewJSONRequest(ctx, http.MethodGet, endpoint, accessToken, nil)
	if err != nil {
		return core.ChangePage{}, err
	}
	var page changesPage
	if err := p.client.DoJSON(req, &page); err != nil {
		return core.ChangePage{}, err
	}

	events := make([]core.ChangeEvent, 0, len(page.Changes))
	for _, change := range page.Changes {
		event := core.ChangeEvent{FileID: strings.TrimSpace(change.FileID)}
		if event.FileID == "" {
			event.FileID = strings.TrimSpace(change.File.ID)
		}
		if event.FileID == "" {
			continue
		}
		if change.Removed || change.File.Trashed {
			event.Kind = core.ChangeKindDeleted
		} else {
			event.Kind = core.ChangeKindModified
			event.Name = change.File.Name
			event.MimeType = change.File.MimeType
			event.Size = parseSize(change.File.Size)
			event.IsFolder = change.File.MimeType == folderMimeType
			if len(change.File.Parents) > 0 {
				event.ParentID = change.File.Parents[0]
				if !event.IsFolder {
					// Files report their containing folder so the sync
					// engine can route them to a mapped gallery.
					event.FolderID = change.File.Parents[0]
				}
			}
			if at, parseErr := time.Parse(time.RFC3339, change.File.ModifiedTime); parseErr == nil {
				utc := at.UTC()
				event.ModifiedAt = &utc
			}
		}
		events = append(events, event)
	}

	next := strings.TrimSpace(page.NextPageToken)
	if next == "" {
		next = strings.TrimSpace(page.NewStartPageToken)
	}
	return core.ChangePage{Changes: events, NextToken: next}, nil
}

func (p *Provider) startPageToken(ctx context.Context, accessToken string) (string, error) {
	req, err := p.client.NewJSONRequest(ctx, http.MethodGet, p.cfg.APIBase+"/changes/startPageToken", accessToken, nil)
	if err != nil {
		return "", err
	}
	var payload struct {
		StartPageToken string `json:"startPageToken"`
	}
	if err := p.client.DoJSON(req, &payload); err != nil {
		return "", err
	}
	token := strings.TrimSpace(payload.StartPageToken)
	if token == "" {
		return "", core.NewTransientError("gdrive: empty start page token", nil)
	}
	return token, nil
}

func (p *Provider) toFileMetadata(file driveFile) core.FileMetadata {
	metadata := core.FileMetadata{
		ID:       strings.TrimSpace(file.ID),
		Name:     file.Name,
		MimeType: file.MimeType,
		Size:     parseSize(file.Size),
		URL:      strings.TrimSpace(file.WebViewLink),
	}
	if metadata.URL == "" {
		metadata.URL = strings.TrimSpace(file.WebContentLink)
	}
	return metadata
}

// parseAckedBytes reads a session Range header; "bytes=0-524287" means
// 524288 bytes are durable.
func parseAckedBytes(headers http.Header) int64 {
	raw := strings.TrimSpace(headers.Get("Range"))
	if raw == "" {
		return 0
	}
	raw = strings.TrimPrefix(raw, "bytes=")
	parts := strings.SplitN(raw, "-", 2)
	if len(parts) != 2 {
		return 0
	}
	end, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil || end < 0 {
		return 0
	}
	return end + 1
}

func parseSize(raw string) int64 {
	size, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return size
}

var _ core.StorageProvider = (*Provider)(nil)
