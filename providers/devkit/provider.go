// Package devkit provides an in-memory storage provider for exercising
// orchestration, sync, and governor behavior without network calls.
package devkit

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gallerio/go-storage/core"
	"github.com/google/uuid"
)

// CallCounts records how many times each operation ran.
type CallCounts struct {
	CreateFolder    int
	Upload          int
	UploadResumable int
	GetFile         int
	Delete          int
	GetURL          int
	Refresh         int
	Poll            int
}

type fakeFile struct {
	metadata core.FileMetadata
	folderID string
	deleted  bool
}

// Provider is a scriptable fake back-end. Zero value is not usable; build
// with New.
type Provider struct {
	mu sync.Mutex

	id      string
	name    string
	tokens  map[string]bool
	files   map[string]*fakeFile
	folders map[string]core.Folder

	counts    CallCounts
	failures  map[string][]error
	refreshed core.RefreshedToken
	pages     []core.ChangePage
	pageIndex int
}

func New(options ...func(*Provider)) *Provider {
	provider := &Provider{
		id:       "devkit",
		name:     "DevKit",
		tokens:   map[string]bool{},
		files:    map[string]*fakeFile{},
		folders:  map[string]core.Folder{},
		failures: map[string][]error{},
	}
	for _, opt := range options {
		if opt != nil {
			opt(provider)
		}
	}
	return provider
}

func WithID(id string) func(*Provider) {
	return func(p *Provider) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			p.id = trimmed
		}
	}
}

func (p *Provider) ID() string   { return p.id }
func (p *Provider) Name() string { return p.name }

// AllowToken registers an access token the fake accepts.
func (p *Provider) AllowToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[strings.TrimSpace(token)] = true
}

// RevokeToken makes a previously valid token fail with an auth error.
func (p *Provider) RevokeToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tokens, strings.TrimSpace(token))
}

// FailNext queues an error for the next call of the named operation
// (create_folder, upload, upload_resumable, get_file, delete, get_url,
// refresh, poll).
func (p *Provider) FailNext(operation string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[operation] = append(p.failures[operation], err)
}

// SetRefreshResult scripts what RefreshAccessToken hands back.
func (p *Provider) SetRefreshResult(token core.RefreshedToken) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshed = token
	if strings.TrimSpace(token.AccessToken) != "" {
		p.tokens[strings.TrimSpace(token.AccessToken)] = true
	}
}

// QueueChangePage appends one page to the scripted change feed.
func (p *Provider) QueueChangePage(page core.ChangePage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages = append(p.pages, page)
}

// Counts snapshots the per-operation call counters.
func (p *Provider) Counts() CallCounts {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts
}

// File returns the stored file by id for assertions.
func (p *Provider) File(fileID string) (core.FileMetadata, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	file, ok := p.files[strings.TrimSpace(fileID)]
	if !ok || file.deleted {
		return core.FileMetadata{}, false
	}
	return file.metadata, true
}

func (p *Provider) CreateFolder(_ context.Context, accessToken string, name string, parentID string) (core.Folder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts.CreateFolder++
	if err := p.nextFailure("create_folder"); err != nil {
		return core.Folder{}, err
	}
	if err := p.checkToken(accessToken); err != nil {
		return core.Folder{}, err
	}
	for _, folder := range p.folders {
		if folder.Name == strings.TrimSpace(name) && folder.ParentID == strings.TrimSpace(parentID) {
			return folder, nil
		}
	}
	folder := core.Folder{
		ID:       "folder-" + uuid.NewString(),
		Name:     strings.TrimSpace(name),
		ParentID: strings.TrimSpace(parentID),
	}
	p.folders[folder.ID] = folder
	return folder, nil
}

func (p *Provider) UploadFile(_ context.Context, accessToken string, in core.UploadRequest) (core.FileMetadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts.Upload++
	if err := p.nextFailure("upload"); err != nil {
		return core.FileMetadata{}, err
	}
	if err := p.checkToken(accessToken); err != nil {
		return core.FileMetadata{}, err
	}
	return p.storeFile(in.Name, in.MimeType, int64(len(in.Bytes)), in.FolderID), nil
}

func (p *Provider) UploadFileResumable(_ context.Context, accessToken string, in core.ResumableUploadRequest) (core.FileMetadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts.UploadResumable++
	if err := p.nextFailure("upload_resumable"); err != nil {
		return core.FileMetadata{}, err
	}
	if err := p.checkToken(accessToken); err != nil {
		return core.FileMetadata{}, err
	}
	if in.Stream != nil {
		consumed, err := io.Copy(io.Discard, in.Stream)
		if err != nil {
			return core.FileMetadata{}, core.NewTransientError("devkit: stream read failed", err)
		}
		if consumed != in.Size {
			return core.FileMetadata{}, core.NewValidationError(
				fmt.Sprintf("devkit: stream delivered %d bytes, declared %d", consumed, in.Size),
			)
		}
	}
	return p.storeFile(in.Name, in.MimeType, in.Size, in.FolderID), nil
}

func (p *Provider) GetFile(_ context.Context, accessToken string, fileID string) (core.FileMetadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts.GetFile++
	if err := p.nextFailure("get_file"); err != nil {
		return core.FileMetadata{}, err
	}
	if err := p.checkToken(accessToken); err != nil {
		return core.FileMetadata{}, err
	}
	file, ok := p.files[strings.TrimSpace(fileID)]
	if !ok || file.deleted {
		return core.FileMetadata{}, core.NewNotFoundError("devkit: file not found")
	}
	return file.metadata, nil
}

func (p *Provider) DeleteFile(_ context.Context, accessToken string, fileID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts.Delete++
	if err := p.nextFailure("delete"); err != nil {
		return err
	}
	if err := p.checkToken(accessToken); err != nil {
		return err
	}
	file, ok := p.files[strings.TrimSpace(fileID)]
	if !ok || file.deleted {
		return core.NewNotFoundError("devkit: file not found")
	}
	file.deleted = true
	return nil
}

func (p *Provider) GetFileURL(_ context.Context, accessToken string, fileID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts.GetURL++
	if err := p.nextFailure("get_url"); err != nil {
		return "", err
	}
	if err := p.checkToken(accessToken); err != nil {
		return "", err
	}
	file, ok := p.files[strings.TrimSpace(fileID)]
	if !ok || file.deleted {
		return "", core.NewNotFoundError("devkit: file not found")
	}
	return file.metadata.URL, nil
}

func (p *Provider) RefreshAccessToken(_ context.Context, refreshToken string) (core.RefreshedToken, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts.Refresh++
	if err := p.nextFailure("refresh"); err != nil {
		return core.RefreshedToken{}, err
	}
	if strings.TrimSpace(refreshToken) == "" {
		return core.RefreshedToken{}, core.NewAuthExpiredError("devkit: refresh token is required")
	}
	if strings.TrimSpace(p.refreshed.AccessToken) == "" {
		expiresAt := time.Now().UTC().Add(time.Hour)
		token := core.RefreshedToken{
			AccessToken: "devkit-access-" + uuid.NewString(),
			ExpiresAt:   &expiresAt,
		}
		p.tokens[token.AccessToken] = true
		return token, nil
	}
	return p.refreshed, nil
}

func (p *Provider) PollChanges(_ context.Context, accessToken string, continuationToken string) (core.ChangePage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts.Poll++
	if err := p.nextFailure("poll"); err != nil {
		return core.ChangePage{}, err
	}
	if err := p.checkToken(accessToken); err != nil {
		return core.ChangePage{}, err
	}
	if p.pageIndex >= len(p.pages) {
		return core.ChangePage{NextToken: strings.TrimSpace(continuationToken)}, nil
	}
	page := p.pages[p.pageIndex]
	p.pageIndex++
	return page, nil
}

func (p *Provider) storeFile(name string, mimeType string, size int64, folderID string) core.FileMetadata {
	metadata := core.FileMetadata{
		ID:       "file-" + uuid.NewString(),
		Name:     strings.TrimSpace(name),
		MimeType: strings.TrimSpace(mimeType),
		Size:     size,
	}
	metadata.URL = "https://devkit.example/files/" + metadata.ID
	p.files[metadata.ID] = &fakeFile{metadata: metadata, folderID: strings.TrimSpace(folderID)}
	return metadata
}

func (p *Provider) checkToken(token string) error {
	if len(p.tokens) == 0 {
		return nil
	}
	if !p.tokens[strings.TrimSpace(token)] {
		return core.NewAuthExpiredError("devkit: access token is not valid")
	}
	return nil
}

func (p *Provider) nextFailure(operation string) error {
	queue := p.failures[operation]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	p.failures[operation] = queue[1:]
	return err
}

var _ core.StorageProvider = (*Provider)(nil)
