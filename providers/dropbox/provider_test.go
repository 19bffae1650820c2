package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gallerio/go-storage/core"
)

func newTestProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	retry := core.DefaultRetryPolicy()
	retry.Sleep = func(context.Context, time.Duration) error { return nil }

	provider, err := New(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		APIBase:      server.URL + "/2",
		ContentBase:  server.URL + "/content/2",
		TokenURL:     server.URL + "/oauth2/token",
		ChunkSize:    1024,
		Retry:        retry,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return provider
}

func TestJoinPath(t *testing.T) {
	cases := []struct {
		parent string
		name   string
		want   string
	}{
		{"", "Photo Gallery", "/Photo Gallery"},
		{"/Photo Gallery", "Wedding", "/Photo Gallery/Wedding"},
		{"/Photo Gallery/", "Wedding", "/Photo Gallery/Wedding"},
		{"Photo Gallery", "Wedding", "/Photo Gallery/Wedding"},
	}
	for _, tc := range cases {
		if got := joinPath(tc.parent, tc.name); got != tc.want {
			t.Fatalf("joinPath(%q, %q) = %q, want %q", tc.parent, tc.name, got, tc.want)
		}
	}
}

func TestCreateFolderTreatsExistingAsSuccess(t *testing.T) {
	provider := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"error_summary": "path/conflict/folder/..",
			"error":         map[string]any{".tag": "path", "path": map[string]any{".tag": "conflict"}},
		})
	}))

	folder, err := provider.CreateFolder(context.Background(), "token-1", "Wedding", "/Photo Gallery")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	if folder.ID != "/Photo Gallery/Wedding" {
		t.Fatalf("unexpected folder id %q", folder.ID)
	}
}

func TestUploadFileSendsAPIArgHeader(t *testing.T) {
	payload := []byte("image-bytes")
	provider := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/content/2/files/upload" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var arg struct {
			Path string `json:"path"`
			Mode string `json:"mode"`
		}
		if err := json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &arg); err != nil {
			t.Fatalf("decode api arg: %v", err)
		}
		if arg.Path != "/Photo Gallery/Wedding/photo.jpg" || arg.Mode != "add" {
			t.Fatalf("unexpected api arg %+v", arg)
		}
		body, _ := io.ReadAll(r.Body)
		if !bytes.Equal(body, payload) {
			t.Fatalf("body does not match payload")
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "id:file1", "name": "photo.jpg", "size": 11})
	}))

	metadata, err := provider.UploadFile(context.Background(), "token-1", core.UploadRequest{
		Bytes:    payload,
		Name:     "photo.jpg",
		MimeType: "image/jpeg",
		FolderID: "/Photo Gallery/Wedding",
	})
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if metadata.ID != "id:file1" || metadata.Size != 11 {
		t.Fatalf("unexpected metadata %+v", metadata)
	}
}

func TestUploadFileResumableRecoversFromIncorrectOffset(t *testing.T) {
	payload := bytes.Repeat([]byte{0xEF}, 3072)
	var received bytes.Buffer
	droppedAck := false

	mux := http.NewServeMux()
	mux.HandleFunc("/content/2/files/upload_session/start", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"session_id": "sess-1"})
	})
	mux.HandleFunc("/content/2/files/upload_session/append_v2", func(w http.ResponseWriter, r *http.Request) {
		var arg struct {
			Cursor struct {
				Offset int64 `json:"offset"`
			} `json:"cursor"`
		}
		json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &arg)
		body, _ := io.ReadAll(r.Body)

		if arg.Cursor.Offset < int64(received.Len()) {
			// Stale cursor after a lost answer; report where the session
			// really is so the client skips what already landed.
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]any{
				"error_summary": "incorrect_offset/..",
				"error": map[string]any{
					".tag":           "incorrect_offset",
					"correct_offset": received.Len(),
				},
			})
			return
		}
		received.Write(body)
		if arg.Cursor.Offset == 1024 && !droppedAck {
			// The append landed but the answer was lost.
			droppedAck = true
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/content/2/files/upload_session/finish", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received.Write(body)
		json.NewEncoder(w).Encode(map[string]any{"id": "id:file2", "name": "large.jpg", "size": len(payload)})
	})

	provider := newTestProvider(t, mux)
	metadata, err := provider.UploadFileResumable(context.Background(), "token-1", core.ResumableUploadRequest{
		Stream:   bytes.NewReader(payload),
		Name:     "large.jpg",
		MimeType: "image/jpeg",
		Size:     int64(len(payload)),
		FolderID: "/Photo Gallery/Wedding",
	})
	if err != nil {
		t.Fatalf("UploadFileResumable: %v", err)
	}
	if metadata.ID != "id:file2" {
		t.Fatalf("unexpected metadata %+v", metadata)
	}
	if received.Len() != len(payload) {
		t.Fatalf("server received %d bytes, expected %d", received.Len(), len(payload))
	}
}

func TestPollChangesMapsEntryTags(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/2/files/list_folder", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"entries": []map[string]any{
				{".tag": "file", "id": "id:file1", "name": "a.jpg", "path_display": "/Photo Gallery/Wedding/a.jpg", "size": 10, "server_modified": "2026-08-01T10:00:00Z"},
				{".tag": "folder", "id": "id:folder1", "name": "Wedding", "path_display": "/Photo Gallery/Wedding"},
				{".tag": "deleted", "name": "b.jpg", "path_lower": "/photo gallery/wedding/b.jpg", "path_display": "/Photo Gallery/Wedding/b.jpg"},
			},
			"cursor":   "cursor-1",
			"has_more": false,
		})
	})

	provider := newTestProvider(t, mux)
	page, err := provider.PollChanges(context.Background(), "token-1", "")
	if err != nil {
		t.Fatalf("PollChanges: %v", err)
	}
	if len(page.Changes) != 3 {
		t.Fatalf("expected 3 changes, got %d", len(page.Changes))
	}
	if page.Changes[0].Kind != core.ChangeKindModified || page.Changes[0].IsFolder {
		t.Fatalf("unexpected first change %+v", page.Changes[0])
	}
	if page.Changes[0].FolderID != "/Photo Gallery/Wedding" {
		t.Fatalf("expected file change to carry its containing folder, got %+v", page.Changes[0])
	}
	if !page.Changes[1].IsFolder {
		t.Fatalf("expected folder entry, got %+v", page.Changes[1])
	}
	if page.Changes[1].FolderID != "" {
		t.Fatalf("expected folder entry to carry no containing folder, got %+v", page.Changes[1])
	}
	if page.Changes[2].Kind != core.ChangeKindDeleted {
		t.Fatalf("expected deleted entry, got %+v", page.Changes[2])
	}
	if page.NextToken != "cursor-1" {
		t.Fatalf("expected cursor-1, got %q", page.NextToken)
	}
}

func TestGetMetadataNotFound(t *testing.T) {
	provider := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{"error_summary": "path/not_found/.."})
	}))

	_, err := provider.GetFile(context.Background(), "token-1", "id:gone")
	if !core.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
