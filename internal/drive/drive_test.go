package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeDrive is a minimal in-memory Drive v3 API.
type fakeDrive struct {
	mu      sync.Mutex
	folders map[string]string // name -> id
	files   map[string][]byte
	nextID  int

	listCalls   atomic.Int64
	createCalls atomic.Int64
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{folders: make(map[string]string), files: make(map[string][]byte)}
}

func (f *fakeDrive) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /files", func(w http.ResponseWriter, r *http.Request) {
		f.listCalls.Add(1)
		q := r.URL.Query().Get("q")
		f.mu.Lock()
		defer f.mu.Unlock()
		type res struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		var out struct {
			Files []res `json:"files"`
		}
		for name, id := range f.folders {
			if strings.Contains(q, "name='"+name+"'") {
				out.Files = append(out.Files, res{ID: id, Name: name})
			}
		}
		json.NewEncoder(w).Encode(out)
	})

	mux.HandleFunc("POST /files", func(w http.ResponseWriter, r *http.Request) {
		f.createCalls.Add(1)
		var body struct {
			Name     string `json:"name"`
			MimeType string `json:"mimeType"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.nextID++
		id := fmt.Sprintf("id-%d", f.nextID)
		f.folders[body.Name] = id
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"id": id})
	})

	mux.HandleFunc("POST /upload/files", func(w http.ResponseWriter, r *http.Request) {
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mr := multipart.NewReader(r.Body, params["boundary"])

		metaPart, err := mr.NextPart()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var meta struct {
			Name    string   `json:"name"`
			Parents []string `json:"parents"`
		}
		if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		mediaPart, err := mr.NextPart()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(mediaPart)

		f.mu.Lock()
		f.nextID++
		id := fmt.Sprintf("id-%d", f.nextID)
		f.files[id] = data
		f.mu.Unlock()

		json.NewEncoder(w).Encode(map[string]string{
			"id":             id,
			"name":           meta.Name,
			"mimeType":       mediaPart.Header.Get("Content-Type"),
			"size":           fmt.Sprint(len(data)),
			"webViewLink":    "https://drive.example/view/" + id,
			"webContentLink": "https://drive.example/dl/" + id,
		})
	})

	mux.HandleFunc("GET /files/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		f.mu.Lock()
		data, ok := f.files[id]
		f.mu.Unlock()
		if !ok {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("alt") == "media" {
			w.Write(data)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": id, "mimeType": "application/pdf"})
	})

	mux.HandleFunc("DELETE /files/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		f.mu.Lock()
		_, ok := f.files[id]
		delete(f.files, id)
		f.mu.Unlock()
		if !ok {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func newTestClient(t *testing.T) (*Client, *fakeDrive) {
	t.Helper()
	fake := newFakeDrive()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	c := NewWithHTTPClient(srv.Client(), srv.URL, srv.URL+"/upload", "root-folder",
		slog.New(slog.DiscardHandler))
	return c, fake
}

func TestEnsureFolderCreatesOnceAndCaches(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	id1, err := c.EnsureFolder(ctx, "vanban")
	if err != nil {
		t.Fatalf("EnsureFolder: %v", err)
	}
	id2, err := c.EnsureFolder(ctx, "vanban")
	if err != nil {
		t.Fatalf("EnsureFolder: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("ids differ: %s vs %s", id1, id2)
	}
	if got := fake.createCalls.Load(); got != 1 {
		t.Fatalf("folder created %d times", got)
	}
	if got := fake.listCalls.Load(); got != 1 {
		t.Fatalf("second call should hit the cache, saw %d lists", got)
	}
}

func TestEnsureFolderFindsExisting(t *testing.T) {
	c, fake := newTestClient(t)
	fake.folders["congvan"] = "pre-existing"

	id, err := c.EnsureFolder(context.Background(), "congvan")
	if err != nil {
		t.Fatalf("EnsureFolder: %v", err)
	}
	if id != "pre-existing" {
		t.Fatalf("got %q", id)
	}
	if fake.createCalls.Load() != 0 {
		t.Fatal("existing folder must not be recreated")
	}
}

func TestEnsureFolderCollapsesConcurrentCreates(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = c.EnsureFolder(ctx, "vanban")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("goroutine %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("divergent folder ids: %v", ids)
		}
	}
	if got := fake.createCalls.Load(); got != 1 {
		t.Fatalf("racing callers created %d folders", got)
	}
}

func TestUploadReturnsBlobHandle(t *testing.T) {
	c, fake := newTestClient(t)

	file, err := c.Upload(context.Background(), "folder-1", "Công văn.pdf", "application/pdf", []byte("%PDF body"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if file.ID == "" || file.Name != "Công văn.pdf" {
		t.Fatalf("bad handle: %+v", file)
	}
	if file.MIMEType != "application/pdf" {
		t.Fatalf("mime type %q", file.MIMEType)
	}
	if file.Size != int64(len("%PDF body")) {
		t.Fatalf("size %d", file.Size)
	}
	if file.WebViewLink == "" || file.WebContentLink == "" {
		t.Fatalf("links missing: %+v", file)
	}
	if string(fake.files[file.ID]) != "%PDF body" {
		t.Fatal("stored bytes differ")
	}
}

func TestDownloadRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)

	up, err := c.Upload(context.Background(), "folder-1", "a.pdf", "application/pdf", []byte("stored bytes"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	data, mt, err := c.Download(context.Background(), up.ID)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != "stored bytes" || mt != "application/pdf" {
		t.Fatalf("got %q %q", data, mt)
	}
}

func TestDeleteRemovesFile(t *testing.T) {
	c, fake := newTestClient(t)

	up, err := c.Upload(context.Background(), "folder-1", "a.pdf", "application/pdf", []byte("x"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := c.Delete(context.Background(), up.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := fake.files[up.ID]; ok {
		t.Fatal("file still present after delete")
	}
	if err := c.Delete(context.Background(), up.ID); err == nil {
		t.Fatal("second delete should surface the API error")
	}
}

func TestAPIErrorIncludesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"insufficient permissions"}}`, http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	c := NewWithHTTPClient(srv.Client(), srv.URL, srv.URL, "root", slog.New(slog.DiscardHandler))
	_, err := c.Upload(context.Background(), "f", "a.pdf", "application/pdf", []byte("x"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "insufficient permissions") {
		t.Fatalf("error lacks context: %v", err)
	}
}
