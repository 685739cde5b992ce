// Package drive is a minimal Google Drive v3 client covering what the
// ingestion service needs: upload into a module subfolder, read back, delete.
// Auth is a service-account JWT; the client is constructed explicitly and
// passed in, never a package-level singleton.
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
)

const (
	defaultBaseURL   = "https://www.googleapis.com/drive/v3"
	defaultUploadURL = "https://www.googleapis.com/upload/drive/v3"
	scopeDriveFile   = "https://www.googleapis.com/auth/drive.file"
	folderMIMEType   = "application/vnd.google-apps.folder"

	fileFields = "id,name,mimeType,size,webViewLink,webContentLink"
)

// File is the blob handle Drive returns after an upload.
type File struct {
	ID             string
	Name           string
	MIMEType       string
	Size           int64
	WebViewLink    string
	WebContentLink string
}

type fileResource struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	MimeType       string `json:"mimeType"`
	Size           string `json:"size"`
	WebViewLink    string `json:"webViewLink"`
	WebContentLink string `json:"webContentLink"`
}

func (r fileResource) toFile() File {
	size, _ := strconv.ParseInt(r.Size, 10, 64)
	return File{
		ID:             r.ID,
		Name:           r.Name,
		MIMEType:       r.MimeType,
		Size:           size,
		WebViewLink:    r.WebViewLink,
		WebContentLink: r.WebContentLink,
	}
}

type Client struct {
	hc           *http.Client
	baseURL      string
	uploadURL    string
	rootFolderID string
	logger       *slog.Logger

	// module tag -> subfolder id, read-mostly across requests
	mu      sync.RWMutex
	folders map[string]string
	sf      singleflight.Group
}

// New builds a client authenticated with a service-account key.
func New(ctx context.Context, keyJSON []byte, rootFolderID string, logger *slog.Logger) (*Client, error) {
	cfg, err := google.JWTConfigFromJSON(keyJSON, scopeDriveFile)
	if err != nil {
		return nil, fmt.Errorf("service account key: %w", err)
	}
	return NewWithHTTPClient(cfg.Client(ctx), defaultBaseURL, defaultUploadURL, rootFolderID, logger), nil
}

// NewWithHTTPClient wires explicit endpoints and transport; tests point it at
// a fake Drive API.
func NewWithHTTPClient(hc *http.Client, baseURL, uploadURL, rootFolderID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		hc:           hc,
		baseURL:      strings.TrimRight(baseURL, "/"),
		uploadURL:    strings.TrimRight(uploadURL, "/"),
		rootFolderID: rootFolderID,
		logger:       logger,
		folders:      make(map[string]string),
	}
}

// EnsureFolder returns the id of the subfolder for a module tag, creating it
// under the root folder if missing. Lookups are cached; concurrent callers
// for the same missing tag are collapsed into a single lookup-then-create so
// racing requests cannot produce duplicate folders.
func (c *Client) EnsureFolder(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	id, ok := c.folders[name]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	v, err, _ := c.sf.Do(name, func() (any, error) {
		id, err := c.findFolder(ctx, name)
		if err != nil {
			return "", err
		}
		if id == "" {
			id, err = c.createFolder(ctx, name)
			if err != nil {
				return "", err
			}
			c.logger.Info("created drive folder", "module", name, "id", id)
		}
		c.mu.Lock()
		c.folders[name] = id
		c.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) findFolder(ctx context.Context, name string) (string, error) {
	escaped := strings.ReplaceAll(name, `'`, `\'`)
	q := fmt.Sprintf("name='%s' and mimeType='%s' and '%s' in parents and trashed=false",
		escaped, folderMIMEType, c.rootFolderID)

	u := c.baseURL + "/files?q=" + url.QueryEscape(q) + "&fields=" + url.QueryEscape("files(id,name)") + "&spaces=drive"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}

	var out struct {
		Files []fileResource `json:"files"`
	}
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("list folders: %w", err)
	}
	if len(out.Files) == 0 {
		return "", nil
	}
	return out.Files[0].ID, nil
}

func (c *Client) createFolder(ctx context.Context, name string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"name":     name,
		"mimeType": folderMIMEType,
		"parents":  []string{c.rootFolderID},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files?fields=id", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	var out fileResource
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("create folder: %w", err)
	}
	return out.ID, nil
}

// Upload stores the bytes as a new file inside folderID and returns the blob
// handle, including the view and download links later handed to clients.
func (c *Client) Upload(ctx context.Context, folderID, name, mimeType string, data []byte) (File, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	metaPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"application/json; charset=UTF-8"},
	})
	if err != nil {
		return File{}, err
	}
	meta := map[string]any{"name": name, "parents": []string{folderID}}
	if err := json.NewEncoder(metaPart).Encode(meta); err != nil {
		return File{}, err
	}

	mediaPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {mimeType},
	})
	if err != nil {
		return File{}, err
	}
	if _, err := mediaPart.Write(data); err != nil {
		return File{}, err
	}
	if err := mw.Close(); err != nil {
		return File{}, err
	}

	u := c.uploadURL + "/files?uploadType=multipart&fields=" + url.QueryEscape(fileFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return File{}, err
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())

	var out fileResource
	if err := c.do(req, &out); err != nil {
		return File{}, fmt.Errorf("upload %q: %w", name, err)
	}
	return out.toFile(), nil
}

// Download returns a file's bytes and MIME type.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, string, error) {
	metaReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/files/"+url.PathEscape(fileID)+"?fields=mimeType", nil)
	if err != nil {
		return nil, "", err
	}
	var meta fileResource
	if err := c.do(metaReq, &meta); err != nil {
		return nil, "", fmt.Errorf("file metadata: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/files/"+url.PathEscape(fileID)+"?alt=media", nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", apiError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("download: %w", err)
	}
	return data, meta.MimeType, nil
}

// Delete removes a file permanently.
func (c *Client) Delete(ctx context.Context, fileID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/files/"+url.PathEscape(fileID), nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("delete: %w", apiError(resp))
	}
	return nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(out)
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return fmt.Errorf("drive API %d: %s", resp.StatusCode, msg)
}
