// Package ingest ties the blob store and the extraction pipeline together
// behind the request boundary: persist the upload, then try to recover text
// from it.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nbd-rms/docingest/internal/drive"
	"github.com/nbd-rms/docingest/internal/extract"
)

// BlobStore is what the service needs from Google Drive. Satisfied by
// *drive.Client; tests substitute a fake.
type BlobStore interface {
	EnsureFolder(ctx context.Context, name string) (string, error)
	Upload(ctx context.Context, folderID, name, mimeType string, data []byte) (drive.File, error)
	Download(ctx context.Context, fileID string) ([]byte, string, error)
	Delete(ctx context.Context, fileID string) error
}

// TextExtractor is the pipeline entry point. Satisfied by
// *extract.Orchestrator.
type TextExtractor interface {
	ExtractText(ctx context.Context, file extract.IngestedFile) extract.Result
}

// Upload is one incoming file plus its routing tag.
type Upload struct {
	Data     []byte
	FileName string
	MIMEType string
	Module   string
}

// FileInfo is the combined response: the blob handle plus whatever text the
// pipeline recovered. ExtractedText is empty, not an error, when nothing
// extractable was found.
type FileInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	MIMEType      string `json:"mimeType"`
	SizeBytes     int64  `json:"sizeBytes,omitempty"`
	WebViewLink   string `json:"webViewLink"`
	DownloadLink  string `json:"downloadLink,omitempty"`
	ExtractedText string `json:"extractedText,omitempty"`
}

type Service struct {
	store         BlobStore
	extractor     TextExtractor
	defaultModule string
	logger        *slog.Logger
}

func NewService(store BlobStore, extractor TextExtractor, defaultModule string, logger *slog.Logger) *Service {
	if defaultModule == "" {
		defaultModule = "vanban"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, extractor: extractor, defaultModule: defaultModule, logger: logger}
}

// Ingest persists the upload to the blob store and runs text extraction over
// the same bytes. The blob write comes first: if it fails, no extraction is
// attempted, so extracted text is never returned detached from a storage
// reference. Extraction failing does not fail the ingest; the document and
// its blob handle stay valid.
func (s *Service) Ingest(ctx context.Context, up Upload) (FileInfo, error) {
	if len(up.Data) == 0 {
		return FileInfo{}, fmt.Errorf("no file uploaded")
	}

	name := DecodeLegacyName(up.FileName)
	module := strings.TrimSpace(up.Module)
	if module == "" {
		module = s.defaultModule
	}

	folderID, err := s.store.EnsureFolder(ctx, module)
	if err != nil {
		return FileInfo{}, fmt.Errorf("resolve folder for %q: %w", module, err)
	}

	blob, err := s.store.Upload(ctx, folderID, name, up.MIMEType, up.Data)
	if err != nil {
		return FileInfo{}, fmt.Errorf("upload %q: %w", name, err)
	}

	info := FileInfo{
		ID:           blob.ID,
		Name:         blob.Name,
		MIMEType:     blob.MIMEType,
		SizeBytes:    blob.Size,
		WebViewLink:  blob.WebViewLink,
		DownloadLink: blob.WebContentLink,
	}

	res := s.extractor.ExtractText(ctx, extract.IngestedFile{
		Data:     up.Data,
		MIMEType: up.MIMEType,
		Name:     name,
		Module:   module,
	})
	switch res.Kind {
	case extract.KindDirect, extract.KindOCR:
		info.ExtractedText = res.Text
		s.logger.Info("ingested", "name", name, "module", module,
			"blob", blob.ID, "method", res.Kind.String(), "chars", len(res.Text))
	case extract.KindUnsupported:
		s.logger.Info("ingested without text", "name", name, "module", module,
			"blob", blob.ID, "mime", up.MIMEType)
	case extract.KindFailed:
		// Surfaced to the caller as "no summary available", never as a
		// failed upload.
		s.logger.Warn("extraction failed", "name", name, "blob", blob.ID, "reason", res.Reason)
	}

	return info, nil
}

// Read fetches a stored file and re-runs extraction over its bytes, for
// on-demand re-summarization of older attachments.
func (s *Service) Read(ctx context.Context, fileID string) (string, error) {
	data, mimeType, err := s.store.Download(ctx, fileID)
	if err != nil {
		return "", err
	}

	res := s.extractor.ExtractText(ctx, extract.IngestedFile{Data: data, MIMEType: mimeType})
	switch res.Kind {
	case extract.KindDirect, extract.KindOCR:
		return res.Text, nil
	case extract.KindUnsupported:
		return "", nil
	default:
		return "", fmt.Errorf("extraction failed: %s", res.Reason)
	}
}

// Delete removes a stored file.
func (s *Service) Delete(ctx context.Context, fileID string) error {
	return s.store.Delete(ctx, fileID)
}
