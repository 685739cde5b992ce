// Package ocr adapts the Tesseract engine (via gosseract) behind a scoped
// worker contract: acquire, use, guaranteed release.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/nbd-rms/docingest/internal/prep"
)

// Engine creates language-bound OCR workers. Construction verifies the
// language pack exists; a missing pack is a configuration error, not
// something to discover one request at a time.
type Engine struct {
	tessdataDir string
	language    string
	logger      *slog.Logger
}

func NewEngine(tessdataDir, language string, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	trained := filepath.Join(tessdataDir, language+".traineddata")
	if _, err := os.Stat(trained); err != nil {
		return nil, fmt.Errorf("ocr language data %s: %w", trained, err)
	}
	return &Engine{tessdataDir: tessdataDir, language: language, logger: logger}, nil
}

// Language returns the language code workers are bound to.
func (e *Engine) Language() string { return e.language }

// WithWorker runs fn with a freshly initialized worker and tears the worker
// down on every exit path, including panics and fn errors. Initialization
// failure is returned without invoking fn.
func (e *Engine) WithWorker(ctx context.Context, fn func(w *Worker) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	client := gosseract.NewClient()
	defer client.Close()

	client.TessdataPrefix = e.tessdataDir
	if err := client.SetLanguage(e.language); err != nil {
		return fmt.Errorf("init ocr worker (%s): %w", e.language, err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		return fmt.Errorf("init ocr worker: %w", err)
	}

	return fn(&Worker{client: client, logger: e.logger})
}

// Worker is one initialized Tesseract instance. Valid only inside the
// WithWorker callback that produced it.
type Worker struct {
	client *gosseract.Client
	logger *slog.Logger
}

// Recognize runs recognition on one page image and returns the trimmed text.
// Engine errors are returned as errors, never disguised as empty output.
func (w *Worker) Recognize(ctx context.Context, img prep.PageImage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := prep.EncodePNG(img)
	if err != nil {
		return "", fmt.Errorf("encode page: %w", err)
	}
	if err := w.client.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}

	text, err := w.client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	return strings.TrimSpace(text), nil
}
