package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/semaphore"

	"github.com/nbd-rms/docingest/internal/prep"
)

// MIMEPDF is the only type with an OCR fallback; scanned images wrapped in
// Word containers stay unrecoverable, a deliberate scope limit.
const MIMEPDF = "application/pdf"

// Rasterizer renders single pages of an in-memory PDF.
type Rasterizer interface {
	PageCount(pdf []byte) (int, error)
	RenderPage(pdf []byte, pageIndex int, scale float64) (prep.PageImage, error)
}

// Worker is one initialized OCR instance, valid only inside the WithWorker
// callback that produced it.
type Worker interface {
	Recognize(ctx context.Context, img prep.PageImage) (string, error)
}

// OCREngine provides scoped worker acquisition: the worker is released on
// every exit path regardless of what fn does.
type OCREngine interface {
	WithWorker(ctx context.Context, fn func(w Worker) error) error
}

// Options tune the orchestrator. Thresholds are fixed per process so that
// identical input bytes always take the identical path.
type Options struct {
	// MinTextChars is the sufficiency threshold: trimmed direct text at or
	// above this length is accepted without OCR.
	MinTextChars int
	// RasterScale multiplies native page dimensions for the OCR path.
	RasterScale float64
	// PageSeparator joins per-page OCR output, in page order.
	PageSeparator string
	// MaxConcurrentOCR caps simultaneous OCR passes across requests.
	MaxConcurrentOCR int64
}

// Orchestrator is the pipeline decision engine: pick an extractor by MIME
// type, judge the result, fall back to page-by-page OCR when the document
// turns out to be scanned.
type Orchestrator struct {
	registry *Registry
	raster   Rasterizer
	engine   OCREngine
	opts     Options
	ocrSem   *semaphore.Weighted
	logger   *slog.Logger
}

func NewOrchestrator(registry *Registry, raster Rasterizer, engine OCREngine, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.MinTextChars <= 0 {
		opts.MinTextChars = 100
	}
	if opts.RasterScale <= 0 {
		opts.RasterScale = 2.0
	}
	if opts.PageSeparator == "" {
		opts.PageSeparator = "\n"
	}
	if opts.MaxConcurrentOCR <= 0 {
		opts.MaxConcurrentOCR = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry: registry,
		raster:   raster,
		engine:   engine,
		opts:     opts,
		ocrSem:   semaphore.NewWeighted(opts.MaxConcurrentOCR),
		logger:   logger,
	}
}

// ExtractText runs the pipeline for one file and produces exactly one
// outcome. Deterministic for a given byte buffer and declared MIME type.
func (o *Orchestrator) ExtractText(ctx context.Context, file IngestedFile) Result {
	mt := o.resolveMIME(file)

	ex, ok := o.registry.Lookup(mt)
	if !ok {
		o.logger.Info("no extractor for type", "mime", mt, "name", file.Name)
		return unsupported()
	}

	text, err := ex.Extract(ctx, file.Data)
	if err != nil {
		if mt == MIMEPDF {
			o.logger.Warn("direct extraction failed, trying ocr", "name", file.Name, "err", err)
			return o.runOCR(ctx, file)
		}
		return failed(fmt.Sprintf("%s extraction failed: %v", ex.Name(), err))
	}

	if len(strings.TrimSpace(text)) >= o.opts.MinTextChars {
		return direct(text)
	}

	// Below the sufficiency threshold: a PDF is assumed to be a scan. Other
	// formats have no fallback, so whatever the text layer held is the
	// answer.
	if mt == MIMEPDF {
		o.logger.Info("text layer insufficient, running ocr",
			"name", file.Name, "chars", len(strings.TrimSpace(text)))
		return o.runOCR(ctx, file)
	}
	return direct(text)
}

// resolveMIME trusts the declared type and falls back to content sniffing
// when the client declared nothing useful.
func (o *Orchestrator) resolveMIME(file IngestedFile) string {
	mt := strings.ToLower(strings.TrimSpace(file.MIMEType))
	if i := strings.Index(mt, ";"); i > 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt == "" || mt == "application/octet-stream" {
		if detected := mimetype.Detect(file.Data); detected != nil {
			mt = strings.ToLower(detected.String())
			if i := strings.Index(mt, ";"); i > 0 {
				mt = strings.TrimSpace(mt[:i])
			}
		}
	}
	return mt
}

// runOCR rasterizes, preprocesses and recognizes every page in order. A page
// failing is absorbed as an empty contribution; the worker failing to
// initialize fails the whole document.
func (o *Orchestrator) runOCR(ctx context.Context, file IngestedFile) Result {
	if err := o.ocrSem.Acquire(ctx, 1); err != nil {
		return failed(fmt.Sprintf("ocr queue: %v", err))
	}
	defer o.ocrSem.Release(1)

	total, err := o.raster.PageCount(file.Data)
	if err != nil {
		return failed(fmt.Sprintf("page count: %v", err))
	}
	if total == 0 {
		return failed("pdf has no pages")
	}

	pages := make([]string, total)
	err = o.engine.WithWorker(ctx, func(w Worker) error {
		for i := 0; i < total; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			pages[i] = o.ocrPage(ctx, w, file, i)
		}
		return nil
	})
	if err != nil {
		return failed(fmt.Sprintf("ocr: %v", err))
	}

	return ocrText(strings.Join(pages, o.opts.PageSeparator))
}

// ocrPage produces one page's text. Failures are page-scoped: they are
// logged and degrade to an empty string at that page's position.
func (o *Orchestrator) ocrPage(ctx context.Context, w Worker, file IngestedFile, pageIndex int) string {
	img, err := o.raster.RenderPage(file.Data, pageIndex, o.opts.RasterScale)
	if err != nil {
		o.logger.Warn("render failed", "name", file.Name, "page", pageIndex, "err", err)
		return ""
	}

	text, err := w.Recognize(ctx, prep.Normalize(img))
	if err != nil {
		o.logger.Warn("recognize failed", "name", file.Name, "page", pageIndex, "err", err)
		return ""
	}
	return text
}
