package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/nbd-rms/docingest/internal/config"
	"github.com/nbd-rms/docingest/internal/drive"
	"github.com/nbd-rms/docingest/internal/extract"
	pdfextractor "github.com/nbd-rms/docingest/internal/extractors/pdf"
	wordextractor "github.com/nbd-rms/docingest/internal/extractors/word"
	"github.com/nbd-rms/docingest/internal/ingest"
	"github.com/nbd-rms/docingest/internal/ocr"
	"github.com/nbd-rms/docingest/internal/raster"
)

var (
	cfg    config.Config
	logger *slog.Logger

	requestSem *semaphore.Weighted
	svc        *ingest.Service

	// Per-IP rate limiters
	limiters = &sync.Map{}

	metrics = &serverMetrics{}
)

type serverMetrics struct {
	mu            sync.RWMutex
	totalRequests int64
	activeReqs    int64
}

func (m *serverMetrics) incActive() {
	m.mu.Lock()
	m.activeReqs++
	m.totalRequests++
	m.mu.Unlock()
}
func (m *serverMetrics) decActive() {
	m.mu.Lock()
	m.activeReqs--
	m.mu.Unlock()
}
func (m *serverMetrics) get() (total, active int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalRequests, m.activeReqs
}

func main() {
	cfg = config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	requestSem = semaphore.NewWeighted(cfg.MaxConcurrentRequests)

	keyJSON, err := os.ReadFile(cfg.DriveKeyFile)
	if err != nil {
		logger.Error("read drive key", "err", err)
		os.Exit(1)
	}
	store, err := drive.New(context.Background(), keyJSON, cfg.DriveRootFolderID, logger)
	if err != nil {
		logger.Error("drive client", "err", err)
		os.Exit(1)
	}

	// Missing language data is a deployment problem; fail now, not on the
	// first scanned upload.
	engine, err := ocr.NewEngine(cfg.TessdataDir, cfg.OCRLanguage, logger)
	if err != nil {
		logger.Error("ocr engine", "err", err)
		os.Exit(1)
	}

	registry := extract.NewRegistry()
	registry.Register(pdfextractor.New())
	registry.Register(wordextractor.New())

	orch := extract.NewOrchestrator(registry, raster.New(), ocrEngineAdapter{engine}, extract.Options{
		MinTextChars:     cfg.MinTextChars,
		RasterScale:      cfg.RasterScale,
		PageSeparator:    cfg.PageSeparator,
		MaxConcurrentOCR: cfg.MaxOCRConcurrent,
	}, logger)

	svc = ingest.NewService(store, orch, cfg.DefaultModule, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/metrics", handleMetrics)
	mux.HandleFunc("/upload",
		withRateLimit(
			withMethod("POST",
				withConcurrencyLimit(handleUpload))))
	mux.HandleFunc("/read",
		withRateLimit(
			withMethod("POST",
				withConcurrencyLimit(handleRead))))
	mux.HandleFunc("/delete",
		withRateLimit(
			withMethod("POST",
				withConcurrencyLimit(handleDelete))))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           withLogging(withRecovery(mux)),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	go cleanupRateLimiters()

	logger.Info("docingest listening",
		"addr", srv.Addr,
		"language", engine.Language(),
		"maxConcurrent", cfg.MaxConcurrentRequests,
		"maxOCR", cfg.MaxOCRConcurrent)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server", "err", err)
		os.Exit(1)
	}
}

// ocrEngineAdapter narrows *ocr.Engine to the orchestrator's interface.
type ocrEngineAdapter struct {
	engine *ocr.Engine
}

func (a ocrEngineAdapter) WithWorker(ctx context.Context, fn func(w extract.Worker) error) error {
	return a.engine.WithWorker(ctx, func(w *ocr.Worker) error { return fn(w) })
}

func cleanupRateLimiters() {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		total, active := metrics.get()
		logger.Info("stats",
			"active", active, "total", total,
			"goroutines", runtime.NumGoroutine(), "memMB", m.Alloc/(1<<20))

		limiters = &sync.Map{}
	}
}

// ---------- Handlers ----------

func handleHealth(w http.ResponseWriter, r *http.Request) {
	_, active := metrics.get()
	status := "healthy"
	code := http.StatusOK

	ratio := cfg.HealthDegradeRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.9
	}

	if active >= int64(float64(cfg.MaxConcurrentRequests)*ratio) {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status": status,
		"active": active,
	})
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	total, active := metrics.get()

	writeJSON(w, http.StatusOK, map[string]any{
		"activeRequests": active,
		"totalRequests":  total,
		"goroutines":     runtime.NumGoroutine(),
		"memAllocMB":     m.Alloc / (1 << 20),
		"memSysMB":       m.Sys / (1 << 20),
	})
}

func handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", "no file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), cfg.IngestTimeout)
	defer cancel()

	info, err := svc.Ingest(ctx, ingest.Upload{
		Data:     data,
		FileName: header.Filename,
		MIMEType: header.Header.Get("Content-Type"),
		Module:   r.FormValue("module"),
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "ingest_failed", sanitizeError(err))
		return
	}

	writeJSON(w, http.StatusOK, info)
}

type fileIDRequest struct {
	FileID string `json:"fileId"`
}

func handleRead(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[fileIDRequest](r, cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	if strings.TrimSpace(req.FileID) == "" {
		writeErr(w, http.StatusBadRequest, "validation_failed", "fileId required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), cfg.IngestTimeout)
	defer cancel()

	content, err := svc.Read(ctx, req.FileID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "read_failed", sanitizeError(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"content": content})
}

func handleDelete(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[fileIDRequest](r, cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}
	if strings.TrimSpace(req.FileID) == "" {
		writeErr(w, http.StatusBadRequest, "validation_failed", "fileId required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), cfg.IngestTimeout)
	defer cancel()

	if err := svc.Delete(ctx, req.FileID); err != nil {
		writeErr(w, http.StatusInternalServerError, "delete_failed", sanitizeError(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ---------- Middleware ----------

func withMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method must be "+method)
			return
		}
		next(w, r)
	}
}

func withConcurrencyLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requestSem.Acquire(r.Context(), 1); err != nil {
			writeErr(w, http.StatusServiceUnavailable, "capacity", "Service at capacity")
			return
		}
		defer requestSem.Release(1)

		metrics.incActive()
		defer metrics.decActive()

		next(w, r)
	}
}

func withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		limiter := getRateLimiter(ip)

		if !limiter.Allow() {
			w.Header().Set("Retry-After", "60")
			writeErr(w, http.StatusTooManyRequests, "rate_limit", "Rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic", "err", err)
				writeErr(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &wrapWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		logger.Info("request",
			"method", r.Method,
			"path", sanitizeLogString(r.URL.Path),
			"status", ww.status,
			"duration", time.Since(start).String())
	})
}

type wrapWriter struct {
	http.ResponseWriter
	status int
}

func (w *wrapWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// ---------- Helpers ----------

func getRateLimiter(ip string) *rate.Limiter {
	if v, ok := limiters.Load(ip); ok {
		return v.(*rate.Limiter)
	}

	every := cfg.RateLimitEvery
	if every <= 0 {
		every = 600 * time.Millisecond // ~100/min
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 20
	}

	limiter := rate.NewLimiter(rate.Every(every), burst)
	limiters.Store(ip, limiter)
	return limiter
}

func getClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if idx := strings.Index(ip, ","); idx > 0 {
			return strings.TrimSpace(ip[:idx])
		}
		return strings.TrimSpace(ip)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	msg = strings.ReplaceAll(msg, os.TempDir(), "[tmp]")
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}

func sanitizeLogString(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func parseJSON[T any](r *http.Request, limit int64) (T, error) {
	var out T
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&out); err != nil {
		return out, err
	}

	// Ensure there's nothing else after the first JSON value
	if err := dec.Decode(new(any)); err != io.EOF {
		if err == nil {
			return out, fmt.Errorf("unexpected trailing data")
		}
		return out, err
	}

	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	})
}
