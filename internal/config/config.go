package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	Port string `yaml:"port"`

	// Google Drive
	DriveKeyFile      string `yaml:"drive_key_file"`
	DriveRootFolderID string `yaml:"drive_root_folder_id"`
	DefaultModule     string `yaml:"default_module"`

	// OCR
	TessdataDir string `yaml:"tessdata_dir"`
	OCRLanguage string `yaml:"ocr_language"`

	// Extraction
	// MinTextChars is the sufficiency threshold: direct extraction shorter
	// than this (after trimming) is treated as a scanned document and sent
	// through OCR. Tunable; 100 was chosen for this document class
	// (scanned government paperwork).
	MinTextChars  int     `yaml:"min_text_chars"`
	RasterScale   float64 `yaml:"raster_scale"`
	PageSeparator string  `yaml:"page_separator"`

	// Limits
	MaxUploadBytes   int64 `yaml:"max_upload_bytes"`
	MaxJSONBodyBytes int64 `yaml:"max_json_body_bytes"`

	// Concurrency
	MaxConcurrentRequests int64 `yaml:"max_concurrent_requests"`
	MaxOCRConcurrent      int64 `yaml:"max_ocr_concurrent"`

	// Server timeouts
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`

	// Request timeouts
	IngestTimeout time.Duration `yaml:"ingest_timeout"`

	// rate limiting (per IP)
	RateLimitEvery time.Duration `yaml:"rate_limit_every"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`

	// housekeeping
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// health
	HealthDegradeRatio float64 `yaml:"health_degrade_ratio"`
}

func Load() Config {
	cfg := Config{
		Port: envStr("PORT", "3001"),

		DriveKeyFile:      envStr("DRIVE_KEY_FILE", "service-account-key.json"),
		DriveRootFolderID: envStr("DRIVE_ROOT_FOLDER_ID", ""),
		DefaultModule:     envStr("DEFAULT_MODULE", "vanban"),

		TessdataDir: envStr("TESSDATA_DIR", "tessdata"),
		OCRLanguage: envStr("OCR_LANGUAGE", "vie"),

		MinTextChars:  envInt("MIN_TEXT_CHARS", 100),
		RasterScale:   envFloat("RASTER_SCALE", 2.0),
		PageSeparator: envStr("PAGE_SEPARATOR", "\n"),

		MaxUploadBytes:   int64(envInt("MAX_UPLOAD_BYTES", 50<<20)),
		MaxJSONBodyBytes: int64(envInt("MAX_JSON_BODY_BYTES", 1<<20)),

		MaxConcurrentRequests: int64(envInt("MAX_CONCURRENT_REQUESTS", 15)),
		MaxOCRConcurrent:      int64(envInt("MAX_OCR_CONCURRENT", 2)),

		ReadHeaderTimeout: envDur("READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:       envDur("READ_TIMEOUT", 60*time.Second),
		WriteTimeout:      envDur("WRITE_TIMEOUT", 300*time.Second),
		IdleTimeout:       envDur("IDLE_TIMEOUT", 60*time.Second),

		IngestTimeout: envDur("INGEST_TIMEOUT", 300*time.Second),

		RateLimitEvery: envDur("RATE_LIMIT_EVERY", 600*time.Millisecond),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 20),

		CleanupInterval: envDur("CLEANUP_INTERVAL", 5*time.Minute),

		HealthDegradeRatio: envFloat("HEALTH_DEGRADE_RATIO", 0.9),
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "warning: config file %s: %v\n", path, err)
		}
	}

	return cfg
}

// overlayFile merges a YAML config file over env/default values. Only keys
// present in the file are overwritten.
func (c *Config) overlayFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DriveRootFolderID) == "" {
		return fmt.Errorf("DRIVE_ROOT_FOLDER_ID is required")
	}
	if _, err := os.Stat(c.DriveKeyFile); err != nil {
		return fmt.Errorf("DRIVE_KEY_FILE: %w", err)
	}
	if c.MinTextChars <= 0 {
		return fmt.Errorf("MIN_TEXT_CHARS must be positive")
	}
	if c.RasterScale <= 0 {
		return fmt.Errorf("RASTER_SCALE must be positive")
	}
	return nil
}

// TrainedDataPath returns the path of the language pack the OCR engine needs.
// Its absence is a startup failure, not a per-request one.
func (c Config) TrainedDataPath() string {
	return filepath.Join(c.TessdataDir, c.OCRLanguage+".traineddata")
}

func envStr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func envDur(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
