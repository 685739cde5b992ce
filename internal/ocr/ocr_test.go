package ocr

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestNewEngineRequiresLanguageData(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.DiscardHandler)

	if _, err := NewEngine(dir, "vie", logger); err == nil {
		t.Fatal("expected error for missing traineddata")
	}

	if err := os.WriteFile(filepath.Join(dir, "vie.traineddata"), []byte{0}, 0o644); err != nil {
		t.Fatal(err)
	}
	engine, err := NewEngine(dir, "vie", logger)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if engine.Language() != "vie" {
		t.Fatalf("Language() = %q", engine.Language())
	}
}
