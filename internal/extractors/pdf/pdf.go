// Package pdf extracts the native text layer of PDF documents.
package pdf

import (
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

type Extractor struct{}

func New() *Extractor { return &Extractor{} }

func (e *Extractor) Name() string { return "pdf" }

func (e *Extractor) MIMETypes() []string {
	return []string{"application/pdf"}
}

// Extract concatenates the text content of every page. A structurally valid
// document with no text layer (a pure scan) yields an empty string and no
// error; that emptiness is the orchestrator's cue to fall back to OCR.
func (e *Extractor) Extract(ctx context.Context, data []byte) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	var sb strings.Builder
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := doc.Text(i)
		if err != nil {
			// A single unreadable page does not invalidate the text layer of
			// the rest of the document.
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}
