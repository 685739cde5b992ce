package extract

import (
	"context"
	"strings"
)

// IngestedFile is the immutable input to the pipeline. Name must already be
// normalized to canonical UTF-8 (see ingest.DecodeLegacyName); Module is a
// routing tag for the blob store and never influences extraction.
type IngestedFile struct {
	Data     []byte
	MIMEType string
	Name     string
	Module   string
}

// Extractor attempts direct text extraction for one format family. It is a
// pure transformation over the buffer: no side effects, no OCR. An error
// means the structure could not be read; an empty string with a nil error
// means the format parsed fine but carries no text layer.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
	Name() string
	MIMETypes() []string
}

// Registry maps MIME types to extractors. Adding a format is one Register
// call plus the extractor itself.
type Registry struct {
	byMIME map[string]Extractor
}

func NewRegistry() *Registry {
	return &Registry{byMIME: make(map[string]Extractor)}
}

func (r *Registry) Register(e Extractor) {
	for _, mt := range e.MIMETypes() {
		key := strings.ToLower(strings.TrimSpace(mt))
		if key != "" {
			r.byMIME[key] = e
		}
	}
}

// Lookup resolves an extractor for a declared MIME type, ignoring case and
// any parameters ("application/pdf; charset=binary").
func (r *Registry) Lookup(mimeType string) (Extractor, bool) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mt, ";"); i > 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	e, ok := r.byMIME[mt]
	return e, ok
}
