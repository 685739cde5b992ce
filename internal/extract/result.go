package extract

// Kind discriminates the single outcome an extraction produces.
type Kind int

const (
	// KindDirect means the document's native text layer was used.
	KindDirect Kind = iota
	// KindOCR means text was recovered by rasterizing and recognizing pages.
	KindOCR
	// KindUnsupported means no extractor handles the MIME type and no OCR
	// fallback exists for it.
	KindUnsupported
	// KindFailed means both the direct and fallback paths failed outright.
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindOCR:
		return "ocr"
	case KindUnsupported:
		return "unsupported"
	case KindFailed:
		return "failed"
	}
	return "unknown"
}

// Result is the discriminated outcome of one extraction. Exactly one variant
// is produced per invocation: Text is set only for direct/ocr, Reason only
// for failed.
type Result struct {
	Kind   Kind
	Text   string
	Reason string
}

// HasText reports whether the result carries usable extracted text.
func (r Result) HasText() bool {
	return (r.Kind == KindDirect || r.Kind == KindOCR) && r.Text != ""
}

func direct(text string) Result  { return Result{Kind: KindDirect, Text: text} }
func ocrText(text string) Result { return Result{Kind: KindOCR, Text: text} }
func unsupported() Result        { return Result{Kind: KindUnsupported} }
func failed(reason string) Result {
	return Result{Kind: KindFailed, Reason: reason}
}
