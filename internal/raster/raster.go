// Package raster renders single PDF pages to bitmaps via MuPDF (go-fitz).
package raster

import (
	"fmt"

	"github.com/gen2brain/go-fitz"

	"github.com/nbd-rms/docingest/internal/prep"
)

// DefaultScale multiplies native page dimensions when rendering. 2x was
// chosen empirically for scanned paperwork: enough resolution for Tesseract
// without blowing up per-page render time. Callers may override per corpus.
const DefaultScale = 2.0

// baseDPI is the PDF native resolution; scale 1.0 renders at exactly this.
const baseDPI = 72.0

// Renderer rasterizes pages of an in-memory PDF document.
type Renderer struct{}

func New() *Renderer { return &Renderer{} }

// PageCount returns the number of pages in the document.
func (r *Renderer) PageCount(pdf []byte) (int, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

// RenderPage renders the zero-based pageIndex at the given scale factor.
// Passing an out-of-range index is a programming error and panics; callers
// must bound their loop by PageCount.
func (r *Renderer) RenderPage(pdf []byte, pageIndex int, scale float64) (prep.PageImage, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return prep.PageImage{}, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	if pageIndex < 0 || pageIndex >= doc.NumPage() {
		panic(fmt.Sprintf("raster: page index %d out of range [0,%d)", pageIndex, doc.NumPage()))
	}
	if scale <= 0 {
		scale = DefaultScale
	}

	img, err := doc.ImageDPI(pageIndex, baseDPI*scale)
	if err != nil {
		return prep.PageImage{}, fmt.Errorf("render page %d: %w", pageIndex, err)
	}
	return prep.FromImage(img), nil
}
