// Package prep normalizes rasterized page images before OCR.
//
// The pipeline is grayscale conversion, contrast stretching, then a 3x3
// unsharp pass. Normalization must run before sharpening so the kernel does
// not amplify noise introduced by the contrast stretch.
package prep

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// PageImage is the rasterized bitmap of one document page. It is owned by
// the rasterize -> preprocess -> recognize chain for a single page and is
// never retained after the OCR call that consumes it.
type PageImage struct {
	Img    image.Image
	Width  int
	Height int
}

// FromImage wraps an image and records its pixel dimensions.
func FromImage(img image.Image) PageImage {
	b := img.Bounds()
	return PageImage{Img: img, Width: b.Dx(), Height: b.Dy()}
}

// Normalize applies grayscale, contrast stretch and sharpening, in that
// order. Pure function; the input image is not modified.
func Normalize(p PageImage) PageImage {
	g := grayscale(p.Img)
	stretchContrast(g)
	return FromImage(sharpen(g))
}

// EncodePNG serializes a page image for engines that consume encoded bytes.
func EncodePNG(p PageImage) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, p.Img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func grayscale(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(src.At(x, y)))
		}
	}
	return dst
}

// stretchContrast maps the observed [min,max] intensity range onto the full
// [0,255] range in place. A flat image (min == max) is left untouched.
func stretchContrast(g *image.Gray) {
	lo, hi := uint8(255), uint8(0)
	for _, px := range g.Pix {
		if px < lo {
			lo = px
		}
		if px > hi {
			hi = px
		}
	}
	if lo >= hi {
		return
	}
	scale := 255.0 / float64(hi-lo)
	for i, px := range g.Pix {
		v := float64(px-lo) * scale
		if v > 255 {
			v = 255
		}
		g.Pix[i] = uint8(v + 0.5)
	}
}

// sharpen convolves with the standard unsharp kernel
//
//	 0 -1  0
//	-1  5 -1
//	 0 -1  0
//
// clamping the result to [0,255]. Border pixels are copied through.
func sharpen(g *image.Gray) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(b)
	copy(dst.Pix, g.Pix)

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := int(g.GrayAt(x, y).Y) * 5
			c -= int(g.GrayAt(x-1, y).Y)
			c -= int(g.GrayAt(x+1, y).Y)
			c -= int(g.GrayAt(x, y-1).Y)
			c -= int(g.GrayAt(x, y+1).Y)
			if c < 0 {
				c = 0
			} else if c > 255 {
				c = 255
			}
			dst.SetGray(x, y, color.Gray{Y: uint8(c)})
		}
	}
	return dst
}
