package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/gen2brain/go-fitz"

	"github.com/pagelens/pagelens/pkg/core"
)

// Page is one rasterised PDF page.
type Page struct {
	Number int // 1-based
	PNG    []byte
	Width  int
	Height int
}

// Renderer turns a PDF into page rasters at a given DPI.
type Renderer interface {
	Render(ctx context.Context, pdf []byte, dpi int) ([]Page, error)
}

// MuPDF renders through go-fitz. Pages come out scaled by dpi/72
// relative to the PDF's point size.
type MuPDF struct{}

func NewMuPDF() *MuPDF { return &MuPDF{} }

func (m *MuPDF) Render(ctx context.Context, pdf []byte, dpi int) ([]Page, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open pdf: %v", core.ErrInvalidInput, err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n == 0 {
		return nil, fmt.Errorf("%w: pdf has no pages", core.ErrInvalidInput)
	}

	pages := make([]Page, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := doc.ImageDPI(i, float64(dpi))
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", i+1, err)
		}

		encoded, bounds, err := encodePNG(img)
		if err != nil {
			return nil, fmt.Errorf("failed to encode page %d: %w", i+1, err)
		}

		pages = append(pages, Page{
			Number: i + 1,
			PNG:    encoded,
			Width:  bounds.Dx(),
			Height: bounds.Dy(),
		})
	}
	return pages, nil
}

func encodePNG(img image.Image) ([]byte, image.Rectangle, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, image.Rectangle{}, err
	}
	return buf.Bytes(), img.Bounds(), nil
}
