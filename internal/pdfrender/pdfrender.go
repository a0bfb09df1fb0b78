// Package pdfrender rasterizes PDF pages through MuPDF for OCR.
package pdfrender

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/gen2brain/go-fitz"
	"github.com/inboxkeep/core/internal/extraction"
)

// DefaultDPI balances recognition accuracy against render cost
const DefaultDPI = 200

// Renderer implements extraction.Rasterizer
type Renderer struct {
	dpi float64
}

// New creates a Renderer drawing pages at dpi
func New(dpi float64) *Renderer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Renderer{dpi: dpi}
}

// Open loads the document at path
func (r *Renderer) Open(path string) (extraction.RasterDocument, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return &document{doc: doc, dpi: r.dpi}, nil
}

type document struct {
	doc *fitz.Document
	dpi float64
}

func (d *document) NumPages() int {
	return d.doc.NumPage()
}

// RenderPNG draws the zero-based page and encodes it as PNG
func (d *document) RenderPNG(page int) ([]byte, error) {
	img, err := d.doc.ImageDPI(page, d.dpi)
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", page+1, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *document) Close() error {
	return d.doc.Close()
}
