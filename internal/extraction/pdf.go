package extraction

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

var errPDFPanic = errors.New("pdf reader panicked")

// TextLayer reads the embedded digital text of a PDF
type TextLayer interface {
	PlainText(path string) (string, error)
}

// Rasterizer opens PDFs for page rendering
type Rasterizer interface {
	Open(path string) (RasterDocument, error)
}

// RasterDocument renders individual pages of an open PDF to PNG
type RasterDocument interface {
	NumPages() int
	RenderPNG(page int) ([]byte, error)
	Close() error
}

// pdfTextLayer is the default TextLayer
type pdfTextLayer struct{}

// PlainText guards against panics from malformed documents
func (pdfTextLayer) PlainText(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: %v", errPDFPanic, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if _, err := io.Copy(&sb, plain); err != nil {
		return "", err
	}
	return sb.String(), nil
}
