// Package ocr recognizes text in raster images using locally installed
// model data.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrModelDataMissing indicates the model directory or a language file is absent
	ErrModelDataMissing = errors.New("ocr model data missing")
	// ErrRecognitionFailed indicates the engine could not process an image
	ErrRecognitionFailed = errors.New("ocr recognition failed")
	// ErrEngineClosed indicates Recognize was called after Close
	ErrEngineClosed = errors.New("ocr engine closed")
)

// Recognizer turns an encoded image into text
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// RecognizerFunc adapts a plain function to Recognizer
type RecognizerFunc func(ctx context.Context, image []byte) (string, error)

// Recognize calls f
func (f RecognizerFunc) Recognize(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}

// Options configures a recognition engine
type Options struct {
	DataDir       string
	Languages     []string
	PageSegMode   int
	CharWhitelist string
	PoolSize      int
}

// DefaultLanguages combines a local script with English
var DefaultLanguages = []string{"tha", "eng"}

const modelFileExt = ".traineddata"

// WithDefaults fills unset fields
func (o Options) WithDefaults() Options {
	if len(o.Languages) == 0 {
		o.Languages = append([]string(nil), DefaultLanguages...)
	}
	if o.PageSegMode == 0 {
		o.PageSegMode = 3
	}
	if o.PoolSize < 1 {
		o.PoolSize = 1
	}
	return o
}

// LanguageSpec returns the combined language string, e.g. "tha+eng"
func (o Options) LanguageSpec() string {
	return strings.Join(o.WithDefaults().Languages, "+")
}

// Validate checks that every configured language has model data on disk
func Validate(opts Options) error {
	opts = opts.WithDefaults()

	if opts.DataDir == "" {
		return fmt.Errorf("%w: data directory not configured", ErrModelDataMissing)
	}
	info, err := os.Stat(opts.DataDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: directory %s not found", ErrModelDataMissing, opts.DataDir)
	}

	var missing []string
	for _, lang := range opts.Languages {
		path := filepath.Join(opts.DataDir, lang+modelFileExt)
		if fi, err := os.Stat(path); err != nil || fi.IsDir() || fi.Size() == 0 {
			missing = append(missing, lang+modelFileExt)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s in %s", ErrModelDataMissing, strings.Join(missing, ", "), opts.DataDir)
	}
	return nil
}
