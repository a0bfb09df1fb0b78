// Package extraction turns stored attachments into plain text. The
// Dispatcher routes one file to its decoder; the Runner drives batches of
// attachments through it and records the outcome.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/inboxkeep/core/internal/ocr"
	"github.com/rs/zerolog"
)

var (
	// ErrUnreadable indicates the stored file could not be read
	ErrUnreadable = errors.New("attachment file unreadable")
	// ErrOCRUnavailable indicates an image arrived but no recognizer is configured
	ErrOCRUnavailable = errors.New("ocr engine not configured")
)

// Source identifies one stored file
type Source struct {
	Path     string
	MimeType string
	Name     string
}

// Result describes what Extract produced
type Result struct {
	Kind       Kind
	Text       string
	UsedOCR    bool
	PagesTried int
}

// Options tunes the PDF fallback and text decoding
type Options struct {
	TextThreshold  int   // digital PDF text shorter than this goes to OCR
	OCRMinChars    int   // OCR text must be longer than this to count
	MaxOCRPages    int   // leading pages rasterized per PDF
	LargeFileBytes int64 // above this only the first page is rasterized
	LegacyCharset  string
}

// DefaultOptions returns the stock thresholds
func DefaultOptions() Options {
	return Options{
		TextThreshold:  150,
		OCRMinChars:    50,
		MaxOCRPages:    3,
		LargeFileBytes: 1 << 20,
		LegacyCharset:  "windows-874",
	}
}

// Deps are the pluggable engines behind the dispatcher. A nil TextLayer
// uses the built-in PDF reader; a nil Recognizer or Rasterizer disables
// the OCR paths.
type Deps struct {
	Recognizer ocr.Recognizer
	Rasterizer Rasterizer
	TextLayer  TextLayer
}

// Dispatcher classifies attachments and invokes the matching extractor
type Dispatcher struct {
	opts       Options
	recognizer ocr.Recognizer
	rasterizer Rasterizer
	textLayer  TextLayer
	logger     zerolog.Logger
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(opts Options, deps Deps, logger zerolog.Logger) *Dispatcher {
	def := DefaultOptions()
	if opts.TextThreshold <= 0 {
		opts.TextThreshold = def.TextThreshold
	}
	if opts.OCRMinChars < 0 {
		opts.OCRMinChars = def.OCRMinChars
	}
	if opts.MaxOCRPages < 1 {
		opts.MaxOCRPages = def.MaxOCRPages
	}
	if opts.LargeFileBytes <= 0 {
		opts.LargeFileBytes = def.LargeFileBytes
	}
	if deps.TextLayer == nil {
		deps.TextLayer = pdfTextLayer{}
	}
	return &Dispatcher{
		opts:       opts,
		recognizer: deps.Recognizer,
		rasterizer: deps.Rasterizer,
		textLayer:  deps.TextLayer,
		logger:     logger.With().Str("component", "extraction").Logger(),
	}
}

// Extract returns the text of src. Unsupported or corrupt content yields
// an empty Text and a nil error. An error is returned only when the file
// cannot be read, the OCR engine fails, or ctx ends first.
func (d *Dispatcher) Extract(ctx context.Context, src Source) (Result, error) {
	res := Result{Kind: Classify(src.MimeType, src.Name)}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	info, err := os.Stat(src.Path)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if res.Kind == KindUnsupported || info.Size() == 0 {
		return res, nil
	}

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := d.dispatch(ctx, src, res, info.Size())
		done <- outcome{r, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		// Pure-Go decoders cannot be interrupted; the goroutine finishes
		// on its own and its result is discarded
		return res, ctx.Err()
	}

	if out.err != nil {
		if isHardFailure(out.err) {
			return out.res, out.err
		}
		d.logger.Debug().Err(out.err).
			Str("file", src.Name).
			Stringer("kind", res.Kind).
			Msg("Content not decodable, treating as empty")
		out.res.Text = ""
		return out.res, nil
	}
	return out.res, nil
}

// ExtractText is Extract for callers that only want text; every failure
// is logged and reported as an empty string
func (d *Dispatcher) ExtractText(ctx context.Context, src Source) string {
	res, err := d.Extract(ctx, src)
	if err != nil {
		d.logger.Warn().Err(err).Str("file", src.Name).Msg("Extraction failed")
		return ""
	}
	return res.Text
}

func (d *Dispatcher) dispatch(ctx context.Context, src Source, res Result, size int64) (out Result, err error) {
	out = res
	defer func() {
		if r := recover(); r != nil {
			out.Text, err = "", fmt.Errorf("decoder panic: %v", r)
		}
	}()

	switch res.Kind {
	case KindImage:
		out.Text, err = d.extractImage(ctx, src.Path)
		out.UsedOCR = err == nil
	case KindPDF:
		out.Text, out.UsedOCR, out.PagesTried, err = d.extractPDF(ctx, src.Path, size)
	case KindSpreadsheet:
		out.Text, err = extractSpreadsheet(src.Path)
	case KindPresentation:
		out.Text, err = extractPresentation(src.Path)
	case KindWord:
		out.Text, err = extractWord(src.Path)
	case KindDelimited:
		out.Text, err = d.extractDelimited(src.Path)
	case KindUnsupported:
	}
	return out, err
}

func (d *Dispatcher) extractImage(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if !isDecodableImage(data) {
		return "", errors.New("not a decodable image")
	}
	if d.recognizer == nil {
		return "", ErrOCRUnavailable
	}
	text, err := d.recognizer.Recognize(ctx, data)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// extractPDF prefers the digital text layer and falls back to OCR of the
// leading pages when it is too short to be the real content
func (d *Dispatcher) extractPDF(ctx context.Context, path string, size int64) (text string, usedOCR bool, pagesTried int, err error) {
	digital, terr := d.textLayer.PlainText(path)
	if terr != nil {
		d.logger.Debug().Err(terr).Str("path", path).Msg("No digital text layer")
	}
	digital = strings.TrimSpace(digital)
	if utf8.RuneCountInString(digital) >= d.opts.TextThreshold {
		return digital, false, 0, nil
	}

	if d.recognizer == nil || d.rasterizer == nil {
		return "", false, 0, nil
	}

	maxPages := d.opts.MaxOCRPages
	if size > d.opts.LargeFileBytes {
		maxPages = 1
	}

	doc, err := d.rasterizer.Open(path)
	if err != nil {
		return "", false, 0, fmt.Errorf("open for rendering: %w", err)
	}
	defer doc.Close()

	if n := doc.NumPages(); n < maxPages {
		maxPages = n
	}

	for page := 0; page < maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return "", true, pagesTried, err
		}
		pagesTried++

		img, err := doc.RenderPNG(page)
		if err != nil {
			d.logger.Debug().Err(err).Int("page", page+1).Msg("Page render failed")
			continue
		}
		ocrText, err := d.recognizer.Recognize(ctx, img)
		if err != nil {
			if ctx.Err() != nil {
				return "", true, pagesTried, ctx.Err()
			}
			d.logger.Warn().Err(err).Int("page", page+1).Msg("Page recognition failed")
			continue
		}
		ocrText = strings.TrimSpace(ocrText)
		if utf8.RuneCountInString(ocrText) > d.opts.OCRMinChars {
			return ocrText, true, pagesTried, nil
		}
	}
	return "", true, pagesTried, nil
}

func (d *Dispatcher) extractDelimited(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return decodeDelimited(data, d.opts.LegacyCharset), nil
}

// isHardFailure separates conditions that must fail the attachment from
// content that is merely not decodable
func isHardFailure(err error) bool {
	var pathErr *fs.PathError
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrUnreadable) ||
		errors.Is(err, ocr.ErrRecognitionFailed) ||
		errors.Is(err, ocr.ErrEngineClosed) ||
		errors.As(err, &pathErr)
}
