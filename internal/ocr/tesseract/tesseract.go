// Package tesseract implements ocr.Recognizer on the Tesseract engine.
package tesseract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/inboxkeep/core/internal/ocr"
	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog"
)

// Engine is a pooled ocr.Recognizer. Each pooled client binds its model
// data and parameters once and is reused for every call it serves.
type Engine struct {
	opts    ocr.Options
	logger  zerolog.Logger
	pool    chan *gosseract.Client
	clients []*gosseract.Client

	mu     sync.RWMutex
	closed bool
}

// New validates the model data and builds the client pool
func New(opts ocr.Options, logger zerolog.Logger) (*Engine, error) {
	opts = opts.WithDefaults()
	if err := ocr.Validate(opts); err != nil {
		return nil, err
	}

	t := &Engine{
		opts:   opts,
		logger: logger.With().Str("component", "ocr").Logger(),
		pool:   make(chan *gosseract.Client, opts.PoolSize),
	}
	for i := 0; i < opts.PoolSize; i++ {
		client, err := newClient(opts)
		if err != nil {
			t.closeClients()
			return nil, err
		}
		t.clients = append(t.clients, client)
		t.pool <- client
	}

	t.logger.Info().
		Str("data_dir", opts.DataDir).
		Str("languages", opts.LanguageSpec()).
		Int("psm", opts.PageSegMode).
		Int("pool", opts.PoolSize).
		Msg("OCR engine ready")
	return t, nil
}

func newClient(opts ocr.Options) (*gosseract.Client, error) {
	client := gosseract.NewClient()
	steps := []func() error{
		func() error { return client.SetTessdataPrefix(opts.DataDir) },
		func() error { return client.SetLanguage(opts.Languages...) },
		func() error { return client.SetPageSegMode(gosseract.PageSegMode(opts.PageSegMode)) },
	}
	if opts.CharWhitelist != "" {
		steps = append(steps, func() error { return client.SetWhitelist(opts.CharWhitelist) })
	}
	for _, step := range steps {
		if err := step(); err != nil {
			client.Close()
			return nil, fmt.Errorf("%w: %v", ocr.ErrRecognitionFailed, err)
		}
	}
	return client, nil
}

// Recognize runs OCR over image. The engine call itself cannot be
// interrupted; when ctx ends first the caller gets ctx.Err() and the
// client rejoins the pool once the call returns.
func (t *Engine) Recognize(ctx context.Context, image []byte) (string, error) {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return "", ocr.ErrEngineClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var client *gosseract.Client
	select {
	case client = <-t.pool:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() { t.pool <- client }()
		if err := client.SetImageFromBytes(image); err != nil {
			done <- result{err: err}
			return
		}
		text, err := client.Text()
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("%w: %v", ocr.ErrRecognitionFailed, r.err)
		}
		return strings.TrimSpace(r.text), nil
	case <-ctx.Done():
		t.logger.Warn().Err(ctx.Err()).Msg("Recognition abandoned")
		return "", ctx.Err()
	}
}

// Close waits for in-flight calls and releases every client
func (t *Engine) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	for range t.clients {
		<-t.pool
	}
	t.closeClients()
	return nil
}

func (t *Engine) closeClients() {
	for _, c := range t.clients {
		c.Close()
	}
	t.clients = nil
}
