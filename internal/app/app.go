// Package app assembles the service graph shared by the HTTP server and the
// command line.
package app

import (
	"fmt"
	"os"

	"github.com/inboxkeep/core/internal/api/middleware"
	"github.com/inboxkeep/core/internal/config"
	"github.com/inboxkeep/core/internal/database"
	"github.com/inboxkeep/core/internal/extraction"
	"github.com/inboxkeep/core/internal/ingest"
	"github.com/inboxkeep/core/internal/mailbox"
	"github.com/inboxkeep/core/internal/ocr"
	"github.com/inboxkeep/core/internal/ocr/tesseract"
	"github.com/inboxkeep/core/internal/pdfrender"
	"github.com/inboxkeep/core/internal/progress"
	"github.com/inboxkeep/core/internal/services"
	"github.com/inboxkeep/core/internal/storage"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Options selects the optional parts of the graph
type Options struct {
	// WithOCR loads the recognition engine. Without it images fail per item
	// and scanned PDFs keep whatever digital text they have.
	WithOCR bool
}

// App holds every long-lived component
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	DB     *gorm.DB
	Store  *storage.Store

	Logs     *services.LogService
	Accounts *services.AccountService
	Emails   *services.EmailService

	IngestTracker     *progress.Tracker
	ExtractionTracker *progress.Tracker

	Dispatcher *extraction.Dispatcher
	Runner     *extraction.Runner
	Scheduler  *extraction.Scheduler
	Workflow   *ingest.Workflow

	APIKeys *middleware.APIKeyManager
	Links   *middleware.LinkSigner

	closers []func() error
}

// New opens the database and wires every component. OCR model data is
// validated here so a missing language file stops startup.
func New(cfg *config.Config, logger zerolog.Logger, opts Options) (*App, error) {
	for _, dir := range []string{cfg.DataDir, cfg.GetAttachmentsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	db, err := database.Initialize(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		DB:     db,
		Store:  storage.NewStore(cfg.GetAttachmentsDir()),
	}
	a.closers = append(a.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	mailboxOpts := mailbox.Options{
		PreviewLimit:   cfg.Mailbox.PreviewLimit,
		DialTimeout:    cfg.Mailbox.DialTimeout,
		CommandTimeout: cfg.Mailbox.CommandTimeout,
		Mailbox:        cfg.Mailbox.Mailbox,
	}

	a.Logs = services.NewLogServiceWithLevel(db, cfg.LogLevel, logger)
	a.Accounts = services.NewAccountService(db, cfg.GetEncryptionKey(), a.Logs, mailboxOpts, logger)
	a.Emails = services.NewEmailService(db, a.Store, a.Logs, logger)

	a.IngestTracker = progress.NewTracker(progress.KindIngest, logger)
	a.ExtractionTracker = progress.NewTracker(progress.KindExtraction, logger)
	a.closers = append(a.closers, func() error {
		a.IngestTracker.Close()
		a.ExtractionTracker.Close()
		return nil
	})

	var deps extraction.Deps
	if opts.WithOCR {
		engine, err := tesseract.New(ocr.Options{
			DataDir:       cfg.OCR.DataDir,
			Languages:     cfg.OCR.Languages,
			PageSegMode:   cfg.OCR.PageSegMode,
			CharWhitelist: cfg.OCR.CharWhitelist,
			PoolSize:      cfg.OCR.PoolSize,
		}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, engine.Close)
		deps.Recognizer = engine
		deps.Rasterizer = pdfrender.New(cfg.Extraction.RenderDPI)
	}

	a.Dispatcher = extraction.NewDispatcher(extraction.Options{
		TextThreshold:  cfg.Extraction.TextThreshold,
		OCRMinChars:    cfg.Extraction.OCRMinChars,
		MaxOCRPages:    cfg.Extraction.MaxOCRPages,
		LargeFileBytes: cfg.Extraction.LargeFileBytes,
		LegacyCharset:  cfg.Extraction.LegacyCharset,
	}, deps, logger)

	a.Runner = extraction.NewRunner(db, a.Dispatcher, a.Store, a.ExtractionTracker, a.Logs, extraction.RunnerOptions{
		Timeout:    cfg.Extraction.Timeout,
		BatchLimit: cfg.Extraction.BatchLimit,
		Workers:    cfg.Extraction.Workers,
	}, logger)
	a.Scheduler = extraction.NewScheduler(a.Runner, cfg.Extraction.AutoInterval, logger)

	a.Workflow = ingest.NewWorkflow(db, a.Accounts, ingest.MailboxSources(mailboxOpts, logger), a.Store,
		a.IngestTracker, a.Runner, a.Logs, ingest.Options{ExtractAfterCommit: cfg.Ingest.ExtractAfterCommit}, logger)

	a.APIKeys, err = middleware.NewAPIKeyManager(cfg.DataDir)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Links = middleware.NewLinkSigner(append([]byte("download-links:"), cfg.GetEncryptionKey()...), cfg.DownloadLinkTTL)

	return a, nil
}

// Close stops the scheduler and releases resources in reverse order
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn().Err(err).Msg("Shutdown step failed")
		}
	}
	a.closers = nil
}
