package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/inboxkeep/core/internal/api"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveNoOCR bool

// serveCmd starts the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API and, when extraction.auto_interval is set, the
background extraction scheduler. OCR model data is checked at startup;
pass --no-ocr to run without the recognition engine.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, serveNoOCR)
	},
}

func runServe(cmd *cobra.Command, noOCR bool) error {
	a, err := openApp(!noOCR)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           api.SetupRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.Scheduler.Start()

	event := logger.Info().
		Str("port", cfg.APIPort).
		Str("data_dir", cfg.DataDir).
		Str("attachments_dir", cfg.GetAttachmentsDir()).
		Str("database", cfg.DatabaseDriver).
		Bool("ocr", !noOCR)
	if cfg.RequireAPIKey {
		event = event.Str("api_key", a.APIKeys.GetCurrentKey())
	}
	event.Msg("Starting inboxkeep server")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	a.IngestTracker.Abort()
	a.ExtractionTracker.Abort()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Progress streams never end on their own
	a.IngestTracker.Close()
	a.ExtractionTracker.Close()
	return srv.Shutdown(shutdownCtx)
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoOCR, "no-ocr", false, "run without the OCR engine")
}
