package cli

import (
	"fmt"
	"os"

	"github.com/inboxkeep/core/internal/app"
	"github.com/inboxkeep/core/internal/config"
	"github.com/inboxkeep/core/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  zerolog.Logger
)

// rootCmd represents the base command. Without a subcommand it serves the API.
var rootCmd = &cobra.Command{
	Use:   "inboxkeep",
	Short: "Mailbox ingestion and attachment text extraction service",
	Long: `inboxkeep previews messages from a selected IMAP account, stores the ones
you pick together with their attachments, and extracts searchable text from
those attachments (PDF, Office, spreadsheets, CSV and images through OCR).

Examples:
  inboxkeep                      # start the HTTP API (same as "serve")
  inboxkeep account list         # list mailbox accounts
  inboxkeep account select 2     # use account 2 for ingestion
  inboxkeep extract run -l 10    # extract text from up to 10 attachments
  inboxkeep key show             # print the API key`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadFrom(cfgFile)
		if err != nil {
			return err
		}
		logger = logging.New(cfg.LogLevel, nil)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, false)
	},
}

// Execute runs the command line
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openApp wires the service graph for one command
func openApp(withOCR bool) (*app.App, error) {
	a, err := app.New(cfg, logger, app.Options{WithOCR: withOCR})
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return a, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./config.json or <data_dir>/config.json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(logsCmd)
}
