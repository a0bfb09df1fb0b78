package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/inboxkeep/core/internal/extraction"
	"github.com/spf13/cobra"
)

var (
	extractLimit int
	extractNoOCR bool
	extractIDs   []uint
)

// extractCmd represents the extract command group
var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Attachment text extraction",
}

// extractRunCmd runs one batch in the foreground
var extractRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract text from pending attachments",
	Long: `Run one extraction batch in the foreground and print a per-attachment
report. Ctrl-C aborts the batch; attachments not yet started stay pending.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(!extractNoOCR)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		summary, err := a.Runner.Run(ctx, extraction.BatchOptions{
			Limit:         extractLimit,
			AttachmentIDs: extractIDs,
		})
		if err != nil {
			return fmt.Errorf("extraction: %w", err)
		}

		out := cmd.OutOrStdout()
		if summary.Total == 0 {
			fmt.Fprintln(out, "Nothing to extract.")
			return nil
		}

		fmt.Fprintf(out, "%-6s %-14s %-10s %-8s %-4s %s\n", "ID", "STATUS", "KIND", "CHARS", "OCR", "FILE")
		for _, r := range summary.Results {
			ocr := ""
			if r.UsedOCR {
				ocr = "yes"
			}
			fmt.Fprintf(out, "%-6d %-14s %-10s %-8d %-4s %s\n", r.AttachmentID, r.Status, r.Kind, r.TextLength, ocr, r.FileName)
			if r.Error != "" {
				fmt.Fprintf(out, "       %s\n", r.Error)
			}
		}
		fmt.Fprintf(out, "\n%d total, %d processed, %d skipped, %d errors, %d not attempted\n",
			summary.Total, summary.Processed, summary.Skipped, summary.Errors, summary.NotAttempted)
		if summary.Aborted {
			fmt.Fprintln(out, "Batch aborted.")
		}
		return nil
	},
}

// extractStatsCmd prints extraction coverage
var extractStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show extraction coverage",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.Emails.Stats()
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Emails:       %d\n", stats.Emails)
		fmt.Fprintf(out, "Attachments:  %d\n", stats.Attachments)
		fmt.Fprintf(out, "  processed:  %d\n", stats.Processed)
		fmt.Fprintf(out, "  pending:    %d\n", stats.Pending)
		fmt.Fprintf(out, "  failed:     %d\n", stats.Failed)
		fmt.Fprintf(out, "Completion:   %.1f%%\n", stats.CompletionRate*100)
		return nil
	},
}

func init() {
	extractRunCmd.Flags().IntVarP(&extractLimit, "limit", "l", 0, "maximum attachments in this batch (capped by extraction.batch_limit unless --id is given)")
	extractRunCmd.Flags().UintSliceVar(&extractIDs, "id", nil, "only these attachment ids")
	extractRunCmd.Flags().BoolVar(&extractNoOCR, "no-ocr", false, "run without the OCR engine; images are reported as errors")

	extractCmd.AddCommand(extractRunCmd)
	extractCmd.AddCommand(extractStatsCmd)
}
