package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var logsLimit int

// logsCmd prints the newest operation log entries
var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent operation log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Logs.GetRecentLogs(logsLimit)
		if err != nil {
			return fmt.Errorf("read logs: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(out, "No log entries.")
			return nil
		}
		fmt.Fprintf(out, "%-20s %-6s %-11s %-18s %s\n", "TIME", "LEVEL", "MODULE", "ACTION", "MESSAGE")
		for _, e := range entries {
			fmt.Fprintf(out, "%-20s %-6s %-11s %-18s %s\n",
				e.CreatedAt.Local().Format(time.DateTime), e.Level, e.Module, e.Action, e.Message)
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 20, "number of entries")
}
