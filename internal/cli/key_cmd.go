package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/inboxkeep/core/internal/api/middleware"
	"github.com/spf13/cobra"
)

var keyResetYes bool

// keyCmd represents the key command group
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "API key management",
	Long:  `Show or reset the API key checked when require_api_key is on.`,
}

// keyShowCmd shows the current API key
var keyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := middleware.NewAPIKeyManager(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load API key: %w", err)
		}

		currentKey := keys.GetCurrentKey()
		if currentKey == "" {
			return errors.New("no API key available")
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Current API key (%s):\n", keys.Path())
		fmt.Fprintln(cmd.OutOrStdout(), currentKey)
		return nil
	},
}

// keyResetCmd resets the API key
var keyResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Generate a new API key",
	Long:  `Generate a new API key. The old key stops working immediately.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := middleware.NewAPIKeyManager(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load API key: %w", err)
		}
		out := cmd.OutOrStdout()

		if !keyResetYes {
			fmt.Fprintln(out, "Current API key:")
			fmt.Fprintln(out, keys.GetCurrentKey())
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Warning: clients using the old key will be rejected after the reset.")
			fmt.Fprint(out, "Reset the API key? (yes/no): ")

			input, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			input = strings.TrimSpace(strings.ToLower(input))
			if input != "yes" && input != "y" {
				fmt.Fprintln(out, "Cancelled.")
				return nil
			}
		}

		newKey, err := keys.ResetKey()
		if err != nil {
			return fmt.Errorf("reset API key: %w", err)
		}

		fmt.Fprintln(out, "New API key:")
		fmt.Fprintln(out, newKey)
		return nil
	},
}

func init() {
	keyResetCmd.Flags().BoolVarP(&keyResetYes, "yes", "y", false, "skip the confirmation prompt")

	keyCmd.AddCommand(keyShowCmd)
	keyCmd.AddCommand(keyResetCmd)
}
