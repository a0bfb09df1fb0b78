package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/inboxkeep/core/internal/services"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var accountAddFlags struct {
	name     string
	host     string
	port     int
	username string
	noTLS    bool
	test     bool
}

// accountCmd represents the account command group
var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Mailbox account management",
	Long:  `Add, list, select and test the IMAP accounts used for ingestion.`,
}

// accountListCmd lists all accounts
var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List mailbox accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		accounts, err := a.Accounts.ListAccounts()
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(accounts) == 0 {
			fmt.Fprintln(out, "No accounts configured.")
			return nil
		}

		fmt.Fprintf(out, "%-4s %-3s %-16s %-28s %-30s %-8s %s\n", "ID", "SEL", "NAME", "SERVER", "USERNAME", "STATUS", "EMAILS")
		for _, acc := range accounts {
			selected := ""
			if acc.IsSelected {
				selected = "*"
			}
			server := acc.Host + ":" + strconv.Itoa(acc.Port)
			fmt.Fprintf(out, "%-4d %-3s %-16s %-28s %-30s %-8s %d\n", acc.ID, selected, acc.Name, server, acc.Username, acc.Status, acc.EmailCount)
		}
		return nil
	},
}

// readPassword reads without echo from a terminal, or one line from piped input
func readPassword(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.OutOrStdout(), "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// accountAddCmd creates an account
var accountAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a mailbox account",
	Long: `Add an IMAP account. The password is read from the terminal without echo,
or from the first line of standard input when it is piped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := accountAddFlags
		if f.host == "" || f.username == "" {
			return errors.New("--host and --username are required")
		}
		if f.name == "" {
			f.name = f.username
		}

		password, err := readPassword(cmd)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if password == "" {
			return errors.New("password must not be empty")
		}

		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		account, err := a.Accounts.CreateAccount(services.CreateAccountInput{
			Name:     f.name,
			Host:     f.host,
			Port:     f.port,
			UseTLS:   !f.noTLS,
			Username: f.username,
			Password: password,
		})
		if err != nil {
			return fmt.Errorf("create account: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Account %d created (%s)\n", account.ID, account.Username)

		if f.test {
			result, err := a.Accounts.TestConnectionByID(cmd.Context(), account.ID)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, result.Message)
		}
		return nil
	},
}

func parseAccountID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid account id %q", arg)
	}
	return uint(id), nil
}

// accountSelectCmd marks an account as the ingestion source
var accountSelectCmd = &cobra.Command{
	Use:   "select <id>",
	Short: "Use an account for ingestion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAccountID(args[0])
		if err != nil {
			return err
		}

		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		account, err := a.Accounts.SelectAccount(id)
		if err != nil {
			return fmt.Errorf("select account: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Selected account %d (%s)\n", account.ID, account.Username)
		return nil
	},
}

// accountTestCmd checks stored credentials against the server
var accountTestCmd = &cobra.Command{
	Use:   "test <id>",
	Short: "Test an account's connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAccountID(args[0])
		if err != nil {
			return err
		}

		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Accounts.TestConnectionByID(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("test account: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), result.Message)
		if !result.Success {
			return errors.New("connection test failed")
		}
		return nil
	},
}

func init() {
	accountAddCmd.Flags().StringVar(&accountAddFlags.name, "name", "", "display name (defaults to the username)")
	accountAddCmd.Flags().StringVar(&accountAddFlags.host, "host", "", "IMAP server host")
	accountAddCmd.Flags().IntVar(&accountAddFlags.port, "port", 993, "IMAP server port")
	accountAddCmd.Flags().StringVar(&accountAddFlags.username, "username", "", "login name")
	accountAddCmd.Flags().BoolVar(&accountAddFlags.noTLS, "no-tls", false, "connect without implicit TLS")
	accountAddCmd.Flags().BoolVar(&accountAddFlags.test, "test", false, "test the connection after saving")

	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(accountAddCmd)
	accountCmd.AddCommand(accountSelectCmd)
	accountCmd.AddCommand(accountTestCmd)
}
