package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	return writeConfigLevel(t, "ERROR")
}

func writeConfigLevel(t *testing.T, level string) string {
	dir := t.TempDir()
	body, err := json.Marshal(map[string]any{
		"data_dir":       dir,
		"database_path":  filepath.Join(dir, "cli.db"),
		"log_level":      level,
		"encryption_key": "cli-test",
	})
	require.NoError(t, err)
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, body, 0600))
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestAccountCommands(t *testing.T) {
	path := writeConfig(t)

	out, err := run(t, "", "--config", path, "account", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No accounts configured.")

	out, err = run(t, "s3cret\n", "--config", path, "account", "add",
		"--host", "imap.example.com", "--username", "ops@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Account 1 created (ops@example.com)")

	out, err = run(t, "", "--config", path, "account", "select", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Selected account 1")

	out, err = run(t, "", "--config", path, "account", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "imap.example.com:993")
	assert.Contains(t, out, "ops@example.com")
	assert.Contains(t, out, "*")

	_, err = run(t, "", "--config", path, "account", "select", "abc")
	assert.Error(t, err)
}

func TestAccountAddRejectsEmptyPassword(t *testing.T) {
	path := writeConfig(t)

	_, err := run(t, "\n", "--config", path, "account", "add",
		"--host", "imap.example.com", "--username", "empty@example.com")
	assert.Error(t, err)
}

func TestExtractCommandsOnEmptyStore(t *testing.T) {
	path := writeConfig(t)

	out, err := run(t, "", "--config", path, "extract", "run", "--no-ocr")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to extract.")

	out, err = run(t, "", "--config", path, "extract", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Attachments:  0")
	assert.Contains(t, out, "Completion:   0.0%")
}

func TestKeyCommands(t *testing.T) {
	path := writeConfig(t)

	out, err := run(t, "", "--config", path, "key", "show")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "api_key.txt")
	oldKey := lines[1]
	assert.Len(t, oldKey, 64)

	out, err = run(t, "no\n", "--config", path, "key", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled.")

	out, err = run(t, "", "--config", path, "key", "reset", "--yes")
	require.NoError(t, err)
	lines = strings.Split(strings.TrimSpace(out), "\n")
	newKey := lines[len(lines)-1]
	assert.Len(t, newKey, 64)
	assert.NotEqual(t, oldKey, newKey)
}

func TestLogsCommand(t *testing.T) {
	path := writeConfigLevel(t, "INFO")

	out, err := run(t, "", "--config", path, "logs")
	require.NoError(t, err)
	assert.Contains(t, out, "No log entries.")

	_, err = run(t, "s3cret\n", "--config", path, "account", "add",
		"--host", "imap.example.com", "--username", "audit@example.com")
	require.NoError(t, err)

	out, err = run(t, "", "--config", path, "logs", "-n", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "MODULE")
	assert.Contains(t, out, "account")
}
