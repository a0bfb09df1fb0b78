package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, DefaultDatabaseDriver, cfg.DatabaseDriver)
	assert.Equal(t, DefaultPreviewLimit, cfg.Mailbox.PreviewLimit)
	assert.Equal(t, DefaultExtractionTimeout, cfg.Extraction.Timeout)
	assert.Equal(t, DefaultTextThreshold, cfg.Extraction.TextThreshold)
	assert.Equal(t, DefaultOCRMinChars, cfg.Extraction.OCRMinChars)
	assert.Equal(t, int64(DefaultLargeFileBytes), cfg.Extraction.LargeFileBytes)
	assert.Equal(t, []string{"tha", "eng"}, cfg.OCR.Languages)
	assert.Equal(t, DefaultKeepAlive, cfg.Progress.KeepAlive)
	assert.True(t, cfg.Ingest.ExtractAfterCommit)
	assert.Equal(t, time.Duration(0), cfg.Extraction.AutoInterval)
}

func TestLoadFrom_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"api_port": "9090",
		"extraction": {"timeout": "45s", "batch_limit": 10, "workers": 4},
		"ocr": {"languages": ["eng"], "data_dir": "/opt/tessdata"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	t.Setenv("INBOXKEEP_API_PORT", "7070")
	t.Setenv("INBOXKEEP_MAILBOX_PREVIEW_LIMIT", "25")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.APIPort, "env wins over file")
	assert.Equal(t, 25, cfg.Mailbox.PreviewLimit)
	assert.Equal(t, 45*time.Second, cfg.Extraction.Timeout)
	assert.Equal(t, 10, cfg.Extraction.BatchLimit)
	assert.Equal(t, 4, cfg.Extraction.Workers)
	assert.Equal(t, []string{"eng"}, cfg.OCR.Languages)
	assert.Equal(t, "/opt/tessdata", cfg.OCR.DataDir)
}

func TestLoadFrom_LanguagesFromEnv(t *testing.T) {
	t.Setenv("INBOXKEEP_OCR_LANGUAGES", "tha+eng")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.Equal(t, []string{"tha", "eng"}, cfg.OCR.Languages)
}

func TestValidate_PostgresNeedsDSN(t *testing.T) {
	t.Setenv("INBOXKEEP_DATABASE_DRIVER", "postgres")

	_, err := LoadFrom(filepath.Join(t.TempDir(), "none.json"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestGetAttachmentsDir(t *testing.T) {
	cfg := &Config{DataDir: "data"}
	assert.Equal(t, filepath.Join("data", "attachments"), cfg.GetAttachmentsDir())

	cfg.AttachmentsDir = "/srv/files"
	assert.Equal(t, "/srv/files", cfg.GetAttachmentsDir())
}

func TestGetEncryptionKey_Is32Bytes(t *testing.T) {
	cfg := &Config{EncryptionKey: "short"}
	assert.Len(t, cfg.GetEncryptionKey(), 32)
}
