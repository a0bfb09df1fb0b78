package config

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	DatabaseDriver  string        `mapstructure:"database_driver"` // sqlite or postgres
	DatabasePath    string        `mapstructure:"database_path"`
	DatabaseDSN     string        `mapstructure:"database_dsn"`
	APIPort         string        `mapstructure:"api_port"`
	LogLevel        string        `mapstructure:"log_level"`
	DataDir         string        `mapstructure:"data_dir"`
	AttachmentsDir  string        `mapstructure:"attachments_dir"` // empty means DataDir/attachments
	EncryptionKey   string        `mapstructure:"encryption_key"`
	CORSOrigins     string        `mapstructure:"cors_origins"` // comma separated, * for all
	RequireAPIKey   bool          `mapstructure:"require_api_key"`
	DownloadLinkTTL time.Duration `mapstructure:"download_link_ttl"`

	Mailbox    MailboxConfig    `mapstructure:"mailbox"`
	OCR        OCRConfig        `mapstructure:"ocr"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Progress   ProgressConfig   `mapstructure:"progress"`
}

// MailboxConfig controls IMAP sessions
type MailboxConfig struct {
	PreviewLimit   int           `mapstructure:"preview_limit"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	Mailbox        string        `mapstructure:"mailbox"`
}

// OCRConfig binds the recognition engine to local model data
type OCRConfig struct {
	DataDir       string   `mapstructure:"data_dir"`
	Languages     []string `mapstructure:"languages"`
	PageSegMode   int      `mapstructure:"page_seg_mode"`
	CharWhitelist string   `mapstructure:"char_whitelist"`
	PoolSize      int      `mapstructure:"pool_size"`
}

// ExtractionConfig tunes the dispatcher and batch runner
type ExtractionConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	BatchLimit     int           `mapstructure:"batch_limit"`
	Workers        int           `mapstructure:"workers"`
	TextThreshold  int           `mapstructure:"text_threshold"`
	OCRMinChars    int           `mapstructure:"ocr_min_chars"`
	MaxOCRPages    int           `mapstructure:"max_ocr_pages"`
	LargeFileBytes int64         `mapstructure:"large_file_bytes"`
	RenderDPI      float64       `mapstructure:"render_dpi"`
	AutoInterval   time.Duration `mapstructure:"auto_interval"` // 0 disables
	LegacyCharset  string        `mapstructure:"legacy_charset"`
}

// IngestConfig controls the commit workflow
type IngestConfig struct {
	ExtractAfterCommit bool `mapstructure:"extract_after_commit"`
}

// ProgressConfig controls progress streaming
type ProgressConfig struct {
	KeepAlive time.Duration `mapstructure:"keep_alive"`
}

// Default configuration values
const (
	DefaultDatabaseDriver  = "sqlite"
	DefaultDatabasePath    = "data/inboxkeep.db"
	DefaultAPIPort         = "8080"
	DefaultLogLevel        = "INFO"
	DefaultDataDir         = "data"
	DefaultEncryptionKey   = "inboxkeep-default-key-change-in-production"
	DefaultCORSOrigins     = "*"
	DefaultDownloadLinkTTL = 15 * time.Minute

	DefaultPreviewLimit   = 100
	DefaultDialTimeout    = 10 * time.Second
	DefaultCommandTimeout = 5 * time.Minute
	DefaultMailbox        = "INBOX"

	DefaultOCRDataDir  = "tessdata"
	DefaultPageSegMode = 3
	DefaultOCRPoolSize = 1

	DefaultExtractionTimeout = 30 * time.Second
	DefaultBatchLimit        = 30
	DefaultWorkers           = 1
	DefaultTextThreshold     = 150
	DefaultOCRMinChars       = 50
	DefaultMaxOCRPages       = 3
	DefaultLargeFileBytes    = 1 << 20
	DefaultRenderDPI         = 200
	DefaultLegacyCharset     = "windows-874"

	DefaultKeepAlive = 30 * time.Second

	// EnvPrefix prefixes every environment override, e.g. INBOXKEEP_API_PORT
	EnvPrefix = "INBOXKEEP"
)

// DefaultLanguages are the trained languages combined by default
var DefaultLanguages = []string{"tha", "eng"}

var (
	// ErrInvalidConfig indicates a value that cannot be used
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Load loads configuration from environment variables and config file
// Priority: Environment variables > Config file > Default values
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file; an empty path searches
// the working directory and the data directory for config.json
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath(".")
		v.AddConfigPath(v.GetString("data_dir"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(path != "" && os.IsNotExist(err)) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.OCR.Languages = splitList(cfg.OCR.Languages)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_driver", DefaultDatabaseDriver)
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("database_dsn", "")
	v.SetDefault("api_port", DefaultAPIPort)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("attachments_dir", "")
	v.SetDefault("encryption_key", DefaultEncryptionKey)
	v.SetDefault("cors_origins", DefaultCORSOrigins)
	v.SetDefault("require_api_key", false)
	v.SetDefault("download_link_ttl", DefaultDownloadLinkTTL)

	v.SetDefault("mailbox.preview_limit", DefaultPreviewLimit)
	v.SetDefault("mailbox.dial_timeout", DefaultDialTimeout)
	v.SetDefault("mailbox.command_timeout", DefaultCommandTimeout)
	v.SetDefault("mailbox.mailbox", DefaultMailbox)

	v.SetDefault("ocr.data_dir", DefaultOCRDataDir)
	v.SetDefault("ocr.languages", DefaultLanguages)
	v.SetDefault("ocr.page_seg_mode", DefaultPageSegMode)
	v.SetDefault("ocr.char_whitelist", "")
	v.SetDefault("ocr.pool_size", DefaultOCRPoolSize)

	v.SetDefault("extraction.timeout", DefaultExtractionTimeout)
	v.SetDefault("extraction.batch_limit", DefaultBatchLimit)
	v.SetDefault("extraction.workers", DefaultWorkers)
	v.SetDefault("extraction.text_threshold", DefaultTextThreshold)
	v.SetDefault("extraction.ocr_min_chars", DefaultOCRMinChars)
	v.SetDefault("extraction.max_ocr_pages", DefaultMaxOCRPages)
	v.SetDefault("extraction.large_file_bytes", DefaultLargeFileBytes)
	v.SetDefault("extraction.render_dpi", DefaultRenderDPI)
	v.SetDefault("extraction.auto_interval", time.Duration(0))
	v.SetDefault("extraction.legacy_charset", DefaultLegacyCharset)

	v.SetDefault("ingest.extract_after_commit", true)

	v.SetDefault("progress.keep_alive", DefaultKeepAlive)
}

// splitList accepts both ["tha","eng"] and the env form "tha+eng" or "tha,eng"
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.FieldsFunc(item, func(r rune) bool { return r == '+' || r == ',' }) {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate rejects values that would make a component unusable
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite":
	case "postgres":
		if c.DatabaseDSN == "" {
			return fmt.Errorf("%w: database_dsn is required for postgres", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown database_driver %q", ErrInvalidConfig, c.DatabaseDriver)
	}
	if c.Mailbox.PreviewLimit <= 0 {
		return fmt.Errorf("%w: mailbox.preview_limit must be positive", ErrInvalidConfig)
	}
	if c.Extraction.Timeout <= 0 {
		return fmt.Errorf("%w: extraction.timeout must be positive", ErrInvalidConfig)
	}
	if c.Extraction.Workers < 1 {
		c.Extraction.Workers = 1
	}
	if c.Extraction.BatchLimit <= 0 {
		c.Extraction.BatchLimit = DefaultBatchLimit
	}
	if c.Extraction.MaxOCRPages < 1 {
		c.Extraction.MaxOCRPages = 1
	}
	if len(c.OCR.Languages) == 0 {
		c.OCR.Languages = append([]string(nil), DefaultLanguages...)
	}
	return nil
}

// GetAttachmentsDir returns the base directory for attachment storage
// If AttachmentsDir is set, use it; otherwise use DataDir/attachments
func (c *Config) GetAttachmentsDir() string {
	if c.AttachmentsDir != "" {
		return c.AttachmentsDir
	}
	return filepath.Join(c.DataDir, "attachments")
}

// GetEncryptionKey returns the 32 byte key used for stored credentials
func (c *Config) GetEncryptionKey() []byte {
	hash := sha256.Sum256([]byte(c.EncryptionKey))
	return hash[:]
}

// GetCORSOrigins splits CORSOrigins into a list
func (c *Config) GetCORSOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
