package services

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/inboxkeep/core/internal/database/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ErrInvalidLogLevel indicates a level name other than DEBUG, INFO, WARN or ERROR
var ErrInvalidLogLevel = errors.New("invalid log level")

// LogService persists audit entries and mirrors them to the process logger
type LogService struct {
	db       *gorm.DB
	mu       sync.RWMutex
	logLevel models.LogLevel
	logger   zerolog.Logger
}

// NewLogService creates a new LogService instance
func NewLogService(db *gorm.DB, logger zerolog.Logger) *LogService {
	return &LogService{
		db:       db,
		logLevel: models.LogLevelInfo, // Default log level
		logger:   logger.With().Str("component", "audit").Logger(),
	}
}

// NewLogServiceWithLevel creates a new LogService instance with specified log level
func NewLogServiceWithLevel(db *gorm.DB, level string, logger zerolog.Logger) *LogService {
	s := NewLogService(db, logger)
	s.logLevel = parseLogLevel(level)
	return s
}

// parseLogLevel converts a string to LogLevel
func parseLogLevel(level string) models.LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return models.LogLevelDebug
	case "INFO":
		return models.LogLevelInfo
	case "WARN", "WARNING":
		return models.LogLevelWarn
	case "ERROR":
		return models.LogLevelError
	default:
		return models.LogLevelInfo
	}
}

// SetLogLevel changes the minimum level persisted from now on
func (s *LogService) SetLogLevel(level string) error {
	lvl := models.LogLevel(strings.ToUpper(strings.TrimSpace(level)))
	if lvl == "WARNING" {
		lvl = models.LogLevelWarn
	}
	if _, ok := levelPriority[lvl]; !ok {
		return ErrInvalidLogLevel
	}
	s.mu.Lock()
	s.logLevel = lvl
	s.mu.Unlock()
	return nil
}

// GetLogLevel returns the current log level
func (s *LogService) GetLogLevel() models.LogLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logLevel
}

var levelPriority = map[models.LogLevel]int{
	models.LogLevelDebug: 0,
	models.LogLevelInfo:  1,
	models.LogLevelWarn:  2,
	models.LogLevelError: 3,
}

// shouldLog checks if a log entry should be recorded based on log level
func (s *LogService) shouldLog(level models.LogLevel) bool {
	return levelPriority[level] >= levelPriority[s.GetLogLevel()]
}

// LogEntry represents a log entry to be created
type LogEntry struct {
	Level   models.LogLevel
	Module  models.LogModule
	Action  string
	Message string
	Details interface{} // Will be serialized to JSON
}

// Log creates a new log entry
func (s *LogService) Log(entry LogEntry) error {
	if !s.shouldLog(entry.Level) {
		return nil
	}

	var detailsJSON string
	if entry.Details != nil {
		bytes, err := json.Marshal(entry.Details)
		if err != nil {
			detailsJSON = "{}"
		} else {
			detailsJSON = string(bytes)
		}
	}

	s.mirror(entry, detailsJSON)

	log := &models.Log{
		Level:   string(entry.Level),
		Module:  string(entry.Module),
		Action:  entry.Action,
		Message: entry.Message,
		Details: detailsJSON,
	}
	if err := s.db.Create(log).Error; err != nil {
		s.logger.Error().Err(err).Str("action", entry.Action).Msg("Failed to persist audit entry")
		return err
	}
	return nil
}

func (s *LogService) mirror(entry LogEntry, details string) {
	var ev *zerolog.Event
	switch entry.Level {
	case models.LogLevelDebug:
		ev = s.logger.Debug()
	case models.LogLevelWarn:
		ev = s.logger.Warn()
	case models.LogLevelError:
		ev = s.logger.Error()
	default:
		ev = s.logger.Info()
	}
	ev = ev.Str("module", string(entry.Module)).Str("action", entry.Action)
	if details != "" {
		ev = ev.RawJSON("details", []byte(details))
	}
	ev.Msg(entry.Message)
}

// LogInfo creates an INFO level log entry
func (s *LogService) LogInfo(module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{Level: models.LogLevelInfo, Module: module, Action: action, Message: message, Details: details})
}

// LogWarn creates a WARN level log entry
func (s *LogService) LogWarn(module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{Level: models.LogLevelWarn, Module: module, Action: action, Message: message, Details: details})
}

// LogError creates an ERROR level log entry
func (s *LogService) LogError(module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{Level: models.LogLevelError, Module: module, Action: action, Message: message, Details: details})
}

// LogDebug creates a DEBUG level log entry
func (s *LogService) LogDebug(module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{Level: models.LogLevelDebug, Module: module, Action: action, Message: message, Details: details})
}

// AccountChangeDetails represents details for account configuration changes
type AccountChangeDetails struct {
	AccountID uint   `json:"account_id"`
	Username  string `json:"username"`
	Field     string `json:"field,omitempty"`
	NewValue  string `json:"new_value,omitempty"`
}

// LogAccountCreated logs an account creation event
func (s *LogService) LogAccountCreated(accountID uint, username string) error {
	return s.LogInfo(models.LogModuleAccount, "create", "Email account created", AccountChangeDetails{
		AccountID: accountID,
		Username:  username,
	})
}

// LogAccountUpdated logs an account update event
func (s *LogService) LogAccountUpdated(accountID uint, username string) error {
	return s.LogInfo(models.LogModuleAccount, "update", "Email account updated", AccountChangeDetails{
		AccountID: accountID,
		Username:  username,
	})
}

// LogAccountDeleted logs an account deletion event
func (s *LogService) LogAccountDeleted(accountID uint, username string) error {
	return s.LogInfo(models.LogModuleAccount, "delete", "Email account deleted", AccountChangeDetails{
		AccountID: accountID,
		Username:  username,
	})
}

// LogAccountSelected logs a change of the selected account
func (s *LogService) LogAccountSelected(accountID uint, username string) error {
	return s.LogInfo(models.LogModuleAccount, "select", "Email account selected", AccountChangeDetails{
		AccountID: accountID,
		Username:  username,
		Field:     "is_selected",
		NewValue:  "true",
	})
}

// APIRequestDetails represents details for API request logs
type APIRequestDetails struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	StatusCode int    `json:"status_code"`
	Duration   int64  `json:"duration_ms"`
	ClientIP   string `json:"client_ip"`
	UserAgent  string `json:"user_agent,omitempty"`
}

// LogAPIRequest logs an API request
func (s *LogService) LogAPIRequest(method, path string, statusCode int, durationMs int64, clientIP, userAgent string) error {
	level := models.LogLevelInfo
	if statusCode >= 400 && statusCode < 500 {
		level = models.LogLevelWarn
	} else if statusCode >= 500 {
		level = models.LogLevelError
	}

	return s.Log(LogEntry{
		Level:   level,
		Module:  models.LogModuleAPI,
		Action:  "request",
		Message: method + " " + path,
		Details: APIRequestDetails{
			Method:     method,
			Path:       path,
			StatusCode: statusCode,
			Duration:   durationMs,
			ClientIP:   clientIP,
			UserAgent:  userAgent,
		},
	})
}

// EmailOperationDetails represents details for email operation logs
type EmailOperationDetails struct {
	AccountID  uint   `json:"account_id,omitempty"`
	EmailID    uint   `json:"email_id,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Status     string `json:"status"`
	ErrorMsg   string `json:"error_msg,omitempty"`
	EmailCount int    `json:"email_count,omitempty"`
}

// LogPreview logs a mailbox preview
func (s *LogService) LogPreview(accountID uint, emailCount int, err error) error {
	details := EmailOperationDetails{
		AccountID:  accountID,
		EmailCount: emailCount,
		Status:     "success",
	}

	level := models.LogLevelInfo
	message := "Mailbox previewed"

	if err != nil {
		level = models.LogLevelError
		details.Status = "failed"
		details.ErrorMsg = err.Error()
		message = "Mailbox preview failed"
	}

	return s.Log(LogEntry{
		Level:   level,
		Module:  models.LogModuleIngest,
		Action:  "preview",
		Message: message,
		Details: details,
	})
}

// CommitDetails summarizes one commit run
type CommitDetails struct {
	AccountID    uint   `json:"account_id"`
	Requested    int    `json:"requested"`
	Saved        int    `json:"saved"`
	Skipped      int    `json:"skipped"`
	Errors       int    `json:"errors"`
	Attachments  int    `json:"attachments"`
	EmptySkipped int    `json:"empty_attachments_skipped"`
	ErrorMsg     string `json:"error_msg,omitempty"`
}

// LogCommit logs the outcome of a commit
func (s *LogService) LogCommit(details CommitDetails) error {
	level := models.LogLevelInfo
	message := "Emails committed"
	if details.ErrorMsg != "" {
		level = models.LogLevelError
		message = "Commit failed"
	} else if details.Errors > 0 {
		level = models.LogLevelWarn
		message = "Emails committed with errors"
	}
	return s.Log(LogEntry{
		Level:   level,
		Module:  models.LogModuleIngest,
		Action:  "commit",
		Message: message,
		Details: details,
	})
}

// LogEmailDelete logs an email deletion
func (s *LogService) LogEmailDelete(emailID uint, subject string) error {
	return s.LogInfo(models.LogModuleEmail, "delete", "Email deleted", EmailOperationDetails{
		EmailID: emailID,
		Subject: subject,
		Status:  "deleted",
	})
}

// ExtractionBatchDetails summarizes one extraction batch
type ExtractionBatchDetails struct {
	Total        int   `json:"total"`
	Processed    int   `json:"processed"`
	Skipped      int   `json:"skipped"`
	Errors       int   `json:"errors"`
	NotAttempted int   `json:"not_attempted"`
	DurationMs   int64 `json:"duration_ms"`
	Aborted      bool  `json:"aborted,omitempty"`
}

// LogExtractionBatch logs the outcome of an extraction batch
func (s *LogService) LogExtractionBatch(details ExtractionBatchDetails) error {
	level := models.LogLevelInfo
	if details.Errors > 0 || details.Aborted {
		level = models.LogLevelWarn
	}
	return s.Log(LogEntry{
		Level:   level,
		Module:  models.LogModuleExtraction,
		Action:  "batch",
		Message: "Extraction batch finished",
		Details: details,
	})
}

// LogQuery represents query parameters for log retrieval
type LogQuery struct {
	Level     string
	Module    string
	Action    string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	Limit     int
}

// LogQueryResult represents the result of a log query
type LogQueryResult struct {
	Total int64
	Logs  []models.Log
}

// QueryLogs retrieves logs based on query parameters
func (s *LogService) QueryLogs(query LogQuery) (*LogQueryResult, error) {
	db := s.db.Model(&models.Log{})

	if query.Level != "" {
		db = db.Where("level = ?", query.Level)
	}
	if query.Module != "" {
		db = db.Where("module = ?", query.Module)
	}
	if query.Action != "" {
		db = db.Where("action = ?", query.Action)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", query.EndTime)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, err
	}

	if query.Page <= 0 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}

	offset := (query.Page - 1) * query.Limit

	var logs []models.Log
	if err := db.Order("created_at DESC").Offset(offset).Limit(query.Limit).Find(&logs).Error; err != nil {
		return nil, err
	}

	return &LogQueryResult{
		Total: total,
		Logs:  logs,
	}, nil
}

// GetRecentLogs retrieves the most recent logs
func (s *LogService) GetRecentLogs(limit int) ([]models.Log, error) {
	if limit <= 0 {
		limit = 100
	}

	var logs []models.Log
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
