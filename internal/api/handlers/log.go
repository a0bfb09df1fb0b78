package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/inboxkeep/core/internal/services"
)

// LogHandler serves the persisted operation log
type LogHandler struct {
	logService *services.LogService
}

// NewLogHandler creates a new LogHandler instance
func NewLogHandler(logService *services.LogService) *LogHandler {
	return &LogHandler{logService: logService}
}

// ListLogs returns log entries newest first
// GET /api/logs
func (h *LogHandler) ListLogs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit > 500 {
		limit = 500
	}

	startTime, err := parseDay(c.Query("from"), false)
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "Invalid from")
		return
	}
	endTime, err := parseDay(c.Query("to"), true)
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "Invalid to")
		return
	}

	result, err := h.logService.QueryLogs(services.LogQuery{
		Level:     strings.ToUpper(c.Query("level")),
		Module:    c.Query("module"),
		Action:    c.Query("action"),
		StartTime: startTime,
		EndTime:   endTime,
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		respondServiceError(c, err, "Failed to retrieve logs")
		return
	}

	respondOK(c, http.StatusOK, gin.H{
		"total": result.Total,
		"page":  page,
		"limit": limit,
		"logs":  result.Logs,
	})
}

// GetLevel returns the minimum level persisted to the operation log
// GET /api/logs/level
func (h *LogHandler) GetLevel(c *gin.Context) {
	respondOK(c, http.StatusOK, gin.H{"level": h.logService.GetLogLevel()})
}

// SetLevelRequest represents the request body for changing the log level
type SetLevelRequest struct {
	Level string `json:"level" binding:"required"`
}

// SetLevel changes the minimum persisted level without a restart
// PUT /api/logs/level
func (h *LogHandler) SetLevel(c *gin.Context) {
	var req SetLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "Invalid request body")
		return
	}
	if err := h.logService.SetLogLevel(req.Level); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "Level must be DEBUG, INFO, WARN or ERROR")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"level": h.logService.GetLogLevel()})
}
