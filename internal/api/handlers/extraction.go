package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/inboxkeep/core/internal/extraction"
	"github.com/inboxkeep/core/internal/progress"
	"github.com/inboxkeep/core/internal/services"
)

// ExtractionHandler starts extraction batches and reports coverage
type ExtractionHandler struct {
	runner       *extraction.Runner
	emailService *services.EmailService
}

// NewExtractionHandler creates a new ExtractionHandler instance
func NewExtractionHandler(runner *extraction.Runner, emailService *services.EmailService) *ExtractionHandler {
	return &ExtractionHandler{
		runner:       runner,
		emailService: emailService,
	}
}

// StartExtractionRequest bounds one background batch
type StartExtractionRequest struct {
	BatchLimit    int    `json:"batchLimit"`
	AttachmentIDs []uint `json:"attachmentIds"`
}

// StartExtraction launches a batch in the background
// POST /api/extraction/start
func (h *ExtractionHandler) StartExtraction(c *gin.Context) {
	var req StartExtractionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, CodeValidation, "Invalid request body")
			return
		}
	}
	if req.BatchLimit < 0 {
		respondError(c, http.StatusBadRequest, CodeValidation, "batchLimit must not be negative")
		return
	}

	err := h.runner.Start(context.WithoutCancel(c.Request.Context()), extraction.BatchOptions{
		Limit:         req.BatchLimit,
		AttachmentIDs: req.AttachmentIDs,
	})
	if errors.Is(err, progress.ErrBusy) {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error": gin.H{
				"code":    CodeBusy,
				"message": "Extraction is already running",
			},
			"data": gin.H{
				"accepted": false,
				"progress": h.runner.Tracker().Snapshot(),
			},
		})
		return
	}
	if err != nil {
		respondServiceError(c, err, "Failed to start extraction")
		return
	}

	respondOK(c, http.StatusAccepted, gin.H{
		"accepted": true,
		"progress": h.runner.Tracker().Snapshot(),
	})
}

// GetSummary reports extraction coverage and the last finished batch
// GET /api/extraction/summary
func (h *ExtractionHandler) GetSummary(c *gin.Context) {
	stats, err := h.emailService.Stats()
	if err != nil {
		respondServiceError(c, err, "Failed to compute summary")
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"stats":     stats,
		"lastBatch": h.runner.LastSummary(),
		"progress":  h.runner.Tracker().Snapshot(),
	})
}
