package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/inboxkeep/core/internal/ingest"
	"github.com/inboxkeep/core/internal/mailbox"
)

// IngestHandler exposes the two-phase preview and commit workflow
type IngestHandler struct {
	workflow *ingest.Workflow
}

// NewIngestHandler creates a new IngestHandler instance
func NewIngestHandler(workflow *ingest.Workflow) *IngestHandler {
	return &IngestHandler{workflow: workflow}
}

// PreviewRequest represents the request to list candidate messages
type PreviewRequest struct {
	DateRange    *mailbox.DateRange `json:"dateRange"`
	MetadataOnly bool               `json:"metadataOnly"`
}

// CommitRequest carries the previewed items chosen for retention
type CommitRequest struct {
	SelectedItems []ingest.Selection `json:"selectedItems"`
}

// Preview lists messages from the selected account without storing anything
// POST /api/preview
func (h *IngestHandler) Preview(c *gin.Context) {
	var req PreviewRequest
	// An empty body previews the newest messages
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, CodeValidation, "Invalid request body")
			return
		}
	}
	if dr := req.DateRange; dr != nil && dr.Since != nil && dr.Before != nil && !dr.Since.Before(*dr.Before) {
		respondError(c, http.StatusBadRequest, CodeValidation, "dateRange.since must be before dateRange.before")
		return
	}

	items, err := h.workflow.Preview(c.Request.Context(), req.DateRange, req.MetadataOnly)
	if err != nil {
		respondServiceError(c, err, "Failed to preview mailbox")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"items": items})
}

// Commit re-fetches the selected messages and stores them
// POST /api/commit
func (h *IngestHandler) Commit(c *gin.Context) {
	var req CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "Invalid request body")
		return
	}
	// An empty list is a valid commit that stores nothing
	if req.SelectedItems == nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "selectedItems is required")
		return
	}

	// The job outlives a dropped connection; POST /api/jobs/ingest/abort stops it
	result, err := h.workflow.Commit(context.WithoutCancel(c.Request.Context()), req.SelectedItems)
	if err != nil {
		status, code := classify(err)
		message := err.Error()
		if status == http.StatusInternalServerError {
			_ = c.Error(err)
			message = "Failed to commit emails"
		}
		// A source failure mid-run still reports what was stored
		c.JSON(status, gin.H{
			"success": false,
			"error": gin.H{
				"code":    code,
				"message": message,
			},
			"data": result,
		})
		return
	}
	respondOK(c, http.StatusOK, result)
}
