package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/inboxkeep/core/internal/ingest"
	"github.com/inboxkeep/core/internal/mailbox"
	"github.com/inboxkeep/core/internal/ocr"
	"github.com/inboxkeep/core/internal/progress"
	"github.com/inboxkeep/core/internal/services"
	"github.com/inboxkeep/core/internal/storage"
)

// Error codes carried in the error envelope
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeBusy              = "BUSY"
	CodeConfiguration     = "CONFIGURATION_ERROR"
	CodeSourceUnavailable = "SOURCE_UNAVAILABLE"
	CodeAuthFailed        = "AUTH_FAILED"
	CodeInternal          = "INTERNAL_ERROR"
)

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// classify maps a service error to its HTTP status and error code
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ingest.ErrNoAccountSelected), errors.Is(err, ocr.ErrModelDataMissing):
		return http.StatusPreconditionFailed, CodeConfiguration
	case errors.Is(err, mailbox.ErrConnectionFailed):
		return http.StatusBadGateway, CodeSourceUnavailable
	case errors.Is(err, progress.ErrBusy):
		return http.StatusConflict, CodeBusy
	case errors.Is(err, services.ErrAccountNotFound),
		errors.Is(err, services.ErrEmailNotFound),
		errors.Is(err, services.ErrAttachmentNotFound),
		errors.Is(err, storage.ErrFileNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, services.ErrAccountAlreadyExists), errors.Is(err, services.ErrAccountHasEmails):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, services.ErrInvalidAccountData),
		errors.Is(err, services.ErrInvalidEmailData),
		errors.Is(err, services.ErrAccountNotActive),
		errors.Is(err, storage.ErrPathOutsideRoot):
		return http.StatusBadRequest, CodeValidation
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// respondServiceError writes the envelope for err. Internal errors get the
// fallback message so driver details stay in the log.
func respondServiceError(c *gin.Context, err error, fallback string) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		message = fallback
	}
	respondError(c, status, code, message)
}

// parseID reads a positive numeric path parameter
func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, CodeValidation, "Invalid "+name)
		return 0, false
	}
	return uint(id), true
}
