package handlers

import (
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/inboxkeep/core/internal/api/middleware"
	"github.com/inboxkeep/core/internal/services"
)

// EmailHandler handles retained email and attachment requests
type EmailHandler struct {
	emailService   *services.EmailService
	accountService *services.AccountService
	links          *middleware.LinkSigner
}

// NewEmailHandler creates a new EmailHandler instance. links may be nil,
// which disables signed download links.
func NewEmailHandler(emailService *services.EmailService, accountService *services.AccountService, links *middleware.LinkSigner) *EmailHandler {
	return &EmailHandler{
		emailService:   emailService,
		accountService: accountService,
		links:          links,
	}
}

// parseBool accepts true/1/yes/y and false/0/no/n; anything else is unset
func parseBool(value string) *bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "y":
		v := true
		return &v
	case "false", "0", "no", "n":
		v := false
		return &v
	}
	return nil
}

// parseDay reads an RFC 3339 timestamp or a bare YYYY-MM-DD date. A bare
// date resolves to the start of the day, or to its last instant when
// endOfDay is set.
func parseDay(value string, endOfDay bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if strings.Contains(value, "T") {
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return nil, err
		}
		return &t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", value, time.Local)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// ListEmails returns retained emails of one account, newest first
// GET /api/emails
func (h *EmailHandler) ListEmails(c *gin.Context) {
	fromDate, err := parseDay(c.Query("fromDate"), false)
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "Invalid fromDate")
		return
	}
	toDate, err := parseDay(c.Query("toDate"), true)
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "Invalid toDate")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	opts := services.EmailListOptions{
		FromDate:       fromDate,
		ToDate:         toDate,
		Query:          c.Query("q"),
		HasAttachments: parseBool(c.Query("hasAttachments")),
		OCRStatus:      c.Query("ocrStatus"),
		Limit:          limit,
		Offset:         offset,
	}

	// Without an explicit account the listing follows the selected account
	if raw := c.Query("accountId"); raw != "" {
		accountID, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || accountID == 0 {
			respondError(c, http.StatusBadRequest, CodeValidation, "Invalid accountId")
			return
		}
		opts.AccountID = uint(accountID)
	} else {
		account, err := h.accountService.GetSelectedAccount()
		if err != nil {
			if errors.Is(err, services.ErrAccountNotFound) {
				respondOK(c, http.StatusOK, services.EmailListResult{Items: []services.EmailListItem{}})
				return
			}
			respondServiceError(c, err, "Failed to retrieve emails")
			return
		}
		opts.AccountID = account.ID
	}

	result, err := h.emailService.ListEmails(opts)
	if err != nil {
		respondServiceError(c, err, "Failed to retrieve emails")
		return
	}
	respondOK(c, http.StatusOK, result)
}

// GetEmail returns one email with its attachments and extracted text
// GET /api/emails/:id
func (h *EmailHandler) GetEmail(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	email, err := h.emailService.GetEmailByID(id)
	if err != nil {
		respondServiceError(c, err, "Failed to retrieve email")
		return
	}
	respondOK(c, http.StatusOK, email)
}

// DeleteEmail removes an email and its stored attachments
// DELETE /api/emails/:id
func (h *EmailHandler) DeleteEmail(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.emailService.DeleteEmail(id); err != nil {
		respondServiceError(c, err, "Failed to delete email")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"message": "Email deleted successfully"})
}

// DownloadAttachment streams stored bytes under the original file name
// GET /api/attachments/:id/download
func (h *EmailHandler) DownloadAttachment(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	h.serveAttachment(c, id)
}

// CreateDownloadLink issues a signed link usable without the API key
// POST /api/attachments/:id/link
func (h *EmailHandler) CreateDownloadLink(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if h.links == nil {
		respondError(c, http.StatusNotFound, CodeNotFound, "Download links are disabled")
		return
	}
	if _, err := h.emailService.GetAttachment(id); err != nil {
		respondServiceError(c, err, "Failed to create download link")
		return
	}

	token, expiresAt, err := h.links.Sign(id)
	if err != nil {
		respondServiceError(c, err, "Failed to create download link")
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"url":        "/files/" + token,
		"expires_at": expiresAt.Unix(),
	})
}

// DownloadByToken serves an attachment named by a signed link
// GET /files/:token
func (h *EmailHandler) DownloadByToken(c *gin.Context) {
	if h.links == nil {
		respondError(c, http.StatusNotFound, CodeNotFound, "Download links are disabled")
		return
	}
	id, err := h.links.Verify(c.Param("token"))
	if err != nil {
		message := "Invalid download link"
		if errors.Is(err, middleware.ErrTokenExpired) {
			message = "Download link has expired"
		}
		respondError(c, http.StatusUnauthorized, CodeAuthFailed, message)
		return
	}
	h.serveAttachment(c, id)
}

func (h *EmailHandler) serveAttachment(c *gin.Context, id uint) {
	att, file, err := h.emailService.OpenAttachment(id)
	if err != nil {
		respondServiceError(c, err, "Failed to download attachment")
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		respondServiceError(c, err, "Failed to download attachment")
		return
	}

	contentType := att.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": att.FileName})
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, map[string]string{
		"Content-Disposition": disposition,
	})
}
