package services

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/inboxkeep/core/internal/database/models"
	"github.com/inboxkeep/core/internal/storage"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var (
	// ErrEmailNotFound indicates the email was not found
	ErrEmailNotFound = errors.New("email not found")
	// ErrAttachmentNotFound indicates attachment was not found
	ErrAttachmentNotFound = errors.New("attachment not found")
	// ErrInvalidEmailData indicates invalid email data
	ErrInvalidEmailData = errors.New("invalid email data")
)

// OCR status values derived from an email's attachments
const (
	OCRStatusNone    = "none"
	OCRStatusPending = "pending"
	OCRStatusPartial = "partial"
	OCRStatusDone    = "done"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// EmailService handles retained emails and their attachments
type EmailService struct {
	db         *gorm.DB
	store      *storage.Store
	logService *LogService
	logger     zerolog.Logger
}

// NewEmailService creates a new EmailService instance
func NewEmailService(db *gorm.DB, store *storage.Store, logService *LogService, logger zerolog.Logger) *EmailService {
	return &EmailService{
		db:         db,
		store:      store,
		logService: logService,
		logger:     logger.With().Str("component", "emails").Logger(),
	}
}

// EmailListOptions represents options for listing emails
type EmailListOptions struct {
	AccountID      uint
	FromDate       *time.Time
	ToDate         *time.Time
	Query          string
	HasAttachments *bool
	OCRStatus      string // none, pending, partial, done
	Limit          int
	Offset         int
}

// EmailListItem is one row of a listing with derived attachment counts
type EmailListItem struct {
	ID              uint      `json:"id"`
	AccountID       uint      `json:"account_id"`
	MailboxUID      uint32    `json:"mailbox_uid"`
	FromAddress     string    `json:"from_address"`
	Subject         string    `json:"subject"`
	ReceivedAt      time.Time `json:"received_at"`
	AttachmentCount int       `json:"attachment_count"`
	ExtractedCount  int       `json:"extracted_count"`
	PendingCount    int       `json:"pending_count"`
	OCRStatus       string    `json:"ocr_status"`
}

// EmailListResult represents the result of listing emails
type EmailListResult struct {
	Total  int64           `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
	Items  []EmailListItem `json:"items"`
}

const (
	attachmentExists = "EXISTS (SELECT 1 FROM attachments a WHERE a.email_id = emails.id)"
	extractedExists  = "EXISTS (SELECT 1 FROM attachments a WHERE a.email_id = emails.id AND a.extracted_text IS NOT NULL AND a.extracted_text <> '')"
	unextractedExist = "EXISTS (SELECT 1 FROM attachments a WHERE a.email_id = emails.id AND (a.extracted_text IS NULL OR a.extracted_text = ''))"
)

// ListEmails lists emails newest first with filtering
func (s *EmailService) ListEmails(opts EmailListOptions) (*EmailListResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	query := s.db.Model(&models.Email{})
	if opts.AccountID > 0 {
		query = query.Where("account_id = ?", opts.AccountID)
	}
	if opts.FromDate != nil {
		query = query.Where("received_at >= ?", *opts.FromDate)
	}
	if opts.ToDate != nil {
		query = query.Where("received_at <= ?", *opts.ToDate)
	}
	if q := strings.TrimSpace(opts.Query); q != "" {
		pattern := "%" + strings.ToLower(q) + "%"
		query = query.Where("LOWER(subject) LIKE ? OR LOWER(from_address) LIKE ?", pattern, pattern)
	}
	if opts.HasAttachments != nil {
		if *opts.HasAttachments {
			query = query.Where(attachmentExists)
		} else {
			query = query.Where("NOT " + attachmentExists)
		}
	}
	switch strings.ToLower(strings.TrimSpace(opts.OCRStatus)) {
	case "":
	case OCRStatusNone:
		query = query.Where("NOT " + attachmentExists)
	case OCRStatusDone:
		query = query.Where(attachmentExists).Where("NOT " + unextractedExist)
	case OCRStatusPending:
		query = query.Where(attachmentExists).Where("NOT " + extractedExists)
	case OCRStatusPartial:
		query = query.Where(extractedExists).Where(unextractedExist)
	default:
		return nil, ErrInvalidEmailData
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var emails []models.Email
	if err := query.
		Preload("Attachments", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "email_id", "extracted_text")
		}).
		Order("received_at DESC, id DESC").
		Offset(opts.Offset).
		Limit(opts.Limit).
		Find(&emails).Error; err != nil {
		return nil, err
	}

	items := make([]EmailListItem, 0, len(emails))
	for _, e := range emails {
		item := EmailListItem{
			ID:              e.ID,
			AccountID:       e.AccountID,
			MailboxUID:      e.MailboxUID,
			FromAddress:     e.FromAddress,
			Subject:         e.Subject,
			ReceivedAt:      e.ReceivedAt,
			AttachmentCount: len(e.Attachments),
		}
		for i := range e.Attachments {
			if e.Attachments[i].ExtractedText != nil && *e.Attachments[i].ExtractedText != "" {
				item.ExtractedCount++
			}
		}
		item.PendingCount = item.AttachmentCount - item.ExtractedCount
		item.OCRStatus = ocrStatus(item.AttachmentCount, item.ExtractedCount)
		items = append(items, item)
	}

	return &EmailListResult{
		Total:  total,
		Limit:  opts.Limit,
		Offset: opts.Offset,
		Items:  items,
	}, nil
}

func ocrStatus(attachments, extracted int) string {
	switch {
	case attachments == 0:
		return OCRStatusNone
	case extracted == attachments:
		return OCRStatusDone
	case extracted == 0:
		return OCRStatusPending
	default:
		return OCRStatusPartial
	}
}

// GetEmailByID retrieves an email with its attachments
func (s *EmailService) GetEmailByID(id uint) (*models.Email, error) {
	var email models.Email
	if err := s.db.Preload("Attachments", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).First(&email, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmailNotFound
		}
		return nil, err
	}
	return &email, nil
}

// GetAttachment retrieves one attachment row
func (s *EmailService) GetAttachment(id uint) (*models.Attachment, error) {
	var att models.Attachment
	if err := s.db.First(&att, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAttachmentNotFound
		}
		return nil, err
	}
	return &att, nil
}

// OpenAttachment returns the attachment row and its open file. The caller
// closes the file.
func (s *EmailService) OpenAttachment(id uint) (*models.Attachment, *os.File, error) {
	att, err := s.GetAttachment(id)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.store.Open(att.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrFileNotFound) {
			return nil, nil, ErrAttachmentNotFound
		}
		return nil, nil, err
	}
	return att, f, nil
}

// DeleteEmail removes an email, its attachment rows and its storage directory
func (s *EmailService) DeleteEmail(id uint) error {
	email, err := s.GetEmailByID(id)
	if err != nil {
		return err
	}

	// Use transaction to ensure both deletions succeed or fail together
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("email_id = ?", id).Delete(&models.Attachment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Email{}, id).Error
	}); err != nil {
		return err
	}

	if err := s.store.RemoveEmail(id); err != nil {
		s.logService.LogWarn(models.LogModuleEmail, "delete_files", "Removing attachment files failed", map[string]interface{}{
			"email_id": id,
			"error":    err.Error(),
		})
	}

	s.logService.LogEmailDelete(id, email.Subject)
	return nil
}

// ExtractionStats summarises retained content and extraction coverage
type ExtractionStats struct {
	Emails         int64   `json:"emails"`
	Attachments    int64   `json:"attachments"`
	Processed      int64   `json:"processed"`
	Pending        int64   `json:"pending"`
	Failed         int64   `json:"failed"`
	CompletionRate float64 `json:"completion_rate"`
}

// Stats counts emails and attachments by extraction state
func (s *EmailService) Stats() (*ExtractionStats, error) {
	stats := &ExtractionStats{}
	if err := s.db.Model(&models.Email{}).Count(&stats.Emails).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.Attachment{}).Count(&stats.Attachments).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.Attachment{}).
		Where("extracted_text IS NOT NULL AND extracted_text <> ''").
		Count(&stats.Processed).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.Attachment{}).
		Where("extraction_status = ?", models.ExtractionFailed).
		Count(&stats.Failed).Error; err != nil {
		return nil, err
	}
	stats.Pending = stats.Attachments - stats.Processed
	if stats.Attachments > 0 {
		stats.CompletionRate = float64(stats.Processed) / float64(stats.Attachments)
	}
	return stats, nil
}
