package models

import (
	"strings"
	"time"
)

// ExtractionStatus tracks text extraction for one attachment
type ExtractionStatus string

const (
	ExtractionPending    ExtractionStatus = "PENDING"
	ExtractionProcessing ExtractionStatus = "PROCESSING"
	ExtractionCompleted  ExtractionStatus = "COMPLETED"
	ExtractionFailed     ExtractionStatus = "FAILED"
)

// Attachment is one stored file belonging to an Email
type Attachment struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	EmailID          uint             `gorm:"index;not null" json:"email_id"`
	FileName         string           `gorm:"size:255;not null" json:"file_name"`
	MimeType         string           `gorm:"size:255" json:"mime_type"`
	StoragePath      string           `gorm:"size:1000;not null" json:"-"`
	SizeBytes        int64            `json:"size_bytes"`
	ExtractedText    *string          `gorm:"type:text" json:"extracted_text"`
	ExtractionStatus ExtractionStatus `gorm:"size:20;index;default:PENDING" json:"extraction_status"`
	ExtractionError  string           `gorm:"type:text" json:"extraction_error,omitempty"`
	ExtractedAt      *time.Time       `json:"extracted_at"`
	CreatedAt        time.Time        `json:"created_at"`
}

// HasText reports whether extraction produced non-blank text
func (a *Attachment) HasText() bool {
	return a.ExtractedText != nil && strings.TrimSpace(*a.ExtractedText) != ""
}
