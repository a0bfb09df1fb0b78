package models

import (
	"time"
)

// Email represents a retained mailbox message
type Email struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	AccountID   uint      `gorm:"index;not null" json:"account_id"`
	MailboxUID  uint32    `gorm:"uniqueIndex;not null" json:"mailbox_uid"`
	FromAddress string    `gorm:"size:255" json:"from_address"`
	Subject     string    `gorm:"size:500" json:"subject"`
	BodyText    string    `gorm:"type:text" json:"body_text"`
	ReceivedAt  time.Time `gorm:"index" json:"received_at"`
	CreatedAt   time.Time `json:"created_at"`

	// Relations
	Attachments []Attachment `gorm:"foreignKey:EmailID" json:"attachments,omitempty"`
}
