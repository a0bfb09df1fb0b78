package models

import (
	"time"
)

// AccountStatus is the lifecycle state of a mailbox connection profile
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "ACTIVE"
	AccountStatusInactive AccountStatus = "INACTIVE"
	AccountStatusError    AccountStatus = "ERROR"
)

// Valid reports whether s is one of the known statuses
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusActive, AccountStatusInactive, AccountStatusError:
		return true
	}
	return false
}

// EmailAccount represents an IMAP connection profile
type EmailAccount struct {
	ID                uint          `gorm:"primaryKey" json:"id"`
	Name              string        `gorm:"size:100" json:"name"`
	Host              string        `gorm:"size:255;not null" json:"host"`
	Port              int           `gorm:"not null" json:"port"`
	UseTLS            bool          `gorm:"default:true" json:"use_tls"`
	Username          string        `gorm:"size:255;not null" json:"username"`
	PasswordEncrypted string        `gorm:"size:500;not null" json:"-"`
	Status            AccountStatus `gorm:"size:20;index;default:ACTIVE" json:"status"`
	IsSelected        bool          `gorm:"default:false;index" json:"is_selected"`
	LastUsedAt        *time.Time    `json:"last_used_at"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`

	// Relations
	Emails []Email `gorm:"foreignKey:AccountID" json:"emails,omitempty"`
}
