package services

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/inboxkeep/core/internal/database/models"
	"github.com/inboxkeep/core/internal/mailbox"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var (
	// ErrAccountNotFound indicates the email account was not found
	ErrAccountNotFound = errors.New("email account not found")
	// ErrAccountAlreadyExists indicates an account for the same host and username exists
	ErrAccountAlreadyExists = errors.New("email account already exists")
	// ErrInvalidAccountData indicates invalid account data
	ErrInvalidAccountData = errors.New("invalid account data")
	// ErrAccountHasEmails indicates the account still owns retained emails
	ErrAccountHasEmails = errors.New("cannot delete account with existing emails")
	// ErrAccountNotActive indicates an operation that needs an ACTIVE account
	ErrAccountNotActive = errors.New("email account is not active")
	// ErrEncryptionFailed indicates password encryption failed
	ErrEncryptionFailed = errors.New("password encryption failed")
	// ErrDecryptionFailed indicates password decryption failed
	ErrDecryptionFailed = errors.New("password decryption failed")
)

// AccountService handles mailbox connection profiles
type AccountService struct {
	db            *gorm.DB
	encryptionKey []byte // 32 bytes for AES-256
	logService    *LogService
	mailboxOpts   mailbox.Options
	logger        zerolog.Logger
}

// NewAccountService creates a new AccountService instance
func NewAccountService(db *gorm.DB, encryptionKey []byte, logService *LogService, mailboxOpts mailbox.Options, logger zerolog.Logger) *AccountService {
	// Ensure key is 32 bytes for AES-256
	key := make([]byte, 32)
	copy(key, encryptionKey)
	return &AccountService{
		db:            db,
		encryptionKey: key,
		logService:    logService,
		mailboxOpts:   mailboxOpts,
		logger:        logger.With().Str("component", "accounts").Logger(),
	}
}

// encryptPassword encrypts a password using AES-256-GCM
func (s *AccountService) encryptPassword(password string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", ErrEncryptionFailed
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrEncryptionFailed
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrEncryptionFailed
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(password), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decryptPassword decrypts a password using AES-256-GCM
func (s *AccountService) decryptPassword(encryptedPassword string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedPassword)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", ErrDecryptionFailed
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// AccountView is an account with its retained email count
type AccountView struct {
	models.EmailAccount
	EmailCount int64 `json:"email_count"`
}

// CreateAccountInput represents the input for creating an email account
type CreateAccountInput struct {
	Name     string
	Host     string
	Port     int
	UseTLS   bool
	Username string
	Password string
}

func (in CreateAccountInput) valid() bool {
	return strings.TrimSpace(in.Name) != "" &&
		strings.TrimSpace(in.Host) != "" &&
		in.Port > 0 && in.Port <= 65535 &&
		strings.TrimSpace(in.Username) != "" &&
		in.Password != ""
}

// CreateAccount stores a new ACTIVE, unselected account
func (s *AccountService) CreateAccount(input CreateAccountInput) (*models.EmailAccount, error) {
	if !input.valid() {
		return nil, ErrInvalidAccountData
	}

	var existing models.EmailAccount
	if err := s.db.Where("host = ? AND username = ?", input.Host, input.Username).First(&existing).Error; err == nil {
		return nil, ErrAccountAlreadyExists
	}

	encryptedPassword, err := s.encryptPassword(input.Password)
	if err != nil {
		return nil, err
	}

	account := &models.EmailAccount{
		Name:              strings.TrimSpace(input.Name),
		Host:              strings.TrimSpace(input.Host),
		Port:              input.Port,
		UseTLS:            input.UseTLS,
		Username:          strings.TrimSpace(input.Username),
		PasswordEncrypted: encryptedPassword,
		Status:            models.AccountStatusActive,
	}

	// gorm skips zero-valued fields that carry a default tag
	if err := s.db.Create(account).Error; err != nil {
		return nil, err
	}
	if !input.UseTLS {
		if err := s.db.Model(account).Update("use_tls", false).Error; err != nil {
			return nil, err
		}
	}

	s.logService.LogAccountCreated(account.ID, account.Username)
	return account, nil
}

// GetAccountByID retrieves an email account by ID
func (s *AccountService) GetAccountByID(id uint) (*models.EmailAccount, error) {
	var account models.EmailAccount
	if err := s.db.First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// ListAccounts returns every account, newest first, with email counts
func (s *AccountService) ListAccounts() ([]AccountView, error) {
	var accounts []models.EmailAccount
	if err := s.db.Order("created_at DESC, id DESC").Find(&accounts).Error; err != nil {
		return nil, err
	}

	type countRow struct {
		AccountID uint
		Count     int64
	}
	var counts []countRow
	if err := s.db.Model(&models.Email{}).
		Select("account_id, COUNT(*) AS count").
		Group("account_id").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	byAccount := make(map[uint]int64, len(counts))
	for _, c := range counts {
		byAccount[c.AccountID] = c.Count
	}

	views := make([]AccountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, AccountView{EmailAccount: a, EmailCount: byAccount[a.ID]})
	}
	return views, nil
}

// UpdateAccountInput represents the input for updating an email account.
// Nil fields are left unchanged.
type UpdateAccountInput struct {
	Name     *string
	Host     *string
	Port     *int
	UseTLS   *bool
	Username *string
	Password *string
	Status   *models.AccountStatus
}

// UpdateAccount updates an email account
func (s *AccountService) UpdateAccount(id uint, input UpdateAccountInput) (*models.EmailAccount, error) {
	account, err := s.GetAccountByID(id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return nil, ErrInvalidAccountData
		}
		updates["name"] = strings.TrimSpace(*input.Name)
	}
	if input.Host != nil {
		if strings.TrimSpace(*input.Host) == "" {
			return nil, ErrInvalidAccountData
		}
		updates["host"] = strings.TrimSpace(*input.Host)
	}
	if input.Port != nil {
		if *input.Port <= 0 || *input.Port > 65535 {
			return nil, ErrInvalidAccountData
		}
		updates["port"] = *input.Port
	}
	if input.UseTLS != nil {
		updates["use_tls"] = *input.UseTLS
	}
	if input.Username != nil {
		if strings.TrimSpace(*input.Username) == "" {
			return nil, ErrInvalidAccountData
		}
		updates["username"] = strings.TrimSpace(*input.Username)
	}
	if input.Password != nil && *input.Password != "" {
		encryptedPassword, err := s.encryptPassword(*input.Password)
		if err != nil {
			return nil, err
		}
		updates["password_encrypted"] = encryptedPassword
	}
	if input.Status != nil {
		if !input.Status.Valid() {
			return nil, ErrInvalidAccountData
		}
		updates["status"] = *input.Status
		if *input.Status != models.AccountStatusActive {
			updates["is_selected"] = false
		}
	}

	if len(updates) > 0 {
		if err := s.db.Model(account).Updates(updates).Error; err != nil {
			return nil, err
		}
	}

	account, err = s.GetAccountByID(id)
	if err != nil {
		return nil, err
	}
	s.logService.LogAccountUpdated(account.ID, account.Username)
	return account, nil
}

// SetStatus moves an account to status. Leaving ACTIVE clears the selection.
func (s *AccountService) SetStatus(id uint, status models.AccountStatus) (*models.EmailAccount, error) {
	return s.UpdateAccount(id, UpdateAccountInput{Status: &status})
}

// DeleteAccount deletes an account that owns no retained emails
func (s *AccountService) DeleteAccount(id uint) error {
	account, err := s.GetAccountByID(id)
	if err != nil {
		return err
	}

	var count int64
	if err := s.db.Model(&models.Email{}).Where("account_id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %d emails", ErrAccountHasEmails, count)
	}

	if err := s.db.Delete(account).Error; err != nil {
		return err
	}

	s.logService.LogAccountDeleted(id, account.Username)
	return nil
}

// SelectAccount makes id the only selected account
func (s *AccountService) SelectAccount(id uint) (*models.EmailAccount, error) {
	var selected models.EmailAccount
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&selected, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return err
		}
		if selected.Status != models.AccountStatusActive {
			return fmt.Errorf("%w: status is %s", ErrAccountNotActive, selected.Status)
		}
		if err := tx.Model(&models.EmailAccount{}).
			Where("id <> ? AND is_selected = ?", id, true).
			Update("is_selected", false).Error; err != nil {
			return err
		}
		now := time.Now()
		if err := tx.Model(&selected).Updates(map[string]interface{}{
			"is_selected":  true,
			"last_used_at": now,
		}).Error; err != nil {
			return err
		}
		selected.IsSelected = true
		selected.LastUsedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logService.LogAccountSelected(selected.ID, selected.Username)
	return &selected, nil
}

// GetSelectedAccount returns the selected ACTIVE account
func (s *AccountService) GetSelectedAccount() (*models.EmailAccount, error) {
	var account models.EmailAccount
	err := s.db.Where("is_selected = ? AND status = ?", true, models.AccountStatusActive).
		Order("last_used_at DESC").
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// MailboxAccount returns the decrypted connection parameters of account
func (s *AccountService) MailboxAccount(account *models.EmailAccount) (mailbox.Account, error) {
	password, err := s.decryptPassword(account.PasswordEncrypted)
	if err != nil {
		return mailbox.Account{}, err
	}
	return mailbox.Account{
		Host:     account.Host,
		Port:     account.Port,
		UseTLS:   account.UseTLS,
		Username: account.Username,
		Password: password,
	}, nil
}

// MailboxOptions returns the session options used for this service's tests
func (s *AccountService) MailboxOptions() mailbox.Options {
	return s.mailboxOpts
}

// ConnectionTestResult represents the result of a connection test
type ConnectionTestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *AccountService) ping(ctx context.Context, account mailbox.Account) ConnectionTestResult {
	if err := mailbox.NewClient(account, s.mailboxOpts, s.logger).Ping(ctx); err != nil {
		return ConnectionTestResult{
			Success: false,
			Message: "Connection failed: " + err.Error(),
		}
	}
	return ConnectionTestResult{
		Success: true,
		Message: "Connection successful",
	}
}

// TestConnectionByID tests the stored credentials of an account. A failed
// test moves the account to ERROR; a passing test on an ERROR account
// restores it to ACTIVE.
func (s *AccountService) TestConnectionByID(ctx context.Context, id uint) (ConnectionTestResult, error) {
	account, err := s.GetAccountByID(id)
	if err != nil {
		return ConnectionTestResult{}, err
	}

	creds, err := s.MailboxAccount(account)
	if err != nil {
		return ConnectionTestResult{
			Success: false,
			Message: "Failed to decrypt password: " + err.Error(),
		}, nil
	}

	result := s.ping(ctx, creds)
	switch {
	case !result.Success && account.Status == models.AccountStatusActive:
		if _, err := s.SetStatus(id, models.AccountStatusError); err != nil {
			s.logger.Warn().Err(err).Uint("account_id", id).Msg("Marking account as errored failed")
		}
	case result.Success && account.Status == models.AccountStatusError:
		if _, err := s.SetStatus(id, models.AccountStatusActive); err != nil {
			s.logger.Warn().Err(err).Uint("account_id", id).Msg("Restoring account status failed")
		}
	}
	return result, nil
}

// TestConnectionInput represents the input for testing a connection without saving
type TestConnectionInput struct {
	Host     string
	Port     int
	UseTLS   bool
	Username string
	Password string
}

// TestConnectionDirect tests the connection with provided credentials (without saving)
func (s *AccountService) TestConnectionDirect(ctx context.Context, input TestConnectionInput) (ConnectionTestResult, error) {
	if input.Host == "" || input.Port <= 0 || input.Username == "" || input.Password == "" {
		return ConnectionTestResult{}, ErrInvalidAccountData
	}
	return s.ping(ctx, mailbox.Account{
		Host:     input.Host,
		Port:     input.Port,
		UseTLS:   input.UseTLS,
		Username: input.Username,
		Password: input.Password,
	}), nil
}
