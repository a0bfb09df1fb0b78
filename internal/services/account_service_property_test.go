package services

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
	"github.com/inboxkeep/core/internal/database/dbtest"
	"github.com/inboxkeep/core/internal/database/models"
	"github.com/inboxkeep/core/internal/mailbox"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testEncryptionKey = []byte("test-encryption-key-32-bytes!!")

func newTestAccountService(t *testing.T) (*AccountService, *gorm.DB, func()) {
	db, cleanup := dbtest.Open(t)
	logService := NewLogService(db, zerolog.Nop())
	opts := mailbox.Options{DialTimeout: time.Second}
	return NewAccountService(db, testEncryptionKey, logService, opts, zerolog.Nop()), db, cleanup
}

func createTestAccount(t *testing.T, service *AccountService, username string) *models.EmailAccount {
	account, err := service.CreateAccount(CreateAccountInput{
		Name:     "Test Account",
		Host:     "imap.test.com",
		Port:     993,
		UseTLS:   true,
		Username: username,
		Password: "testpassword",
	})
	if err != nil {
		t.Fatalf("Failed to create test account: %v", err)
	}
	return account
}

// selectedAccounts returns every row flagged as selected
func selectedAccounts(db *gorm.DB) []models.EmailAccount {
	var rows []models.EmailAccount
	db.Where("is_selected = ?", true).Find(&rows)
	return rows
}

// accountOp is one step of a generated operation sequence
type accountOp struct {
	Index  int
	Select bool
	Status models.AccountStatus
}

func genAccountOp(n int) gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, n-1),
		gen.Bool(),
		gen.OneConstOf(models.AccountStatusActive, models.AccountStatusInactive, models.AccountStatusError),
	).Map(func(vals []interface{}) accountOp {
		return accountOp{
			Index:  vals[0].(int),
			Select: vals[1].(bool),
			Status: vals[2].(models.AccountStatus),
		}
	})
}

func TestProperty_SelectedAccountInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	const accounts = 4

	// At most one account is selected and it is always ACTIVE
	properties.Property("at_most_one_active_selected_account", prop.ForAll(
		func(ops []accountOp) bool {
			service, db, cleanup := newTestAccountService(t)
			defer cleanup()

			ids := make([]uint, accounts)
			for i := range ids {
				ids[i] = createTestAccount(t, service, fmt.Sprintf("user%d@test.com", i)).ID
			}

			for _, op := range ops {
				id := ids[op.Index]
				if op.Select {
					acc, err := service.GetAccountByID(id)
					if err != nil {
						return false
					}
					_, err = service.SelectAccount(id)
					if acc.Status == models.AccountStatusActive && err != nil {
						return false
					}
					if acc.Status != models.AccountStatusActive && err == nil {
						return false
					}
				} else if _, err := service.SetStatus(id, op.Status); err != nil {
					return false
				}

				selected := selectedAccounts(db)
				if len(selected) > 1 {
					return false
				}
				if len(selected) == 1 && selected[0].Status != models.AccountStatusActive {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(12, genAccountOp(accounts)),
	))

	// Selecting the same account repeatedly keeps it the only selection
	properties.Property("repeated_selection_is_idempotent", prop.ForAll(
		func(times int) bool {
			service, db, cleanup := newTestAccountService(t)
			defer cleanup()

			a := createTestAccount(t, service, "a@test.com")
			createTestAccount(t, service, "b@test.com")

			for i := 0; i < times; i++ {
				if _, err := service.SelectAccount(a.ID); err != nil {
					return false
				}
			}
			selected := selectedAccounts(db)
			got, err := service.GetSelectedAccount()
			return err == nil && len(selected) == 1 && got.ID == a.ID
		},
		gen.IntRange(1, 4),
	))

	properties.TestingRun(t)
}

func TestProperty_PasswordEncryptionRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	service := NewAccountService(nil, testEncryptionKey, nil, mailbox.Options{}, zerolog.Nop())

	properties.Property("stored_password_is_encrypted_and_recoverable", prop.ForAll(
		func(password string) bool {
			encrypted, err := service.encryptPassword(password)
			if err != nil {
				return false
			}
			if password != "" && encrypted == password {
				return false
			}
			decrypted, err := service.decryptPassword(encrypted)
			return err == nil && decrypted == password
		},
		gen.AnyString(),
	))

	properties.Property("different_key_cannot_decrypt", prop.ForAll(
		func(password string) bool {
			encrypted, err := service.encryptPassword(password)
			if err != nil {
				return false
			}
			other := NewAccountService(nil, []byte("another-key"), nil, mailbox.Options{}, zerolog.Nop())
			_, err = other.decryptPassword(encrypted)
			return err == ErrDecryptionFailed
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestCreateAccountValidation(t *testing.T) {
	service, _, cleanup := newTestAccountService(t)
	defer cleanup()

	_, err := service.CreateAccount(CreateAccountInput{Name: "x", Host: "h", Port: 0, Username: "u", Password: "p"})
	assert.ErrorIs(t, err, ErrInvalidAccountData)

	acc, err := service.CreateAccount(CreateAccountInput{Name: "Plain", Host: "mail.local", Port: 143, UseTLS: false, Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, models.AccountStatusActive, acc.Status)
	assert.False(t, acc.IsSelected)

	stored, err := service.GetAccountByID(acc.ID)
	require.NoError(t, err)
	assert.False(t, stored.UseTLS)
	assert.NotEqual(t, "p", stored.PasswordEncrypted)

	_, err = service.CreateAccount(CreateAccountInput{Name: "Dup", Host: "mail.local", Port: 993, Username: "u", Password: "p"})
	assert.ErrorIs(t, err, ErrAccountAlreadyExists)
}

func TestSelectAndStatusTransitions(t *testing.T) {
	service, _, cleanup := newTestAccountService(t)
	defer cleanup()

	a := createTestAccount(t, service, "a@test.com")
	b := createTestAccount(t, service, "b@test.com")

	_, err := service.GetSelectedAccount()
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = service.SelectAccount(a.ID)
	require.NoError(t, err)
	sel, err := service.SelectAccount(b.ID)
	require.NoError(t, err)
	assert.NotNil(t, sel.LastUsedAt)

	got, err := service.GetAccountByID(a.ID)
	require.NoError(t, err)
	assert.False(t, got.IsSelected)

	// Leaving ACTIVE drops the selection
	_, err = service.SetStatus(b.ID, models.AccountStatusInactive)
	require.NoError(t, err)
	_, err = service.GetSelectedAccount()
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = service.SelectAccount(b.ID)
	assert.ErrorIs(t, err, ErrAccountNotActive)

	_, err = service.SelectAccount(9999)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	bad := models.AccountStatus("PAUSED")
	_, err = service.UpdateAccount(a.ID, UpdateAccountInput{Status: &bad})
	assert.ErrorIs(t, err, ErrInvalidAccountData)
}

func TestDeleteAccountRefusedWhileEmailsExist(t *testing.T) {
	service, db, cleanup := newTestAccountService(t)
	defer cleanup()

	acc := createTestAccount(t, service, "a@test.com")
	email := models.Email{AccountID: acc.ID, MailboxUID: 7, Subject: "kept"}
	require.NoError(t, db.Create(&email).Error)

	err := service.DeleteAccount(acc.ID)
	assert.ErrorIs(t, err, ErrAccountHasEmails)

	views, err := service.ListAccounts()
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, int64(1), views[0].EmailCount)

	require.NoError(t, db.Delete(&email).Error)
	require.NoError(t, service.DeleteAccount(acc.ID))
	_, err = service.GetAccountByID(acc.ID)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestUpdateAccountPassword(t *testing.T) {
	service, _, cleanup := newTestAccountService(t)
	defer cleanup()

	acc := createTestAccount(t, service, "a@test.com")
	newPassword := "rotated"
	updated, err := service.UpdateAccount(acc.ID, UpdateAccountInput{Password: &newPassword})
	require.NoError(t, err)

	creds, err := service.MailboxAccount(updated)
	require.NoError(t, err)
	assert.Equal(t, "rotated", creds.Password)
	assert.Equal(t, "imap.test.com", creds.Host)
	assert.True(t, creds.UseTLS)
}

// startIMAP runs the go-imap in-memory server (user "username", password "password")
func startIMAP(t *testing.T) (string, int) {
	t.Helper()
	s := server.New(memory.New())
	s.AllowInsecureAuth = true
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(ln)
	t.Cleanup(func() { s.Close() })
	return "127.0.0.1", ln.Addr().(*net.TCPAddr).Port
}

func TestConnectionTests(t *testing.T) {
	service, _, cleanup := newTestAccountService(t)
	defer cleanup()
	host, port := startIMAP(t)

	result, err := service.TestConnectionDirect(context.Background(), TestConnectionInput{
		Host: host, Port: port, Username: "username", Password: "password",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	_, err = service.TestConnectionDirect(context.Background(), TestConnectionInput{Host: host})
	assert.ErrorIs(t, err, ErrInvalidAccountData)

	acc, err := service.CreateAccount(CreateAccountInput{
		Name: "Local", Host: host, Port: port, UseTLS: false, Username: "username", Password: "wrong",
	})
	require.NoError(t, err)

	// A failing test marks the account as errored
	result, err = service.TestConnectionByID(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.False(t, result.Success)
	got, _ := service.GetAccountByID(acc.ID)
	assert.Equal(t, models.AccountStatusError, got.Status)

	// Fixing the password and passing again restores it
	fixed := "password"
	_, err = service.UpdateAccount(acc.ID, UpdateAccountInput{Password: &fixed})
	require.NoError(t, err)
	result, err = service.TestConnectionByID(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	got, _ = service.GetAccountByID(acc.ID)
	assert.Equal(t, models.AccountStatusActive, got.Status)
}
