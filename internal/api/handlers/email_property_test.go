package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/inboxkeep/core/internal/database/dbtest"
	"github.com/inboxkeep/core/internal/database/models"
	"github.com/inboxkeep/core/internal/mailbox"
	"github.com/inboxkeep/core/internal/services"
	"github.com/inboxkeep/core/internal/storage"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Listings of the selected account are newest first and never mix accounts
func TestProperty_EmailListSorting(t *testing.T) {
	gin.SetMode(gin.TestMode)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("emails_sorted_by_date_descending", prop.ForAll(
		func(offsets []int) bool {
			db, cleanup := dbtest.Open(t)
			defer cleanup()

			logs := services.NewLogService(db, zerolog.Nop())
			accounts := services.NewAccountService(db, []byte("k"), logs, mailbox.Options{}, zerolog.Nop())
			emails := services.NewEmailService(db, storage.NewStore(t.TempDir()), logs, zerolog.Nop())

			selected := models.EmailAccount{Name: "a", Host: "h", Port: 993, Username: "a", PasswordEncrypted: "x", Status: models.AccountStatusActive, IsSelected: true}
			other := models.EmailAccount{Name: "b", Host: "h", Port: 993, Username: "b", PasswordEncrypted: "x", Status: models.AccountStatusActive}
			if db.Create(&selected).Error != nil || db.Create(&other).Error != nil {
				return false
			}

			base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			for i, off := range offsets {
				owner := selected.ID
				if i%3 == 2 {
					owner = other.ID
				}
				email := models.Email{AccountID: owner, MailboxUID: uint32(i + 1), Subject: "s", ReceivedAt: base.Add(time.Duration(off) * time.Minute)}
				if db.Create(&email).Error != nil {
					return false
				}
			}

			router := gin.New()
			router.GET("/emails", NewEmailHandler(emails, accounts, nil).ListEmails)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/emails?limit=200", nil))
			if w.Code != http.StatusOK {
				return false
			}

			var resp struct {
				Data services.EmailListResult `json:"data"`
			}
			if json.Unmarshal(w.Body.Bytes(), &resp) != nil {
				return false
			}
			for i, item := range resp.Data.Items {
				if item.AccountID != selected.ID {
					return false
				}
				if i > 0 && item.ReceivedAt.After(resp.Data.Items[i-1].ReceivedAt) {
					return false
				}
			}
			return int(resp.Data.Total) == len(resp.Data.Items)
		},
		gen.SliceOfN(8, gen.IntRange(0, 10000)),
	))

	properties.TestingRun(t)
}

func TestParseDay(t *testing.T) {
	start, err := parseDay("2024-05-02", false)
	require.NoError(t, err)
	end, err := parseDay("2024-05-02", true)
	require.NoError(t, err)
	assert.Equal(t, 0, start.Hour())
	assert.Equal(t, 23, end.Hour())
	assert.Equal(t, 59, end.Second())
	assert.Equal(t, start.Day(), end.Day())

	exact, err := parseDay("2024-05-02T10:30:00Z", true)
	require.NoError(t, err)
	assert.Equal(t, 10, exact.UTC().Hour())

	none, err := parseDay("  ", false)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = parseDay("02/05/2024", false)
	assert.Error(t, err)
}

func TestParseBool(t *testing.T) {
	for _, in := range []string{"true", "1", "YES", "y"} {
		v := parseBool(in)
		require.NotNil(t, v, in)
		assert.True(t, *v, in)
	}
	for _, in := range []string{"false", "0", "No", "n"} {
		v := parseBool(in)
		require.NotNil(t, v, in)
		assert.False(t, *v, in)
	}
	assert.Nil(t, parseBool(""))
	assert.Nil(t, parseBool("maybe"))
}
