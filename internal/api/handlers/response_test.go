package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/inboxkeep/core/internal/ingest"
	"github.com/inboxkeep/core/internal/mailbox"
	"github.com/inboxkeep/core/internal/ocr"
	"github.com/inboxkeep/core/internal/progress"
	"github.com/inboxkeep/core/internal/services"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{ingest.ErrNoAccountSelected, http.StatusPreconditionFailed, CodeConfiguration},
		{fmt.Errorf("%w: tha.traineddata", ocr.ErrModelDataMissing), http.StatusPreconditionFailed, CodeConfiguration},
		{fmt.Errorf("%w: login refused", mailbox.ErrConnectionFailed), http.StatusBadGateway, CodeSourceUnavailable},
		{progress.ErrBusy, http.StatusConflict, CodeBusy},
		{services.ErrEmailNotFound, http.StatusNotFound, CodeNotFound},
		{services.ErrAccountHasEmails, http.StatusConflict, CodeConflict},
		{services.ErrInvalidAccountData, http.StatusBadRequest, CodeValidation},
		{errors.New("disk on fire"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		status, code := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}
