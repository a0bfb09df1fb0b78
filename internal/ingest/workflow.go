// Package ingest moves messages from the selected mailbox into retention.
// Preview reads the mailbox and persists nothing. Commit re-fetches every
// selected message by UID and stores it with its attachments.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/inboxkeep/core/internal/database/models"
	"github.com/inboxkeep/core/internal/extraction"
	"github.com/inboxkeep/core/internal/mailbox"
	"github.com/inboxkeep/core/internal/progress"
	"github.com/inboxkeep/core/internal/services"
	"github.com/inboxkeep/core/internal/storage"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ErrNoAccountSelected indicates no ACTIVE account is selected
var ErrNoAccountSelected = errors.New("no email account selected")

// Skip reasons reported by Commit
const (
	ReasonInvalidUID    = "invalid uid"
	ReasonAlreadyExists = "already exists"
	ReasonNotAttempted  = "not attempted"
)

// Phase is the workflow's observable state
type Phase string

const (
	PhaseIdle              Phase = "IDLE"
	PhasePreviewing        Phase = "PREVIEWING"
	PhaseAwaitingSelection Phase = "AWAITING_SELECTION"
	PhaseCommitting        Phase = "COMMITTING"
)

// Source reads one mailbox. *mailbox.Client satisfies it.
type Source interface {
	Preview(ctx context.Context, dr *mailbox.DateRange) ([]mailbox.Message, error)
	FetchByUID(ctx context.Context, uid uint32) (*mailbox.Message, error)
}

// SourceFactory opens a Source for decrypted account credentials
type SourceFactory func(account mailbox.Account) Source

// MailboxSources returns a SourceFactory backed by mailbox.Client
func MailboxSources(opts mailbox.Options, logger zerolog.Logger) SourceFactory {
	return func(account mailbox.Account) Source {
		return mailbox.NewClient(account, opts, logger)
	}
}

// Accounts resolves the selected account and its credentials
type Accounts interface {
	GetSelectedAccount() (*models.EmailAccount, error)
	MailboxAccount(account *models.EmailAccount) (mailbox.Account, error)
}

// Extractor runs an extraction batch. *extraction.Runner satisfies it.
type Extractor interface {
	Run(ctx context.Context, opts extraction.BatchOptions) (*extraction.Summary, error)
}

// Options tunes the workflow
type Options struct {
	ExtractAfterCommit bool
}

// PreviewAttachment describes one attachment of a previewed message
type PreviewAttachment struct {
	FileName    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
	Content     []byte `json:"content,omitempty"`
}

// PreviewItem is an ephemeral, unpersisted mailbox message
type PreviewItem struct {
	TempID      string              `json:"tempId"`
	MailboxUID  uint32              `json:"mailboxUid"`
	From        string              `json:"from"`
	Subject     string              `json:"subject"`
	Date        time.Time           `json:"date"`
	BodyText    string              `json:"bodyText"`
	Attachments []PreviewAttachment `json:"attachments"`
}

// UID is a client supplied mailbox UID. It accepts JSON numbers and
// strings and is validated by Commit.
type UID string

// UnmarshalJSON keeps the raw value for later validation
func (u *UID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*u = UID(s)
		return nil
	}
	*u = UID(strings.TrimSpace(string(b)))
	return nil
}

// Parse returns the numeric UID
func (u UID) Parse() (uint32, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(string(u)), 10, 32)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint32(n), true
}

// Selection is one previewed item chosen for retention. Only the UID is
// trusted; everything else is re-fetched.
type Selection struct {
	TempID     string `json:"tempId"`
	MailboxUID UID    `json:"mailboxUid"`
}

// SkippedItem records a selection that was not stored
type SkippedItem struct {
	TempID     string `json:"tempId,omitempty"`
	MailboxUID string `json:"mailboxUid"`
	Reason     string `json:"reason"`
}

// FailedItem records a selection whose fetch or insert failed
type FailedItem struct {
	TempID     string `json:"tempId,omitempty"`
	MailboxUID string `json:"mailboxUid"`
	Error      string `json:"error"`
}

// SavedItem records a stored email
type SavedItem struct {
	EmailID     uint   `json:"emailId"`
	MailboxUID  uint32 `json:"mailboxUid"`
	Subject     string `json:"subject"`
	Attachments int    `json:"attachments"`
}

// AttachmentStats totals attachment handling across a commit
type AttachmentStats struct {
	Attempted int `json:"attempted"`
	Saved     int `json:"saved"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// ExtractionOutcome reports the batch run after a commit
type ExtractionOutcome struct {
	Deferred bool                `json:"deferred"`
	Summary  *extraction.Summary `json:"summary,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// CommitResult is the outcome of one commit
type CommitResult struct {
	SavedCount      int                `json:"savedCount"`
	SkippedCount    int                `json:"skippedCount"`
	Saved           []SavedItem        `json:"saved"`
	Skipped         []SkippedItem      `json:"skipped"`
	Failed          []FailedItem       `json:"failed"`
	AttachmentStats AttachmentStats    `json:"attachmentStats"`
	Extraction      *ExtractionOutcome `json:"extractionSummary,omitempty"`
	Aborted         bool               `json:"aborted"`

	newAttachmentIDs []uint
}

// Workflow runs preview and commit against the selected account
type Workflow struct {
	db         *gorm.DB
	accounts   Accounts
	sources    SourceFactory
	store      *storage.Store
	tracker    *progress.Tracker
	extractor  Extractor
	logService *services.LogService
	opts       Options
	logger     zerolog.Logger

	mu    sync.Mutex
	phase Phase
}

// NewWorkflow creates a Workflow. tracker must be the ingestion tracker;
// extractor and logService may be nil.
func NewWorkflow(db *gorm.DB, accounts Accounts, sources SourceFactory, store *storage.Store, tracker *progress.Tracker, extractor Extractor, logService *services.LogService, opts Options, logger zerolog.Logger) *Workflow {
	return &Workflow{
		db:         db,
		accounts:   accounts,
		sources:    sources,
		store:      store,
		tracker:    tracker,
		extractor:  extractor,
		logService: logService,
		opts:       opts,
		logger:     logger.With().Str("component", "ingest").Logger(),
		phase:      PhaseIdle,
	}
}

// Phase returns the current phase
func (w *Workflow) Phase() Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phase
}

// Tracker exposes the ingestion tracker
func (w *Workflow) Tracker() *progress.Tracker {
	return w.tracker
}

// setPhase moves to next unless a commit owns the workflow
func (w *Workflow) setPhase(next Phase) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.phase == PhaseCommitting {
		return
	}
	w.phase = next
}

func (w *Workflow) forcePhase(next Phase) {
	w.mu.Lock()
	w.phase = next
	w.mu.Unlock()
}

// openSource resolves the selected account and opens its mailbox
func (w *Workflow) openSource() (*models.EmailAccount, Source, error) {
	account, err := w.accounts.GetSelectedAccount()
	if err != nil {
		if errors.Is(err, services.ErrAccountNotFound) {
			return nil, nil, ErrNoAccountSelected
		}
		return nil, nil, err
	}
	creds, err := w.accounts.MailboxAccount(account)
	if err != nil {
		return nil, nil, err
	}
	return account, w.sources(creds), nil
}

// Preview lists candidate messages of the selected account. Nothing is
// written to the database or to storage.
func (w *Workflow) Preview(ctx context.Context, dr *mailbox.DateRange, metadataOnly bool) ([]PreviewItem, error) {
	account, src, err := w.openSource()
	if err != nil {
		return nil, err
	}

	w.setPhase(PhasePreviewing)
	messages, err := src.Preview(ctx, dr)
	if w.logService != nil {
		w.logService.LogPreview(account.ID, len(messages), err)
	}
	if err != nil {
		w.setPhase(PhaseIdle)
		return nil, err
	}

	now := time.Now()
	items := make([]PreviewItem, 0, len(messages))
	for _, msg := range messages {
		item := PreviewItem{
			TempID:      fmt.Sprintf("%d-%d", msg.UID, time.Now().UnixNano()),
			MailboxUID:  msg.UID,
			From:        msg.From,
			Subject:     msg.Subject,
			Date:        msg.Date,
			BodyText:    msg.Text,
			Attachments: make([]PreviewAttachment, 0, len(msg.Attachments)),
		}
		if item.From == "" {
			item.From = "Unknown"
		}
		if item.Date.IsZero() {
			item.Date = now
		}
		for _, att := range msg.Attachments {
			pa := PreviewAttachment{FileName: att.FileName, ContentType: att.ContentType, Size: att.Size}
			if !metadataOnly {
				pa.Content = att.Content
			}
			item.Attachments = append(item.Attachments, pa)
		}
		items = append(items, item)
	}

	w.logger.Info().Uint("account_id", account.ID).Int("count", len(items)).Msg("Preview ready")
	w.setPhase(PhaseAwaitingSelection)
	return items, nil
}

// Commit stores the selected messages in order. Existing UIDs are skipped.
// A mailbox connection failure stops the commit and is returned together
// with the partial result.
func (w *Workflow) Commit(ctx context.Context, selections []Selection) (*CommitResult, error) {
	account, src, err := w.openSource()
	if err != nil {
		return nil, err
	}

	jobCtx, _, err := w.tracker.Start(ctx, len(selections))
	if err != nil {
		return nil, err
	}
	w.forcePhase(PhaseCommitting)

	result := &CommitResult{
		Saved:   []SavedItem{},
		Skipped: []SkippedItem{},
		Failed:  []FailedItem{},
	}
	commitErr := w.commitAll(jobCtx, account, src, selections, result)
	result.Aborted = w.tracker.Snapshot().Aborted

	w.tracker.Complete()
	w.forcePhase(PhaseIdle)

	result.SkippedCount = len(result.Skipped)
	if w.logService != nil {
		details := services.CommitDetails{
			AccountID:    account.ID,
			Requested:    len(selections),
			Saved:        result.SavedCount,
			Skipped:      result.SkippedCount,
			Errors:       len(result.Failed),
			Attachments:  result.AttachmentStats.Saved,
			EmptySkipped: result.AttachmentStats.Skipped,
		}
		if commitErr != nil {
			details.ErrorMsg = commitErr.Error()
		}
		w.logService.LogCommit(details)
	}
	if commitErr != nil {
		return result, commitErr
	}

	if w.opts.ExtractAfterCommit && w.extractor != nil && len(result.newAttachmentIDs) > 0 {
		result.Extraction = w.extract(ctx, result.newAttachmentIDs)
	}
	return result, nil
}

func (w *Workflow) commitAll(ctx context.Context, account *models.EmailAccount, src Source, selections []Selection, result *CommitResult) error {
	for i, sel := range selections {
		if ctx.Err() != nil {
			for _, rest := range selections[i:] {
				result.Skipped = append(result.Skipped, SkippedItem{TempID: rest.TempID, MailboxUID: string(rest.MailboxUID), Reason: ReasonNotAttempted})
			}
			return nil
		}

		w.tracker.Advance("UID " + string(sel.MailboxUID))

		uid, ok := sel.MailboxUID.Parse()
		if !ok {
			result.Skipped = append(result.Skipped, SkippedItem{TempID: sel.TempID, MailboxUID: string(sel.MailboxUID), Reason: ReasonInvalidUID})
			w.tracker.IncrementError()
			continue
		}

		var existing int64
		if err := w.db.Model(&models.Email{}).Where("mailbox_uid = ?", uid).Count(&existing).Error; err != nil {
			result.Failed = append(result.Failed, FailedItem{TempID: sel.TempID, MailboxUID: string(sel.MailboxUID), Error: err.Error()})
			w.tracker.IncrementError()
			continue
		}
		if existing > 0 {
			result.Skipped = append(result.Skipped, SkippedItem{TempID: sel.TempID, MailboxUID: string(sel.MailboxUID), Reason: ReasonAlreadyExists})
			w.tracker.IncrementProcessed()
			continue
		}

		msg, err := src.FetchByUID(ctx, uid)
		if err != nil {
			if errors.Is(err, mailbox.ErrConnectionFailed) {
				w.tracker.IncrementError()
				return err
			}
			if ctx.Err() != nil {
				result.Skipped = append(result.Skipped, SkippedItem{TempID: sel.TempID, MailboxUID: string(sel.MailboxUID), Reason: ReasonNotAttempted})
				continue
			}
			result.Failed = append(result.Failed, FailedItem{TempID: sel.TempID, MailboxUID: string(sel.MailboxUID), Error: err.Error()})
			w.tracker.IncrementError()
			continue
		}

		saved, err := w.saveMessage(account, uid, msg, result)
		if err != nil {
			result.Failed = append(result.Failed, FailedItem{TempID: sel.TempID, MailboxUID: string(sel.MailboxUID), Error: err.Error()})
			w.tracker.IncrementError()
			continue
		}
		result.Saved = append(result.Saved, *saved)
		result.SavedCount++
		w.tracker.IncrementProcessed()
	}
	return nil
}

// saveMessage stores the email row, its attachment files and rows as one
// unit. If any non-empty attachment cannot be stored the files written so
// far are removed and the transaction rolls back, so the UID stays free for
// a later commit.
func (w *Workflow) saveMessage(account *models.EmailAccount, uid uint32, msg *mailbox.Message, result *CommitResult) (*SavedItem, error) {
	received := msg.Date
	if received.IsZero() {
		received = time.Now()
	}
	email := models.Email{
		AccountID:   account.ID,
		MailboxUID:  uid,
		FromAddress: msg.From,
		Subject:     msg.Subject,
		BodyText:    msg.Text,
		ReceivedAt:  received,
	}

	var (
		stats   AttachmentStats
		written []string
		newIDs  []uint
	)
	err := w.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&email).Error; err != nil {
			return fmt.Errorf("insert email: %w", err)
		}

		for _, att := range msg.Attachments {
			stats.Attempted++
			if len(att.Content) == 0 {
				stats.Skipped++
				w.logger.Debug().Uint32("uid", uid).Str("file", att.FileName).Msg("Empty attachment skipped")
				continue
			}

			rel, err := w.store.Save(email.ID, att.FileName, att.Content)
			if err != nil {
				stats.Failed++
				return fmt.Errorf("write attachment %q: %w", att.FileName, err)
			}
			written = append(written, rel)

			row := models.Attachment{
				EmailID:          email.ID,
				FileName:         att.FileName,
				MimeType:         att.ContentType,
				StoragePath:      rel,
				SizeBytes:        int64(len(att.Content)),
				ExtractionStatus: models.ExtractionPending,
			}
			if err := tx.Create(&row).Error; err != nil {
				stats.Failed++
				return fmt.Errorf("record attachment %q: %w", att.FileName, err)
			}
			stats.Saved++
			newIDs = append(newIDs, row.ID)
		}
		return nil
	})

	result.AttachmentStats.Attempted += stats.Attempted
	result.AttachmentStats.Failed += stats.Failed
	if err != nil {
		for _, rel := range written {
			if rerr := w.store.Remove(rel); rerr != nil {
				w.logger.Warn().Err(rerr).Str("path", rel).Msg("Removing attachment after rollback failed")
			}
		}
		w.logger.Warn().Err(err).Uint32("uid", uid).Msg("Message not stored")
		return nil, err
	}

	result.AttachmentStats.Saved += stats.Saved
	result.AttachmentStats.Skipped += stats.Skipped
	result.newAttachmentIDs = append(result.newAttachmentIDs, newIDs...)
	return &SavedItem{EmailID: email.ID, MailboxUID: uid, Subject: email.Subject, Attachments: stats.Saved}, nil
}

// extract runs a batch over the attachments created by this commit. A busy
// extraction tracker defers the work to the next batch.
func (w *Workflow) extract(ctx context.Context, ids []uint) *ExtractionOutcome {
	summary, err := w.extractor.Run(ctx, extraction.BatchOptions{AttachmentIDs: ids, Limit: len(ids)})
	switch {
	case errors.Is(err, progress.ErrBusy):
		w.logger.Info().Int("attachments", len(ids)).Msg("Extraction busy, new attachments left pending")
		return &ExtractionOutcome{Deferred: true}
	case err != nil:
		w.logger.Error().Err(err).Msg("Post-commit extraction failed")
		return &ExtractionOutcome{Error: err.Error()}
	}
	return &ExtractionOutcome{Summary: summary}
}
