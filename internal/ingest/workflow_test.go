package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/inboxkeep/core/internal/database/dbtest"
	"github.com/inboxkeep/core/internal/database/models"
	"github.com/inboxkeep/core/internal/extraction"
	"github.com/inboxkeep/core/internal/mailbox"
	"github.com/inboxkeep/core/internal/progress"
	"github.com/inboxkeep/core/internal/services"
	"github.com/inboxkeep/core/internal/storage"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeSource serves messages from memory
type fakeSource struct {
	mu       sync.Mutex
	messages map[uint32]mailbox.Message
	fetched  []uint32
	fetchErr error
	onFetch  func(uid uint32)
}

func newFakeSource(msgs ...mailbox.Message) *fakeSource {
	s := &fakeSource{messages: map[uint32]mailbox.Message{}}
	for _, m := range msgs {
		s.messages[m.UID] = m
	}
	return s
}

func (s *fakeSource) Preview(_ context.Context, _ *mailbox.DateRange) ([]mailbox.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]mailbox.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
	}
	return out, nil
}

func (s *fakeSource) FetchByUID(_ context.Context, uid uint32) (*mailbox.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, uid)
	if s.onFetch != nil {
		s.onFetch(uid)
	}
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	m, ok := s.messages[uid]
	if !ok {
		return nil, fmt.Errorf("%w: uid %d", mailbox.ErrMessageNotFound, uid)
	}
	return &m, nil
}

type fixture struct {
	db         *gorm.DB
	store      *storage.Store
	source     *fakeSource
	accounts   *services.AccountService
	tracker    *progress.Tracker
	extractor  *extraction.Runner
	workflow   *Workflow
	accountID  uint
	gotAccount mailbox.Account
}

func newFixture(t *testing.T, source *fakeSource, selectAccount bool, opts Options) *fixture {
	t.Helper()
	db, cleanup := dbtest.Open(t)
	t.Cleanup(cleanup)

	logService := services.NewLogService(db, zerolog.Nop())
	accounts := services.NewAccountService(db, []byte("k"), logService, mailbox.Options{}, zerolog.Nop())
	acc, err := accounts.CreateAccount(services.CreateAccountInput{
		Name: "Ops", Host: "imap.example.com", Port: 993, UseTLS: true, Username: "ops@example.com", Password: "secret",
	})
	require.NoError(t, err)
	if selectAccount {
		_, err = accounts.SelectAccount(acc.ID)
		require.NoError(t, err)
	}

	store := storage.NewStore(t.TempDir())
	extractionTracker := progress.NewTracker(progress.KindExtraction, zerolog.Nop())
	dispatcher := extraction.NewDispatcher(extraction.DefaultOptions(), extraction.Deps{}, zerolog.Nop())
	runner := extraction.NewRunner(db, dispatcher, store, extractionTracker, logService, extraction.RunnerOptions{Timeout: time.Second}, zerolog.Nop())

	f := &fixture{db: db, store: store, source: source, accounts: accounts, extractor: runner, accountID: acc.ID}
	f.tracker = progress.NewTracker(progress.KindIngest, zerolog.Nop())
	sources := func(a mailbox.Account) Source {
		f.gotAccount = a
		return source
	}
	f.workflow = NewWorkflow(db, accounts, sources, store, f.tracker, runner, logService, opts, zerolog.Nop())
	return f
}

func message(uid uint32, attachments ...mailbox.Attachment) mailbox.Message {
	return mailbox.Message{
		UID:         uid,
		From:        "sender@example.com",
		Subject:     fmt.Sprintf("message %d", uid),
		Date:        time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC).Add(time.Duration(uid) * time.Hour),
		Text:        "body",
		Attachments: attachments,
	}
}

func file(name string, content string) mailbox.Attachment {
	return mailbox.Attachment{FileName: name, ContentType: "text/csv", Size: len(content), Content: []byte(content)}
}

func selectAll(items []PreviewItem) []Selection {
	out := make([]Selection, 0, len(items))
	for _, it := range items {
		out = append(out, Selection{TempID: it.TempID, MailboxUID: UID(fmt.Sprint(it.MailboxUID))})
	}
	return out
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func countFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			n++
		}
		return nil
	})
	return n
}

func TestProperty_IdempotentCommit(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("second_commit_only_skips", prop.ForAll(
		func(n int) bool {
			msgs := make([]mailbox.Message, 0, n)
			for i := 1; i <= n; i++ {
				msgs = append(msgs, message(uint32(100+i), file(fmt.Sprintf("f%d.csv", i), "a,b")))
			}
			f := newFixture(t, newFakeSource(msgs...), true, Options{})

			items, err := f.workflow.Preview(context.Background(), nil, true)
			if err != nil || len(items) != n {
				return false
			}
			sel := selectAll(items)

			first, err := f.workflow.Commit(context.Background(), sel)
			if err != nil || first.SavedCount != n || first.SkippedCount != 0 {
				return false
			}
			files := countFiles(t, f.store.Root())

			second, err := f.workflow.Commit(context.Background(), sel)
			if err != nil || second.SavedCount != 0 || second.SkippedCount != n {
				return false
			}
			for _, s := range second.Skipped {
				if s.Reason != ReasonAlreadyExists {
					return false
				}
			}
			return countRows(t, f.db, &models.Email{}) == int64(n) &&
				countRows(t, f.db, &models.Attachment{}) == int64(n) &&
				countFiles(t, f.store.Root()) == files
		},
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}

func TestCommitZeroLengthAttachment(t *testing.T) {
	f := newFixture(t, newFakeSource(message(7, mailbox.Attachment{FileName: "empty.pdf", ContentType: "application/pdf"})), true, Options{})

	result, err := f.workflow.Commit(context.Background(), []Selection{{TempID: "7-1", MailboxUID: "7"}})
	require.NoError(t, err)

	assert.Equal(t, 1, result.SavedCount)
	assert.Equal(t, AttachmentStats{Attempted: 1, Saved: 0, Skipped: 1}, result.AttachmentStats)
	assert.Equal(t, int64(1), countRows(t, f.db, &models.Email{}))
	assert.Zero(t, countRows(t, f.db, &models.Attachment{}))
	assert.Zero(t, countFiles(t, f.store.Root()))
}

func TestNoAccountSelected(t *testing.T) {
	f := newFixture(t, newFakeSource(message(1)), false, Options{})

	_, err := f.workflow.Preview(context.Background(), nil, false)
	assert.ErrorIs(t, err, ErrNoAccountSelected)

	_, err = f.workflow.Commit(context.Background(), []Selection{{MailboxUID: "1"}})
	assert.ErrorIs(t, err, ErrNoAccountSelected)
	assert.False(t, f.tracker.IsRunning())
	assert.Equal(t, PhaseIdle, f.workflow.Phase())
}

func TestPreviewPersistsNothing(t *testing.T) {
	noSender := message(3, file("a.csv", "x,y"))
	noSender.From = ""
	noSender.Date = time.Time{}
	f := newFixture(t, newFakeSource(noSender), true, Options{})

	items, err := f.workflow.Preview(context.Background(), nil, false)
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	assert.Regexp(t, `^3-\d+$`, item.TempID)
	assert.Equal(t, "Unknown", item.From)
	assert.False(t, item.Date.IsZero())
	assert.Equal(t, []byte("x,y"), item.Attachments[0].Content)
	assert.Equal(t, PhaseAwaitingSelection, f.workflow.Phase())

	assert.Equal(t, "secret", f.gotAccount.Password)
	assert.Zero(t, countRows(t, f.db, &models.Email{}))
	assert.Zero(t, countRows(t, f.db, &models.Attachment{}))
	assert.Zero(t, countFiles(t, f.store.Root()))

	meta, err := f.workflow.Preview(context.Background(), nil, true)
	require.NoError(t, err)
	assert.Nil(t, meta[0].Attachments[0].Content)
	assert.Equal(t, 3, meta[0].Attachments[0].Size)
}

func TestCommitPerItemOutcomes(t *testing.T) {
	f := newFixture(t, newFakeSource(message(10), message(11)), true, Options{})

	result, err := f.workflow.Commit(context.Background(), []Selection{
		{TempID: "a", MailboxUID: "abc"},
		{TempID: "b", MailboxUID: "10"},
		{TempID: "c", MailboxUID: "404"},
		{TempID: "d", MailboxUID: "11"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.SavedCount)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, ReasonInvalidUID, result.Skipped[0].Reason)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "404", result.Failed[0].MailboxUID)

	// The invalid UID never reached the mailbox
	assert.Equal(t, []uint32{10, 404, 11}, f.source.fetched)

	state := f.tracker.Snapshot()
	assert.False(t, state.IsRunning)
	assert.Equal(t, 4, state.TotalItems)
	assert.Equal(t, 2, state.ProcessedCount)
	assert.Equal(t, 2, state.ErrorCount)

	var email models.Email
	require.NoError(t, f.db.Where("mailbox_uid = ?", 11).First(&email).Error)
	assert.Equal(t, f.accountID, email.AccountID)
	assert.Equal(t, "message 11", email.Subject)
}

func TestCommitConnectionFailureAborts(t *testing.T) {
	src := newFakeSource(message(1), message(2))
	src.fetchErr = fmt.Errorf("%w: timeout", mailbox.ErrConnectionFailed)
	f := newFixture(t, src, true, Options{})

	result, err := f.workflow.Commit(context.Background(), []Selection{{MailboxUID: "1"}, {MailboxUID: "2"}})
	assert.ErrorIs(t, err, mailbox.ErrConnectionFailed)
	require.NotNil(t, result)
	assert.Zero(t, result.SavedCount)
	assert.Equal(t, []uint32{1}, src.fetched)
	assert.False(t, f.tracker.IsRunning())
}

func TestCommitBusy(t *testing.T) {
	f := newFixture(t, newFakeSource(message(1)), true, Options{})
	_, _, err := f.tracker.Start(context.Background(), 1)
	require.NoError(t, err)

	_, err = f.workflow.Commit(context.Background(), []Selection{{MailboxUID: "1"}})
	assert.ErrorIs(t, err, progress.ErrBusy)
	assert.Zero(t, countRows(t, f.db, &models.Email{}))
}

func TestCommitAbortMarksRemainingNotAttempted(t *testing.T) {
	src := newFakeSource(message(1), message(2), message(3))
	f := newFixture(t, src, true, Options{})
	src.onFetch = func(uid uint32) {
		if uid == 2 {
			f.tracker.Abort()
		}
	}

	result, err := f.workflow.Commit(context.Background(), []Selection{{MailboxUID: "1"}, {MailboxUID: "2"}, {MailboxUID: "3"}})
	require.NoError(t, err)

	// The item in flight finishes; the rest is left alone
	assert.True(t, result.Aborted)
	assert.Equal(t, 2, result.SavedCount)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "3", result.Skipped[0].MailboxUID)
	assert.Equal(t, ReasonNotAttempted, result.Skipped[0].Reason)
	assert.Equal(t, []uint32{1, 2}, src.fetched)
}

func TestCommitTriggersExtraction(t *testing.T) {
	f := newFixture(t, newFakeSource(message(5, file("rows.csv", "a,b\n1,2"), mailbox.Attachment{FileName: "blob.bin", ContentType: "application/x-thing", Size: 2, Content: []byte("zz")})), true, Options{ExtractAfterCommit: true})

	// Attachment from an earlier commit is outside this commit's batch
	older := models.Email{AccountID: f.accountID, MailboxUID: 1}
	require.NoError(t, f.db.Create(&older).Error)
	rel, err := f.store.Save(older.ID, "old.csv", []byte("old"))
	require.NoError(t, err)
	old := models.Attachment{EmailID: older.ID, FileName: "old.csv", MimeType: "text/csv", StoragePath: rel, SizeBytes: 3, ExtractionStatus: models.ExtractionPending}
	require.NoError(t, f.db.Create(&old).Error)

	result, err := f.workflow.Commit(context.Background(), []Selection{{MailboxUID: "5"}})
	require.NoError(t, err)
	require.NotNil(t, result.Extraction)
	require.NotNil(t, result.Extraction.Summary)
	assert.False(t, result.Extraction.Deferred)
	assert.Equal(t, 2, result.Extraction.Summary.Total)
	assert.Equal(t, 1, result.Extraction.Summary.Processed)
	assert.Equal(t, 1, result.Extraction.Summary.Skipped)

	var reloaded models.Attachment
	require.NoError(t, f.db.First(&reloaded, old.ID).Error)
	assert.Equal(t, models.ExtractionPending, reloaded.ExtractionStatus)

	payload, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"extractionSummary"`)
}

func TestCommitExtractionDeferredWhenBusy(t *testing.T) {
	f := newFixture(t, newFakeSource(message(9, file("rows.csv", "a"))), true, Options{ExtractAfterCommit: true})
	_, _, err := f.extractor.Tracker().Start(context.Background(), 0)
	require.NoError(t, err)

	result, err := f.workflow.Commit(context.Background(), []Selection{{MailboxUID: "9"}})
	require.NoError(t, err)
	require.NotNil(t, result.Extraction)
	assert.True(t, result.Extraction.Deferred)

	var att models.Attachment
	require.NoError(t, f.db.First(&att).Error)
	assert.Equal(t, models.ExtractionPending, att.ExtractionStatus)
}

func TestCommitExtractionCoversEveryNewAttachment(t *testing.T) {
	files := make([]mailbox.Attachment, 0, 35)
	for i := 0; i < 35; i++ {
		files = append(files, file(fmt.Sprintf("part%02d.csv", i), fmt.Sprintf("id,%d", i)))
	}
	f := newFixture(t, newFakeSource(message(3, files...)), true, Options{ExtractAfterCommit: true})

	result, err := f.workflow.Commit(context.Background(), []Selection{{MailboxUID: "3"}})
	require.NoError(t, err)
	assert.Equal(t, 35, result.AttachmentStats.Saved)
	require.NotNil(t, result.Extraction)
	require.NotNil(t, result.Extraction.Summary)
	assert.Equal(t, 35, result.Extraction.Summary.Total)
	assert.Equal(t, 35, result.Extraction.Summary.Processed)

	var pending int64
	require.NoError(t, f.db.Model(&models.Attachment{}).Where("extraction_status = ?", models.ExtractionPending).Count(&pending).Error)
	assert.Zero(t, pending)
}

func TestCommitRollsBackWhenAttachmentCannotBeStored(t *testing.T) {
	f := newFixture(t, newFakeSource(message(7, file("first.csv", "a,b"), file("second.csv", "c,d"))), true, Options{})
	root := f.store.Root()

	// A plain file where the storage root should be makes every write fail
	require.NoError(t, os.RemoveAll(root))
	require.NoError(t, os.WriteFile(root, []byte("x"), 0600))

	result, err := f.workflow.Commit(context.Background(), []Selection{{TempID: "7-1", MailboxUID: "7"}})
	require.NoError(t, err)
	assert.Zero(t, result.SavedCount)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "7", result.Failed[0].MailboxUID)
	assert.Equal(t, AttachmentStats{Attempted: 1, Failed: 1}, result.AttachmentStats)
	assert.Zero(t, countRows(t, f.db, &models.Email{}))
	assert.Zero(t, countRows(t, f.db, &models.Attachment{}))
	assert.Equal(t, 1, f.tracker.Snapshot().ErrorCount)

	// Once storage is back the same UID can be committed in full
	require.NoError(t, os.Remove(root))
	require.NoError(t, os.MkdirAll(root, 0755))

	result, err = f.workflow.Commit(context.Background(), []Selection{{TempID: "7-2", MailboxUID: "7"}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.SavedCount)
	assert.Empty(t, result.Skipped)
	assert.Equal(t, AttachmentStats{Attempted: 2, Saved: 2}, result.AttachmentStats)
	assert.Equal(t, int64(1), countRows(t, f.db, &models.Email{}))
	assert.Equal(t, int64(2), countRows(t, f.db, &models.Attachment{}))
	assert.Equal(t, 2, countFiles(t, root))
}

func TestUIDUnmarshal(t *testing.T) {
	var sel []Selection
	require.NoError(t, json.Unmarshal([]byte(`[{"tempId":"a","mailboxUid":42},{"mailboxUid":"43"},{"mailboxUid":null},{"mailboxUid":"-1"}]`), &sel))

	uid, ok := sel[0].MailboxUID.Parse()
	assert.True(t, ok)
	assert.Equal(t, uint32(42), uid)
	uid, ok = sel[1].MailboxUID.Parse()
	assert.True(t, ok)
	assert.Equal(t, uint32(43), uid)
	_, ok = sel[2].MailboxUID.Parse()
	assert.False(t, ok)
	_, ok = sel[3].MailboxUID.Parse()
	assert.False(t, ok)
}
