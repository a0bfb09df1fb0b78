package extraction

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/inboxkeep/core/internal/database/models"
	"github.com/inboxkeep/core/internal/progress"
	"github.com/inboxkeep/core/internal/services"
	"github.com/inboxkeep/core/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// ItemStatus is the per-attachment outcome of a batch
type ItemStatus string

const (
	StatusSuccess      ItemStatus = "success"
	StatusNoText       ItemStatus = "no_text"
	StatusEmptyFile    ItemStatus = "empty_file"
	StatusMissing      ItemStatus = "missing"
	StatusError        ItemStatus = "error"
	StatusTimeout      ItemStatus = "timeout"
	StatusNotAttempted ItemStatus = "not_attempted"
)

// ItemResult reports one attachment
type ItemResult struct {
	AttachmentID uint       `json:"attachmentId"`
	FileName     string     `json:"fileName"`
	Kind         string     `json:"kind"`
	Status       ItemStatus `json:"status"`
	TextLength   int        `json:"textLength"`
	UsedOCR      bool       `json:"usedOcr"`
	Error        string     `json:"error,omitempty"`
}

// Summary totals one batch
type Summary struct {
	Total        int          `json:"total"`
	Processed    int          `json:"processed"`
	Skipped      int          `json:"skipped"`
	Errors       int          `json:"errors"`
	NotAttempted int          `json:"notAttempted"`
	Aborted      bool         `json:"aborted"`
	Results      []ItemResult `json:"results"`
}

// BatchOptions selects which attachments a batch covers
type BatchOptions struct {
	// Limit is capped by RunnerOptions.BatchLimit unless AttachmentIDs is set
	Limit         int
	AttachmentIDs []uint
	// PendingOnly leaves rows already COMPLETED with empty text alone
	PendingOnly bool
}

// RunnerOptions bounds batch work
type RunnerOptions struct {
	Timeout    time.Duration
	BatchLimit int
	Workers    int
}

// Runner drives eligible attachments through the Dispatcher and records
// each outcome on the attachment row
type Runner struct {
	db         *gorm.DB
	dispatcher *Dispatcher
	store      *storage.Store
	tracker    *progress.Tracker
	logService *services.LogService
	opts       RunnerOptions
	logger     zerolog.Logger

	lastMu sync.Mutex
	last   *Summary
}

// NewRunner creates a Runner. logService may be nil.
func NewRunner(db *gorm.DB, dispatcher *Dispatcher, store *storage.Store, tracker *progress.Tracker, logService *services.LogService, opts RunnerOptions, logger zerolog.Logger) *Runner {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 30
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Runner{
		db:         db,
		dispatcher: dispatcher,
		store:      store,
		tracker:    tracker,
		logService: logService,
		opts:       opts,
		logger:     logger.With().Str("component", "extraction_batch").Logger(),
	}
}

// Tracker exposes the tracker guarding this runner's jobs
func (r *Runner) Tracker() *progress.Tracker {
	return r.tracker
}

// LastSummary returns the summary of the most recent finished batch
func (r *Runner) LastSummary() *Summary {
	r.lastMu.Lock()
	defer r.lastMu.Unlock()
	return r.last
}

// Run processes one batch synchronously. It returns progress.ErrBusy when
// another extraction job holds the tracker.
func (r *Runner) Run(ctx context.Context, opts BatchOptions) (*Summary, error) {
	jobCtx, _, err := r.tracker.Start(ctx, 0)
	if err != nil {
		return nil, err
	}
	return r.run(jobCtx, opts)
}

// Start claims the tracker and runs the batch in the background. The busy
// check happens before Start returns.
func (r *Runner) Start(ctx context.Context, opts BatchOptions) error {
	jobCtx, _, err := r.tracker.Start(context.WithoutCancel(ctx), 0)
	if err != nil {
		return err
	}
	go func() {
		if _, err := r.run(jobCtx, opts); err != nil {
			r.logger.Error().Err(err).Msg("Background extraction failed")
		}
	}()
	return nil
}

func (r *Runner) run(ctx context.Context, opts BatchOptions) (*Summary, error) {
	started := time.Now()
	defer r.tracker.Complete()

	items, err := r.selectEligible(opts)
	if err != nil {
		return nil, err
	}
	r.tracker.SetTotal(len(items))
	r.logger.Info().Int("count", len(items)).Msg("Extraction batch started")

	summary := &Summary{Total: len(items), Results: make([]ItemResult, len(items))}

	g := new(errgroup.Group)
	g.SetLimit(r.opts.Workers)
	for i := range items {
		att := items[i]
		idx := i
		g.Go(func() error {
			summary.Results[idx] = r.processOne(ctx, att)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range summary.Results {
		switch res.Status {
		case StatusSuccess:
			summary.Processed++
		case StatusNoText, StatusEmptyFile:
			summary.Skipped++
		case StatusNotAttempted:
			summary.NotAttempted++
		default:
			summary.Errors++
		}
	}
	summary.Aborted = r.tracker.Snapshot().Aborted

	r.logger.Info().
		Int("total", summary.Total).
		Int("processed", summary.Processed).
		Int("skipped", summary.Skipped).
		Int("errors", summary.Errors).
		Int("not_attempted", summary.NotAttempted).
		Dur("elapsed", time.Since(started)).
		Msg("Extraction batch finished")

	if r.logService != nil {
		r.logService.LogExtractionBatch(services.ExtractionBatchDetails{
			Total:        summary.Total,
			Processed:    summary.Processed,
			Skipped:      summary.Skipped,
			Errors:       summary.Errors,
			NotAttempted: summary.NotAttempted,
			DurationMs:   time.Since(started).Milliseconds(),
			Aborted:      summary.Aborted,
		})
	}

	r.lastMu.Lock()
	r.last = summary
	r.lastMu.Unlock()
	return summary, nil
}

// selectEligible returns attachments without text that nobody is working on.
// An explicit ID list is bounded by its own length, not by BatchLimit.
func (r *Runner) selectEligible(opts BatchOptions) ([]models.Attachment, error) {
	limit := opts.Limit
	if n := len(opts.AttachmentIDs); n > 0 {
		if limit <= 0 || limit > n {
			limit = n
		}
	} else if limit <= 0 || limit > r.opts.BatchLimit {
		limit = r.opts.BatchLimit
	}

	q := r.db.Model(&models.Attachment{}).
		Where("(extracted_text IS NULL OR extracted_text = '')").
		Where("extraction_status <> ?", models.ExtractionProcessing)
	if opts.PendingOnly {
		q = q.Where("extraction_status = ?", models.ExtractionPending)
	}
	if len(opts.AttachmentIDs) > 0 {
		q = q.Where("id IN ?", opts.AttachmentIDs)
	}

	var items []models.Attachment
	if err := q.Order("id ASC").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *Runner) processOne(ctx context.Context, att models.Attachment) ItemResult {
	res := ItemResult{AttachmentID: att.ID, FileName: att.FileName}

	if ctx.Err() != nil {
		res.Status = StatusNotAttempted
		return res
	}

	// Claim the row; another runner may have taken it since selection
	claim := r.db.Model(&models.Attachment{}).
		Where("id = ? AND extraction_status <> ?", att.ID, models.ExtractionProcessing).
		Update("extraction_status", models.ExtractionProcessing)
	if claim.Error != nil {
		res.Status, res.Error = StatusError, claim.Error.Error()
		r.tracker.IncrementError()
		return res
	}
	if claim.RowsAffected == 0 {
		res.Status = StatusNotAttempted
		return res
	}

	r.tracker.Advance(att.FileName)

	path, err := r.store.Resolve(att.StoragePath)
	if err != nil {
		r.fail(&res, att, StatusMissing, err)
		return res
	}
	info, err := os.Stat(path)
	if err != nil {
		r.fail(&res, att, StatusMissing, err)
		return res
	}
	if info.Size() == 0 {
		r.complete(&res, att, "", StatusEmptyFile)
		return res
	}

	itemCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	out, err := r.dispatcher.Extract(itemCtx, Source{Path: path, MimeType: att.MimeType, Name: att.FileName})
	cancel()
	res.Kind = out.Kind.String()
	res.UsedOCR = out.UsedOCR

	switch {
	case err == nil:
		status := StatusSuccess
		if out.Text == "" {
			status = StatusNoText
		}
		r.complete(&res, att, out.Text, status)
	case ctx.Err() != nil:
		// Job aborted mid-item; the row goes back to the queue
		r.release(att)
		res.Status = StatusNotAttempted
	case errors.Is(err, context.DeadlineExceeded):
		r.fail(&res, att, StatusTimeout, err)
	default:
		r.fail(&res, att, StatusError, err)
	}
	return res
}

func (r *Runner) complete(res *ItemResult, att models.Attachment, text string, status ItemStatus) {
	now := time.Now()
	err := r.db.Model(&models.Attachment{}).Where("id = ?", att.ID).Updates(map[string]interface{}{
		"extracted_text":    text,
		"extraction_status": models.ExtractionCompleted,
		"extraction_error":  "",
		"extracted_at":      &now,
	}).Error
	if err != nil {
		r.fail(res, att, StatusError, err)
		return
	}
	res.Status = status
	res.TextLength = utf8.RuneCountInString(text)
	r.tracker.IncrementProcessed()
	r.logger.Debug().Uint("attachment_id", att.ID).Str("status", string(status)).Int("chars", res.TextLength).Msg("Attachment extracted")
}

func (r *Runner) fail(res *ItemResult, att models.Attachment, status ItemStatus, cause error) {
	now := time.Now()
	err := r.db.Model(&models.Attachment{}).Where("id = ?", att.ID).Updates(map[string]interface{}{
		"extracted_text":    gorm.Expr("NULL"),
		"extraction_status": models.ExtractionFailed,
		"extraction_error":  cause.Error(),
		"extracted_at":      &now,
	}).Error
	if err != nil {
		r.logger.Error().Err(err).Uint("attachment_id", att.ID).Msg("Failed to record extraction failure")
	}
	res.Status = status
	res.Error = cause.Error()
	r.tracker.IncrementError()
	r.logger.Warn().Err(cause).Uint("attachment_id", att.ID).Str("file", att.FileName).Str("status", string(status)).Msg("Attachment extraction failed")
}

func (r *Runner) release(att models.Attachment) {
	err := r.db.Model(&models.Attachment{}).
		Where("id = ? AND extraction_status = ?", att.ID, models.ExtractionProcessing).
		Update("extraction_status", models.ExtractionPending).Error
	if err != nil {
		r.logger.Error().Err(err).Uint("attachment_id", att.ID).Msg("Failed to release attachment")
	}
}
