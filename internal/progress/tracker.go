// Package progress tracks long running jobs and fans their state out to
// passive observers.
package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Kind names a family of jobs. At most one job of a kind runs at a time.
type Kind string

const (
	KindIngest     Kind = "ingest"
	KindExtraction Kind = "extraction"
)

var (
	// ErrBusy indicates a job of the same kind is already running
	ErrBusy = errors.New("job already running")
	// ErrClosed indicates the tracker has been shut down
	ErrClosed = errors.New("tracker closed")
)

// State is a point-in-time copy of a job's progress
type State struct {
	Kind             Kind       `json:"kind"`
	JobID            string     `json:"jobId,omitempty"`
	IsRunning        bool       `json:"isRunning"`
	CurrentItemLabel string     `json:"currentItemLabel"`
	TotalItems       int        `json:"totalItems"`
	ProcessedCount   int        `json:"processedCount"`
	ErrorCount       int        `json:"errorCount"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
	Aborted          bool       `json:"aborted"`
}

type subscriber struct {
	ctx  context.Context
	ch   chan State
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Tracker owns the state of one job kind and its subscriber registry
type Tracker struct {
	kind   Kind
	logger zerolog.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	subs   map[*subscriber]struct{}
	closed bool
}

// NewTracker creates an idle tracker for kind
func NewTracker(kind Kind, logger zerolog.Logger) *Tracker {
	return &Tracker{
		kind:   kind,
		logger: logger.With().Str("component", "progress").Str("kind", string(kind)).Logger(),
		state:  State{Kind: kind},
		subs:   make(map[*subscriber]struct{}),
	}
}

// Kind returns the job kind this tracker guards
func (t *Tracker) Kind() Kind {
	return t.kind
}

// Start marks a job as running. The returned context is cancelled by Abort
// and released by Complete; job loops should check it between items.
func (t *Tracker) Start(ctx context.Context, total int) (context.Context, State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, t.state, ErrClosed
	}
	if t.state.IsRunning {
		return nil, t.state, ErrBusy
	}

	jobCtx, cancel := context.WithCancel(ctx)
	now := time.Now()
	t.cancel = cancel
	t.state = State{
		Kind:       t.kind,
		JobID:      uuid.NewString(),
		IsRunning:  true,
		TotalItems: total,
		StartedAt:  &now,
	}
	t.logger.Info().Str("job_id", t.state.JobID).Int("total", total).Msg("Job started")
	t.broadcastLocked()

	return jobCtx, t.state, nil
}

// SetTotal updates the item count once it is known
func (t *Tracker) SetTotal(total int) {
	t.mutate(func(s *State) { s.TotalItems = total })
}

// Advance records the item currently being worked on
func (t *Tracker) Advance(label string) {
	t.mutate(func(s *State) { s.CurrentItemLabel = label })
}

// IncrementProcessed counts one finished item
func (t *Tracker) IncrementProcessed() {
	t.mutate(func(s *State) { s.ProcessedCount++ })
}

// IncrementError counts one failed item
func (t *Tracker) IncrementError() {
	t.mutate(func(s *State) { s.ErrorCount++ })
}

// Complete ends the running job
func (t *Tracker) Complete() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.IsRunning {
		return
	}
	now := time.Now()
	t.state.IsRunning = false
	t.state.CurrentItemLabel = ""
	t.state.FinishedAt = &now
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.logger.Info().
		Str("job_id", t.state.JobID).
		Int("processed", t.state.ProcessedCount).
		Int("errors", t.state.ErrorCount).
		Bool("aborted", t.state.Aborted).
		Msg("Job finished")
	t.broadcastLocked()
}

// Abort cancels the running job's context. The job runner still calls
// Complete once it has stopped. Reports whether a job was running.
func (t *Tracker) Abort() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.IsRunning {
		return false
	}
	t.state.Aborted = true
	if t.cancel != nil {
		t.cancel()
	}
	t.logger.Warn().Str("job_id", t.state.JobID).Msg("Job abort requested")
	t.broadcastLocked()
	return true
}

// Snapshot returns the current state
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsRunning reports whether a job is in progress
func (t *Tracker) IsRunning() bool {
	return t.Snapshot().IsRunning
}

// Subscribe registers an observer. The channel holds at most one pending
// state; a newer state replaces an unread one, so slow readers skip
// intermediate states but always see the latest. The channel is closed by
// the returned func, by Close, or on the first broadcast after ctx is done.
func (t *Tracker) Subscribe(ctx context.Context) (<-chan State, func()) {
	sub := &subscriber{ctx: ctx, ch: make(chan State, 1)}

	t.mu.Lock()
	sub.ch <- t.state
	if t.closed {
		sub.close()
		t.mu.Unlock()
		return sub.ch, func() {}
	}
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	unsubscribe := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.subs[sub]; ok {
			delete(t.subs, sub)
			sub.close()
		}
	}
	return sub.ch, unsubscribe
}

// SubscriberCount returns the number of registered observers
func (t *Tracker) SubscriberCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Close aborts any running job and releases every subscriber
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	for sub := range t.subs {
		delete(t.subs, sub)
		sub.close()
	}
}

func (t *Tracker) mutate(fn func(*State)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.IsRunning {
		return
	}
	fn(&t.state)
	t.broadcastLocked()
}

// broadcastLocked pushes the state to every live subscriber. Must hold t.mu.
func (t *Tracker) broadcastLocked() {
	state := t.state
	for sub := range t.subs {
		if sub.ctx.Err() != nil {
			delete(t.subs, sub)
			sub.close()
			continue
		}
		select {
		case sub.ch <- state:
		default:
			// Drop the unread state so the latest one fits
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- state:
			default:
			}
		}
	}
}
