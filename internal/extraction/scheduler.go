package extraction

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/inboxkeep/core/internal/progress"
	"github.com/rs/zerolog"
)

// Scheduler runs extraction batches on a fixed interval
type Scheduler struct {
	runner   *Runner
	interval time.Duration
	delay    time.Duration
	logger   zerolog.Logger
	stopChan chan struct{}
	running  bool
	mu       sync.Mutex
	cycle    sync.Mutex // prevents overlapping cycles
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler; it does nothing until Start
func NewScheduler(runner *Runner, interval time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		delay:    10 * time.Second,
		logger:   logger.With().Str("component", "extraction_scheduler").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start begins periodic extraction. A non-positive interval disables it.
func (s *Scheduler) Start() {
	if s.interval <= 0 {
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info().Dur("interval", s.interval).Msg("Starting")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// Let the server finish starting before the first cycle
		select {
		case <-time.After(s.delay):
			s.runCycle()
		case <-s.stopChan:
			return
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runCycle()
			case <-s.stopChan:
				s.logger.Info().Msg("Stopping")
				return
			}
		}
	}()
}

// Stop ends periodic extraction and waits for the current cycle
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) runCycle() {
	if !s.cycle.TryLock() {
		s.logger.Debug().Msg("Previous cycle still running, skipping")
		return
	}
	defer s.cycle.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	summary, err := s.runner.Run(ctx, BatchOptions{PendingOnly: true})
	if errors.Is(err, progress.ErrBusy) {
		s.logger.Debug().Msg("Extraction already running, skipping cycle")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled extraction failed")
		return
	}
	if summary.Total > 0 {
		s.logger.Info().
			Int("processed", summary.Processed).
			Int("errors", summary.Errors).
			Msg("Scheduled extraction cycle completed")
	}
}
