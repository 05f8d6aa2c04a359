// Package queue turns queued tasks into running work without exceeding the
// configured concurrency budget.
//
// Each tick counts the active tasks (briefing, planning, running), orders the
// queued ones and hands the next candidates to an Admitter. A candidate that
// cannot be admitted (typically because the working tree is dirty) stays
// queued and is retried on a later tick; it never blocks the rest of the scan.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/mrz1836/formic/internal/board"
	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/domain"
	formicerrors "github.com/mrz1836/formic/internal/errors"
)

// Admitter moves one queued task into active execution.
type Admitter interface {
	AdmitFromQueue(ctx context.Context, taskID string) domain.Result
}

// Scheduler polls the board and admits queued tasks.
type Scheduler struct {
	store         board.Store
	admitter      Admitter
	maxConcurrent int
	interval      time.Duration
	logger        zerolog.Logger

	// ticking keeps ticks from overlapping; a tick that finds it held is skipped.
	ticking *semaphore.Weighted

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxConcurrent sets the concurrency budget. Values below 1 are ignored.
func WithMaxConcurrent(n int) Option {
	return func(s *Scheduler) {
		if n >= 1 {
			s.maxConcurrent = n
		}
	}
}

// WithPollInterval sets how often the queue is scanned. Intervals below
// constants.MinPollInterval are raised to it.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = max(d, constants.MinPollInterval)
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger.With().Str("component", "queue").Logger()
	}
}

// New creates a Scheduler. It does nothing until Start or Tick is called.
func New(store board.Store, admitter Admitter, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:         store,
		admitter:      admitter,
		maxConcurrent: constants.DefaultMaxConcurrentTasks,
		interval:      constants.DefaultPollInterval,
		logger:        zerolog.Nop(),
		ticking:       semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs a tick immediately and then one per poll interval until Stop is
// called or ctx is canceled.
//
// Returns ErrSchedulerRunning if the scheduler is already started.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return formicerrors.ErrSchedulerRunning
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	s.logger.Info().
		Int("max_concurrent", s.maxConcurrent).
		Dur("poll_interval", s.interval).
		Msg("queue scheduler started")

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			s.tickLogged(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

// Stop halts new admissions and waits for the polling goroutine to exit.
// Workflows already admitted keep running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.cancel = nil
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info().Msg("queue scheduler stopped")
}

// Running reports whether the polling loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) tickLogged(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	admitted, err := s.Tick(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("queue tick failed")
		return
	}
	if len(admitted) > 0 {
		s.logger.Info().Strs("task_ids", admitted).Msg("admitted queued tasks")
	}
}

// Tick runs one scheduling pass and returns the ids it admitted, in order.
// A tick that starts while another is still in progress does nothing.
func (s *Scheduler) Tick(ctx context.Context) ([]string, error) {
	if !s.ticking.TryAcquire(1) {
		s.logger.Debug().Msg("previous tick still running, skipping")
		return nil, nil
	}
	defer s.ticking.Release(1)

	b, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load board: %w", err)
	}

	active := b.ActiveCount()
	slots := s.maxConcurrent - active
	if slots <= 0 {
		s.logger.Debug().Int("active", active).Int("max_concurrent", s.maxConcurrent).Msg("concurrency budget exhausted")
		return nil, nil
	}

	candidates := Order(b.Tasks)
	if len(candidates) == 0 {
		return nil, nil
	}

	var admitted []string
	for _, t := range candidates {
		if len(admitted) == slots {
			break
		}
		if err := ctx.Err(); err != nil {
			return admitted, err
		}

		res := s.admitter.AdmitFromQueue(ctx, t.ID)
		switch res.Kind {
		case domain.ResultSuccess:
			admitted = append(admitted, t.ID)
		case domain.ResultConflict:
			// Expected backpressure (dirty tree, busy slot); retried next tick.
			s.logger.Debug().Str("task_id", t.ID).Err(res.Err).Msg("task not admitted, will retry")
		case domain.ResultNotFound, domain.ResultError:
			s.logger.Warn().Str("task_id", t.ID).Err(res.Err).Str("kind", string(res.Kind)).Msg("failed to admit task")
		}
	}
	return admitted, nil
}
