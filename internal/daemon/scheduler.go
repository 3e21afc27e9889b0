package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler runs a job once at start, then every interval, and whenever
// Trigger is called. Runs never overlap.
type Scheduler struct {
	interval time.Duration
	logger   zerolog.Logger
	trigger  chan struct{}

	mu   sync.Mutex
	next time.Time
}

// NewScheduler creates a Scheduler with the given interval.
func NewScheduler(interval time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		interval: interval,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests an immediate run. Requests made while one is already
// pending are merged.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Next returns when the next periodic run is due.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Run calls job until ctx is cancelled. Blocks until then.
func (s *Scheduler) Run(ctx context.Context, job func(context.Context)) error {
	s.logger.Info().
		Dur("interval", s.interval).
		Msg("Starting scheduler")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.run(ctx, job)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.run(ctx, job)
		case <-s.trigger:
			s.logger.Debug().Msg("Run triggered")
			ticker.Reset(s.interval)
			s.run(ctx, job)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, job func(context.Context)) {
	s.mu.Lock()
	s.next = time.Now().Add(s.interval)
	s.mu.Unlock()

	job(ctx)
}
