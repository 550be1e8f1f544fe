package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every poll.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
	// SkipFirst waits a full interval before the first tick.
	SkipFirst bool
}

// Scheduler drives periodic chain polling.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking tick every interval until ctx is cancelled. A failed
// tick is logged and the loop continues. Ticks never overlap.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if !s.opts.SkipFirst {
		s.fire(ctx, tick, time.Now().UTC())
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		s.logger.Debug().Dur("interval", s.opts.Interval).Msg("waiting for next poll")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case at := <-ticker.C:
			s.fire(ctx, tick, at.UTC())
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc, at time.Time) {
	if ctx.Err() != nil {
		return
	}
	if err := tick(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("at", at).Msg("tick execution failed")
	}
}
