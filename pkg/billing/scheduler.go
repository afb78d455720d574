package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Driver receives the periodic callbacks of a Scheduler.
type Driver interface {
	// Tick advances all running timers by step.
	Tick(ctx context.Context, step time.Duration)
	// CheckRates re-resolves the rate of all running timers.
	CheckRates(ctx context.Context)
}

// Scheduler drives ticks and rate checks from a single goroutine.
type Scheduler struct {
	driver       Driver
	tickInterval time.Duration
	rateInterval time.Duration
	logger       *slog.Logger
}

// NewScheduler validates the intervals and creates a scheduler. The tick
// interval must be a whole number of seconds and rate checks must run at
// least once a minute.
func NewScheduler(driver Driver, tickInterval, rateInterval time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if tickInterval < time.Second || tickInterval%time.Second != 0 {
		return nil, fmt.Errorf("tick interval %s: must be a whole number of seconds", tickInterval)
	}
	if rateInterval <= 0 || rateInterval > time.Minute {
		return nil, fmt.Errorf("rate check interval %s: must be in (0, 1m]", rateInterval)
	}
	return &Scheduler{
		driver:       driver,
		tickInterval: tickInterval,
		rateInterval: rateInterval,
		logger:       logger,
	}, nil
}

// Run blocks until ctx is done. Callbacks execute on the calling
// goroutine, so none fire after Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	tick := time.NewTicker(s.tickInterval)
	defer tick.Stop()
	rate := time.NewTicker(s.rateInterval)
	defer rate.Stop()

	s.logger.Info("scheduler started", "tick", s.tickInterval, "rate_check", s.rateInterval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-tick.C:
			s.driver.Tick(ctx, s.tickInterval)
		case <-rate.C:
			s.driver.CheckRates(ctx)
		}
	}
}
