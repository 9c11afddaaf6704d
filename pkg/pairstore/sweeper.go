// Copyright 2024-2026 Aiku AI

package pairstore

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"

	"github.com/aiku/spacebar-bridge/pkg/metrics"
)

const day = 24 * time.Hour

// SweeperOptions configures the retention of a store.
type SweeperOptions struct {
	// CleanupDays is the interval between sweeps. Zero disables sweeping.
	CleanupDays int
	// PairLifetimeDays is the age after which a mapping expires. Zero
	// disables sweeping.
	PairLifetimeDays int
	// Cron, when set, replaces the CleanupDays interval.
	Cron string
}

// Sweeper periodically expires old mappings of one store.
type Sweeper struct {
	store    Store
	name     string
	interval time.Duration
	lifetime time.Duration
	cron     string
	log      zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewSweeper creates a sweeper bound to store.
func NewSweeper(store Store, name string, opts SweeperOptions, log zerolog.Logger) (*Sweeper, error) {
	if opts.Cron != "" && !gronx.IsValid(opts.Cron) {
		return nil, fmt.Errorf("invalid cleanup cron expression: %s", opts.Cron)
	}
	return &Sweeper{
		store:    store,
		name:     name,
		interval: time.Duration(opts.CleanupDays) * day,
		lifetime: time.Duration(opts.PairLifetimeDays) * day,
		cron:     opts.Cron,
		log:      log.With().Str("component", "sweeper").Str("store", name).Logger(),
		now:      time.Now,
		sleep:    sleepCtx,
	}, nil
}

// Enabled reports whether the sweeper has anything to do.
func (s *Sweeper) Enabled() bool {
	return s.interval > 0 && s.lifetime > 0
}

// Horizon returns the cutoff for mappings swept now.
func (s *Sweeper) Horizon() time.Time {
	return s.now().Add(-s.lifetime)
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	horizon := s.Horizon()
	result, err := s.store.Sweep(ctx, horizon)
	metrics.PairsRemoved.WithLabelValues(s.name).Add(float64(result.Total()))
	if err != nil {
		metrics.SweepErrors.WithLabelValues(s.name).Inc()
		return result, err
	}
	s.log.Debug().Time("horizon", horizon).Int("removed", result.Total()).Msg("Cleanup finished")
	return result, nil
}

// Run sweeps immediately and then on schedule until ctx is cancelled. A
// failed sweep is logged and does not stop the schedule.
func (s *Sweeper) Run(ctx context.Context) error {
	if !s.Enabled() {
		s.log.Info().Msg("Cleanup disabled, pairs are kept forever")
		return nil
	}
	s.log.Info().
		Dur("interval", s.interval).
		Dur("lifetime", s.lifetime).
		Str("cron", s.cron).
		Msg("Cleanup started")
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Err(err).Msg("Cleanup failed")
		}
		if !s.sleep(ctx, s.nextDelay()) {
			return nil
		}
	}
}

func (s *Sweeper) nextDelay() time.Duration {
	if s.cron == "" {
		return s.interval
	}
	now := s.now()
	next, err := gronx.NextTickAfter(s.cron, now, false)
	if err != nil {
		s.log.Err(err).Str("cron", s.cron).Msg("Failed to compute next cleanup, using interval")
		return s.interval
	}
	return next.Sub(now)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
