package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/agora/internal/lock"
	"github.com/prn-tf/agora/internal/metrics"
	"github.com/prn-tf/agora/internal/repository"
)

// Sweeper purges consumed and expired one-time codes.
type Sweeper struct {
	accounts repository.AccountRepository
	locker   lock.Locker
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	config   SweeperConfig
	now      func() time.Time

	// Control
	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// SweeperConfig contains sweeper configuration.
type SweeperConfig struct {
	// Interval is how often to sweep.
	Interval time.Duration

	// Retention is how long a consumed or expired code is kept.
	Retention time.Duration

	// BatchSize is the maximum number of codes purged per run.
	BatchSize int
}

// DefaultSweeperConfig returns sensible defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:  1 * time.Hour,
		Retention: 24 * time.Hour,
		BatchSize: 1000,
	}
}

// NewSweeper creates a new sweeper.
func NewSweeper(accounts repository.AccountRepository, locker lock.Locker, m *metrics.Metrics, logger zerolog.Logger, config SweeperConfig) *Sweeper {
	return &Sweeper{
		accounts: accounts,
		locker:   locker,
		metrics:  m,
		logger:   logger.With().Str("service", "sweeper").Logger(),
		config:   config,
		now:      time.Now,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the sweep scheduler.
func (s *Sweeper) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info().
		Dur("interval", s.config.Interval).
		Dur("retention", s.config.Retention).
		Int("batch_size", s.config.BatchSize).
		Msg("Starting one-time code sweeper")

	go s.runLoop()
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	<-s.doneChan

	s.logger.Info().Msg("One-time code sweeper stopped")
}

func (s *Sweeper) runLoop() {
	defer close(s.doneChan)

	s.RunOnce(context.Background())

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopChan:
			return
		}
	}
}

// SweepResult contains the result of a sweep.
type SweepResult struct {
	// Purged is the number of code records removed.
	Purged int64

	// Skipped is set when another process held the sweep lock.
	Skipped bool

	// Err is the purge error, if any.
	Err error

	Duration time.Duration
}

// RunOnce executes a single sweep. Only one process sweeps at a time.
func (s *Sweeper) RunOnce(ctx context.Context) SweepResult {
	start := time.Now()
	var result SweepResult

	lockKey := lock.Keys.OTPSweep()
	lockTTL := s.config.Interval / 2
	if lockTTL < time.Minute {
		lockTTL = time.Minute
	}

	acquired, err := s.locker.Acquire(ctx, lockKey, lockTTL)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to acquire sweep lock")
		result.Err = err
		result.Duration = time.Since(start)
		return result
	}
	if !acquired {
		s.logger.Debug().Msg("Sweep lock held by another process, skipping run")
		result.Skipped = true
		result.Duration = time.Since(start)
		return result
	}
	defer func() {
		if _, err := s.locker.Release(context.WithoutCancel(ctx), lockKey); err != nil {
			s.logger.Error().Err(err).Msg("Failed to release sweep lock")
		}
	}()

	cutoff := s.now().UTC().Add(-s.config.Retention)
	purged, err := s.accounts.PurgeOTPs(ctx, cutoff, s.config.BatchSize)
	result.Purged = purged
	result.Duration = time.Since(start)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to purge one-time codes")
		result.Err = storeErr(err)
		return result
	}

	s.metrics.RecordSweeperRun(result.Duration, purged)
	if purged > 0 {
		s.logger.Info().
			Int64("purged", purged).
			Time("cutoff", cutoff).
			Dur("duration", result.Duration).
			Msg("One-time code sweep completed")
	}
	if s.config.BatchSize > 0 && purged == int64(s.config.BatchSize) {
		s.logger.Info().Msg("More one-time codes remain for next run")
	}
	return result
}
