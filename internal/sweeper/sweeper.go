package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pushgate/pushgate/internal/notification"
)

// Dispatcher lists due notifications and dispatches them through the admission
// gate. The notification engine satisfies it.
type Dispatcher interface {
	Due(ctx context.Context, limit int) ([]*notification.Notification, error)
	DispatchScheduled(ctx context.Context, n *notification.Notification) (notification.Status, error)
}

// Sweeper periodically dispatches pending notifications whose schedule time has passed.
type Sweeper struct {
	config     Config
	dispatcher Dispatcher
	locker     Locker
	logger     zerolog.Logger

	metrics *SweepMetrics
}

// SweepMetrics tracks sweeper statistics.
type SweepMetrics struct {
	mu sync.RWMutex

	TotalSweeps   int64
	SkippedSweeps int64
	Dispatched    int64
	NoTargets     int64
	NotAdmitted   int64
	Failed        int64

	LastSweepAt       time.Time
	LastSweepDuration time.Duration
}

// SweeperConfig holds configuration for creating a Sweeper.
type SweeperConfig struct {
	Config     Config
	Dispatcher Dispatcher
	Locker     Locker
	Logger     zerolog.Logger
}

// New creates a schedule sweeper.
func New(cfg SweeperConfig) *Sweeper {
	locker := cfg.Locker
	if locker == nil {
		locker = NopLocker{}
	}
	return &Sweeper{
		config:     cfg.Config.withDefaults(),
		dispatcher: cfg.Dispatcher,
		locker:     locker,
		logger:     cfg.Logger,
		metrics:    &SweepMetrics{},
	}
}

// SweepResult contains the result of one sweep.
type SweepResult struct {
	StartTime   time.Time
	Duration    time.Duration
	Due         int
	Sent        int
	NoTargets   int
	NotAdmitted int
	Failed      int
	Errors      []SweepError

	// Skipped is set when another replica held the lease.
	Skipped bool
}

// SweepError records a notification that could not be dispatched.
type SweepError struct {
	NotificationID string
	Error          string
}

// Run sweeps immediately and then on every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.config.Interval).
		Int("batch_size", s.config.BatchSize).
		Int("concurrency", s.config.Concurrency).
		Msg("schedule sweeper started")

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("sweep failed")
		}

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("schedule sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep. The returned error covers lease and listing
// failures; per-notification failures are reported in the result.
func (s *Sweeper) RunOnce(ctx context.Context) (*SweepResult, error) {
	startTime := time.Now()
	result := &SweepResult{StartTime: startTime}

	unlock, ok, err := s.locker.TryLock(ctx, s.config.LeaseKey, s.config.LeaseTTL)
	if err != nil {
		return result, err
	}
	if !ok {
		result.Skipped = true
		s.updateMetrics(result)
		s.logger.Debug().Msg("sweep lease held elsewhere, skipping")
		return result, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := unlock(releaseCtx); err != nil {
			s.logger.Warn().Err(err).Msg("failed to release sweep lease")
		}
	}()

	due, err := s.dispatcher.Due(ctx, s.config.BatchSize)
	if err != nil {
		return result, fmt.Errorf("listing due notifications: %w", err)
	}
	result.Due = len(due)

	if len(due) > 0 {
		s.dispatchAll(ctx, due, result)
	}

	result.Duration = time.Since(startTime)
	s.updateMetrics(result)

	if result.Due > 0 {
		s.logger.Info().
			Dur("duration", result.Duration).
			Int("due", result.Due).
			Int("sent", result.Sent).
			Int("no_targets", result.NoTargets).
			Int("not_admitted", result.NotAdmitted).
			Int("failed", result.Failed).
			Msg("sweep completed")
	}
	return result, nil
}

type dispatchResult struct {
	id     string
	status notification.Status
	err    error
}

func (s *Sweeper) dispatchAll(ctx context.Context, due []*notification.Notification, result *SweepResult) {
	work := make(chan *notification.Notification, len(due))
	results := make(chan dispatchResult, len(due))

	workers := s.config.Concurrency
	if workers > len(due) {
		workers = len(due)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range work {
				select {
				case <-ctx.Done():
					results <- dispatchResult{id: n.ID, err: ctx.Err()}
				default:
					results <- s.dispatchOne(ctx, n)
				}
			}
		}()
	}

	for _, n := range due {
		work <- n
	}
	close(work)

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		switch {
		case errors.Is(r.err, notification.ErrNotAdmitted):
			result.NotAdmitted++
		case r.err != nil:
			result.Failed++
			result.Errors = append(result.Errors, SweepError{NotificationID: r.id, Error: r.err.Error()})
		case r.status == notification.StatusNoTargets:
			result.NoTargets++
		default:
			result.Sent++
		}
	}
}

func (s *Sweeper) dispatchOne(ctx context.Context, n *notification.Notification) dispatchResult {
	dispatchCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	status, err := s.dispatcher.DispatchScheduled(dispatchCtx, n)
	if err != nil && !errors.Is(err, notification.ErrNotAdmitted) {
		s.logger.Error().
			Err(err).
			Str("app_id", n.AppID).
			Str("notification_id", n.ID).
			Msg("scheduled dispatch failed")
	}
	return dispatchResult{id: n.ID, status: status, err: err}
}

func (s *Sweeper) updateMetrics(result *SweepResult) {
	s.metrics.mu.Lock()
	defer s.metrics.mu.Unlock()

	s.metrics.TotalSweeps++
	if result.Skipped {
		s.metrics.SkippedSweeps++
		return
	}
	s.metrics.Dispatched += int64(result.Sent)
	s.metrics.NoTargets += int64(result.NoTargets)
	s.metrics.NotAdmitted += int64(result.NotAdmitted)
	s.metrics.Failed += int64(result.Failed)
	s.metrics.LastSweepAt = result.StartTime
	s.metrics.LastSweepDuration = result.Duration
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (s *Sweeper) MetricsSnapshot() map[string]interface{} {
	s.metrics.mu.RLock()
	defer s.metrics.mu.RUnlock()

	return map[string]interface{}{
		"total_sweeps":        s.metrics.TotalSweeps,
		"skipped_sweeps":      s.metrics.SkippedSweeps,
		"dispatched":          s.metrics.Dispatched,
		"no_targets":          s.metrics.NoTargets,
		"not_admitted":        s.metrics.NotAdmitted,
		"failed":              s.metrics.Failed,
		"last_sweep_at":       s.metrics.LastSweepAt,
		"last_sweep_duration": s.metrics.LastSweepDuration.String(),
	}
}
