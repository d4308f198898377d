package feeding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/afs/internal/logger"
	"github.com/robfig/cron"
)

// DefaultSchedule runs a pass every ten minutes.
const DefaultSchedule = "@every 10m"

// ErrRunning is returned by RunNow while another pass is in progress.
var ErrRunning = errors.New("feeding pass already running")

// Runner is a single feeding pass.
type Runner interface {
	Execute(ctx context.Context) (*Stats, error)
}

// SchedulerConfig contains configuration for the scheduler.
type SchedulerConfig struct {
	// Enabled controls whether scheduled passes run (default: true)
	Enabled bool

	// Schedule is a standard cron expression or descriptor (default: "@every 10m")
	Schedule string

	// RunOnStart triggers a pass as soon as the scheduler starts.
	RunOnStart bool

	// PassTimeout bounds a single pass (0: unbounded)
	PassTimeout time.Duration
}

// Scheduler runs feeding passes on a cron schedule. Passes never overlap:
// a tick that fires while a pass is running is skipped.
//
// Thread Safety: Safe for concurrent use.
type Scheduler struct {
	runner   Runner
	config   SchedulerConfig
	schedule cron.Schedule
	running  sync.Mutex
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewScheduler creates a scheduler. Call Serve to start it.
func NewScheduler(runner Runner, config SchedulerConfig) (*Scheduler, error) {
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}
	schedule, err := cron.ParseStandard(config.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid feeding schedule %q: %w", config.Schedule, err)
	}
	return &Scheduler{
		runner:   runner,
		config:   config,
		schedule: schedule,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Name identifies the scheduler among the server's background services.
func (s *Scheduler) Name() string {
	return "feeding"
}

// Serve runs scheduled passes until ctx is cancelled or Stop is called.
func (s *Scheduler) Serve(ctx context.Context) error {
	defer close(s.doneCh)

	if !s.config.Enabled {
		logger.Info("Feeding scheduler disabled")
		return nil
	}

	logger.Info("Starting feeding scheduler: schedule=%q", s.config.Schedule)

	if s.config.RunOnStart {
		s.tick(ctx)
	}

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-timer.C:
			s.tick(ctx)
		case <-s.stopCh:
			timer.Stop()
			logger.Info("Feeding scheduler stopping...")
			return nil
		case <-ctx.Done():
			timer.Stop()
			logger.Info("Feeding scheduler stopping...")
			return nil
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.TryLock() {
		logger.Warn("Feeding: previous pass still running, skipping scheduled pass")
		return
	}
	defer s.running.Unlock()

	if s.config.PassTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.PassTimeout)
		defer cancel()
	}
	if _, err := s.runner.Execute(ctx); err != nil {
		logger.Error("Feeding pass failed: %v", err)
	}
}

// RunNow triggers an immediate pass and blocks until it completes. It fails
// with ErrRunning instead of waiting when a pass is already in progress.
func (s *Scheduler) RunNow(ctx context.Context) (*Stats, error) {
	if !s.running.TryLock() {
		return nil, ErrRunning
	}
	defer s.running.Unlock()

	logger.Info("Running feeding pass (manual trigger)...")
	return s.runner.Execute(ctx)
}

// Stop stops the scheduler and waits for the running pass to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })

	select {
	case <-s.doneCh:
		logger.Info("Feeding scheduler stopped successfully")
		return nil
	case <-ctx.Done():
		logger.Warn("Feeding scheduler shutdown timeout")
		return ctx.Err()
	}
}
