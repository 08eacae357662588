// Package scheduler runs synchronization periodically and on demand.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bryan-buckman/tubevore/internal/options"
	"github.com/bryan-buckman/tubevore/internal/synchronize"
)

// MinIntervalMinutes is the minimum allowed interval between scheduled runs.
const MinIntervalMinutes = 15

// DefaultRunTimeout bounds a single scheduled run.
const DefaultRunTimeout = 30 * time.Minute

// Runner performs one synchronization run.
type Runner interface {
	Run(ctx context.Context, t synchronize.Target) (*synchronize.RunReport, error)
}

// Scheduler runs synchronization of all subscriptions every
// SynchronizationInterval minutes and accepts on-demand runs.
type Scheduler struct {
	runner   Runner
	resolver *options.Resolver
	logger   *slog.Logger
	unit     time.Duration
	timeout  time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithIntervalUnit sets the unit the interval option is counted in.
// Defaults to time.Minute.
func WithIntervalUnit(d time.Duration) Option {
	return func(s *Scheduler) { s.unit = d }
}

// WithRunTimeout bounds each run.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// New creates a scheduler. Call Start to begin periodic runs.
func New(runner Runner, resolver *options.Resolver, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner:   runner,
		resolver: resolver,
		logger:   slog.Default(),
		unit:     time.Minute,
		timeout:  DefaultRunTimeout,
		ctx:      ctx,
		cancel:   cancel,
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interval returns the current delay between scheduled runs.
func (s *Scheduler) Interval() time.Duration {
	interval, err := options.GetGlobal(s.ctx, s.resolver, options.SynchronizationInterval)
	if err != nil {
		s.logger.Warn("failed to read synchronization interval", "err", err)
		interval = options.SynchronizationInterval.DefaultValue
	}
	if interval < MinIntervalMinutes {
		interval = MinIntervalMinutes
	}
	return time.Duration(interval) * s.unit
}

// Start begins the periodic loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			if n := s.resolver.ClearExpired(); n > 0 {
				s.logger.Debug("expired option cache entries removed", "count", n)
			}
			s.run(synchronize.AllTarget())

			interval := s.Interval()
			select {
			case <-s.stopChan:
				return
			case <-time.After(interval):
			}
		}
	}()
}

// Schedule starts a run for t in the background. It returns immediately.
func (s *Scheduler) Schedule(t synchronize.Target) {
	select {
	case <-s.stopChan:
		s.logger.Warn("scheduler stopped, run not started", "target", t.String())
		return
	default:
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(t)
	}()
}

func (s *Scheduler) run(t synchronize.Target) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	report, err := s.runner.Run(ctx, t)
	switch {
	case errors.Is(err, synchronize.ErrSyncInProgress):
		s.logger.Info("synchronization already running", "target", t.String())
	case err != nil:
		s.logger.Error("synchronization error", "target", t.String(), "err", err)
	default:
		s.logger.Info("synchronization done", "target", t.String(),
			"subscriptions", report.Subscriptions, "failed", report.Failed, "added", report.Added)
	}
}

// Stop cancels pending work and waits for in-flight runs to finish.
// In-flight subscriptions are completed before runs return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.cancel()
	})
	s.wg.Wait()
}
