package synchronize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bryan-buckman/tubevore/internal/metrics"
	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/runlock"
)

// ErrSyncInProgress is returned when a run for the same target is already going.
var ErrSyncInProgress = errors.New("synchronization already in progress")

// Concurrency settings
const (
	// MaxConcurrencyPostgres is the number of subscriptions synchronized in parallel on PostgreSQL
	MaxConcurrencyPostgres = 4
	// MaxConcurrencySQLite is 1; SQLite serializes writers
	MaxConcurrencySQLite = 1
)

// SubscriptionStore selects the subscriptions of a target.
type SubscriptionStore interface {
	GetSubscriptionByID(ctx context.Context, id int64) (*model.Subscription, error)
	GetAllSubscriptions(ctx context.Context) ([]model.Subscription, error)
	GetSubscriptionsRecursive(ctx context.Context, folderID int64) ([]model.Subscription, error)
}

// DownloadScheduler evaluates download rules after a subscription is synchronized.
type DownloadScheduler interface {
	ProcessDownloadRules(ctx context.Context, sub *model.Subscription) (int, error)
}

// RunReport summarizes one run.
type RunReport struct {
	RunID         string
	Target        Target
	Subscriptions int
	Failed        int
	Skipped       int
	Added         int
	Started       time.Time
	Finished      time.Time
}

// Orchestrator runs discovery, file checks and download rules for the
// subscriptions of a target.
type Orchestrator struct {
	subs        SubscriptionStore
	reconciler  *Reconciler
	files       *FileChecker
	downloads   DownloadScheduler
	locker      runlock.Locker
	metrics     *metrics.Metrics
	logger      *slog.Logger
	concurrency int
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLocker replaces the in-process run lock.
func WithLocker(l runlock.Locker) OrchestratorOption {
	return func(o *Orchestrator) { o.locker = l }
}

// WithMetrics records run metrics.
func WithMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithConcurrency sets how many subscriptions are synchronized at once.
func WithConcurrency(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.concurrency = n }
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator creates an orchestrator that processes one subscription at a time.
func NewOrchestrator(subs SubscriptionStore, reconciler *Reconciler, files *FileChecker, downloads DownloadScheduler, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		subs:        subs,
		reconciler:  reconciler,
		files:       files,
		downloads:   downloads,
		concurrency: MaxConcurrencySQLite,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.locker == nil {
		o.locker = runlock.NewMemory()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Run synchronizes the subscriptions of t. A failing subscription is logged
// and does not stop the others. Cancellation is checked between
// subscriptions. Only one run per target may be active.
func (o *Orchestrator) Run(ctx context.Context, t Target) (*RunReport, error) {
	ok, err := o.locker.Acquire(ctx, t.String())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSyncInProgress, t)
	}
	defer func() {
		if err := o.locker.Release(context.WithoutCancel(ctx), t.String()); err != nil {
			o.logger.Warn("failed to release run lock", "target", t.String(), "err", err)
		}
	}()

	report := &RunReport{RunID: uuid.NewString(), Target: t, Started: time.Now()}
	log := o.logger.With("run_id", report.RunID, "target", t.String())

	subs, err := o.targets(ctx, t)
	if err != nil {
		o.metrics.ObserveRun(t.Kind(), time.Since(report.Started), err)
		return nil, err
	}
	log.Info("synchronization started", "subscriptions", len(subs))

	if o.concurrency <= 1 {
		err = o.runSequential(ctx, log, subs, report)
	} else {
		err = o.runParallel(ctx, log, subs, report)
	}

	report.Finished = time.Now()
	o.metrics.ObserveRun(t.Kind(), report.Finished.Sub(report.Started), err)
	if err != nil {
		log.Warn("synchronization cancelled", "done", report.Subscriptions, "of", len(subs), "err", err)
		return report, err
	}
	log.Info("synchronization finished",
		"subscriptions", report.Subscriptions, "failed", report.Failed, "skipped", report.Skipped, "added", report.Added,
		"duration", report.Finished.Sub(report.Started).String())
	return report, nil
}

func (o *Orchestrator) targets(ctx context.Context, t Target) ([]model.Subscription, error) {
	switch t.kind {
	case targetSubscription:
		sub, err := o.subs.GetSubscriptionByID(ctx, t.id)
		if err != nil {
			return nil, fmt.Errorf("get subscription %d: %w", t.id, err)
		}
		return []model.Subscription{*sub}, nil
	case targetFolder:
		subs, err := o.subs.GetSubscriptionsRecursive(ctx, t.id)
		if err != nil {
			return nil, fmt.Errorf("get subscriptions in folder %d: %w", t.id, err)
		}
		return subs, nil
	default:
		subs, err := o.subs.GetAllSubscriptions(ctx)
		if err != nil {
			return nil, fmt.Errorf("get subscriptions: %w", err)
		}
		return subs, nil
	}
}

// subResult holds the outcome of synchronizing one subscription.
type subResult struct {
	added   int
	skipped bool
	err     error
}

// subscriptionLockKey guards one subscription's video set across runs whose
// targets overlap.
func subscriptionLockKey(id int64) string {
	return "sync:subscription:" + strconv.FormatInt(id, 10)
}

func (o *Orchestrator) record(log *slog.Logger, sub *model.Subscription, r subResult, report *RunReport) {
	if r.skipped {
		report.Skipped++
		o.metrics.SubscriptionDone(metrics.OutcomeSkipped)
		log.Info("subscription already being synchronized, skipped", "subscription_id", sub.ID)
		return
	}
	report.Subscriptions++
	report.Added += r.added
	if r.err != nil {
		report.Failed++
		o.metrics.SubscriptionDone(metrics.OutcomeFailed)
		log.Error("synchronization failed for subscription", "subscription_id", sub.ID, "err", r.err)
		return
	}
	o.metrics.SubscriptionDone(metrics.OutcomeOK)
}

// runSequential synchronizes one subscription at a time.
func (o *Orchestrator) runSequential(ctx context.Context, log *slog.Logger, subs []model.Subscription, report *RunReport) error {
	for i := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		sub := &subs[i]
		o.record(log, sub, o.synchronize(context.WithoutCancel(ctx), log, sub), report)
	}
	return nil
}

// runParallel synchronizes subscriptions using a worker pool. Each
// subscription is still handled by a single worker.
func (o *Orchestrator) runParallel(ctx context.Context, log *slog.Logger, subs []model.Subscription, report *RunReport) error {
	type done struct {
		sub *model.Subscription
		res subResult
	}

	// a started subscription runs to completion
	work := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	subChan := make(chan *model.Subscription)
	resultChan := make(chan done, len(subs))

	// Start workers
	for i := 0; i < o.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range subChan {
				resultChan <- done{sub: sub, res: o.synchronize(work, log, sub)}
			}
		}()
	}

	// Send subscriptions to workers
	go func() {
		defer close(subChan)
		for i := range subs {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case subChan <- &subs[i]:
			}
		}
	}()

	// Collect results in separate goroutine
	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for r := range resultChan {
		o.record(log, r.sub, r.res, report)
	}
	return ctx.Err()
}

// synchronize runs every step for one subscription, turning panics into errors.
func (o *Orchestrator) synchronize(ctx context.Context, log *slog.Logger, sub *model.Subscription) (res subResult) {
	defer func() {
		if rec := recover(); rec != nil {
			res.err = fmt.Errorf("panic: %v", rec)
		}
	}()

	key := subscriptionLockKey(sub.ID)
	ok, err := o.locker.Acquire(ctx, key)
	if err != nil {
		res.err = fmt.Errorf("lock subscription: %w", err)
		return res
	}
	if !ok {
		res.skipped = true
		return res
	}
	defer func() {
		if err := o.locker.Release(ctx, key); err != nil {
			log.Warn("failed to release subscription lock", "subscription_id", sub.ID, "err", err)
		}
	}()

	if sub.SubscriptionProviderID != "" {
		r, err := o.reconciler.Reconcile(ctx, sub)
		res.added = r.Added
		o.metrics.Discovered(r.Added)
		if err != nil {
			res.err = err
			return res
		}
		log.Debug("videos reconciled", "subscription_id", sub.ID,
			"fetched", r.Fetched, "matched", r.Matched, "added", r.Added, "skipped", r.Skipped)
	}

	fc, err := o.files.Check(ctx, sub)
	if err != nil {
		res.err = err
		return res
	}
	if fc.Missing > 0 || fc.Failed > 0 {
		log.Info("files checked", "subscription_id", sub.ID, "missing", fc.Missing, "failed", fc.Failed)
	}

	if _, err := o.downloads.ProcessDownloadRules(ctx, sub); err != nil {
		res.err = fmt.Errorf("download rules: %w", err)
	}
	return res
}
