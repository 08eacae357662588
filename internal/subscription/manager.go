// Package subscription manages a user's subscriptions and folders.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"golang.org/x/text/cases"

	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/notify"
	"github.com/bryan-buckman/tubevore/internal/options"
	"github.com/bryan-buckman/tubevore/internal/provider"
	"github.com/bryan-buckman/tubevore/internal/synchronize"
)

// ErrValidation is returned when user input is rejected.
var ErrValidation = errors.New("validation failed")

// Store is the storage used by the manager.
type Store interface {
	GetFolders(ctx context.Context, userID string) ([]model.Folder, error)
	GetFolderByID(ctx context.Context, id int64) (*model.Folder, error)
	GetFoldersRecursive(ctx context.Context, rootID int64) ([]model.Folder, error)
	CreateFolder(ctx context.Context, f *model.Folder) error
	UpdateFolder(ctx context.Context, f *model.Folder) error
	DeleteFolders(ctx context.Context, ids []int64) error

	GetSubscriptions(ctx context.Context, userID string) ([]model.Subscription, error)
	GetSubscriptionByID(ctx context.Context, id int64) (*model.Subscription, error)
	GetSubscriptionsInFolder(ctx context.Context, userID string, folderID *int64) ([]model.Subscription, error)
	GetSubscriptionsRecursive(ctx context.Context, folderID int64) ([]model.Subscription, error)
	CreateSubscription(ctx context.Context, s *model.Subscription) error
	UpdateSubscription(ctx context.Context, s *model.Subscription) error
	DeleteSubscriptions(ctx context.Context, ids []int64) error

	GetDownloadedVideos(ctx context.Context, subscriptionID int64) ([]model.Video, error)
	GetSubscriptionStats(ctx context.Context, subscriptionID int64) (*model.SubscriptionStats, error)
}

// Providers finds the provider that accepts a subscription URL.
type Providers interface {
	FindFromSubscriptionURL(ctx context.Context, raw string) iter.Seq[provider.SubscriptionProvider]
}

// FileDeleter queues removal of downloaded files.
type FileDeleter interface {
	RequestDelete(ctx context.Context, v *model.Video) error
}

// Scheduler starts synchronization runs in the background.
type Scheduler interface {
	Schedule(t synchronize.Target)
}

// Manager implements the subscription and folder operations of a user.
type Manager struct {
	store     Store
	providers Providers
	resolver  *options.Resolver
	files     FileDeleter
	scheduler Scheduler
	notifier  notify.Notifier
	logger    *slog.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithScheduler enables synchronization triggers.
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) { m.scheduler = s }
}

// WithNotifier publishes change events.
func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager.
func NewManager(store Store, providers Providers, resolver *options.Resolver, files FileDeleter, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		providers: providers,
		resolver:  resolver,
		files:     files,
		notifier:  notify.Nop{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// sameName compares names the way users perceive them.
func sameName(a, b string) bool {
	fold := cases.Fold()
	return fold.String(a) == fold.String(b)
}

func (m *Manager) notify(ctx context.Context, t notify.EventType, userID string, payload any) {
	m.notifier.Notify(ctx, notify.NewEvent(t, userID, payload))
}

func (m *Manager) schedule(t synchronize.Target) {
	if m.scheduler == nil {
		m.logger.Debug("no scheduler, synchronization not started", "target", t.String())
		return
	}
	m.scheduler.Schedule(t)
}

// AutoDownload resolves the auto download option for a subscription.
func (m *Manager) AutoDownload(ctx context.Context, id int64) (bool, error) {
	return options.GetForSubscription(ctx, m.resolver, options.SubscriptionsAutoDownload, id)
}

// AutoDownloadNoResolve returns the value set on the subscription itself,
// or nil when it inherits.
func (m *Manager) AutoDownloadNoResolve(ctx context.Context, id int64) (*bool, error) {
	v, ok, err := options.GetForSubscriptionNoResolve(ctx, m.resolver, options.SubscriptionsAutoDownload, id)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

func (m *Manager) SetAutoDownload(ctx context.Context, id int64, value bool) error {
	return options.SetForSubscription(ctx, m.resolver, options.SubscriptionsAutoDownload, id, value)
}

func (m *Manager) UnsetAutoDownload(ctx context.Context, id int64) error {
	return options.UnsetForSubscription(ctx, m.resolver, options.SubscriptionsAutoDownload, id)
}

// SynchronizeSubscription schedules a run for one of the user's subscriptions.
func (m *Manager) SynchronizeSubscription(ctx context.Context, userID string, id int64) error {
	if _, err := m.Get(ctx, userID, id); err != nil {
		return err
	}
	m.schedule(synchronize.SubscriptionTarget(id))
	return nil
}

// SynchronizeFolder schedules a run for every subscription under a folder.
func (m *Manager) SynchronizeFolder(ctx context.Context, userID string, id int64) error {
	if _, err := m.GetFolder(ctx, userID, id); err != nil {
		return err
	}
	m.schedule(synchronize.FolderTarget(id))
	return nil
}

// SynchronizeAll schedules a run for every subscription.
func (m *Manager) SynchronizeAll() {
	m.schedule(synchronize.AllTarget())
}

// Stats returns video counts and disk usage of a subscription.
func (m *Manager) Stats(ctx context.Context, userID string, id int64) (*model.SubscriptionStats, error) {
	if _, err := m.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return m.store.GetSubscriptionStats(ctx, id)
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
