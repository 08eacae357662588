// Package database provides storage backends for subscriptions, videos and
// option overrides.
package database

import (
	"context"

	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/options"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = model.ErrNotFound

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error
	Ping(ctx context.Context) error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// SupportsHighConcurrency returns true if the database can handle
	// many concurrent write operations (e.g., PostgreSQL).
	SupportsHighConcurrency() bool

	// Folder operations
	GetFolders(ctx context.Context, userID string) ([]model.Folder, error)
	GetFolderByID(ctx context.Context, id int64) (*model.Folder, error)
	GetFoldersRecursive(ctx context.Context, rootID int64) ([]model.Folder, error)
	CreateFolder(ctx context.Context, f *model.Folder) error
	UpdateFolder(ctx context.Context, f *model.Folder) error
	DeleteFolders(ctx context.Context, ids []int64) error

	// Subscription operations
	GetSubscriptions(ctx context.Context, userID string) ([]model.Subscription, error)
	GetAllSubscriptions(ctx context.Context) ([]model.Subscription, error)
	GetSubscriptionByID(ctx context.Context, id int64) (*model.Subscription, error)
	GetSubscriptionsInFolder(ctx context.Context, userID string, folderID *int64) ([]model.Subscription, error)
	GetSubscriptionsRecursive(ctx context.Context, folderID int64) ([]model.Subscription, error)
	CreateSubscription(ctx context.Context, s *model.Subscription) error
	UpdateSubscription(ctx context.Context, s *model.Subscription) error
	DeleteSubscriptions(ctx context.Context, ids []int64) error

	// Video operations
	GetVideos(ctx context.Context, subscriptionID int64) ([]model.Video, error)
	GetVideoByID(ctx context.Context, id int64) (*model.Video, error)
	GetDownloadedVideos(ctx context.Context, subscriptionID int64) ([]model.Video, error)
	FindVideoBySubscriptionProviderID(ctx context.Context, subscriptionID int64, itemID string) (*model.Video, error)
	FindVideoByVideoID(ctx context.Context, subscriptionID int64, videoID string) (*model.Video, error)
	FindVideoByURL(ctx context.Context, subscriptionID int64, url string) (*model.Video, error)
	NextPlaylistIndex(ctx context.Context, subscriptionID int64) (int, error)
	CreateVideo(ctx context.Context, v *model.Video) error
	UpdateVideo(ctx context.Context, v *model.Video) error
	GetSubscriptionStats(ctx context.Context, subscriptionID int64) (*model.SubscriptionStats, error)

	// Option operations
	options.Store

	// Provider configuration operations
	GetProviderConfigs(ctx context.Context) (map[string]map[string]string, error)
	SetProviderConfig(ctx context.Context, providerID string, cfg map[string]string) error
	DeleteProviderConfig(ctx context.Context, providerID string) error
}

// Open connects to the configured backend.
func Open(driver, path, url string) (Store, error) {
	if driver == "postgres" {
		return NewPostgres(url)
	}
	return New(path)
}
