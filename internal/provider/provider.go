// Package provider defines the contract for video source integrations and
// the registry that selects among them.
package provider

import (
	"context"
	"errors"
	"iter"
	"net/url"

	"github.com/bryan-buckman/tubevore/internal/model"
)

var (
	// ErrNotSupported is returned by a provider for a capability it declares
	// but does not implement. Callers skip rather than retry.
	ErrNotSupported = errors.New("provider: operation not supported")
	// ErrProviderNotFound is returned when no provider has the requested id.
	ErrProviderNotFound = errors.New("provider: not found")
	// ErrUnsupportedResource is returned for a URL shape the provider does not recognize.
	ErrUnsupportedResource = errors.New("provider: unsupported resource")
	// ErrMissingConfig is returned by Configure when a required field is absent.
	ErrMissingConfig = errors.New("provider: missing required configuration")
)

// Config is a provider's configuration blob, e.g. API credentials.
type Config map[string]string

// Provider is the part every integration implements.
type Provider interface {
	// ID is stable and persisted on subscriptions and videos.
	ID() string
	Name() string
	IsInitialized() bool
	Configure(cfg Config) error
	Unconfigure()
}

// SubscriptionProvider discovers videos for subscriptions.
type SubscriptionProvider interface {
	Provider
	// CanHandleSubscriptionURL reports whether u is a subscription this
	// provider understands. It may probe the network.
	CanHandleSubscriptionURL(ctx context.Context, u *url.URL) (bool, error)
	// CreateSubscription builds an unsaved subscription for u.
	CreateSubscription(ctx context.Context, u *url.URL) (*model.Subscription, error)
	// FetchVideos lists the subscription's videos. The sequence is finite and
	// can only be consumed once.
	FetchVideos(ctx context.Context, sub *model.Subscription) iter.Seq2[*model.Video, error]
}

// VideoProvider enriches individual videos.
type VideoProvider interface {
	Provider
	CanHandleVideo(ctx context.Context, v *model.Video) (bool, error)
	// UpdateMetadata fills in details and/or statistics for each video, best
	// effort per video.
	UpdateMetadata(ctx context.Context, videos []*model.Video, updateMetadata, updateStatistics bool) error
}

// Rating normalizes like and dislike counts to the 0..1 range. It returns
// nil when there are no votes.
func Rating(likes, dislikes int64) *float64 {
	total := likes + dislikes
	if total <= 0 || likes < 0 || dislikes < 0 {
		return nil
	}
	r := float64(likes) / float64(total)
	return &r
}
