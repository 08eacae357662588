package download

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bryan-buckman/tubevore/internal/metrics"
	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/options"
)

// VideoStore lists a subscription's videos.
type VideoStore interface {
	GetVideos(ctx context.Context, subscriptionID int64) ([]model.Video, error)
}

// Enqueuer accepts downloader requests.
type Enqueuer interface {
	Enqueue(ctx context.Context, r Request) (bool, error)
}

// Evaluator applies the per-subscription download options.
type Evaluator struct {
	store    VideoStore
	resolver *options.Resolver
	queue    Enqueuer
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewEvaluator creates an evaluator. m may be nil.
func NewEvaluator(store VideoStore, resolver *options.Resolver, queue Enqueuer, m *metrics.Metrics, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{store: store, resolver: resolver, queue: queue, metrics: m, logger: logger}
}

// ProcessDownloadRules queues downloads for sub's unwatched videos when auto
// download is enabled, keeping at most SubscriptionsMaxCount downloaded or
// queued. It returns the number of newly queued requests.
func (e *Evaluator) ProcessDownloadRules(ctx context.Context, sub *model.Subscription) (int, error) {
	auto, err := options.GetForSubscription(ctx, e.resolver, options.SubscriptionsAutoDownload, sub.ID)
	if err != nil {
		return 0, err
	}
	if !auto {
		return 0, nil
	}
	maxCount, err := options.GetForSubscription(ctx, e.resolver, options.SubscriptionsMaxCount, sub.ID)
	if err != nil {
		return 0, err
	}
	order, err := options.GetForSubscription(ctx, e.resolver, options.SubscriptionsDownloadOrder, sub.ID)
	if err != nil {
		return 0, err
	}

	videos, err := e.store.GetVideos(ctx, sub.ID)
	if err != nil {
		return 0, fmt.Errorf("list videos: %w", err)
	}

	downloaded := 0
	var candidates []model.Video
	for _, v := range videos {
		switch {
		case v.DownloadedPath != "":
			downloaded++
		case !v.IsWatched:
			candidates = append(candidates, v)
		}
	}
	sortForDownload(candidates, order, e.logger)

	taken, queued := 0, 0
	for _, v := range candidates {
		if maxCount > 0 && downloaded+taken >= maxCount {
			break
		}
		added, err := e.queue.Enqueue(ctx, Request{
			Kind:           KindDownload,
			VideoID:        v.ID,
			SubscriptionID: sub.ID,
			URL:            v.OriginalURL,
		})
		if err != nil {
			return queued, fmt.Errorf("queue video %d: %w", v.ID, err)
		}
		taken++
		if added {
			queued++
		}
	}

	if queued > 0 {
		e.logger.Info("queued downloads", "subscription_id", sub.ID, "count", queued)
	}
	e.metrics.Queued(queued)
	return queued, nil
}

// RequestDelete asks the downloader to remove a video's files.
func (e *Evaluator) RequestDelete(ctx context.Context, v *model.Video) error {
	if v.DownloadedPath == "" {
		return nil
	}
	_, err := e.queue.Enqueue(ctx, Request{
		Kind:           KindDelete,
		VideoID:        v.ID,
		SubscriptionID: v.SubscriptionID,
		Path:           v.DownloadedPath,
	})
	return err
}

func sortForDownload(videos []model.Video, order string, logger *slog.Logger) {
	oldest := false
	switch order {
	case options.DownloadOrderOldest:
		oldest = true
	case options.DownloadOrderNewest:
	default:
		logger.Warn("unknown download order, using newest", "order", order)
	}
	sort.SliceStable(videos, func(i, j int) bool {
		a, b := videos[i], videos[j]
		if !a.Published.Equal(b.Published) {
			if oldest {
				return a.Published.Before(b.Published)
			}
			return a.Published.After(b.Published)
		}
		if oldest {
			return a.PlaylistIndex < b.PlaylistIndex
		}
		return a.PlaylistIndex > b.PlaylistIndex
	})
}
