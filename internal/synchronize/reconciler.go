// Package synchronize discovers new videos for subscriptions, checks
// downloaded files and hands subscriptions to the download rules.
package synchronize

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"time"

	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/notify"
	"github.com/bryan-buckman/tubevore/internal/provider"
)

// VideoStore is the storage used to reconcile fetched videos.
type VideoStore interface {
	FindVideoBySubscriptionProviderID(ctx context.Context, subscriptionID int64, itemID string) (*model.Video, error)
	FindVideoByVideoID(ctx context.Context, subscriptionID int64, videoID string) (*model.Video, error)
	FindVideoByURL(ctx context.Context, subscriptionID int64, url string) (*model.Video, error)
	NextPlaylistIndex(ctx context.Context, subscriptionID int64) (int, error)
	CreateVideo(ctx context.Context, v *model.Video) error
}

// Providers resolves subscription owners and video enrichers.
type Providers interface {
	SubscriptionProvider(id string) (provider.SubscriptionProvider, error)
	FindForVideo(ctx context.Context, v *model.Video) iter.Seq[provider.VideoProvider]
}

// ReconcileResult counts what one reconciliation did.
type ReconcileResult struct {
	Fetched int
	Matched int
	Added   int
	Skipped int
}

// Reconciler stores newly discovered videos of a subscription.
type Reconciler struct {
	store     VideoStore
	providers Providers
	notifier  notify.Notifier
	logger    *slog.Logger
	now       func() time.Time
}

// NewReconciler creates a reconciler. notifier may be nil.
func NewReconciler(store VideoStore, providers Providers, notifier notify.Notifier, logger *slog.Logger) *Reconciler {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:     store,
		providers: providers,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

// Reconcile fetches the subscription's videos from its provider and stores
// the ones not seen before, oldest first. Each new video is saved on its
// own; a video that cannot be enriched or saved is skipped.
func (r *Reconciler) Reconcile(ctx context.Context, sub *model.Subscription) (ReconcileResult, error) {
	var res ReconcileResult

	sp, err := r.providers.SubscriptionProvider(sub.SubscriptionProviderID)
	if err != nil {
		return res, fmt.Errorf("subscription provider for %s: %w", sub, err)
	}

	var fetched []*model.Video
	for v, err := range sp.FetchVideos(ctx, sub) {
		if err != nil {
			return res, fmt.Errorf("fetch videos for %s: %w", sub, err)
		}
		if v != nil {
			fetched = append(fetched, v)
		}
	}
	res.Fetched = len(fetched)
	sort.SliceStable(fetched, func(i, j int) bool {
		return fetched[i].Published.Before(fetched[j].Published)
	})

	for _, v := range fetched {
		existing, err := r.findMatch(ctx, sub, v)
		if err != nil {
			r.logger.Error("failed to look up video", "subscription_id", sub.ID, "video", v.String(), "err", err)
			res.Skipped++
			continue
		}
		if existing != nil {
			mergeVideo(existing, v)
			res.Matched++
			continue
		}

		if err := r.ingest(ctx, sub, v); err != nil {
			r.logger.Error("skipping video", "subscription_id", sub.ID, "video", v.String(), "err", err)
			res.Skipped++
			continue
		}
		r.logger.Info("new video", "subscription_id", sub.ID, "video", v.String())
		r.notifier.Notify(ctx, notify.NewEvent(notify.VideoCreated, sub.UserID, v))
		res.Added++
	}
	return res, nil
}

// findMatch looks for a stored video of sub that is the same as v. The first
// id present on v picks the comparison; the URL is the last resort.
func (r *Reconciler) findMatch(ctx context.Context, sub *model.Subscription, v *model.Video) (*model.Video, error) {
	var (
		existing *model.Video
		err      error
	)
	switch {
	case v.SubscriptionProviderID != "":
		existing, err = r.store.FindVideoBySubscriptionProviderID(ctx, sub.ID, v.SubscriptionProviderID)
	case v.VideoID != "":
		existing, err = r.store.FindVideoByVideoID(ctx, sub.ID, v.VideoID)
	}
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	if existing != nil || v.OriginalURL == "" {
		return existing, nil
	}

	existing, err = r.store.FindVideoByURL(ctx, sub.ID, v.OriginalURL)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	return existing, err
}

// mergeVideo is where details of a refetched video would be folded into the
// stored one. Stored fields are kept as they are.
func mergeVideo(existing, fetched *model.Video) {}

func (r *Reconciler) ingest(ctx context.Context, sub *model.Subscription, v *model.Video) error {
	idx, err := r.store.NextPlaylistIndex(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("next playlist index: %w", err)
	}
	v.ID = 0
	v.SubscriptionID = sub.ID
	v.PlaylistIndex = idx
	v.IsWatched = false
	v.Discovered = r.now().UTC()
	v.Name = model.Truncate(v.Name, model.MaxVideoNameLength)
	v.Description = model.Truncate(v.Description, model.MaxVideoDescriptionLength)

	if v.VideoProviderID == "" {
		if err := r.enrich(ctx, v); err != nil {
			return err
		}
	}

	if err := r.store.CreateVideo(ctx, v); err != nil {
		return fmt.Errorf("save video: %w", err)
	}
	return nil
}

// enrich asks the first provider that recognizes v for its details.
func (r *Reconciler) enrich(ctx context.Context, v *model.Video) error {
	var vp provider.VideoProvider
	for p := range r.providers.FindForVideo(ctx, v) {
		vp = p
		break
	}
	if vp == nil {
		return fmt.Errorf("no video provider for %s", v.OriginalURL)
	}
	if err := vp.UpdateMetadata(ctx, []*model.Video{v}, true, true); err != nil {
		return fmt.Errorf("update metadata with %s: %w", vp.ID(), err)
	}
	return nil
}
