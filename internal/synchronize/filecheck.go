package synchronize

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bryan-buckman/tubevore/internal/metrics"
	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/options"
)

// VideoStorage verifies downloaded files.
type VideoStorage interface {
	VerifyIsDownloaded(ctx context.Context, v *model.Video) (bool, error)
	Delete(ctx context.Context, v *model.Video) error
	CalculateSize(ctx context.Context, v *model.Video) (int64, error)
}

// FileStore lists and saves downloaded videos.
type FileStore interface {
	GetDownloadedVideos(ctx context.Context, subscriptionID int64) ([]model.Video, error)
	UpdateVideo(ctx context.Context, v *model.Video) error
}

// FileCheckResult counts what one file check did.
type FileCheckResult struct {
	Checked     int
	Missing     int
	SizesFilled int
	Failed      int
}

// FileChecker reconciles recorded downloads with the files on disk.
type FileChecker struct {
	store    FileStore
	storage  VideoStorage
	resolver *options.Resolver
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewFileChecker creates a file checker. m may be nil.
func NewFileChecker(store FileStore, storage VideoStorage, resolver *options.Resolver, m *metrics.Metrics, logger *slog.Logger) *FileChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileChecker{store: store, storage: storage, resolver: resolver, metrics: m, logger: logger}
}

// Check visits every video of sub with a recorded download. Missing files
// are cleaned up and unrecorded sizes are filled in. Each video is saved on
// its own and a failure on one does not stop the others.
func (c *FileChecker) Check(ctx context.Context, sub *model.Subscription) (FileCheckResult, error) {
	var res FileCheckResult
	videos, err := c.store.GetDownloadedVideos(ctx, sub.ID)
	if err != nil {
		return res, fmt.Errorf("list downloaded videos: %w", err)
	}

	for i := range videos {
		v := &videos[i]
		res.Checked++

		present, err := c.storage.VerifyIsDownloaded(ctx, v)
		if err != nil {
			c.logger.Error("failed to verify download", "subscription_id", sub.ID, "video", v.String(), "err", err)
			res.Failed++
			continue
		}

		if !present {
			if err := c.onMissing(ctx, sub, v); err != nil {
				c.logger.Error("failed to clean up missing download", "subscription_id", sub.ID, "video", v.String(), "err", err)
				res.Failed++
				continue
			}
			res.Missing++
			c.metrics.FileMissing()
		} else if v.DownloadedSize == nil {
			if err := c.fillSize(ctx, v); err != nil {
				c.logger.Error("failed to compute download size", "subscription_id", sub.ID, "video", v.String(), "err", err)
				res.Failed++
				continue
			}
			res.SizesFilled++
		}
	}
	return res, nil
}

func (c *FileChecker) onMissing(ctx context.Context, sub *model.Subscription, v *model.Video) error {
	c.logger.Info("downloaded file was deleted, cleaning up", "subscription_id", sub.ID, "video", v.String())
	if err := c.storage.Delete(ctx, v); err != nil {
		return err
	}
	v.DownloadedPath = ""
	v.DownloadedSize = nil

	markWatched, err := options.GetForSubscription(ctx, c.resolver, options.SubscriptionsAutoDeleteWatched, sub.ID)
	if err != nil {
		return err
	}
	if markWatched {
		v.IsWatched = true
		c.logger.Info("deleted video marked as watched", "subscription_id", sub.ID, "video", v.String())
	}
	return c.store.UpdateVideo(ctx, v)
}

func (c *FileChecker) fillSize(ctx context.Context, v *model.Video) error {
	size, err := c.storage.CalculateSize(ctx, v)
	if err != nil {
		return err
	}
	v.DownloadedSize = &size
	return c.store.UpdateVideo(ctx, v)
}
