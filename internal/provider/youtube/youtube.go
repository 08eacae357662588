// Package youtube implements a provider for YouTube channels and playlists
// backed by the public video feeds.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/provider"
)

// ProviderID is persisted on subscriptions and videos owned by the feed provider.
const ProviderID = "YtRSS"

// DefaultBaseURL hosts the feeds.
const DefaultBaseURL = "https://www.youtube.com"

const userAgent = "tubevore/1.0"

// FeedProvider reads channel, user and playlist feeds. It needs no
// configuration; an optional "base_url" overrides where feeds are fetched.
type FeedProvider struct {
	client  *http.Client
	limiter *hostLimiter
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	baseURL string
}

var (
	_ provider.SubscriptionProvider = (*FeedProvider)(nil)
	_ provider.VideoProvider        = (*FeedProvider)(nil)
)

// Option customizes a FeedProvider.
type Option func(*FeedProvider)

// WithHTTPClient sets the client used for feed requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *FeedProvider) { p.client = c }
}

// WithBaseURL points feed requests at another host.
func WithBaseURL(base string) Option {
	return func(p *FeedProvider) { p.baseURL = strings.TrimRight(base, "/") }
}

// WithRateLimit sets the spacing between requests to one host. Zero disables limiting.
func WithRateLimit(every time.Duration, burst int) Option {
	return func(p *FeedProvider) { p.limiter = newHostLimiter(every, burst) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *FeedProvider) { p.logger = l }
}

// New creates the feed provider.
func New(opts ...Option) *FeedProvider {
	p := &FeedProvider{
		limiter: newHostLimiter(DelayBetweenHostRequests, BurstPerHost),
		baseURL: DefaultBaseURL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

func (p *FeedProvider) ID() string          { return ProviderID }
func (p *FeedProvider) Name() string        { return "YouTube RSS" }
func (p *FeedProvider) IsInitialized() bool { return true }

// Configure accepts an optional base_url.
func (p *FeedProvider) Configure(cfg provider.Config) error {
	if base := cfg["base_url"]; base != "" {
		u, err := url.Parse(base)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid base_url %q", base)
		}
		p.mu.Lock()
		p.baseURL = strings.TrimRight(base, "/")
		p.mu.Unlock()
	}
	return nil
}

// Unconfigure restores the default feed host.
func (p *FeedProvider) Unconfigure() {
	p.mu.Lock()
	p.baseURL = DefaultBaseURL
	p.mu.Unlock()
}

// BaseURL returns the host feeds are fetched from.
func (p *FeedProvider) BaseURL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.baseURL
}

// CanHandleSubscriptionURL accepts channel, user and playlist URLs.
func (p *FeedProvider) CanHandleSubscriptionURL(ctx context.Context, u *url.URL) (bool, error) {
	return ParseURL(u).feedKey() != "", nil
}

// CanHandleVideo accepts videos it owns or any YouTube video URL.
func (p *FeedProvider) CanHandleVideo(ctx context.Context, v *model.Video) (bool, error) {
	if v.VideoProviderID == ProviderID {
		return true, nil
	}
	u, err := url.Parse(v.OriginalURL)
	if err != nil {
		return false, nil
	}
	return ParseURL(u).Type == ResourceVideo, nil
}

// CreateSubscription reads the feed once to name the subscription.
func (p *FeedProvider) CreateSubscription(ctx context.Context, u *url.URL) (*model.Subscription, error) {
	res := ParseURL(u)
	key := res.feedKey()
	if key == "" {
		return nil, fmt.Errorf("%w: %s", provider.ErrUnsupportedResource, u)
	}
	feed, err := p.fetch(ctx, key)
	if err != nil {
		return nil, err
	}

	sub := &model.Subscription{
		Name:                   model.Truncate(feed.Title, model.MaxSubscriptionNameLength),
		Description:            model.Truncate(feed.Description, model.MaxSubscriptionDescriptionLength),
		SubscriptionID:         key,
		SubscriptionProviderID: ProviderID,
		OriginalURL:            u.String(),
	}
	if sub.Name == "" {
		sub.Name = res.ID
	}
	if feed.Image != nil {
		sub.ThumbnailURL = feed.Image.URL
	}
	return sub, nil
}

// FetchVideos yields the videos in the subscription's feed. A fetch
// failure is yielded once as an error.
func (p *FeedProvider) FetchVideos(ctx context.Context, sub *model.Subscription) iter.Seq2[*model.Video, error] {
	return func(yield func(*model.Video, error) bool) {
		feed, err := p.fetch(ctx, sub.SubscriptionID)
		if err != nil {
			yield(nil, err)
			return
		}
		now := p.now()
		for _, item := range feed.Items {
			v := p.videoFromItem(item, now)
			if v == nil {
				p.logger.Debug("skipping feed entry without video id", "subscription_id", sub.ID, "guid", item.GUID)
				continue
			}
			v.SubscriptionID = sub.ID
			if !yield(v, nil) {
				return
			}
		}
	}
}

// UpdateMetadata fills in ids from the video URL. Feeds carry no per-video
// lookup, so statistics are only known for videos seen in a feed.
func (p *FeedProvider) UpdateMetadata(ctx context.Context, videos []*model.Video, updateMetadata, updateStatistics bool) error {
	var errs []error
	for _, v := range videos {
		u, err := url.Parse(v.OriginalURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("video %q: %w", v.OriginalURL, err))
			continue
		}
		res := ParseURL(u)
		if res.Type != ResourceVideo {
			errs = append(errs, fmt.Errorf("%w: %s", provider.ErrUnsupportedResource, v.OriginalURL))
			continue
		}
		v.VideoID = res.ID
		v.VideoProviderID = ProviderID
		if updateMetadata && v.Name == "" {
			v.Name = res.ID
		}
		v.LastUpdated = p.now()
	}
	return errors.Join(errs...)
}

func (p *FeedProvider) feedURL(key string) (string, error) {
	q, ok := parseFeedKey(key)
	if !ok {
		return "", fmt.Errorf("%w: subscription id %q", provider.ErrUnsupportedResource, key)
	}
	return p.BaseURL() + "/feeds/videos.xml?" + q.Encode(), nil
}

func (p *FeedProvider) fetch(ctx context.Context, key string) (*gofeed.Feed, error) {
	feedURL, err := p.feedURL(key)
	if err != nil {
		return nil, err
	}
	if err := p.limiter.wait(ctx, feedURL); err != nil {
		return nil, fmt.Errorf("rate limit cancelled for %s: %w", feedURL, err)
	}
	// gofeed parsers keep per-parse state
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	parser.Client = p.client
	feed, err := parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}
	return feed, nil
}

func (p *FeedProvider) videoFromItem(item *gofeed.Item, now time.Time) *model.Video {
	id := extValue(item.Extensions, "yt", "videoId")
	if id == "" {
		id = strings.TrimPrefix(item.GUID, "yt:video:")
	}
	if id == "" || id == item.GUID {
		if u, err := url.Parse(item.Link); err == nil {
			if res := ParseURL(u); res.Type == ResourceVideo {
				id = res.ID
			}
		}
	}
	if id == "" {
		return nil
	}

	link := item.Link
	if link == "" {
		link = "https://www.youtube.com/watch?v=" + id
	}
	v := &model.Video{
		SubscriptionProviderID: id,
		VideoID:                id,
		VideoProviderID:        ProviderID,
		Name:                   item.Title,
		Description:            item.Description,
		OriginalURL:            link,
		Published:              now,
		LastUpdated:            now,
	}
	if item.PublishedParsed != nil {
		v.Published = *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		v.LastUpdated = *item.UpdatedParsed
	}

	group := firstExt(item.Extensions, "media", "group")
	if group == nil {
		return v
	}
	if d := firstChild(group, "description"); d != nil && v.Description == "" {
		v.Description = d.Value
	}
	if th := firstChild(group, "thumbnail"); th != nil {
		v.ThumbnailURL = th.Attrs["url"]
	}
	if community := firstChild(group, "community"); community != nil {
		if stats := firstChild(community, "statistics"); stats != nil {
			if views, err := strconv.ParseInt(stats.Attrs["views"], 10, 64); err == nil {
				v.Views = &views
			}
		}
		if star := firstChild(community, "starRating"); star != nil {
			v.Rating = ratingFromStars(star.Attrs["count"], star.Attrs["average"])
		}
	}
	return v
}

// ratingFromStars converts a 1..5 star average over count votes into like
// and dislike counts.
func ratingFromStars(countAttr, averageAttr string) *float64 {
	count, err := strconv.ParseInt(countAttr, 10, 64)
	if err != nil {
		return nil
	}
	avg, err := strconv.ParseFloat(averageAttr, 64)
	if err != nil || avg < 1 || avg > 5 {
		return nil
	}
	likes := int64(float64(count)*(avg-1)/4 + 0.5)
	return provider.Rating(likes, count-likes)
}

func firstExt(exts ext.Extensions, ns, name string) *ext.Extension {
	if exts == nil {
		return nil
	}
	if list := exts[ns][name]; len(list) > 0 {
		return &list[0]
	}
	return nil
}

func extValue(exts ext.Extensions, ns, name string) string {
	if e := firstExt(exts, ns, name); e != nil {
		return strings.TrimSpace(e.Value)
	}
	return ""
}

func firstChild(e *ext.Extension, name string) *ext.Extension {
	if list := e.Children[name]; len(list) > 0 {
		return &list[0]
	}
	return nil
}
