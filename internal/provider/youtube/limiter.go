package youtube

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate limiting defaults for feed requests.
const (
	// DelayBetweenHostRequests is the minimum spacing between requests to the same host
	DelayBetweenHostRequests = 500 * time.Millisecond
	// BurstPerHost allows a few requests in quick succession
	BurstPerHost = 2
)

// hostLimiter keeps one token bucket per host.
type hostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    time.Duration
	burst    int
}

func newHostLimiter(every time.Duration, burst int) *hostLimiter {
	return &hostLimiter{
		limiters: make(map[string]*rate.Limiter),
		every:    every,
		burst:    burst,
	}
}

// wait blocks until a request to the host of rawURL is allowed.
func (hl *hostLimiter) wait(ctx context.Context, rawURL string) error {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}

	hl.mu.Lock()
	l, ok := hl.limiters[host]
	if !ok {
		limit := rate.Inf
		if hl.every > 0 {
			limit = rate.Every(hl.every)
		}
		l = rate.NewLimiter(limit, hl.burst)
		hl.limiters[host] = l
	}
	hl.mu.Unlock()

	return l.Wait(ctx)
}
