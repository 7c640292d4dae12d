package crawler

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterSettings configures a token bucket per site.
type RateLimiterSettings struct {
	Requests int
	Window   time.Duration
}

// DomainLimiter spaces out requests to the same site. www. and bare hosts
// share one budget since they are one site to the crawler.
type DomainLimiter struct {
	delay    time.Duration
	settings RateLimiterSettings

	mu       sync.Mutex
	last     map[string]time.Time
	limiters map[string]*rate.Limiter
}

// NewDomainLimiter returns nil when neither a delay nor a rate is configured.
func NewDomainLimiter(delay time.Duration, settings RateLimiterSettings) *DomainLimiter {
	if delay <= 0 && (settings.Requests <= 0 || settings.Window <= 0) {
		return nil
	}
	return &DomainLimiter{
		delay:    delay,
		settings: settings,
		last:     make(map[string]time.Time),
		limiters: make(map[string]*rate.Limiter),
	}
}

// WaitURL blocks until rawURL's site may be contacted again.
func (d *DomainLimiter) WaitURL(ctx context.Context, rawURL string) error {
	if d == nil {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return d.Wait(ctx, u.Hostname())
}

// Wait blocks until politeness constraints for host are satisfied.
func (d *DomainLimiter) Wait(ctx context.Context, host string) error {
	if d == nil || host == "" {
		return nil
	}
	host = strings.TrimPrefix(strings.ToLower(host), "www.")

	var sleep time.Duration
	now := time.Now()

	d.mu.Lock()
	if d.delay > 0 {
		if last, ok := d.last[host]; ok {
			if rest := last.Add(d.delay).Sub(now); rest > 0 {
				sleep = rest
			}
		}
		// Reserve the slot so concurrent callers queue behind each other.
		d.last[host] = now.Add(sleep)
	}
	limiter := d.limiterLocked(host)
	d.mu.Unlock()

	if sleep > 0 {
		timer := time.NewTimer(sleep)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if limiter != nil {
		return limiter.Wait(ctx)
	}
	return nil
}

func (d *DomainLimiter) limiterLocked(host string) *rate.Limiter {
	if d.settings.Requests <= 0 || d.settings.Window <= 0 {
		return nil
	}
	if limiter, ok := d.limiters[host]; ok {
		return limiter
	}
	interval := d.settings.Window / time.Duration(d.settings.Requests)
	if interval <= 0 {
		interval = time.Millisecond
	}
	limiter := rate.NewLimiter(rate.Every(interval), d.settings.Requests)
	d.limiters[host] = limiter
	return limiter
}
