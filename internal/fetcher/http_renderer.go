package fetcher

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// HTTPRenderer produces a Rendition from a plain GET without executing
// scripts. Anchors are resolved against the final response URL, the same way
// a browser reports a.href.
type HTTPRenderer struct {
	fetcher *HTTPFetcher
	timeout time.Duration
}

// NewHTTPRenderer wraps an HTTP fetcher.
func NewHTTPRenderer(f *HTTPFetcher, timeout time.Duration) *HTTPRenderer {
	return &HTTPRenderer{fetcher: f, timeout: timeout}
}

// Render fetches rawURL and extracts the href of every anchor.
func (r *HTTPRenderer) Render(ctx context.Context, rawURL string) (*Rendition, error) {
	resp, err := r.fetcher.Get(ctx, rawURL, r.timeout)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, errors.Join(ErrFetchFailure, err)
	}

	base, _ := url.Parse(resp.FinalURL)
	links := make([]string, 0, 32)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" {
			return
		}
		if base != nil {
			if ref, err := url.Parse(href); err == nil {
				href = base.ResolveReference(ref).String()
			}
		}
		links = append(links, href)
	})

	return &Rendition{
		URL:      rawURL,
		FinalURL: resp.FinalURL,
		HTML:     string(resp.Body),
		Links:    links,
	}, nil
}

// Composite tries the primary renderer and falls back to the secondary one
// when the primary fails for any reason other than cancellation.
type Composite struct {
	primary  Renderer
	fallback Renderer
	logger   *slog.Logger
}

// NewComposite builds a fallback chain. A nil primary yields the fallback.
func NewComposite(primary, fallback Renderer, logger *slog.Logger) *Composite {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composite{primary: primary, fallback: fallback, logger: logger}
}

// Render implements Renderer.
func (c *Composite) Render(ctx context.Context, rawURL string) (*Rendition, error) {
	if c.primary != nil {
		rendition, err := c.primary.Render(ctx, rawURL)
		if err == nil {
			return rendition, nil
		}
		if ctx.Err() != nil || c.fallback == nil {
			return nil, err
		}
		c.logger.Warn("rendering failed, falling back to http", "url", rawURL, "error", err)
	}
	return c.fallback.Render(ctx, rawURL)
}

// Observe delegates to the primary renderer when it can capture traffic.
func (c *Composite) Observe(ctx context.Context, rawURL string) ([]NetworkEntry, error) {
	if obs, ok := c.primary.(NetworkObserver); ok {
		return obs.Observe(ctx, rawURL)
	}
	return nil, ErrSessionUnavailable
}
