// Package sitemap discovers article URLs through a site's XML sitemaps.
package sitemap

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"

	"levelcrawler/internal/config"
	"levelcrawler/internal/fetcher"
)

// Getter performs the HTTP GET used for sitemap documents.
type Getter interface {
	Get(ctx context.Context, rawURL string, timeout time.Duration) (*fetcher.Response, error)
}

// Client reads sitemaps for the harvest pipeline.
type Client struct {
	getter        Getter
	candidates    []string
	includeTokens []string
	excludedExts  []string
	timeout       time.Duration
	logger        *slog.Logger
}

// NewClient builds a client from the sitemap section of the configuration.
func NewClient(getter Getter, cfg config.SitemapConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		getter:        getter,
		candidates:    cfg.Candidates,
		includeTokens: cfg.IncludeTokens,
		excludedExts:  cfg.ExcludedExtensions,
		timeout:       cfg.RequestTimeout.Duration,
		logger:        logger,
	}
}

// Discover tries every candidate sitemap under base and returns the nested
// sitemap URLs that look like post sitemaps, deduplicated in first-seen order.
// Unreachable candidates are logged and skipped.
func (c *Client) Discover(ctx context.Context, base string) []string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")

	var locs []string
	for _, candidate := range c.candidates {
		sitemapURL := base + "/" + candidate
		found, err := c.locs(ctx, sitemapURL)
		if err != nil {
			c.logger.Warn("sitemap unavailable", "sitemap", sitemapURL, "error", err)
			continue
		}
		locs = append(locs, found...)
	}

	seen := make(map[string]struct{}, len(locs))
	out := make([]string, 0, len(locs))
	for _, loc := range locs {
		if !c.included(loc) {
			continue
		}
		if _, dup := seen[loc]; dup {
			continue
		}
		seen[loc] = struct{}{}
		out = append(out, loc)
	}
	c.logger.Info("sitemaps discovered", "base", base, "locs", len(locs), "post_sitemaps", len(out))
	return out
}

// URLs returns the page URLs listed in sitemapURL, dropping links to files.
func (c *Client) URLs(ctx context.Context, sitemapURL string) ([]string, error) {
	locs, err := c.locs(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(locs))
	for _, loc := range locs {
		if c.excluded(loc) {
			continue
		}
		out = append(out, loc)
	}
	return out, nil
}

func (c *Client) locs(ctx context.Context, sitemapURL string) ([]string, error) {
	resp, err := c.getter.Get(ctx, sitemapURL, c.timeout)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", fetcher.ErrFetchFailure, sitemapURL, resp.StatusCode)
	}
	return ParseLocs(resp.Body)
}

// ParseLocs extracts the text of every <loc> element, for both urlset and
// sitemapindex documents.
func ParseLocs(body []byte) ([]string, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}
	var out []string
	xmlquery.FindEach(doc, "//loc", func(_ int, n *xmlquery.Node) {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			out = append(out, loc)
		}
	})
	return out, nil
}

func (c *Client) included(loc string) bool {
	if len(c.includeTokens) == 0 {
		return true
	}
	for _, token := range c.includeTokens {
		if strings.Contains(loc, token) {
			return true
		}
	}
	return false
}

func (c *Client) excluded(loc string) bool {
	lower := strings.ToLower(loc)
	for _, ext := range c.excludedExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
