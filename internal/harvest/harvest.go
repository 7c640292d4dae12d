// Package harvest collects articles and reader comments from a site's post
// sitemaps, falling back to a level crawl for sites without sitemaps.
package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"levelcrawler/internal/crawler"
	"levelcrawler/internal/processor"
	"levelcrawler/internal/sitemap"
	"levelcrawler/internal/storage"
)

// Store is the persistence the harvest needs.
type Store interface {
	Exists(ctx context.Context, rawURL string) (bool, error)
	ProcessedURLs(ctx context.Context, prefix string) (map[string]struct{}, error)
	StoredComments(ctx context.Context, rawURL string) ([]string, error)
	UpsertArticle(ctx context.Context, a storage.Article) error
	AppendComments(ctx context.Context, rawURL string, comments []string) (int, error)
}

// Sitemaps discovers post sitemaps and the article URLs they list.
type Sitemaps interface {
	Discover(ctx context.Context, base string) []string
	URLs(ctx context.Context, sitemapURL string) ([]string, error)
}

// Crawler is the level engine used when a site has no sitemaps.
type Crawler interface {
	Run(ctx context.Context, seed string) (*crawler.Result, error)
}

// Options tunes a Harvester.
type Options struct {
	// ArticleDelay spaces out article requests to the same site.
	ArticleDelay   time.Duration
	RequestTimeout time.Duration
	// RefreshExisting re-fetches stored articles to pick up new comments.
	RefreshExisting bool
	Logger          *slog.Logger
}

// Harvester runs one harvest per base URL.
type Harvester struct {
	store     Store
	sitemaps  Sitemaps
	getter    sitemap.Getter
	extractor processor.Extractor
	crawler   Crawler
	limiter   *crawler.DomainLimiter
	opts      Options
	logger    *slog.Logger
}

// Report summarises a harvest run.
type Report struct {
	RunID        string
	Base         string
	Sitemaps     int
	Candidates   int
	Stored       int
	Updated      int
	Skipped      int
	Failed       int
	UsedFallback bool
	CrawledURLs  []string
}

// New wires a Harvester.
func New(store Store, sitemaps Sitemaps, getter sitemap.Getter, extractor processor.Extractor, fallback Crawler, opts Options) *Harvester {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Harvester{
		store:     store,
		sitemaps:  sitemaps,
		getter:    getter,
		extractor: extractor,
		crawler:   fallback,
		limiter:   crawler.NewDomainLimiter(opts.ArticleDelay, crawler.RateLimiterSettings{}),
		opts:      opts,
		logger:    logger,
	}
}

// Run harvests base. Individual article failures are logged and counted; only
// store failures, missing collaborators and cancellation end the run early.
func (h *Harvester) Run(ctx context.Context, base string) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Base: base}
	logger := h.logger.With("run_id", report.RunID, "base", base)

	sitemapURLs := h.sitemaps.Discover(ctx, base)
	report.Sitemaps = len(sitemapURLs)
	if len(sitemapURLs) == 0 {
		if h.crawler == nil {
			return report, fmt.Errorf("no sitemaps found for %s", base)
		}
		logger.Info("no sitemaps found, falling back to level crawl")
		res, err := h.crawler.Run(ctx, base)
		report.UsedFallback = true
		if res != nil {
			report.CrawledURLs = res.URLs
		}
		return report, err
	}

	processed, err := h.store.ProcessedURLs(ctx, base)
	if err != nil {
		return report, err
	}

	seen := make(map[string]struct{})
	var candidates []string
	for _, sm := range sitemapURLs {
		urls, err := h.sitemaps.URLs(ctx, sm)
		if err != nil {
			logger.Warn("sitemap could not be read", "sitemap", sm, "error", err)
			continue
		}
		for _, u := range urls {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			candidates = append(candidates, u)
		}
	}
	report.Candidates = len(candidates)
	logger.Info("processing articles from sitemaps", "sitemaps", len(sitemapURLs), "articles", len(candidates), "already_stored", len(processed))

	for _, articleURL := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		_, exists := processed[articleURL]
		if !exists {
			// Sitemaps may list URLs outside base's prefix (www., scheme).
			found, err := h.store.Exists(ctx, articleURL)
			if err != nil {
				return report, err
			}
			exists = found
		}
		if exists && !h.opts.RefreshExisting {
			report.Skipped++
			continue
		}
		if err := h.limiter.WaitURL(ctx, articleURL); err != nil {
			return report, err
		}
		if err := h.scrape(ctx, articleURL, exists, report, logger); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			logger.Error("article could not be scraped", "url", articleURL, "error", err)
			continue
		}
		processed[articleURL] = struct{}{}
	}

	logger.Info("harvest complete",
		"stored", report.Stored,
		"updated", report.Updated,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}

func (h *Harvester) scrape(ctx context.Context, articleURL string, exists bool, report *Report, logger *slog.Logger) error {
	resp, err := h.getter.Get(ctx, articleURL, h.opts.RequestTimeout)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	article, err := h.extractor.Extract(resp.Body)
	if err != nil {
		return err
	}

	if !exists {
		if err := h.store.UpsertArticle(ctx, storage.Article{
			URL:      articleURL,
			Title:    article.Title,
			FullText: article.FullText,
			Comments: article.Comments,
			RunID:    report.RunID,
		}); err != nil {
			return err
		}
		report.Stored++
		logger.Info("article stored", "url", articleURL, "comments", len(article.Comments))
		return nil
	}

	stored, err := h.store.StoredComments(ctx, articleURL)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(stored))
	for _, c := range stored {
		known[c] = struct{}{}
	}
	var fresh []string
	for _, c := range article.Comments {
		if _, ok := known[c]; !ok {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 {
		report.Skipped++
		return nil
	}
	added, err := h.store.AppendComments(ctx, articleURL, fresh)
	if err != nil {
		return err
	}
	report.Updated++
	logger.Info("article updated", "url", articleURL, "new_comments", added)
	return nil
}
