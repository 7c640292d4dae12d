// Package crawler runs the bounded level-wise traversal: classify, render,
// filter, and repeat for a fixed number of levels without revisiting pages.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"levelcrawler/internal/classify"
	"levelcrawler/internal/config"
	"levelcrawler/internal/fetcher"
	"levelcrawler/internal/urlnorm"
)

// ErrLevelFailure marks a failure that spans a whole level, such as the
// browser being unavailable. The engine substitutes an empty level for it.
var ErrLevelFailure = errors.New("level failure")

// Classifier decides whether a target is worth rendering.
type Classifier interface {
	Classify(ctx context.Context, target urlnorm.Target) classify.Result
}

// Options controls one traversal.
type Options struct {
	Levels              int
	Concurrency         int
	Keyword             string
	URLTimeout          time.Duration
	MaxLinksPerPage     int
	MarkRejectedVisited bool
	// StrictMembership requires links to start with the site root instead
	// of merely containing it.
	StrictMembership bool
	PerDomainDelay   time.Duration
	RateLimit        RateLimiterSettings
	// Capture, when set, receives the sub-responses of every render.
	Capture NetworkRecorder
	Logger  *slog.Logger
}

// NetworkRecorder collects network entries observed during renders.
type NetworkRecorder interface {
	Record(entries []fetcher.NetworkEntry)
}

// OptionsFromConfig maps the crawl section of the configuration.
func OptionsFromConfig(cfg config.CrawlConfig, logger *slog.Logger) Options {
	opts := Options{
		Levels:              cfg.Levels,
		Concurrency:         cfg.Concurrency,
		Keyword:             cfg.Keyword,
		URLTimeout:          cfg.URLTimeout.Duration,
		MaxLinksPerPage:     cfg.MaxLinksPerPage,
		MarkRejectedVisited: cfg.MarkRejectedVisited,
		StrictMembership:    cfg.StrictMembership,
		PerDomainDelay:      cfg.PerDomainDelay.Duration,
		Logger:              logger,
	}
	if cfg.RateLimitPerDomain.Enabled() {
		opts.RateLimit = RateLimiterSettings{
			Requests: cfg.RateLimitPerDomain.Requests,
			Window:   cfg.RateLimitPerDomain.Window.Duration,
		}
	}
	return opts
}

// LevelResult is the outcome of one traversal round.
type LevelResult struct {
	Level      int
	Discovered []string
	// Visited is the size of the visited set after the round.
	Visited int
	Failed  bool
}

// Result is the outcome of a whole run.
type Result struct {
	Seed   string
	Levels []LevelResult
	// URLs is seed ∪ every level's discoveries, deduplicated by key in
	// discovery order.
	URLs    []string
	Visited int
}

// Engine orchestrates classification, rendering and link filtering level by level.
type Engine struct {
	classifier Classifier
	renderer   fetcher.Renderer
	limiter    *DomainLimiter
	opts       Options
	logger     *slog.Logger
}

// NewEngine builds an engine. A nil renderer disables expansion entirely.
func NewEngine(classifier Classifier, renderer fetcher.Renderer, opts Options) *Engine {
	if opts.Levels < 0 {
		opts.Levels = 0
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		classifier: classifier,
		renderer:   renderer,
		limiter:    NewDomainLimiter(opts.PerDomainDelay, opts.RateLimit),
		opts:       opts,
		logger:     logger,
	}
}

type pageOutcome struct {
	target    urlnorm.Target
	crawlable bool
	links     []string
}

// Run crawls from seed. Per-URL and per-level failures are absorbed; the only
// error returned is the context's, together with whatever was gathered so far.
func (e *Engine) Run(ctx context.Context, seed string) (*Result, error) {
	root, err := urlnorm.Normalize(seed)
	if err != nil {
		e.logger.Warn("seed url could not be parsed, using it verbatim as site root", "seed", seed, "error", err)
	}
	logger := e.logger.With("seed", root.URL, "site_root", root.SiteRoot)

	visited := NewVisitedSet()
	all := NewURLSet(64)
	all.Add(root.URL)
	result := &Result{Seed: root.URL}

	finish := func() *Result {
		result.URLs = all.Slice()
		result.Visited = visited.Len()
		return result
	}

	start := time.Now()
	level0, err := e.runSeed(ctx, root, visited)
	if err != nil {
		if ctx.Err() != nil {
			return finish(), ctx.Err()
		}
		logger.Error("level failed, continuing with empty result", "level", 0, "error", err)
		level0 = LevelResult{Level: 0, Visited: visited.Len(), Failed: true}
	}
	result.Levels = append(result.Levels, level0)
	all.AddAll(level0.Discovered)
	logger.Info("level complete", "level", 0, "discovered", len(level0.Discovered), "visited", level0.Visited)

	current := level0.Discovered
	for level := 1; level <= e.opts.Levels; level++ {
		if err := ctx.Err(); err != nil {
			return finish(), err
		}
		lr, err := e.runLevel(ctx, level, current, root, visited)
		if err != nil {
			if ctx.Err() != nil {
				return finish(), ctx.Err()
			}
			logger.Error("level failed, continuing with empty result", "level", level, "error", err)
			lr = LevelResult{Level: level, Visited: visited.Len(), Failed: true}
		}
		result.Levels = append(result.Levels, lr)
		all.AddAll(lr.Discovered)
		logger.Info("level complete",
			"level", level,
			"input", len(current),
			"discovered", len(lr.Discovered),
			"visited", lr.Visited,
		)
		current = lr.Discovered
	}

	logger.Info("crawl complete", "urls", all.Len(), "visited", visited.Len(), "elapsed", time.Since(start).String())
	return finish(), nil
}

func (e *Engine) runSeed(ctx context.Context, root urlnorm.Target, visited *VisitedSet) (LevelResult, error) {
	visited.Add(root.Key)

	var out pageOutcome
	err := runBounded(ctx, 1, 1, func(ctx context.Context, _ int) error {
		var err error
		out, err = e.processSafely(ctx, root, root)
		return e.escalate(ctx, root, err)
	})
	if err != nil {
		return LevelResult{}, err
	}
	if ctx.Err() != nil {
		return LevelResult{}, ctx.Err()
	}
	return LevelResult{Level: 0, Discovered: out.links, Visited: visited.Len()}, nil
}

func (e *Engine) runLevel(ctx context.Context, level int, input []string, root urlnorm.Target, visited *VisitedSet) (LevelResult, error) {
	targets := make([]urlnorm.Target, 0, len(input))
	pending := make(map[string]struct{}, len(input))
	for _, raw := range input {
		t, err := urlnorm.Normalize(raw)
		if err != nil {
			e.logger.Debug("skipping unparsable url", "url", raw, "error", err)
			continue
		}
		if _, dup := pending[t.Key]; dup || visited.Contains(t.Key) {
			continue
		}
		pending[t.Key] = struct{}{}
		targets = append(targets, t)
	}

	outcomes := make([]pageOutcome, len(targets))
	err := runBounded(ctx, len(targets), e.opts.Concurrency, func(ctx context.Context, i int) error {
		out, err := e.processSafely(ctx, targets[i], root)
		if err != nil {
			return e.escalate(ctx, targets[i], err)
		}
		if out.crawlable || e.opts.MarkRejectedVisited {
			visited.Add(targets[i].Key)
		}
		outcomes[i] = out
		return nil
	})
	if err != nil {
		return LevelResult{}, fmt.Errorf("level %d: %w", level, err)
	}
	if ctx.Err() != nil {
		return LevelResult{}, ctx.Err()
	}

	discovered := NewURLSet(len(targets) * 8)
	for _, out := range outcomes {
		if !out.crawlable {
			continue
		}
		discovered.Add(out.target.URL)
		discovered.AddAll(out.links)
	}
	return LevelResult{Level: level, Discovered: discovered.Slice(), Visited: visited.Len()}, nil
}

// escalate decides whether a per-URL error should fail the whole level.
func (e *Engine) escalate(ctx context.Context, target urlnorm.Target, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fetcher.ErrSessionUnavailable):
		return fmt.Errorf("%w: %v", ErrLevelFailure, err)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		e.logger.Warn("dropping url after failure", "url", target.URL, "error", err)
		return nil
	}
}

// processSafely confines a panic to the URL that caused it.
func (e *Engine) processSafely(ctx context.Context, target, root urlnorm.Target) (out pageOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = pageOutcome{target: target}
			err = fmt.Errorf("panic while processing %s: %v", target.URL, r)
		}
	}()
	return e.processURL(ctx, target, root)
}

func (e *Engine) processURL(ctx context.Context, target, root urlnorm.Target) (pageOutcome, error) {
	out := pageOutcome{target: target}
	if e.opts.URLTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.URLTimeout)
		defer cancel()
	}

	if err := e.limiter.WaitURL(ctx, target.URL); err != nil {
		return out, err
	}

	res := e.classifier.Classify(ctx, target)
	if !res.Crawlable() {
		e.logger.Debug("not expanding",
			"url", target.URL,
			"status", res.Status.String(),
			"category", res.Category.String(),
		)
		return out, nil
	}
	if e.renderer == nil {
		out.crawlable = true
		return out, nil
	}

	rendition, err := e.renderer.Render(ctx, target.URL)
	if err != nil {
		return out, fmt.Errorf("render %s: %w", target.URL, err)
	}

	filter := FilterLinks
	if e.opts.StrictMembership {
		filter = FilterLinksStrict
	}
	links := filter(rendition.Links, root.SiteRoot, root.SiteRootWWW, e.opts.Keyword)
	if limit := e.opts.MaxLinksPerPage; limit > 0 && len(links) > limit {
		links = links[:limit]
	}
	if e.opts.Capture != nil && len(rendition.Network) > 0 {
		e.opts.Capture.Record(rendition.Network)
	}
	out.crawlable = true
	out.links = links
	e.logger.Debug("expanded",
		"url", target.URL,
		"html_bytes", len(rendition.HTML),
		"raw_links", len(rendition.Links),
		"kept_links", len(links),
	)
	return out, nil
}
