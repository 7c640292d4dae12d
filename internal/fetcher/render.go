package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ErrSessionUnavailable means no browser session could be started at all.
// Callers treat it as systemic rather than as a property of one URL.
var ErrSessionUnavailable = errors.New("browser session unavailable")

// NetworkEntry is one sub-response observed while a page loaded.
type NetworkEntry struct {
	URL         string
	StatusCode  int
	ContentType string
}

// Rendition is what a renderer produced for a URL.
type Rendition struct {
	URL      string
	FinalURL string
	HTML     string
	Links    []string
	Network  []NetworkEntry
	Rendered bool
}

// Renderer loads a URL and reports its HTML and outbound links.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (*Rendition, error)
}

// NetworkObserver reports the responses captured while loading a URL.
type NetworkObserver interface {
	Observe(ctx context.Context, rawURL string) ([]NetworkEntry, error)
}

// RenderOptions configures the headless browser pipeline.
type RenderOptions struct {
	Timeout            time.Duration
	UserAgent          string
	Locale             string
	MaxBodyBytes       int64
	DisableHeadless    bool
	ConcurrentSessions int
	ScrollPause        time.Duration
	MaxScrolls         int
	Logger             *slog.Logger
}

// ChromedpRenderer drives headless Chrome. Every call owns a fresh browser
// session that is torn down before the call returns.
type ChromedpRenderer struct {
	opts      RenderOptions
	semaphore chan struct{}
	logger    *slog.Logger
}

// NewChromedpRenderer constructs a renderer with bounded concurrency.
func NewChromedpRenderer(opts RenderOptions) *ChromedpRenderer {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 * 1024 * 1024
	}
	if opts.ConcurrentSessions <= 0 {
		opts.ConcurrentSessions = 1
	}
	if opts.ScrollPause <= 0 {
		opts.ScrollPause = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromedpRenderer{
		opts:      opts,
		semaphore: make(chan struct{}, opts.ConcurrentSessions),
		logger:    logger,
	}
}

// Render navigates to rawURL, scrolls until the page stops growing and
// collects the final DOM, every anchor href and the captured sub-responses.
func (r *ChromedpRenderer) Render(parentCtx context.Context, rawURL string) (*Rendition, error) {
	logger := r.logger.With("url", rawURL, "timeout", r.opts.Timeout.String())

	var (
		html     string
		finalURL string
		links    []string
	)
	captured, err := r.session(parentCtx, rawURL, func(ctx context.Context) error {
		if err := waitForDocumentReady(logger).Do(ctx); err != nil {
			return err
		}
		if err := infiniteScroll(ctx, r.opts.ScrollPause, r.opts.MaxScrolls); err != nil {
			logger.Debug("scroll interrupted", "error", err)
		}
		return chromedp.Run(ctx,
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
			chromedp.Location(&finalURL),
			chromedp.Evaluate(`Array.from(document.querySelectorAll('a[href]'), a => a.href)`, &links),
		)
	})
	if err != nil {
		logger.Warn("chromedp render failed", "error", err)
		return nil, err
	}

	if int64(len(html)) > r.opts.MaxBodyBytes {
		html = html[:r.opts.MaxBodyBytes]
	}
	if finalURL == "" {
		finalURL = rawURL
	}
	logger.Debug("chromedp render complete",
		"final_url", finalURL,
		"html_bytes", len(html),
		"links", len(links),
		"network_entries", len(captured),
	)
	return &Rendition{
		URL:      rawURL,
		FinalURL: finalURL,
		HTML:     html,
		Links:    links,
		Network:  captured,
		Rendered: true,
	}, nil
}

// Observe loads rawURL without scrolling and returns the captured responses.
func (r *ChromedpRenderer) Observe(ctx context.Context, rawURL string) ([]NetworkEntry, error) {
	return r.session(ctx, rawURL, func(ctx context.Context) error {
		return chromedp.Run(ctx, chromedp.Sleep(500*time.Millisecond))
	})
}

func (r *ChromedpRenderer) session(parentCtx context.Context, rawURL string, after func(ctx context.Context) error) ([]NetworkEntry, error) {
	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-parentCtx.Done():
		return nil, parentCtx.Err()
	}

	ctx, cancel := context.WithTimeout(parentCtx, r.opts.Timeout)
	defer cancel()

	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !r.opts.DisableHeadless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	)
	if ua := strings.TrimSpace(r.opts.UserAgent); ua != "" {
		execOpts = append(execOpts, chromedp.UserAgent(ua))
	}
	if lang := strings.TrimSpace(r.opts.Locale); lang != "" {
		execOpts = append(execOpts, chromedp.Flag("lang", lang))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, execOpts...)
	defer allocCancel()

	chromeCtx, chromeCancel := chromedp.NewContext(allocCtx)
	defer chromeCancel()

	var (
		mu       sync.Mutex
		captured []NetworkEntry
	)
	chromedp.ListenTarget(chromeCtx, func(ev any) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Response == nil {
			return
		}
		mu.Lock()
		captured = append(captured, NetworkEntry{
			URL:         resp.Response.URL,
			StatusCode:  int(resp.Response.Status),
			ContentType: resp.Response.MimeType,
		})
		mu.Unlock()
	})

	err := chromedp.Run(chromeCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"DNT": "1"}),
		chromedp.Navigate(rawURL),
	)
	if err == nil && after != nil {
		err = after(chromeCtx)
	}
	if err != nil {
		if isLaunchFailure(err) {
			return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
		}
		return nil, fmt.Errorf("%w: chromedp run: %v", ErrFetchFailure, err)
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]NetworkEntry, len(captured))
	copy(out, captured)
	return out, nil
}

func isLaunchFailure(err error) bool {
	if errors.Is(err, exec.ErrNotFound) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "executable file not found") ||
		strings.Contains(msg, "failed to start")
}

// infiniteScroll scrolls to the bottom until the document height stops
// changing or maxScrolls is reached.
func infiniteScroll(ctx context.Context, pause time.Duration, maxScrolls int) error {
	var last float64
	if err := chromedp.Evaluate(`document.body ? document.body.scrollHeight : 0`, &last).Do(ctx); err != nil {
		return err
	}
	for i := 0; maxScrolls <= 0 || i < maxScrolls; i++ {
		if err := chromedp.Run(ctx,
			chromedp.Evaluate(`window.scrollTo(0, document.body ? document.body.scrollHeight : 0)`, nil),
			chromedp.Sleep(pause),
		); err != nil {
			return err
		}
		var height float64
		if err := chromedp.Evaluate(`document.body ? document.body.scrollHeight : 0`, &height).Do(ctx); err != nil {
			return err
		}
		if height == last {
			return nil
		}
		last = height
	}
	return nil
}

func waitForDocumentReady(logger *slog.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			var readyState string
			if err := chromedp.Evaluate(`document.readyState`, &readyState).Do(ctx); err != nil {
				logger.Warn("waitForDocumentReady evaluate failed", "error", err)
				return err
			}
			if readyState == "complete" {
				return nil
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}
