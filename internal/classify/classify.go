// Package classify decides whether a URL is reachable and renderable before
// the crawler spends a full render on it.
package classify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"levelcrawler/internal/fetcher"
	"levelcrawler/internal/urlnorm"
)

// ErrAmbiguous is recorded on results where no layer produced a usable content type.
var ErrAmbiguous = errors.New("classification ambiguous")

// StatusClass is the normalized reachability of a URL.
type StatusClass int

const (
	StatusUnknown StatusClass = iota
	StatusOK
	StatusRedirect
	StatusForbiddenTreatedOK
	StatusNotFound
	StatusError
)

func (s StatusClass) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusRedirect:
		return "REDIRECT"
	case StatusForbiddenTreatedOK:
		return "FORBIDDEN_TREATED_OK"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// OK reports whether the status allows expansion.
func (s StatusClass) OK() bool {
	return s == StatusOK || s == StatusRedirect || s == StatusForbiddenTreatedOK
}

// StatusFromCode maps a raw HTTP status code. Zero means no response.
func StatusFromCode(code int) StatusClass {
	switch {
	case code == 0:
		return StatusUnknown
	case code >= 200 && code < 300:
		return StatusOK
	case code >= 300 && code < 400:
		return StatusRedirect
	case code == http.StatusForbidden:
		return StatusForbiddenTreatedOK
	case code == http.StatusNotFound || code == http.StatusGone:
		return StatusNotFound
	default:
		return StatusError
	}
}

// Category is the coarse content type of a URL.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryHTML
	CategoryNonHTML
)

func (c Category) String() string {
	switch c {
	case CategoryHTML:
		return "HTML"
	case CategoryNonHTML:
		return "NON_HTML"
	default:
		return "UNKNOWN"
	}
}

// CategoryFromContentType applies the content-type heuristics. Ambiguous
// types that often front real pages (binary, json, plain) count as HTML.
func CategoryFromContentType(contentType string) Category {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case ct == "":
		return CategoryUnknown
	case strings.Contains(ct, "html"):
		return CategoryHTML
	case strings.Contains(ct, "binary"), strings.Contains(ct, "json"), strings.Contains(ct, "plain"):
		return CategoryHTML
	default:
		return CategoryNonHTML
	}
}

// Source names the layer that produced the content type or status.
type Source string

const (
	SourceNone       Source = "none"
	SourceGet        Source = "get"
	SourceHead       Source = "head"
	SourceBodySniff  Source = "body_sniff"
	SourceExtension  Source = "extension"
	SourceCrossCheck Source = "cross_check"
)

// Result is the outcome of classifying one URL.
type Result struct {
	URL         string
	Status      StatusClass
	Category    Category
	StatusCode  int
	ContentType string
	TypeSource  Source
	CrossCheck  bool
	Err         error
}

// Crawlable reports whether the engine should render and expand the URL.
func (r Result) Crawlable() bool {
	return r.Status.OK() && r.Category == CategoryHTML
}

// Prober issues the direct requests used by the first two layers.
type Prober interface {
	Get(ctx context.Context, rawURL string, timeout time.Duration) (*fetcher.Response, error)
	Head(ctx context.Context, rawURL string, timeout time.Duration) (*fetcher.Response, error)
}

// Options tunes the classifier.
type Options struct {
	RequestTimeout time.Duration
	ProbeTimeout   time.Duration
	// Observer enables the passive network cross-check when non-nil.
	Observer fetcher.NetworkObserver
	Logger   *slog.Logger
}

// Classifier runs the layered classification strategy.
type Classifier struct {
	prober   Prober
	observer fetcher.NetworkObserver
	reqTO    time.Duration
	probeTO  time.Duration
	logger   *slog.Logger
}

// New builds a classifier around prober.
func New(prober Prober, opts Options) *Classifier {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 3 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		prober:   prober,
		observer: opts.Observer,
		reqTO:    opts.RequestTimeout,
		probeTO:  opts.ProbeTimeout,
		logger:   logger,
	}
}

// Classify never fails: network errors only push the decision to a later layer.
func (c *Classifier) Classify(ctx context.Context, target urlnorm.Target) Result {
	logger := c.logger.With("url", target.URL)
	res := Result{URL: target.URL, TypeSource: SourceNone}

	getResp, getErr := c.prober.Get(ctx, target.URL, c.reqTO)
	if getErr != nil {
		logger.Debug("direct request failed", "error", getErr)
	} else {
		res.StatusCode = getResp.StatusCode
	}

	headResp, headErr := c.prober.Head(ctx, target.URL, c.probeTO)
	switch {
	case headErr == nil && strings.TrimSpace(headResp.ContentType) != "":
		res.ContentType, res.TypeSource = headResp.ContentType, SourceHead
	case getErr == nil && strings.TrimSpace(getResp.ContentType) != "":
		res.ContentType, res.TypeSource = getResp.ContentType, SourceGet
	case getErr == nil && looksLikeHTML(getResp.Body):
		res.ContentType, res.TypeSource = "text/html", SourceBodySniff
	}
	if headErr != nil {
		logger.Debug("probe failed", "error", headErr)
	}
	if getErr != nil && headErr == nil {
		res.StatusCode = headResp.StatusCode
	}

	if getErr != nil && headErr != nil {
		if guessed := typeFromExtension(target.URL); guessed != "" {
			res.ContentType, res.TypeSource = guessed, SourceExtension
		}
	}

	res.Status = StatusFromCode(res.StatusCode)

	if (res.Status == StatusNotFound || res.Status == StatusError) && c.observer != nil && ctx.Err() == nil {
		c.crossCheck(ctx, target, &res, logger)
	}

	res.Category = CategoryFromContentType(res.ContentType)
	if res.Category == CategoryUnknown {
		res.Err = ErrAmbiguous
	}

	logger.Debug("classified",
		"status", res.Status.String(),
		"status_code", res.StatusCode,
		"category", res.Category.String(),
		"content_type", res.ContentType,
		"type_source", string(res.TypeSource),
	)
	return res
}

func (c *Classifier) crossCheck(ctx context.Context, target urlnorm.Target, res *Result, logger *slog.Logger) {
	entries, err := c.observer.Observe(ctx, target.URL)
	if err != nil {
		logger.Debug("network cross-check unavailable", "error", err)
		return
	}
	for _, entry := range entries {
		if !strings.Contains(entry.URL, target.SiteRoot) && !strings.Contains(entry.URL, target.SiteRootWWW) {
			continue
		}
		if entry.StatusCode != http.StatusOK && entry.StatusCode != http.StatusFound {
			continue
		}
		res.StatusCode = entry.StatusCode
		res.Status = StatusFromCode(entry.StatusCode)
		res.CrossCheck = true
		if res.ContentType == "" && entry.ContentType != "" {
			res.ContentType, res.TypeSource = entry.ContentType, SourceCrossCheck
		}
		logger.Debug("status overridden by captured traffic", "entry_url", entry.URL, "status_code", entry.StatusCode)
		return
	}
}

func looksLikeHTML(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	return bytes.Contains(lower, []byte("<!doctype html")) || bytes.Contains(lower, []byte("</html>"))
}

func typeFromExtension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		return ""
	}
	return mime.TypeByExtension(ext)
}
