package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levelcrawler/internal/fetcher"
	"levelcrawler/internal/logging"
	"levelcrawler/internal/urlnorm"
)

type fakeProber struct {
	get     *fetcher.Response
	getErr  error
	head    *fetcher.Response
	headErr error
}

func (f *fakeProber) Get(context.Context, string, time.Duration) (*fetcher.Response, error) {
	return f.get, f.getErr
}

func (f *fakeProber) Head(context.Context, string, time.Duration) (*fetcher.Response, error) {
	return f.head, f.headErr
}

type fakeObserver struct {
	entries []fetcher.NetworkEntry
	err     error
	calls   int
}

func (f *fakeObserver) Observe(context.Context, string) ([]fetcher.NetworkEntry, error) {
	f.calls++
	return f.entries, f.err
}

var errNetwork = errors.New("connection refused")

func target(t *testing.T, raw string) urlnorm.Target {
	t.Helper()
	tg, err := urlnorm.Normalize(raw)
	require.NoError(t, err)
	return tg
}

func classifier(p Prober, obs fetcher.NetworkObserver) *Classifier {
	return New(p, Options{Observer: obs, Logger: logging.Discard()})
}

func TestStatusFromCode(t *testing.T) {
	tests := map[int]StatusClass{
		0:   StatusUnknown,
		200: StatusOK,
		204: StatusOK,
		301: StatusRedirect,
		302: StatusRedirect,
		403: StatusForbiddenTreatedOK,
		404: StatusNotFound,
		410: StatusNotFound,
		500: StatusError,
		429: StatusError,
	}
	for code, want := range tests {
		assert.Equal(t, want, StatusFromCode(code), code)
	}
	assert.True(t, StatusForbiddenTreatedOK.OK())
	assert.True(t, StatusRedirect.OK())
	assert.False(t, StatusNotFound.OK())
	assert.False(t, StatusUnknown.OK())
}

func TestCategoryFromContentType(t *testing.T) {
	assert.Equal(t, CategoryHTML, CategoryFromContentType("text/html; charset=utf-8"))
	assert.Equal(t, CategoryHTML, CategoryFromContentType("application/xhtml+xml"))
	assert.Equal(t, CategoryHTML, CategoryFromContentType("application/json"))
	assert.Equal(t, CategoryHTML, CategoryFromContentType("text/plain"))
	assert.Equal(t, CategoryHTML, CategoryFromContentType("binary/octet-stream"))
	assert.Equal(t, CategoryNonHTML, CategoryFromContentType("application/pdf"))
	assert.Equal(t, CategoryNonHTML, CategoryFromContentType("image/png"))
	assert.Equal(t, CategoryUnknown, CategoryFromContentType("  "))
}

func TestClassifyHTMLPage(t *testing.T) {
	p := &fakeProber{
		get:  &fetcher.Response{StatusCode: 200, ContentType: "text/html"},
		head: &fetcher.Response{StatusCode: 200, ContentType: "text/html; charset=utf-8"},
	}
	res := classifier(p, nil).Classify(context.Background(), target(t, "https://example.com/"))
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, CategoryHTML, res.Category)
	assert.Equal(t, SourceHead, res.TypeSource)
	assert.True(t, res.Crawlable())
	assert.NoError(t, res.Err)
}

func TestClassifyForbiddenIsCrawlable(t *testing.T) {
	p := &fakeProber{
		get:  &fetcher.Response{StatusCode: 403, ContentType: "text/html"},
		head: &fetcher.Response{StatusCode: 403, ContentType: "text/html"},
	}
	res := classifier(p, nil).Classify(context.Background(), target(t, "https://example.com/blocked"))
	assert.Equal(t, StatusForbiddenTreatedOK, res.Status)
	assert.True(t, res.Status.OK())
	assert.True(t, res.Crawlable())
}

func TestClassifyProbeFailureSniffsBody(t *testing.T) {
	p := &fakeProber{
		get:     &fetcher.Response{StatusCode: 200, Body: []byte("<!DOCTYPE html><html><body></body></html>")},
		headErr: errNetwork,
	}
	res := classifier(p, nil).Classify(context.Background(), target(t, "https://example.com/page"))
	assert.Equal(t, SourceBodySniff, res.TypeSource)
	assert.Equal(t, CategoryHTML, res.Category)
	assert.True(t, res.Crawlable())
}

func TestClassifyProbeWithoutTypeUsesGetHeader(t *testing.T) {
	p := &fakeProber{
		get:  &fetcher.Response{StatusCode: 200, ContentType: "application/pdf"},
		head: &fetcher.Response{StatusCode: 405},
	}
	res := classifier(p, nil).Classify(context.Background(), target(t, "https://example.com/doc"))
	assert.Equal(t, SourceGet, res.TypeSource)
	assert.Equal(t, CategoryNonHTML, res.Category)
	assert.False(t, res.Crawlable())
}

func TestClassifyBothFailGuessesFromExtension(t *testing.T) {
	p := &fakeProber{getErr: errNetwork, headErr: errNetwork}
	res := classifier(p, nil).Classify(context.Background(), target(t, "https://example.com/files/report.pdf"))
	assert.Equal(t, SourceExtension, res.TypeSource)
	assert.Equal(t, CategoryNonHTML, res.Category)
	assert.Equal(t, StatusUnknown, res.Status)
	assert.False(t, res.Crawlable())
}

func TestClassifyBothFailWithoutExtensionIsAmbiguous(t *testing.T) {
	p := &fakeProber{getErr: errNetwork, headErr: errNetwork}
	res := classifier(p, nil).Classify(context.Background(), target(t, "https://example.com"))
	assert.Equal(t, CategoryUnknown, res.Category)
	assert.ErrorIs(t, res.Err, ErrAmbiguous)
	assert.False(t, res.Crawlable())
}

func TestClassifyGetFailureUsesProbeStatus(t *testing.T) {
	p := &fakeProber{
		getErr: errNetwork,
		head:   &fetcher.Response{StatusCode: 302, ContentType: "text/html"},
	}
	res := classifier(p, nil).Classify(context.Background(), target(t, "https://example.com/moved"))
	assert.Equal(t, StatusRedirect, res.Status)
	assert.True(t, res.Crawlable())
}

func TestClassifyCrossCheckOverridesNotFound(t *testing.T) {
	p := &fakeProber{
		get:  &fetcher.Response{StatusCode: 404, ContentType: "text/html"},
		head: &fetcher.Response{StatusCode: 404, ContentType: "text/html"},
	}
	obs := &fakeObserver{entries: []fetcher.NetworkEntry{
		{URL: "https://cdn.other.net/app.js", StatusCode: 200, ContentType: "application/javascript"},
		{URL: "https://www.example.com/missing", StatusCode: 500},
		{URL: "https://www.example.com/missing", StatusCode: 200, ContentType: "text/html"},
	}}
	res := classifier(p, obs).Classify(context.Background(), target(t, "https://example.com/missing"))
	assert.Equal(t, 1, obs.calls)
	assert.True(t, res.CrossCheck)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 200, res.StatusCode)
	assert.True(t, res.Crawlable())
}

func TestClassifyCrossCheckSkippedWhenOK(t *testing.T) {
	p := &fakeProber{
		get:  &fetcher.Response{StatusCode: 200, ContentType: "text/html"},
		head: &fetcher.Response{StatusCode: 200, ContentType: "text/html"},
	}
	obs := &fakeObserver{}
	classifier(p, obs).Classify(context.Background(), target(t, "https://example.com/"))
	assert.Zero(t, obs.calls)
}

func TestClassifyCrossCheckWithoutMatchKeepsStatus(t *testing.T) {
	p := &fakeProber{
		get:  &fetcher.Response{StatusCode: 500, ContentType: "text/html"},
		head: &fetcher.Response{StatusCode: 500, ContentType: "text/html"},
	}
	obs := &fakeObserver{entries: []fetcher.NetworkEntry{
		{URL: "https://tracker.io/pixel", StatusCode: 200},
	}}
	res := classifier(p, obs).Classify(context.Background(), target(t, "https://example.com/broken"))
	assert.Equal(t, StatusError, res.Status)
	assert.False(t, res.CrossCheck)
	assert.False(t, res.Crawlable())
}

func TestClassifyCrossCheckObserverError(t *testing.T) {
	p := &fakeProber{
		get:  &fetcher.Response{StatusCode: 404, ContentType: "text/html"},
		head: &fetcher.Response{StatusCode: 404, ContentType: "text/html"},
	}
	obs := &fakeObserver{err: fetcher.ErrSessionUnavailable}
	res := classifier(p, obs).Classify(context.Background(), target(t, "https://example.com/gone"))
	assert.Equal(t, StatusNotFound, res.Status)
	assert.False(t, res.Crawlable())
}

func TestClassifyCrossCheckUsesRenderedTraffic(t *testing.T) {
	p := &fakeProber{
		get:  &fetcher.Response{StatusCode: 503, ContentType: "text/html"},
		head: &fetcher.Response{StatusCode: 503, ContentType: "text/html"},
	}
	browser := &fakeObserver{}
	log := fetcher.NewCaptureLog(browser)
	log.Record([]fetcher.NetworkEntry{{URL: "https://example.com/live", StatusCode: 200, ContentType: "text/html"}})

	res := classifier(p, log).Classify(context.Background(), target(t, "https://example.com/live"))
	assert.Zero(t, browser.calls)
	assert.True(t, res.CrossCheck)
	assert.True(t, res.Crawlable())
}
