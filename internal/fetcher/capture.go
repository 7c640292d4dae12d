package fetcher

import (
	"context"
	"sync"

	"levelcrawler/internal/urlnorm"
)

// CaptureLog keeps the sub-responses seen by earlier renders, keyed by the
// normalized URL of each response. Observe answers from the log and only
// opens a browser session through next for URLs no render has seen.
type CaptureLog struct {
	next NetworkObserver

	mu      sync.RWMutex
	entries map[string][]NetworkEntry
}

// NewCaptureLog returns an empty log. next may be nil.
func NewCaptureLog(next NetworkObserver) *CaptureLog {
	return &CaptureLog{next: next, entries: make(map[string][]NetworkEntry)}
}

// Record stores entries under their own URLs.
func (l *CaptureLog) Record(entries []NetworkEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range entries {
		if e.URL == "" {
			continue
		}
		key := urlnorm.Key(e.URL)
		l.entries[key] = append(l.entries[key], e)
	}
}

// Observe implements NetworkObserver.
func (l *CaptureLog) Observe(ctx context.Context, rawURL string) ([]NetworkEntry, error) {
	l.mu.RLock()
	seen, ok := l.entries[urlnorm.Key(rawURL)]
	l.mu.RUnlock()
	if ok {
		out := make([]NetworkEntry, len(seen))
		copy(out, seen)
		return out, nil
	}
	if l.next == nil {
		return nil, ErrSessionUnavailable
	}
	return l.next.Observe(ctx, rawURL)
}
