package crawler

import (
	"sync"

	"levelcrawler/internal/urlnorm"
)

// VisitedSet records the normalized keys of pages already expanded during a
// run. It only grows.
type VisitedSet struct {
	mu      sync.RWMutex
	entries map[string]struct{}
}

// NewVisitedSet returns an empty set.
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{entries: make(map[string]struct{})}
}

// Add inserts key and reports whether it was new.
func (v *VisitedSet) Add(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.entries[key]; ok {
		return false
	}
	v.entries[key] = struct{}{}
	return true
}

// Contains reports whether key has been visited.
func (v *VisitedSet) Contains(key string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.entries[key]
	return ok
}

// Len returns the number of visited keys.
func (v *VisitedSet) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}

// URLSet is an insertion-ordered set of URLs deduplicated by normalized key.
// It is not safe for concurrent use.
type URLSet struct {
	keys map[string]struct{}
	urls []string
}

// NewURLSet returns an empty set with room for n URLs.
func NewURLSet(n int) *URLSet {
	return &URLSet{keys: make(map[string]struct{}, n), urls: make([]string, 0, n)}
}

// Add appends rawURL unless a URL with the same key is already present.
func (s *URLSet) Add(rawURL string) bool {
	key := urlnorm.Key(rawURL)
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	s.urls = append(s.urls, rawURL)
	return true
}

// AddAll adds every URL in order.
func (s *URLSet) AddAll(urls []string) {
	for _, u := range urls {
		s.Add(u)
	}
}

// Len returns the number of URLs.
func (s *URLSet) Len() int { return len(s.urls) }

// Slice returns the URLs in insertion order.
func (s *URLSet) Slice() []string {
	out := make([]string, len(s.urls))
	copy(out, s.urls)
	return out
}
