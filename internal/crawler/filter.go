package crawler

import (
	"strings"

	"levelcrawler/internal/urlnorm"
)

// FilterLinks keeps the links whose resolved form contains root (or its www.
// twin), dropping script pseudo-links, mailto links and in-page anchors.
// Relative links are resolved against root and fragments are removed. When
// keyword is non-empty only links containing it survive. The result keeps the
// first occurrence of each link.
func FilterLinks(raw []string, root, rootWWW, keyword string) []string {
	return filterLinks(raw, root, rootWWW, keyword, strings.Contains)
}

// FilterLinksStrict is FilterLinks with the membership test narrowed to links
// that start with root or rootWWW, so a foreign URL embedding the site root
// (archives, redirectors) is rejected.
func FilterLinksStrict(raw []string, root, rootWWW, keyword string) []string {
	return filterLinks(raw, root, rootWWW, keyword, strings.HasPrefix)
}

func filterLinks(raw []string, root, rootWWW, keyword string, member func(s, root string) bool) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, link := range raw {
		link = strings.TrimSpace(link)
		if link == "" || strings.HasPrefix(link, "#") {
			continue
		}
		u, err := urlnorm.Resolve(root, link)
		if err != nil {
			continue
		}
		scheme := strings.ToLower(u.Scheme)
		if scheme != "http" && scheme != "https" {
			continue
		}
		u.Host = strings.ToLower(u.Host)
		u.Fragment = ""
		u.RawFragment = ""
		if u.Path == "" && u.RawPath == "" {
			u.Path = "/"
		}
		resolved := u.String()
		if !member(resolved, root) && !member(resolved, rootWWW) {
			continue
		}
		if keyword != "" && !strings.Contains(resolved, keyword) {
			continue
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}
		out = append(out, resolved)
	}
	return out
}
