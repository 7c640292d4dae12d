// Package processor turns article HTML into title, body text and reader comments.
package processor

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// NoTitle is used when a page carries no usable title.
const NoTitle = "No Title"

// ErrEmptyDocument is returned for an empty body.
var ErrEmptyDocument = errors.New("empty document")

// Article is the extracted content of one page.
type Article struct {
	Title    string
	FullText string
	Comments []string
}

// Extractor extracts article content from HTML.
type Extractor interface {
	Extract(body []byte) (*Article, error)
}

// ArticleExtractor implements the blog/news heuristics: comment sections are
// pulled out first so they never leak into the body text.
type ArticleExtractor struct {
	containers []string
}

// DefaultContainers lists the selectors tried, in order, for the article body.
var DefaultContainers = []string{"article", "div.postcontent", "div.singlepost", "div.article-text"}

// NewArticleExtractor builds an extractor. Empty containers selects DefaultContainers.
func NewArticleExtractor(containers []string) *ArticleExtractor {
	if len(containers) == 0 {
		containers = DefaultContainers
	}
	return &ArticleExtractor{containers: containers}
}

// Extract parses body and returns its article content.
func (x *ArticleExtractor) Extract(body []byte) (*Article, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyDocument
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	article := &Article{Title: extractTitle(doc)}

	removed := make(map[*html.Node]struct{})
	doc.Find("div, section, article").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(strings.ToLower(s.AttrOr("class", "")), "comment")
	}).Each(func(_ int, s *goquery.Selection) {
		if insideRemoved(s.Get(0), removed) {
			return
		}
		removed[s.Get(0)] = struct{}{}
		s.Find("p").Each(func(_ int, p *goquery.Selection) {
			if text := textOf(p); text != "" {
				article.Comments = append(article.Comments, text)
			}
		})
		s.Remove()
	})

	scope := doc.Selection
	for _, sel := range x.containers {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			scope = found
			break
		}
	}

	parts := make([]string, 0, 32)
	collect := func(_ int, s *goquery.Selection) {
		if text := textOf(s); text != "" {
			parts = append(parts, text)
		}
	}
	scope.Find("p").Each(collect)
	scope.Find("li").Each(collect)
	article.FullText = cleanText(strings.Join(parts, " "))

	return article, nil
}

func insideRemoved(node *html.Node, removed map[*html.Node]struct{}) bool {
	for n := node.Parent; n != nil; n = n.Parent {
		if _, ok := removed[n]; ok {
			return true
		}
	}
	return false
}

func extractTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if t := textOf(doc.Find("h1").First()); t != "" {
		return t
	}
	if t, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t)
	}
	return NoTitle
}

// textOf joins the trimmed text nodes under s with single spaces.
func textOf(s *goquery.Selection) string {
	var pieces []string
	for _, node := range s.Nodes {
		walkText(node, func(text string) {
			if text = strings.TrimSpace(text); text != "" {
				pieces = append(pieces, text)
			}
		})
	}
	return strings.Join(pieces, " ")
}

func walkText(node *html.Node, fn func(string)) {
	if node == nil {
		return
	}
	switch node.Type {
	case html.TextNode:
		fn(node.Data)
		return
	case html.ElementNode:
		switch strings.ToLower(node.Data) {
		case "script", "style", "noscript":
			return
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		walkText(child, fn)
	}
}

// cleanText removes soft hyphens and collapses all whitespace runs.
func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\u00ad", "")
	return strings.Join(strings.Fields(s), " ")
}
