// Package extractor pulls a title and image URLs out of marketplace listing pages.
package extractor

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-listing-images/parser"
)

// ErrUnsupportedSite is returned by ForURL for hosts with no extractor.
var ErrUnsupportedSite = errors.New("unsupported site")

// Site extracts a listing title and ordered, deduplicated image URLs from page HTML.
// An empty title or nil slice means extraction found nothing.
type Site interface {
	Name() string
	Extract(html, baseURL string) (title string, imageURLs []string)
	FallbackTitle() string
}

// strategy returns raw image URLs found by one heuristic.
type strategy func(doc *goquery.Document) []string

// ForURL picks the site extractor for listingURL by host substring.
func ForURL(listingURL string, now func() time.Time) (Site, error) {
	if now == nil {
		now = time.Now
	}
	parsed, err := url.Parse(listingURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedSite, err)
	}
	host := strings.ToLower(parsed.Host)
	switch {
	case strings.Contains(host, "ebay"):
		return &EBay{Now: now}, nil
	case strings.Contains(host, "swappa"):
		return &Swappa{Now: now}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSite, host)
	}
}

// firstMatch runs strategies in order and returns the first non-empty result.
func firstMatch(doc *goquery.Document, strategies []strategy) []string {
	for _, s := range strategies {
		if urls := s(doc); len(urls) > 0 {
			return urls
		}
	}
	return nil
}

// extractTitle tries the site selector, then the <title> text before the first "|".
func extractTitle(doc *goquery.Document, selector string) string {
	if title := strings.TrimSpace(doc.Find(selector).First().Text()); title != "" {
		return title
	}
	if sel := doc.Find("title").First(); sel.Length() > 0 {
		text := sel.Text()
		if i := strings.Index(text, "|"); i >= 0 {
			text = text[:i]
		}
		if title := strings.TrimSpace(text); title != "" {
			return title
		}
	}
	return ""
}

func fallbackTitle(prefix string, now func() time.Time) string {
	if now == nil {
		now = time.Now
	}
	return fmt.Sprintf("%s_Item_%d", prefix, now().Unix())
}

func ogImage(doc *goquery.Document) []string {
	content, _ := doc.Find(`meta[property="og:image"]`).First().Attr("content")
	if content = strings.TrimSpace(content); content == "" {
		return nil
	}
	return []string{content}
}

func containerImages(selector string) strategy {
	return func(doc *goquery.Document) []string {
		var urls []string
		doc.Find(selector).First().Find("img").Each(func(_ int, img *goquery.Selection) {
			if src := strings.TrimSpace(img.AttrOr("src", "")); src != "" {
				urls = append(urls, src)
			}
		})
		return urls
	}
}

func parseDocument(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func finish(raw []string) []string {
	return parser.DedupeImageURLs(raw)
}
