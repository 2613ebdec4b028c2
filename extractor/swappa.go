package extractor

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Swappa extracts Swappa listing pages. Its markup may carry relative image paths,
// so results are resolved against the listing's scheme and host.
type Swappa struct {
	Now func() time.Time
}

// Name implements Site.
func (s *Swappa) Name() string { return "swappa" }

// FallbackTitle implements Site.
func (s *Swappa) FallbackTitle() string { return fallbackTitle("Swappa", s.Now) }

// Extract implements Site.
func (s *Swappa) Extract(html, baseURL string) (string, []string) {
	doc, err := parseDocument(html)
	if err != nil {
		return "", nil
	}

	title := extractTitle(doc, "h1.listing_title")
	if title == "" {
		title = s.FallbackTitle()
	}

	raw := firstMatch(doc, []strategy{
		swappaGalleryImages,
		swappaLazyImages,
		ogImage,
		containerImages("div.listing_content"),
	})
	return title, absolutize(finish(raw), baseURL)
}

func swappaGalleryImages(doc *goquery.Document) []string {
	var urls []string
	doc.Find("img.product-gallery__slide-image").Each(func(_ int, img *goquery.Selection) {
		if src := strings.TrimSpace(img.AttrOr("src", "")); src != "" {
			urls = append(urls, src)
		}
	})
	return urls
}

func swappaLazyImages(doc *goquery.Document) []string {
	var urls []string
	doc.Find("img[data-src]").Each(func(_ int, img *goquery.Selection) {
		src := strings.TrimSpace(img.AttrOr("data-src", ""))
		lower := strings.ToLower(src)
		if src != "" && (strings.Contains(lower, "product") || strings.Contains(lower, "listing")) {
			urls = append(urls, src)
		}
	})
	return urls
}

// absolutize resolves every URL against the scheme and host of listingURL.
func absolutize(urls []string, listingURL string) []string {
	if len(urls) == 0 {
		return urls
	}
	listing, err := url.Parse(listingURL)
	if err != nil || listing.Host == "" {
		return urls
	}
	base := &url.URL{Scheme: listing.Scheme, Host: listing.Host, Path: "/"}

	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		ref, err := url.Parse(raw)
		if err != nil {
			out = append(out, raw)
			continue
		}
		out = append(out, base.ResolveReference(ref).String())
	}
	return out
}
