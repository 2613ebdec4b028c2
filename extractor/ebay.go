package extractor

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var (
	scriptImageURLRe = regexp.MustCompile(`"imageUrl"\s*:\s*"([^"]+)"`)
	thumbnailTokenRe = regexp.MustCompile(`s-l(?:64|300|400)\b`)
)

// EBay extracts eBay item pages.
type EBay struct {
	Now func() time.Time
}

// Name implements Site.
func (e *EBay) Name() string { return "ebay" }

// FallbackTitle implements Site.
func (e *EBay) FallbackTitle() string { return fallbackTitle("eBay", e.Now) }

// Extract implements Site.
func (e *EBay) Extract(html, baseURL string) (string, []string) {
	doc, err := parseDocument(html)
	if err != nil {
		return "", nil
	}

	title := extractTitle(doc, "h1.x-item-title__mainTitle span")
	if title == "" {
		title = e.FallbackTitle()
	}

	raw := firstMatch(doc, []strategy{
		ebayScriptImages,
		ebayCarouselImages,
		ogImage,
		containerImages("div#vi_main_img_fs"),
	})
	return title, finish(raw)
}

func ebayScriptImages(doc *goquery.Document) []string {
	var urls []string
	doc.Find(`script[type="text/javascript"]`).Each(func(_ int, s *goquery.Selection) {
		body := s.Text()
		if !strings.Contains(body, "imageUrl") {
			return
		}
		for _, m := range scriptImageURLRe.FindAllStringSubmatch(body, -1) {
			urls = append(urls, strings.ReplaceAll(m[1], `\/`, "/"))
		}
	})
	return urls
}

func ebayCarouselImages(doc *goquery.Document) []string {
	var urls []string
	doc.Find("div.ux-image-carousel-item img").Each(func(_ int, img *goquery.Selection) {
		src := strings.TrimSpace(img.AttrOr("src", ""))
		if src == "" {
			src = strings.TrimSpace(img.AttrOr("data-src", ""))
		}
		if src == "" {
			return
		}
		urls = append(urls, thumbnailTokenRe.ReplaceAllString(src, "s-l1600"))
	})
	return urls
}
