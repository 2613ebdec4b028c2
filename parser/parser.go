package parser

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/aluiziolira/go-listing-images/models"
)

var (
	sizeTokenRe = regexp.MustCompile(`s-l\d+`)
	queryRe     = regexp.MustCompile(`\?.*$`)
)

// canonicalSizeToken is the size variant every resolution token collapses to.
const canonicalSizeToken = "s-l1600"

// SupportedHosts lists the host substrings the scraper knows how to handle.
var SupportedHosts = []string{"ebay", "swappa"}

// NormalizeImageURL returns the dedup key for an image URL: size tokens collapse to
// s-l1600 and any query string is dropped.
func NormalizeImageURL(raw string) string {
	normalized := sizeTokenRe.ReplaceAllString(raw, canonicalSizeToken)
	return queryRe.ReplaceAllString(normalized, "")
}

// DedupeImageCandidates pairs each URL with its normalized key and keeps the
// first candidate per key, in input order.
func DedupeImageCandidates(urls []string) []models.ImageCandidate {
	if len(urls) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(urls))
	out := make([]models.ImageCandidate, 0, len(urls))
	for _, raw := range urls {
		c := models.ImageCandidate{RawURL: raw, NormalizedURL: NormalizeImageURL(raw)}
		if _, ok := seen[c.NormalizedURL]; ok {
			continue
		}
		seen[c.NormalizedURL] = struct{}{}
		out = append(out, c)
	}
	return out
}

// DedupeImageURLs returns the raw URLs of DedupeImageCandidates.
func DedupeImageURLs(urls []string) []string {
	candidates := DedupeImageCandidates(urls)
	if candidates == nil {
		return nil
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.RawURL
	}
	return out
}

// ValidateListingURL checks the scheme and host before any network activity.
func ValidateListingURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("listing URL is empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid listing URL %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL format %q: scheme must be http or https", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid URL format %q: missing host", raw)
	}
	host := strings.ToLower(parsed.Host)
	for _, supported := range SupportedHosts {
		if strings.Contains(host, supported) {
			return nil
		}
	}
	return fmt.Errorf("unsupported site %q (only eBay and Swappa are supported)", parsed.Host)
}

// ReadURLList reads one URL per line, trimming whitespace and skipping blank lines.
func ReadURLList(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return urls, nil
}

// ExtensionForContentType maps an image content type to a file extension, defaulting to jpg.
func ExtensionForContentType(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "image/jpeg"), strings.Contains(ct, "image/jpg"):
		return "jpg"
	case strings.Contains(ct, "image/png"):
		return "png"
	case strings.Contains(ct, "image/webp"):
		return "webp"
	case strings.Contains(ct, "image/gif"):
		return "gif"
	default:
		return "jpg"
	}
}
