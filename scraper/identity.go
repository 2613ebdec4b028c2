package scraper

import (
	"math/rand/v2"
	"net/http"
)

const (
	htmlAccept  = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
	ImageAccept = "image/webp,image/apng,image/*,*/*;q=0.8"
)

// Identity is one browser signature presented to the target sites.
type Identity struct {
	UserAgent      string
	AcceptLanguage string
}

// DefaultIdentities is the pool rotated through when none is supplied.
var DefaultIdentities = []Identity{
	{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36", AcceptLanguage: "en-US,en;q=0.5"},
	{UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.1 Safari/605.1.15", AcceptLanguage: "en-US,en;q=0.5"},
	{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:89.0) Gecko/20100101 Firefox/89.0", AcceptLanguage: "en-US,en;q=0.5"},
	{UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/92.0.4515.107 Safari/537.36", AcceptLanguage: "en-US,en;q=0.5"},
	{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/96.0.4664.110 Safari/537.36", AcceptLanguage: "en-US,en;q=0.5"},
	{UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/96.0.4664.110 Safari/537.36", AcceptLanguage: "en-US,en;q=0.5"},
	{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:95.0) Gecko/20100101 Firefox/95.0", AcceptLanguage: "en-US,en;q=0.5"},
}

// IdentityRotator hands out a randomly chosen identity per request.
type IdentityRotator struct {
	pool []Identity
	pick func(n int) int
}

// NewIdentityRotator builds a rotator over pool, falling back to DefaultIdentities.
func NewIdentityRotator(pool []Identity) *IdentityRotator {
	if len(pool) == 0 {
		pool = DefaultIdentities
	}
	return &IdentityRotator{pool: pool, pick: rand.IntN}
}

// Headers returns a fresh header set for one request. Referer is set only when non-empty.
func (r *IdentityRotator) Headers(referer string) http.Header {
	id := r.pool[r.pick(len(r.pool))]

	h := make(http.Header, 4)
	h.Set("User-Agent", id.UserAgent)
	h.Set("Accept", htmlAccept)
	h.Set("Accept-Language", id.AcceptLanguage)
	if referer != "" {
		h.Set("Referer", referer)
	}
	return h
}
