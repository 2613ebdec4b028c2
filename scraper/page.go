package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-listing-images/config"
)

// PageFetcher downloads listing pages with a colly collector. Each call works on a
// clone so concurrent fetches share the transport and rate limits but not callbacks.
type PageFetcher struct {
	collector  *colly.Collector
	identities *IdentityRotator
	metrics    *Metrics
}

// NewPageFetcher builds a fetcher whose requests go through rt.
func NewPageFetcher(cfg *config.Config, rt http.RoundTripper, identities *IdentityRotator, metrics *Metrics) (*PageFetcher, error) {
	if identities == nil {
		identities = NewIdentityRotator(nil)
	}

	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.UserAgent(DefaultIdentities[0].UserAgent),
	)
	collector.SetRequestTimeout(cfg.RequestBudget())
	collector.WithTransport(rt)

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Concurrency,
		RandomDelay: cfg.PageDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	return &PageFetcher{
		collector:  collector,
		identities: identities,
		metrics:    metrics,
	}, nil
}

// Fetch returns the HTML body of listingURL.
func (f *PageFetcher) Fetch(ctx context.Context, listingURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c := f.collector.Clone()

	var (
		body      []byte
		statusErr error
		started   time.Time
	)
	c.OnRequest(func(r *colly.Request) {
		started = time.Now()
		for key, values := range f.identities.Headers("") {
			r.Headers.Del(key)
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
		f.metrics.IncRequest("page")
	})
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		slog.Debug("listing page fetched",
			slog.String("url", listingURL),
			slog.Int("status", r.StatusCode),
			slog.Int("bytes", len(r.Body)),
			slog.Duration("elapsed", time.Since(started)),
		)
	})
	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		statusErr = classifyError(err, status)
		f.metrics.IncError(errorTypeLabel(statusErr))
	})

	if err := c.Visit(listingURL); err != nil {
		if statusErr != nil {
			return "", fmt.Errorf("fetch listing %s: %w", listingURL, statusErr)
		}
		return "", fmt.Errorf("fetch listing %s: %w", listingURL, err)
	}
	c.Wait()

	if statusErr != nil {
		return "", fmt.Errorf("fetch listing %s: %w", listingURL, statusErr)
	}
	if len(body) == 0 {
		return "", fmt.Errorf("fetch listing %s: empty body", listingURL)
	}
	return string(body), nil
}
