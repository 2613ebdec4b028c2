package scraper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-listing-images/config"
)

var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// RetryTransport retries idempotent requests on transient failures with exponential backoff.
// It is shared by the listing page collector and the image client.
type RetryTransport struct {
	Base       http.RoundTripper
	MaxRetries int
	Backoff    time.Duration
	BackoffMax time.Duration
	Limiter    *rate.Limiter
	Metrics    *Metrics

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryTransport wraps base with the retry policy from cfg. A nil base uses NewBaseTransport.
func NewRetryTransport(base http.RoundTripper, cfg *config.Config, metrics *Metrics) *RetryTransport {
	if base == nil {
		base = NewBaseTransport(cfg)
	}
	t := &RetryTransport{
		Base:       base,
		MaxRetries: cfg.MaxRetries,
		Backoff:    cfg.RetryBackoff,
		BackoffMax: cfg.RetryBackoffMax,
		Metrics:    metrics,
		sleep:      sleepContext,
	}
	if cfg.RequestsPerSecond > 0 {
		t.Limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return t
}

// NewBaseTransport returns the underlying transport with per-attempt timeouts.
func NewBaseTransport(cfg *config.Config) http.RoundTripper {
	if cfg.TLSFingerprint {
		return NewFingerprintTransport(cfg.Timeout)
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	retryable := req.Method == http.MethodGet || req.Method == http.MethodHead

	for attempt := 0; ; attempt++ {
		if t.Limiter != nil {
			if err := t.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		start := time.Now()
		resp, err := t.Base.RoundTrip(req)
		t.Metrics.ObserveDuration(time.Since(start))

		if !retryable || attempt >= t.MaxRetries || !shouldRetry(ctx, resp, err) {
			return resp, err
		}

		delay := t.backoff(attempt + 1)
		if resp != nil {
			if after, ok := retryAfter(resp); ok {
				delay = t.capDelay(after)
			}
			io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
		}

		t.Metrics.IncRetries()
		slog.Debug("retrying request",
			slog.String("url", req.URL.String()),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		if err := t.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func shouldRetry(ctx context.Context, resp *http.Response, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return true
		}
		return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
	}
	return resp != nil && retryableStatus[resp.StatusCode]
}

func (t *RetryTransport) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := t.Backoff
	if base <= 0 {
		return 0
	}

	return t.capDelay(base * time.Duration(1<<(attempt-1)))
}

func (t *RetryTransport) capDelay(delay time.Duration) time.Duration {
	if max := t.BackoffMax; max > 0 && delay > max {
		return max
	}
	return delay
}

func retryAfter(resp *http.Response) (time.Duration, bool) {
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return 0, false
	}
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0, false
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
