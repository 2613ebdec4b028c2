package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Client issues image requests through the shared retry transport.
type Client struct {
	http        *http.Client
	metrics     *Metrics
	idleTimeout time.Duration
}

// NewClient builds a client on rt. The client has no overall timeout so large
// bodies can stream; instead a body read that sees no data for idleTimeout is
// aborted. A zero idleTimeout disables that limit.
func NewClient(rt http.RoundTripper, metrics *Metrics, idleTimeout time.Duration) *Client {
	return &Client{
		http:        &http.Client{Transport: rt},
		metrics:     metrics,
		idleTimeout: idleTimeout,
	}
}

// Get performs a GET with header and returns the response only for 2xx statuses.
// The caller owns the response body and must close it.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*http.Response, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request for %s: %w", rawURL, err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	c.metrics.IncRequest("image")
	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		classified := classifyError(err, 0)
		c.metrics.IncError(errorTypeLabel(classified))
		return nil, fmt.Errorf("get %s: %w", rawURL, classified)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		cancel()
		classified := classifyError(nil, resp.StatusCode)
		c.metrics.IncError(errorTypeLabel(classified))
		return nil, fmt.Errorf("get %s: %w", rawURL, classified)
	}

	resp.Body = newIdleTimeoutBody(resp.Body, c.idleTimeout, cancel)
	return resp, nil
}

// idleTimeoutBody cancels the request when no bytes arrive for timeout.
type idleTimeoutBody struct {
	body    io.ReadCloser
	timeout time.Duration
	cancel  context.CancelFunc
	timer   *time.Timer
	expired atomic.Bool
}

func newIdleTimeoutBody(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleTimeoutBody {
	b := &idleTimeoutBody{body: body, timeout: timeout, cancel: cancel}
	if timeout > 0 {
		b.timer = time.AfterFunc(timeout, func() {
			b.expired.Store(true)
			cancel()
		})
	}
	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if b.expired.Load() {
		return n, ErrTimeout{Err: fmt.Errorf("no body data for %s: %w", b.timeout, context.DeadlineExceeded)}
	}
	if n > 0 && b.timer != nil {
		b.timer.Reset(b.timeout)
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	if b.timer != nil {
		b.timer.Stop()
	}
	err := b.body.Close()
	b.cancel()
	return err
}
