package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"

	"github.com/aluiziolira/go-listing-images/config"
	"github.com/aluiziolira/go-listing-images/models"
)

// ListingHandler processes one listing URL.
type ListingHandler interface {
	Handle(ctx context.Context, listingURL string) *models.ListingResult
}

// Snapshotter exposes the current global counters.
type Snapshotter interface {
	Snapshot() models.GlobalStats
}

// Runner fans listing URLs out to a handler with bounded concurrency.
type Runner struct {
	handler     ListingHandler
	stats       Snapshotter
	writer      OutputWriter
	concurrency int
	logger      *slog.Logger

	seen *lru.Cache[string, struct{}]

	writeMu  sync.Mutex
	writeErr error
	closed   bool
}

// NewRunner builds a Runner. writer may be nil when no report is wanted.
func NewRunner(cfg *config.Config, handler ListingHandler, stats Snapshotter, writer OutputWriter, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	r := &Runner{
		handler:     handler,
		stats:       stats,
		writer:      writer,
		concurrency: concurrency,
		logger:      logger,
	}
	if cfg.DedupeMaxSize > 0 {
		seen, err := lru.New[string, struct{}](cfg.DedupeMaxSize)
		if err != nil {
			return nil, fmt.Errorf("create dedupe cache: %w", err)
		}
		r.seen = seen
	}
	return r, nil
}

// Run processes every URL and returns the counters. Repeated URLs are processed
// again and logged. If ctx is cancelled, Run stops dispatching and returns the
// current snapshot without waiting for listings already in flight; their results
// are no longer written to the report.
func (r *Runner) Run(ctx context.Context, urls []string) models.GlobalStats {
	sem := semaphore.NewWeighted(int64(r.concurrency))
	var wg sync.WaitGroup

	for _, listingURL := range urls {
		if r.seenBefore(listingURL) {
			r.logger.Warn("listing submitted more than once", slog.String("url", listingURL))
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(listingURL string) {
			defer wg.Done()
			defer sem.Release(1)
			r.record(r.handler.Handle(ctx, listingURL))
		}(listingURL)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("run interrupted, not waiting for in-flight listings", slog.Any("error", ctx.Err()))
	}

	r.writeMu.Lock()
	r.closed = true
	r.writeMu.Unlock()
	return r.stats.Snapshot()
}

// Stats returns the current counters.
func (r *Runner) Stats() models.GlobalStats {
	return r.stats.Snapshot()
}

// WriteErr returns the first report write failure, if any.
func (r *Runner) WriteErr() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.writeErr
}

func (r *Runner) seenBefore(listingURL string) bool {
	key := strings.TrimSpace(listingURL)
	if r.seen == nil || key == "" {
		return false
	}
	found, _ := r.seen.ContainsOrAdd(key, struct{}{})
	return found
}

func (r *Runner) record(result *models.ListingResult) {
	if r.writer == nil || result == nil {
		return
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.closed {
		r.logger.Debug("run finished, report row dropped", slog.String("url", result.SourceURL))
		return
	}
	if err := r.writer.Write([]*models.ListingResult{result}); err != nil {
		r.logger.Error("write listing report", slog.String("url", result.SourceURL), slog.Any("error", err))
		if r.writeErr == nil {
			r.writeErr = err
		}
	}
}
