// Package pipeline coordinates listing extraction, image downloads, and reporting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aluiziolira/go-listing-images/config"
	"github.com/aluiziolira/go-listing-images/extractor"
	"github.com/aluiziolira/go-listing-images/models"
	"github.com/aluiziolira/go-listing-images/parser"
	"github.com/aluiziolira/go-listing-images/scraper"
)

var (
	// ErrNoTitle is reported when a listing yields no usable title.
	ErrNoTitle = errors.New("no title found")
	// ErrNoImages is reported when a listing yields no image URLs.
	ErrNoImages = errors.New("no images found")
)

// PageFetcher returns the HTML of a listing page.
type PageFetcher interface {
	Fetch(ctx context.Context, listingURL string) (string, error)
}

// ImageDownloader stores one image and reports the outcome.
type ImageDownloader interface {
	Download(ctx context.Context, imageURL, folder, base string, index int) models.DownloadOutcome
}

// Processor handles a single listing end to end.
type Processor struct {
	pages     PageFetcher
	images    ImageDownloader
	stats     StatsSink
	metrics   *scraper.Metrics
	observer  Observer
	logger    *slog.Logger
	outputDir string
	now       func() time.Time
}

// NewProcessor wires a Processor. Nil observer and logger fall back to no-op and
// slog.Default respectively.
func NewProcessor(cfg *config.Config, pages PageFetcher, images ImageDownloader, stats StatsSink, metrics *scraper.Metrics, observer Observer, logger *slog.Logger) *Processor {
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		pages:     pages,
		images:    images,
		stats:     stats,
		metrics:   metrics,
		observer:  observer,
		logger:    logger,
		outputDir: cfg.OutputDir,
		now:       time.Now,
	}
}

// Process runs Handle and reports whether the listing completed.
func (p *Processor) Process(ctx context.Context, listingURL string) bool {
	return p.Handle(ctx, listingURL).Succeeded()
}

// Handle extracts the listing, creates its folder and downloads every image in
// order. It never panics; all failures are recorded on the returned result.
func (p *Processor) Handle(ctx context.Context, listingURL string) (result *models.ListingResult) {
	result = &models.ListingResult{SourceURL: listingURL, Status: models.StatusFailed}
	log := p.logger.With(slog.String("url", listingURL))

	p.observer.ListingStarted(listingURL)
	log.Info("processing listing")

	defer func() {
		if r := recover(); r != nil {
			log.Error("listing processing panicked", slog.Any("panic", r))
			result.Status = models.StatusFailed
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		p.finish(log, result)
	}()

	site, err := extractor.ForURL(listingURL, p.now)
	if err != nil {
		p.fail(log, result, "route", err)
		return result
	}

	html, err := p.pages.Fetch(ctx, listingURL)
	if err != nil {
		p.fail(log, result, "fetch", err)
		return result
	}

	title, imageURLs := site.Extract(html, listingURL)
	result.Title = title
	result.ImageURLs = imageURLs
	result.ImagesFound = len(imageURLs)

	if title == "" {
		p.fail(log, result, "extract", ErrNoTitle)
		return result
	}
	if len(imageURLs) == 0 {
		p.fail(log, result, "extract", ErrNoImages)
		return result
	}
	log.Info("found images", slog.String("title", title), slog.Int("count", len(imageURLs)))

	base := parser.SanitizeFilename(title)
	// "." and ".." would escape the output directory
	if strings.Trim(base, ".") == "" {
		base = parser.SanitizeFilename(site.FallbackTitle())
	}

	folder, err := createListingFolder(p.outputDir, base, listingURL)
	if err != nil {
		p.fail(log, result, "folder", err)
		return result
	}
	result.Folder = folder
	result.Status = models.StatusCompleted

	for i, imageURL := range imageURLs {
		if ctx.Err() != nil {
			log.Warn("stopping image downloads", slog.Any("error", ctx.Err()))
			break
		}
		index := i + 1
		outcome := p.images.Download(ctx, imageURL, folder, base, index)
		if outcome.Success {
			result.ImagesDownloaded++
			p.stats.ImageSucceeded()
		} else {
			p.stats.ImageFailed()
		}
		p.observer.ImageFinished(listingURL, index, outcome)
	}

	return result
}

func (p *Processor) fail(log *slog.Logger, result *models.ListingResult, stage string, err error) {
	result.Status = models.StatusFailed
	result.Error = fmt.Sprintf("%s: %v", stage, err)
	// fetch errors are already counted by the page fetcher
	if stage != "fetch" {
		p.metrics.IncError(stage)
	}
	log.Error("listing failed",
		slog.String("stage", stage),
		slog.String("error_type", scraper.ErrorLabel(err)),
		slog.Any("error", err),
	)
}

func (p *Processor) finish(log *slog.Logger, result *models.ListingResult) {
	if result.Succeeded() {
		p.stats.ListingSucceeded()
		p.metrics.IncListing(string(models.StatusCompleted))
		log.Info("listing completed",
			slog.String("folder", result.Folder),
			slog.Int("images_found", result.ImagesFound),
			slog.Int("images_downloaded", result.ImagesDownloaded),
		)
	} else {
		p.stats.ListingFailed()
		p.metrics.IncListing(string(models.StatusFailed))
	}
	p.observer.ListingFinished(result)
}
