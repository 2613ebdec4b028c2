// Package downloader fetches listing images to disk and normalizes them to JPEG.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aluiziolira/go-listing-images/config"
	"github.com/aluiziolira/go-listing-images/models"
	"github.com/aluiziolira/go-listing-images/parser"
	"github.com/aluiziolira/go-listing-images/scraper"
)

// ErrNotImage indicates the server answered with a non-image content type.
var ErrNotImage = errors.New("response is not an image")

// knownExtensions are every extension a finished download can end up with.
var knownExtensions = []string{"jpg", "png", "webp", "gif"}

// Fetcher is the HTTP surface the downloader needs.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, header http.Header) (*http.Response, error)
}

// Downloader saves one image per call. It never returns an error; failures are
// reported in the outcome.
type Downloader struct {
	client     Fetcher
	identities *scraper.IdentityRotator
	metrics    *scraper.Metrics
	logger     *slog.Logger

	paceMin   time.Duration
	paceMax   time.Duration
	chunkSize int
	quality   int

	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Downloader from cfg.
func New(cfg *config.Config, client Fetcher, identities *scraper.IdentityRotator, metrics *scraper.Metrics, logger *slog.Logger) *Downloader {
	if identities == nil {
		identities = scraper.NewIdentityRotator(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		client:     client,
		identities: identities,
		metrics:    metrics,
		logger:     logger,
		paceMin:    cfg.PaceMin,
		paceMax:    cfg.PaceMax,
		chunkSize:  cfg.ChunkSize,
		quality:    cfg.JPEGQuality,
		sleep:      sleepContext,
	}
}

// Download fetches imageURL into folder as {base}_{index}.{ext}, converting
// non-JPEG images to JPEG.
func (d *Downloader) Download(ctx context.Context, imageURL, folder, base string, index int) (outcome models.DownloadOutcome) {
	log := d.logger.With(slog.String("url", imageURL), slog.Int("index", index))

	defer func() {
		if r := recover(); r != nil {
			log.Error("image download panicked", slog.Any("panic", r))
			outcome = models.DownloadOutcome{FailureReason: fmt.Sprintf("panic: %v", r)}
		}
		switch {
		case outcome.Skipped:
			d.metrics.IncImage("skipped")
		case outcome.Success:
			d.metrics.IncImage("downloaded")
		default:
			d.metrics.IncImage("failed")
		}
	}()

	if existing, ok := existingImage(folder, base, index); ok {
		log.Info("image already exists", slog.String("path", existing))
		return models.DownloadOutcome{Success: true, Skipped: true, FinalPath: existing}
	}

	if err := d.sleep(ctx, d.paceDelay()); err != nil {
		return d.fail(log, "pace", err)
	}

	header := d.identities.Headers(imageURL)
	header.Set("Accept", scraper.ImageAccept)

	resp, err := d.client.Get(ctx, imageURL, header)
	if err != nil {
		return d.fail(log, "fetch", err)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		log.Warn("URL doesn't return an image", slog.String("content_type", contentType))
		return models.DownloadOutcome{FailureReason: fmt.Sprintf("%v: content-type %q", ErrNotImage, contentType)}
	}

	ext := parser.ExtensionForContentType(contentType)
	path := filepath.Join(folder, fmt.Sprintf("%s_%d.%s", base, index, ext))
	if _, err := os.Stat(path); err == nil {
		log.Info("image already exists", slog.String("path", path))
		return models.DownloadOutcome{Success: true, Skipped: true, FinalPath: path}
	}

	if err := d.writeFile(path, resp.Body); err != nil {
		return d.fail(log, "write", err)
	}

	if ext != "jpg" {
		jpgPath := filepath.Join(folder, fmt.Sprintf("%s_%d.jpg", base, index))
		err := convertToJPEG(path, jpgPath, d.quality)
		switch {
		case errors.Is(err, errRemoveOriginal):
			d.metrics.IncConversion("converted")
			log.Warn("converted image but could not remove original",
				slog.String("path", path),
				slog.Any("error", err),
			)
			path = jpgPath
		case err != nil:
			d.metrics.IncConversion("failed")
			log.Warn("failed to convert image to JPG, keeping original",
				slog.String("path", path),
				slog.Any("error", err),
			)
		default:
			d.metrics.IncConversion("converted")
			path = jpgPath
		}
	}

	log.Info("downloaded image", slog.String("path", path))
	return models.DownloadOutcome{Success: true, FinalPath: path}
}

func (d *Downloader) fail(log *slog.Logger, stage string, err error) models.DownloadOutcome {
	log.Error("failed to download image", slog.String("stage", stage), slog.Any("error", err))
	return models.DownloadOutcome{FailureReason: fmt.Sprintf("%s: %v", stage, err)}
}

// writeFile streams body into path via a .part file in fixed-size chunks.
func (d *Downloader) writeFile(path string, body io.Reader) error {
	partPath := path + ".part"
	f, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("create %q: %w", partPath, err)
	}

	buf := make([]byte, d.chunkSize)
	if _, err := io.CopyBuffer(f, body, buf); err != nil {
		f.Close()
		os.Remove(partPath)
		return fmt.Errorf("write %q: %w", partPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(partPath)
		return fmt.Errorf("close %q: %w", partPath, err)
	}
	if err := os.Rename(partPath, path); err != nil {
		os.Remove(partPath)
		return fmt.Errorf("rename %q: %w", partPath, err)
	}
	return nil
}

func (d *Downloader) paceDelay() time.Duration {
	if d.paceMax <= d.paceMin {
		return d.paceMin
	}
	return d.paceMin + rand.N(d.paceMax-d.paceMin)
}

// existingImage finds a finished file for this slot under any known extension.
func existingImage(folder, base string, index int) (string, bool) {
	for _, ext := range knownExtensions {
		path := filepath.Join(folder, fmt.Sprintf("%s_%d.%s", base, index, ext))
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, true
		}
	}
	return "", false
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
