package pipeline

import "github.com/aluiziolira/go-listing-images/models"

// Observer is notified as listings progress. Implementations must be safe for
// concurrent use and must not block for long; calls happen on worker goroutines.
type Observer interface {
	ListingStarted(listingURL string)
	ImageFinished(listingURL string, index int, outcome models.DownloadOutcome)
	ListingFinished(result *models.ListingResult)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) ListingStarted(string) {}
func (NopObserver) ImageFinished(string, int, models.DownloadOutcome) {}
func (NopObserver) ListingFinished(*models.ListingResult) {}
