package pipeline

import (
	"sync/atomic"

	"github.com/aluiziolira/go-listing-images/models"
)

// StatsSink receives one call per listing or image outcome.
type StatsSink interface {
	ListingSucceeded()
	ListingFailed()
	ImageSucceeded()
	ImageFailed()
}

// Stats aggregates the global counters. It is safe for concurrent use.
type Stats struct {
	successfulListings atomic.Int64
	failedListings     atomic.Int64
	successfulImages   atomic.Int64
	failedImages       atomic.Int64
}

// NewStats returns zeroed counters.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) ListingSucceeded() { s.successfulListings.Add(1) }
func (s *Stats) ListingFailed() { s.failedListings.Add(1) }
func (s *Stats) ImageSucceeded() { s.successfulImages.Add(1) }
func (s *Stats) ImageFailed() { s.failedImages.Add(1) }

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() models.GlobalStats {
	return models.GlobalStats{
		SuccessfulListings: s.successfulListings.Load(),
		FailedListings:     s.failedListings.Load(),
		SuccessfulImages:   s.successfulImages.Load(),
		FailedImages:       s.failedImages.Load(),
	}
}
