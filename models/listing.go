// Package models defines data structures for the listing image scraper.
package models

// ListingStatus is the terminal state of one processed listing.
type ListingStatus string

const (
	StatusCompleted ListingStatus = "completed"
	StatusFailed    ListingStatus = "failed"
)

// ListingResult records what happened to a single listing.
type ListingResult struct {
	SourceURL        string        `csv:"source_url" json:"source_url"`
	Title            string        `csv:"title" json:"title,omitempty"`
	ImageURLs        []string      `csv:"-" json:"image_urls,omitempty"`
	Status           ListingStatus `csv:"status" json:"status"`
	ImagesFound      int           `csv:"images_found" json:"images_found"`
	ImagesDownloaded int           `csv:"images_downloaded" json:"images_downloaded"`
	Folder           string        `csv:"folder" json:"folder,omitempty"`
	Error            string        `csv:"error" json:"error,omitempty"`
}

// Succeeded reports whether the listing completed.
func (r *ListingResult) Succeeded() bool {
	return r != nil && r.Status == StatusCompleted
}

// ImageCandidate pairs the URL that gets fetched with its dedup key.
type ImageCandidate struct {
	RawURL        string
	NormalizedURL string
}

// DownloadOutcome is the result of downloading a single image.
type DownloadOutcome struct {
	Success       bool   `json:"success"`
	Skipped       bool   `json:"skipped,omitempty"`
	FinalPath     string `json:"final_path,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// GlobalStats is a point-in-time copy of the process-wide counters.
type GlobalStats struct {
	SuccessfulListings int64 `json:"successful_listings"`
	FailedListings     int64 `json:"failed_listings"`
	SuccessfulImages   int64 `json:"successful_images"`
	FailedImages       int64 `json:"failed_images"`
}
