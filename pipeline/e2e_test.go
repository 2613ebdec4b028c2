package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-listing-images/config"
	"github.com/aluiziolira/go-listing-images/downloader"
	"github.com/aluiziolira/go-listing-images/models"
	"github.com/aluiziolira/go-listing-images/scraper"
)

func encodeImage(t *testing.T, format string) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	var err error
	switch format {
	case "png":
		err = png.Encode(&buf, img)
	default:
		err = jpeg.Encode(&buf, img, nil)
	}
	if err != nil {
		t.Fatalf("encode %s: %v", format, err)
	}
	return buf.Bytes()
}

func bytesResponder(contentType string, body []byte) httpmock.Responder {
	return func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewBytesResponse(200, body)
		resp.Header.Set("Content-Type", contentType)
		return resp, nil
	}
}

func newTestRunner(t *testing.T, cfg *config.Config, mock *httpmock.MockTransport) (*Runner, *Stats) {
	t.Helper()
	metrics := scraper.NewMetrics()
	rt := scraper.NewRetryTransport(mock, cfg, metrics)

	pages, err := scraper.NewPageFetcher(cfg, rt, nil, metrics)
	if err != nil {
		t.Fatalf("new page fetcher: %v", err)
	}
	images := downloader.New(cfg, scraper.NewClient(rt, metrics, cfg.Timeout), nil, metrics, nil)

	stats := NewStats()
	processor := NewProcessor(cfg, pages, images, stats, metrics, nil, nil)
	runner, err := NewRunner(cfg, processor, stats, nil, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return runner, stats
}

const (
	e2eEBayURL   = "https://www.ebay.com/itm/100"
	e2eSwappaURL = "https://swappa.com/listing/view/LABC"
)

const e2eEBayPage = `<html><head><title>Leica M6 | eBay</title></head><body>
<script type="text/javascript">var media = {"imageUrl":"https:\/\/i.ebayimg.com\/images\/g\/m6\/s-l1600.jpg"};</script>
</body></html>`

const e2eSwappaPage = `<html><body>
<h1 class="listing_title">Galaxy S22 (Unlocked)</h1>
<img class="product-gallery__slide-image" src="/media/listing/LABC/front.png?v=2">
</body></html>`

func TestEndToEndOneListingPerSite(t *testing.T) {
	cfg := testConfig(t)
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder("GET", e2eEBayURL, httpmock.NewStringResponder(200, e2eEBayPage))
	mock.RegisterResponder("GET", e2eSwappaURL, httpmock.NewStringResponder(200, e2eSwappaPage))
	mock.RegisterResponder("GET", "https://i.ebayimg.com/images/g/m6/s-l1600.jpg", bytesResponder("image/jpeg", encodeImage(t, "jpeg")))
	mock.RegisterResponder("GET", "https://swappa.com/media/listing/LABC/front.png?v=2", bytesResponder("image/png", encodeImage(t, "png")))

	runner, _ := newTestRunner(t, cfg, mock)
	got := runner.Run(context.Background(), []string{e2eEBayURL, e2eSwappaURL})

	want := models.GlobalStats{SuccessfulListings: 2, SuccessfulImages: 2}
	if got != want {
		t.Fatalf("stats = %+v, want %+v", got, want)
	}

	for _, tc := range []struct {
		folder string
		source string
	}{
		{folder: "Leica_M6", source: e2eEBayURL},
		{folder: "Galaxy_S22_(Unlocked)", source: e2eSwappaURL},
	} {
		dir := filepath.Join(cfg.OutputDir, tc.folder)
		data, err := os.ReadFile(filepath.Join(dir, ProvenanceFile))
		if err != nil {
			t.Fatalf("%s: read provenance: %v", tc.folder, err)
		}
		if string(data) != tc.source {
			t.Fatalf("%s: provenance = %q", tc.folder, data)
		}
		matches, _ := filepath.Glob(filepath.Join(dir, "*_1.jpg"))
		if len(matches) != 1 {
			t.Fatalf("%s: jpg files = %v, want one *_1.jpg", tc.folder, matches)
		}
		if others, _ := filepath.Glob(filepath.Join(dir, "*_1.png")); len(others) != 0 {
			t.Fatalf("%s: intermediate png left behind: %v", tc.folder, others)
		}
	}

	// a re-run finds every image on disk and issues no image requests
	before := mock.GetCallCountInfo()
	rerun, _ := newTestRunner(t, cfg, mock)
	again := rerun.Run(context.Background(), []string{e2eEBayURL, e2eSwappaURL})
	if again != want {
		t.Fatalf("rerun stats = %+v, want %+v", again, want)
	}
	after := mock.GetCallCountInfo()
	for _, key := range []string{
		"GET https://i.ebayimg.com/images/g/m6/s-l1600.jpg",
		"GET https://swappa.com/media/listing/LABC/front.png?v=2",
	} {
		if after[key] != before[key] {
			t.Fatalf("%s requested again on rerun", key)
		}
	}
}

func TestEndToEndUnsupportedHostIsolated(t *testing.T) {
	cfg := testConfig(t)
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder("GET", e2eEBayURL, httpmock.NewStringResponder(200, e2eEBayPage))
	mock.RegisterResponder("GET", "https://i.ebayimg.com/images/g/m6/s-l1600.jpg", bytesResponder("image/jpeg", encodeImage(t, "jpeg")))

	runner, _ := newTestRunner(t, cfg, mock)
	got := runner.Run(context.Background(), []string{"https://www.amazon.com/dp/B000", e2eEBayURL})

	want := models.GlobalStats{SuccessfulListings: 1, FailedListings: 1, SuccessfulImages: 1}
	if got != want {
		t.Fatalf("stats = %+v, want %+v", got, want)
	}
	entries, err := os.ReadDir(cfg.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "Leica_M6" {
		t.Fatalf("output entries = %v, want only Leica_M6", entries)
	}
	if mock.GetCallCountInfo()["GET https://www.amazon.com/dp/B000"] != 0 {
		t.Fatalf("unsupported host must not be fetched")
	}
}

func TestEndToEndNonImageCountsFailedImage(t *testing.T) {
	cfg := testConfig(t)
	page := `<html><body>
<h1 class="x-item-title__mainTitle"><span>Canon AE-1</span></h1>
<div class="ux-image-carousel-item"><img src="https://i.ebayimg.com/images/g/ok/s-l400.jpg"></div>
<div class="ux-image-carousel-item"><img src="https://i.ebayimg.com/images/g/bad/s-l400.jpg"></div>
</body></html>`

	mock := httpmock.NewMockTransport()
	mock.RegisterResponder("GET", e2eEBayURL, httpmock.NewStringResponder(200, page))
	mock.RegisterResponder("GET", "https://i.ebayimg.com/images/g/ok/s-l1600.jpg", bytesResponder("image/jpeg", encodeImage(t, "jpeg")))
	mock.RegisterResponder("GET", "https://i.ebayimg.com/images/g/bad/s-l1600.jpg", bytesResponder("text/html; charset=utf-8", []byte("<html>blocked</html>")))

	runner, _ := newTestRunner(t, cfg, mock)
	got := runner.Run(context.Background(), []string{e2eEBayURL})

	want := models.GlobalStats{SuccessfulListings: 1, SuccessfulImages: 1, FailedImages: 1}
	if got != want {
		t.Fatalf("stats = %+v, want %+v", got, want)
	}
	dir := filepath.Join(cfg.OutputDir, "Canon_AE-1")
	if _, err := os.Stat(filepath.Join(dir, "Canon_AE-1_1.jpg")); err != nil {
		t.Fatalf("first image missing: %v", err)
	}
	if matches, _ := filepath.Glob(filepath.Join(dir, "Canon_AE-1_2.*")); len(matches) != 0 {
		t.Fatalf("rejected image written: %v", matches)
	}
}
