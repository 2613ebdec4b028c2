package downloader

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aluiziolira/go-listing-images/config"
	"github.com/aluiziolira/go-listing-images/scraper"
)

func newTestDownloader(mock *httpmock.MockTransport) (*Downloader, *scraper.Metrics) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = 0
	cfg.RetryBackoffMax = 0
	cfg.PaceMin = 0
	cfg.PaceMax = 0

	metrics := scraper.NewMetrics()
	client := scraper.NewClient(scraper.NewRetryTransport(mock, cfg, metrics), metrics, cfg.Timeout)
	return New(cfg, client, nil, metrics, nil), metrics
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 30, B: 30, A: 128})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func imageResponder(contentType string, body []byte) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewBytesResponse(200, body)
		resp.Header.Set("Content-Type", contentType)
		return resp, nil
	}
}

func TestDownloadSkipsExistingFileWithoutRequest(t *testing.T) {
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder("GET", "https://i.ebayimg.test/a.jpg", imageResponder("image/jpeg", []byte("jpeg")))
	d, metrics := newTestDownloader(mock)

	folder := t.TempDir()
	existing := filepath.Join(folder, "Camera_2.png")
	if err := os.WriteFile(existing, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	out := d.Download(context.Background(), "https://i.ebayimg.test/a.jpg", folder, "Camera", 2)
	if !out.Success || !out.Skipped {
		t.Fatalf("outcome = %+v, want skipped success", out)
	}
	if out.FinalPath != existing {
		t.Fatalf("final path = %q, want %q", out.FinalPath, existing)
	}
	if calls := mock.GetTotalCallCount(); calls != 0 {
		t.Fatalf("expected no requests, got %d", calls)
	}
	if got := testutil.ToFloat64(metrics.ImagesTotal.WithLabelValues("skipped")); got != 1 {
		t.Fatalf("skipped images metric = %v", got)
	}
}

func TestDownloadStoresJPEGAsIs(t *testing.T) {
	body := []byte{0xff, 0xd8, 0xff, 0xe0, 'r', 'a', 'w'}
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder("GET", "https://i.ebayimg.test/a.jpg", func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("Accept") != scraper.ImageAccept {
			return httpmock.NewStringResponse(406, ""), nil
		}
		if req.Header.Get("Referer") != "https://i.ebayimg.test/a.jpg" {
			return httpmock.NewStringResponse(400, ""), nil
		}
		resp := httpmock.NewBytesResponse(200, body)
		resp.Header.Set("Content-Type", "image/jpeg; charset=binary")
		return resp, nil
	})
	d, _ := newTestDownloader(mock)
	d.chunkSize = 2

	folder := t.TempDir()
	out := d.Download(context.Background(), "https://i.ebayimg.test/a.jpg", folder, "Camera", 1)
	if !out.Success || out.Skipped {
		t.Fatalf("outcome = %+v", out)
	}
	want := filepath.Join(folder, "Camera_1.jpg")
	if out.FinalPath != want {
		t.Fatalf("final path = %q, want %q", out.FinalPath, want)
	}
	got, err := os.ReadFile(want)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("stored bytes = %v, want %v", got, body)
	}
	assertNoPartFiles(t, folder)
}

func TestDownloadConvertsPNGToJPEG(t *testing.T) {
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder("GET", "https://swappa.test/media/a.png", imageResponder("image/png", pngBytes(t)))
	d, metrics := newTestDownloader(mock)

	folder := t.TempDir()
	out := d.Download(context.Background(), "https://swappa.test/media/a.png", folder, "Pixel", 1)
	if !out.Success {
		t.Fatalf("outcome = %+v", out)
	}
	if filepath.Ext(out.FinalPath) != ".jpg" {
		t.Fatalf("final path = %q, want .jpg", out.FinalPath)
	}
	if _, err := os.Stat(filepath.Join(folder, "Pixel_1.png")); !os.IsNotExist(err) {
		t.Fatalf("original png should be removed, stat err = %v", err)
	}

	f, err := os.Open(out.FinalPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		t.Fatalf("result is not a jpeg: %v", err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 4 {
		t.Fatalf("bounds = %v", img.Bounds())
	}
	if got := testutil.ToFloat64(metrics.ConversionTotal.WithLabelValues("converted")); got != 1 {
		t.Fatalf("conversion metric = %v", got)
	}
	assertNoPartFiles(t, folder)
}

func TestDownloadKeepsOriginalWhenConversionFails(t *testing.T) {
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder("GET", "https://swappa.test/media/a.webp", imageResponder("image/webp", []byte("not really webp")))
	d, metrics := newTestDownloader(mock)

	folder := t.TempDir()
	out := d.Download(context.Background(), "https://swappa.test/media/a.webp", folder, "Pixel", 3)
	if !out.Success {
		t.Fatalf("outcome = %+v", out)
	}
	if want := filepath.Join(folder, "Pixel_3.webp"); out.FinalPath != want {
		t.Fatalf("final path = %q, want %q", out.FinalPath, want)
	}
	if _, err := os.Stat(filepath.Join(folder, "Pixel_3.jpg")); !os.IsNotExist(err) {
		t.Fatalf("no jpg should exist, stat err = %v", err)
	}
	if got := testutil.ToFloat64(metrics.ConversionTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed conversion metric = %v", got)
	}
}

func TestDownloadKeepsJPEGWhenOriginalCannotBeRemoved(t *testing.T) {
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder("GET", "https://swappa.test/media/b.png", imageResponder("image/png", pngBytes(t)))
	d, metrics := newTestDownloader(mock)

	removeFile = func(string) error { return os.ErrPermission }
	t.Cleanup(func() { removeFile = os.Remove })

	folder := t.TempDir()
	out := d.Download(context.Background(), "https://swappa.test/media/b.png", folder, "Pixel", 2)
	if !out.Success {
		t.Fatalf("outcome = %+v", out)
	}
	if want := filepath.Join(folder, "Pixel_2.jpg"); out.FinalPath != want {
		t.Fatalf("final path = %q, want %q", out.FinalPath, want)
	}
	if _, err := os.Stat(out.FinalPath); err != nil {
		t.Fatalf("converted jpg missing: %v", err)
	}
	if got := testutil.ToFloat64(metrics.ConversionTotal.WithLabelValues("converted")); got != 1 {
		t.Fatalf("conversion metric = %v", got)
	}
	if got := testutil.ToFloat64(metrics.ConversionTotal.WithLabelValues("failed")); got != 0 {
		t.Fatalf("failed conversion metric = %v", got)
	}
}

func TestDownloadAbortsStalledBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", "4096")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte{0xff, 0xd8})
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.MaxRetries = 0
	cfg.PaceMin = 0
	cfg.PaceMax = 0
	metrics := scraper.NewMetrics()
	client := scraper.NewClient(scraper.NewRetryTransport(nil, cfg, metrics), metrics, 100*time.Millisecond)
	d := New(cfg, client, nil, metrics, nil)

	folder := t.TempDir()
	start := time.Now()
	out := d.Download(context.Background(), srv.URL+"/stall.jpg", folder, "Camera", 1)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("stalled download took %s", elapsed)
	}
	if out.Success {
		t.Fatalf("expected failure, got %+v", out)
	}
	if !strings.HasPrefix(out.FailureReason, "write:") || !strings.Contains(out.FailureReason, "timeout") {
		t.Fatalf("failure reason = %q", out.FailureReason)
	}
	if _, err := os.Stat(filepath.Join(folder, "Camera_1.jpg")); !os.IsNotExist(err) {
		t.Fatalf("partial image kept as final file, stat err = %v", err)
	}
	assertNoPartFiles(t, folder)
}

func TestDownloadRejectsNonImage(t *testing.T) {
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder("GET", "https://i.ebayimg.test/a.jpg", imageResponder("text/html", []byte("<html></html>")))
	d, metrics := newTestDownloader(mock)

	folder := t.TempDir()
	out := d.Download(context.Background(), "https://i.ebayimg.test/a.jpg", folder, "Camera", 1)
	if out.Success {
		t.Fatalf("expected failure, got %+v", out)
	}
	if !strings.Contains(out.FailureReason, "not an image") {
		t.Fatalf("failure reason = %q", out.FailureReason)
	}
	entries, _ := os.ReadDir(folder)
	if len(entries) != 0 {
		t.Fatalf("expected empty folder, found %d entries", len(entries))
	}
	if got := testutil.ToFloat64(metrics.ImagesTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed images metric = %v", got)
	}
}

func TestDownloadHTTPFailure(t *testing.T) {
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder("GET", "https://i.ebayimg.test/gone.jpg", httpmock.NewStringResponder(404, ""))
	d, _ := newTestDownloader(mock)

	out := d.Download(context.Background(), "https://i.ebayimg.test/gone.jpg", t.TempDir(), "Camera", 1)
	if out.Success || out.FailureReason == "" {
		t.Fatalf("expected failure with reason, got %+v", out)
	}
	if calls := mock.GetTotalCallCount(); calls != 1 {
		t.Fatalf("404 should not be retried, got %d calls", calls)
	}
}

func TestDownloadCancelledContext(t *testing.T) {
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder("GET", "https://i.ebayimg.test/a.jpg", imageResponder("image/jpeg", []byte("jpeg")))
	d, _ := newTestDownloader(mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := d.Download(ctx, "https://i.ebayimg.test/a.jpg", t.TempDir(), "Camera", 1)
	if out.Success {
		t.Fatalf("expected failure on cancelled context")
	}
	if calls := mock.GetTotalCallCount(); calls != 0 {
		t.Fatalf("expected no requests, got %d", calls)
	}
}

func TestPaceDelayWithinBounds(t *testing.T) {
	d := &Downloader{paceMin: 100, paceMax: 300}
	for i := 0; i < 500; i++ {
		if got := d.paceDelay(); got < 100 || got >= 300 {
			t.Fatalf("pace delay %v outside [100, 300)", got)
		}
	}
	d.paceMax = d.paceMin
	if got := d.paceDelay(); got != 100 {
		t.Fatalf("equal bounds should yield min, got %v", got)
	}
}

func TestToRGBKeepsStraightColor(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 0})

	got := toRGB(src).At(0, 0).(color.RGBA)
	want := color.RGBA{R: 200, G: 100, B: 50, A: 0xff}
	if got != want {
		t.Fatalf("pixel = %v, want %v", got, want)
	}

	ycc := image.NewYCbCr(image.Rect(0, 0, 2, 2), image.YCbCrSubsampleRatio420)
	if toRGB(ycc) != image.Image(ycc) {
		t.Fatalf("YCbCr images should pass through unchanged")
	}
}

func assertNoPartFiles(t *testing.T, folder string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(folder, "*.part"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Fatalf("leftover partial files: %v", matches)
	}
}
