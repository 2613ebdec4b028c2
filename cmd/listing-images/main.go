package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/aluiziolira/go-listing-images/config"
	"github.com/aluiziolira/go-listing-images/downloader"
	"github.com/aluiziolira/go-listing-images/models"
	"github.com/aluiziolira/go-listing-images/parser"
	"github.com/aluiziolira/go-listing-images/pipeline"
	"github.com/aluiziolira/go-listing-images/scraper"
)

var errNoURLs = errors.New("no URLs provided")

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	defaults := config.DefaultConfig()
	return &cli.App{
		Name:  "listing-images",
		Usage: "download every image from eBay and Swappa listings",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "url", Aliases: []string{"u"}, Usage: "listing URL (repeatable)"},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "file with one listing URL per line"},
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file"},
			&cli.IntFlag{Name: "threads", Aliases: []string{"t"}, Value: defaults.Concurrency, Usage: "listings processed concurrently"},
			&cli.StringFlag{Name: "output-dir", Aliases: []string{"o"}, Value: defaults.OutputDir, Usage: "base directory for listing folders"},
			&cli.IntFlag{Name: "max-retries", Value: defaults.MaxRetries, Usage: "retry attempts per request"},
			&cli.Float64Flag{Name: "rps", Usage: "global request rate cap (0 = unlimited)"},
			&cli.BoolFlag{Name: "fingerprint", Usage: "use a Chrome TLS fingerprint"},
			&cli.StringFlag{Name: "report", Usage: "write a per-listing report to this file"},
			&cli.StringFlag{Name: "format", Value: defaults.ReportFormat, Usage: "report format: csv, jsonl, or dual"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Prometheus metrics listen address (e.g. :9090)"},
			&cli.StringFlag{Name: "log-file", Value: defaults.LogFile, Usage: "also write logs to this file (empty to disable)"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "enable debug logging"},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg.Verbose, cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	urls, err := collectURLs(c.StringSlice("url"), c.String("file"))
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return errNoURLs
	}
	for _, u := range urls {
		if err := parser.ValidateListingURL(u); err != nil {
			logger.Warn("listing will fail", slog.String("url", u), slog.Any("error", err))
		}
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	metrics := scraper.NewMetrics()
	rt := scraper.NewRetryTransport(nil, cfg, metrics)
	pages, err := scraper.NewPageFetcher(cfg, rt, nil, metrics)
	if err != nil {
		return fmt.Errorf("initialising page fetcher: %w", err)
	}
	images := downloader.New(cfg, scraper.NewClient(rt, metrics, cfg.Timeout), nil, metrics, logger)

	var writer pipeline.OutputWriter
	if cfg.ReportFile != "" {
		writer, err = pipeline.NewReportWriter(cfg.ReportFormat, cfg.ReportFile)
		if err != nil {
			return fmt.Errorf("creating report writer: %w", err)
		}
	}

	stats := pipeline.NewStats()
	processor := pipeline.NewProcessor(cfg, pages, images, stats, metrics, nil, logger)
	runner, err := pipeline.NewRunner(cfg, processor, stats, writer, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsServer := startMetricsServer(cfg.MetricsAddr, metrics)

	logger.Info("starting",
		slog.Int("listings", len(urls)),
		slog.Int("workers", cfg.Concurrency),
		slog.String("output_dir", cfg.OutputDir),
	)
	startTime := time.Now()
	result := runner.Run(ctx, urls)
	interrupted := ctx.Err() != nil

	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("close report", slog.Any("error", err))
		} else if err := writer.Validate(); err != nil {
			logger.Error("report validation failed", slog.Any("error", err))
		}
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(os.Stdout, result, time.Since(startTime), cfg.OutputDir, interrupted)
	return nil
}

// buildConfig layers defaults, the optional YAML file, LISTING_* variables and
// explicitly set flags, in that order.
func buildConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if c.IsSet("threads") {
		cfg.Concurrency = c.Int("threads")
	}
	if c.IsSet("output-dir") {
		cfg.OutputDir = c.String("output-dir")
	}
	if c.IsSet("max-retries") {
		cfg.MaxRetries = c.Int("max-retries")
	}
	if c.IsSet("rps") {
		cfg.RequestsPerSecond = c.Float64("rps")
	}
	if c.IsSet("fingerprint") {
		cfg.TLSFingerprint = c.Bool("fingerprint")
	}
	if c.IsSet("report") {
		cfg.ReportFile = c.String("report")
	}
	if c.IsSet("format") {
		cfg.ReportFormat = strings.ToLower(c.String("format"))
	}
	if c.IsSet("metrics-addr") {
		cfg.MetricsAddr = c.String("metrics-addr")
	}
	if c.IsSet("log-file") {
		cfg.LogFile = c.String("log-file")
	}
	if c.IsSet("verbose") {
		cfg.Verbose = c.Bool("verbose")
	}
	return cfg, nil
}

func collectURLs(direct []string, file string) ([]string, error) {
	var urls []string
	for _, u := range direct {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if file == "" {
		return urls, nil
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open url file: %w", err)
	}
	defer f.Close()

	fromFile, err := parser.ReadURLList(f)
	if err != nil {
		return nil, fmt.Errorf("read url file %q: %w", file, err)
	}
	return append(urls, fromFile...), nil
}

func startMetricsServer(addr string, metrics *scraper.Metrics) *http.Server {
	if addr == "" || metrics == nil {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func printSummary(w io.Writer, stats models.GlobalStats, duration time.Duration, outputDir string, interrupted bool) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	if interrupted {
		fmt.Fprintln(w, "Interrupted")
	} else {
		fmt.Fprintln(w, "Download complete")
	}
	fmt.Fprintf(w, "  Successful listings: %d\n", stats.SuccessfulListings)
	fmt.Fprintf(w, "  Failed listings:     %d\n", stats.FailedListings)
	fmt.Fprintf(w, "  Successful images:   %d\n", stats.SuccessfulImages)
	fmt.Fprintf(w, "  Failed images:       %d\n", stats.FailedImages)
	fmt.Fprintf(w, "  Duration:            %v\n", duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Output directory:    %s\n", outputDir)
	fmt.Fprintln(w, separator)
}

// newLogger writes to stdout, and to logFile as well when it is set.
func newLogger(verbose bool, logFile string) (*slog.Logger, func(), error) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
	opts := &slog.HandlerOptions{Level: level}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closeFn = func() { f.Close() }
	}

	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler), closeFn, nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
