package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds scraper configuration.
type Config struct {
	OutputDir         string        `yaml:"output_dir"`
	Concurrency       int           `yaml:"concurrency"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax   time.Duration `yaml:"retry_backoff_max"`
	PaceMin           time.Duration `yaml:"pace_min"`
	PaceMax           time.Duration `yaml:"pace_max"`
	PageDelay         time.Duration `yaml:"page_delay"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	TLSFingerprint    bool          `yaml:"tls_fingerprint"`
	ChunkSize         int           `yaml:"chunk_size"`
	JPEGQuality       int           `yaml:"jpeg_quality"`
	DedupeMaxSize     int           `yaml:"dedupe_max_size"`
	ReportFile        string        `yaml:"report_file"`
	ReportFormat      string        `yaml:"report_format"` // csv, jsonl, or dual
	MetricsAddr       string        `yaml:"metrics_addr"`
	LogFile           string        `yaml:"log_file"`
	Verbose           bool          `yaml:"verbose"`
}

// DefaultConfig returns polite defaults for the two supported marketplaces.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:         defaultOutputDir(),
		Concurrency:       3,
		Timeout:           15 * time.Second,
		MaxRetries:        3,
		RetryBackoff:      500 * time.Millisecond,
		RetryBackoffMax:   8 * time.Second,
		PaceMin:           1 * time.Second,
		PaceMax:           3 * time.Second,
		PageDelay:         0,
		RequestsPerSecond: 0,
		TLSFingerprint:    false,
		ChunkSize:         8192,
		JPEGQuality:       95,
		DedupeMaxSize:     10000,
		ReportFile:        "",
		ReportFormat:      "jsonl",
		MetricsAddr:       "",
		LogFile:           "listing_scraper.log",
		Verbose:           false,
	}
}

func defaultOutputDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "listing_images"
	}
	return filepath.Join(home, "listing_images")
}

// Load reads a YAML file on top of the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

// RequestBudget is the longest a single logical request may take, retries included.
func (c *Config) RequestBudget() time.Duration {
	attempts := time.Duration(c.MaxRetries + 1)
	return c.Timeout*attempts + c.RetryBackoffMax*time.Duration(c.MaxRetries)
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("output dir cannot be empty")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.PaceMin < 0 || c.PaceMax < 0 {
		return fmt.Errorf("pace delay cannot be negative")
	}
	if c.PaceMin > c.PaceMax {
		return fmt.Errorf("pace min (%s) cannot exceed pace max (%s)", c.PaceMin, c.PaceMax)
	}
	if c.PageDelay < 0 {
		return fmt.Errorf("page delay cannot be negative")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality must be between 1 and 100")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.ReportFormat != "csv" && c.ReportFormat != "jsonl" && c.ReportFormat != "dual" {
		return fmt.Errorf("report format must be csv, jsonl, or dual")
	}
	return nil
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer when it is set.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// ApplyEnv overrides fields from LISTING_* environment variables.
func (c *Config) ApplyEnv() error {
	if value, ok := EnvString("LISTING_OUTPUT_DIR"); ok {
		c.OutputDir = value
	}
	if value, ok, err := EnvInt("LISTING_THREADS"); err != nil {
		return err
	} else if ok {
		c.Concurrency = value
	}
	if value, ok, err := EnvInt("LISTING_MAX_RETRIES"); err != nil {
		return err
	} else if ok {
		c.MaxRetries = value
	}
	if value, ok := EnvString("LISTING_METRICS_ADDR"); ok {
		c.MetricsAddr = value
	}
	if value, ok := EnvString("LISTING_REPORT"); ok {
		c.ReportFile = value
	}
	return nil
}
