package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Placeholder is substituted with the candidate in the endpoint template.
const Placeholder = "{shop}"

// Config holds shop finder configuration.
type Config struct {
	WordlistPath string
	OutputFile   string
	OutputFormat string // csv, json, or dual
	StatePath    string
	BaseURL      string
	Resume       bool

	MaxConcurrent int
	Delay         time.Duration
	MaxRPS        float64
	Timeout       time.Duration
	UserAgent     string

	ConnectionPoolSize int
	ConnectionPerHost  int

	RetryAttempts   int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	RetryMaxElapsed time.Duration

	BreakerThreshold int
	BreakerCooldown  time.Duration

	BufferSize    int
	DedupeMaxSize int

	CheckpointInterval time.Duration
	ProgressInterval   time.Duration

	PostgresDSN   string
	PostgresTable string

	MetricsAddr string
	LogLevel    string
	Verbose     bool
}

// DefaultConfig returns the defaults of the reference shop finder.
func DefaultConfig() *Config {
	return &Config{
		WordlistPath: "words.txt",
		OutputFile:   "full_catalog.csv",
		OutputFormat: "csv",
		StatePath:    "finder_state.json",
		BaseURL:      "https://shoppi.com/{shop}/products",
		Resume:       false,

		MaxConcurrent: 50,
		Delay:         100 * time.Millisecond,
		MaxRPS:        0,
		Timeout:       30 * time.Second,
		UserAgent:     "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",

		ConnectionPoolSize: 100,
		ConnectionPerHost:  10,

		RetryAttempts:   3,
		RetryBackoff:    200 * time.Millisecond,
		RetryBackoffMax: 10 * time.Second,
		RetryMaxElapsed: 60 * time.Second,

		BreakerThreshold: 5,
		BreakerCooldown:  60 * time.Second,

		BufferSize:    100,
		DedupeMaxSize: 0,

		CheckpointInterval: 30 * time.Second,
		ProgressInterval:   10 * time.Second,

		PostgresDSN:   "",
		PostgresTable: "catalog_products",

		MetricsAddr: "",
		LogLevel:    "info",
		Verbose:     false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	if n := strings.Count(c.BaseURL, Placeholder); n != 1 {
		return fmt.Errorf("base URL must contain exactly one %s placeholder, found %d", Placeholder, n)
	}
	parsedURL, err := url.Parse(strings.Replace(c.BaseURL, Placeholder, "probe", 1))
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.WordlistPath == "" {
		return fmt.Errorf("wordlist path cannot be empty")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.StatePath == "" {
		return fmt.Errorf("state path cannot be empty")
	}

	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent must be at least 1")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.MaxRPS < 0 {
		return fmt.Errorf("max rps cannot be negative")
	}
	if c.Timeout < time.Second {
		return fmt.Errorf("timeout must be at least 1 second")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.ConnectionPoolSize < 1 || c.ConnectionPerHost < 1 {
		return fmt.Errorf("connection pool sizes must be positive")
	}

	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
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
	if c.RetryMaxElapsed < 0 {
		return fmt.Errorf("retry max elapsed cannot be negative")
	}

	if c.BreakerThreshold < 1 {
		return fmt.Errorf("circuit breaker threshold must be at least 1")
	}
	if c.BreakerCooldown <= 0 {
		return fmt.Errorf("circuit breaker cooldown must be positive")
	}

	if c.BufferSize < 1 {
		return fmt.Errorf("buffer size must be at least 1")
	}
	if c.DedupeMaxSize < 0 {
		return fmt.Errorf("dedupe max size cannot be negative")
	}
	if c.CheckpointInterval < 0 {
		return fmt.Errorf("checkpoint interval cannot be negative")
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("progress interval cannot be negative")
	}
	if c.PostgresDSN != "" && c.PostgresTable == "" {
		return fmt.Errorf("postgres table cannot be empty when a DSN is set")
	}

	return nil
}

// Endpoint substitutes shop into the endpoint template verbatim.
func (c *Config) Endpoint(shop string) string {
	return strings.Replace(c.BaseURL, Placeholder, shop, 1)
}
