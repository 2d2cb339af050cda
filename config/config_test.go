package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "zero concurrency",
			mutate: func(cfg *Config) {
				cfg.MaxConcurrent = 0
			},
			wantErr: "max concurrent",
		},
		{
			name: "negative delay",
			mutate: func(cfg *Config) {
				cfg.Delay = -1 * time.Millisecond
			},
			wantErr: "delay",
		},
		{
			name: "sub-second timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = 500 * time.Millisecond
			},
			wantErr: "timeout",
		},
		{
			name: "missing placeholder",
			mutate: func(cfg *Config) {
				cfg.BaseURL = "https://shoppi.com/products"
			},
			wantErr: "placeholder",
		},
		{
			name: "two placeholders",
			mutate: func(cfg *Config) {
				cfg.BaseURL = "https://shoppi.com/{shop}/{shop}"
			},
			wantErr: "placeholder",
		},
		{
			name: "url without host",
			mutate: func(cfg *Config) {
				cfg.BaseURL = "/{shop}/products"
			},
			wantErr: "host",
		},
		{
			name: "unknown format",
			mutate: func(cfg *Config) {
				cfg.OutputFormat = "xml"
			},
			wantErr: "output format",
		},
		{
			name: "zero retries",
			mutate: func(cfg *Config) {
				cfg.RetryAttempts = 0
			},
			wantErr: "retry attempts",
		},
		{
			name: "backoff above max",
			mutate: func(cfg *Config) {
				cfg.RetryBackoff = time.Minute
				cfg.RetryBackoffMax = time.Second
			},
			wantErr: "retry backoff",
		},
		{
			name: "zero breaker threshold",
			mutate: func(cfg *Config) {
				cfg.BreakerThreshold = 0
			},
			wantErr: "threshold",
		},
		{
			name: "zero breaker cooldown",
			mutate: func(cfg *Config) {
				cfg.BreakerCooldown = 0
			},
			wantErr: "cooldown",
		},
		{
			name: "zero buffer",
			mutate: func(cfg *Config) {
				cfg.BufferSize = 0
			},
			wantErr: "buffer size",
		},
		{
			name: "dsn without table",
			mutate: func(cfg *Config) {
				cfg.PostgresDSN = "postgres://localhost/catalog"
				cfg.PostgresTable = ""
			},
			wantErr: "postgres table",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "https://shoppi.com/alpha/products", cfg.Endpoint("alpha"))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("SHOPPI_WORDLIST", "shops.txt")
	t.Setenv("SHOPPI_OUTPUT", "results.csv")
	t.Setenv("SHOPPI_BASE_URL", "https://example.test/api/{shop}/products")
	t.Setenv("SHOPPI_MAX_CONCURRENT", "7")
	t.Setenv("SHOPPI_DELAY", "0.05")
	t.Setenv("SHOPPI_TIMEOUT", "15")

	cfg, err := Load(NewViper())
	require.NoError(t, err)
	assert.Equal(t, "shops.txt", cfg.WordlistPath)
	assert.Equal(t, "results.csv", cfg.OutputFile)
	assert.Equal(t, "https://example.test/api/{shop}/products", cfg.BaseURL)
	assert.Equal(t, 7, cfg.MaxConcurrent)
	assert.Equal(t, 50*time.Millisecond, cfg.Delay)
	assert.Equal(t, 15*time.Second, cfg.Timeout)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	v := NewViper()
	v.Set(KeyMaxConcurrent, 0)
	_, err := Load(v)
	require.Error(t, err)

	v = NewViper()
	v.Set(KeyDelay, "soon")
	_, err = Load(v)
	require.ErrorContains(t, err, "delay")
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "finder.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max-concurrent: 12\ncircuit-timeout: 90s\nresume: true\n"), 0o644))

	v := NewViper()
	require.NoError(t, ReadFile(v, path))
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.MaxConcurrent)
	assert.Equal(t, 90*time.Second, cfg.BreakerCooldown)
	assert.True(t, cfg.Resume)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{input: "", want: 0},
		{input: "30", want: 30 * time.Second},
		{input: "0.1", want: 100 * time.Millisecond},
		{input: "250ms", want: 250 * time.Millisecond},
		{input: "1m", want: time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDuration(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
