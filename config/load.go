package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. SHOPPI_WORDLIST.
const EnvPrefix = "SHOPPI"

// Configuration keys shared by flags, environment and config files.
const (
	KeyWordlist           = "wordlist"
	KeyOutput             = "output"
	KeyFormat             = "format"
	KeyState              = "state"
	KeyBaseURL            = "base-url"
	KeyResume             = "resume"
	KeyMaxConcurrent      = "max-concurrent"
	KeyDelay              = "delay"
	KeyMaxRPS             = "max-rps"
	KeyTimeout            = "timeout"
	KeyUserAgent          = "user-agent"
	KeyPoolSize           = "connection-pool-size"
	KeyPerHost            = "connection-per-host"
	KeyRetries            = "retries"
	KeyRetryBackoff       = "retry-backoff"
	KeyRetryBackoffMax    = "retry-backoff-max"
	KeyRetryMaxElapsed    = "retry-max-elapsed"
	KeyCircuitThreshold   = "circuit-threshold"
	KeyCircuitTimeout     = "circuit-timeout"
	KeyBufferSize         = "buffer-size"
	KeyDedupeMaxSize      = "dedupe-max-size"
	KeyCheckpointInterval = "checkpoint-interval"
	KeyProgressInterval   = "progress-interval"
	KeyPostgresDSN        = "pg-dsn"
	KeyPostgresTable      = "pg-table"
	KeyMetricsAddr        = "metrics-addr"
	KeyLogLevel           = "log-level"
	KeyVerbose            = "verbose"
)

// NewViper returns a viper instance carrying the defaults and reading
// SHOPPI_* environment variables ("base-url" maps to SHOPPI_BASE_URL).
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// SetDefaults registers DefaultConfig values on v.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault(KeyWordlist, d.WordlistPath)
	v.SetDefault(KeyOutput, d.OutputFile)
	v.SetDefault(KeyFormat, d.OutputFormat)
	v.SetDefault(KeyState, d.StatePath)
	v.SetDefault(KeyBaseURL, d.BaseURL)
	v.SetDefault(KeyResume, d.Resume)
	v.SetDefault(KeyMaxConcurrent, d.MaxConcurrent)
	v.SetDefault(KeyDelay, d.Delay.String())
	v.SetDefault(KeyMaxRPS, d.MaxRPS)
	v.SetDefault(KeyTimeout, d.Timeout.String())
	v.SetDefault(KeyUserAgent, d.UserAgent)
	v.SetDefault(KeyPoolSize, d.ConnectionPoolSize)
	v.SetDefault(KeyPerHost, d.ConnectionPerHost)
	v.SetDefault(KeyRetries, d.RetryAttempts)
	v.SetDefault(KeyRetryBackoff, d.RetryBackoff.String())
	v.SetDefault(KeyRetryBackoffMax, d.RetryBackoffMax.String())
	v.SetDefault(KeyRetryMaxElapsed, d.RetryMaxElapsed.String())
	v.SetDefault(KeyCircuitThreshold, d.BreakerThreshold)
	v.SetDefault(KeyCircuitTimeout, d.BreakerCooldown.String())
	v.SetDefault(KeyBufferSize, d.BufferSize)
	v.SetDefault(KeyDedupeMaxSize, d.DedupeMaxSize)
	v.SetDefault(KeyCheckpointInterval, d.CheckpointInterval.String())
	v.SetDefault(KeyProgressInterval, d.ProgressInterval.String())
	v.SetDefault(KeyPostgresDSN, d.PostgresDSN)
	v.SetDefault(KeyPostgresTable, d.PostgresTable)
	v.SetDefault(KeyMetricsAddr, d.MetricsAddr)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyVerbose, d.Verbose)
}

// ReadFile merges an optional YAML config file into v. An empty path looks
// for ./shopprobe.yaml and silently skips it when absent.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %q: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("shopprobe")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	return nil
}

// Load materialises and validates a Config from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		WordlistPath:       v.GetString(KeyWordlist),
		OutputFile:         v.GetString(KeyOutput),
		OutputFormat:       strings.ToLower(v.GetString(KeyFormat)),
		StatePath:          v.GetString(KeyState),
		BaseURL:            v.GetString(KeyBaseURL),
		Resume:             v.GetBool(KeyResume),
		MaxConcurrent:      v.GetInt(KeyMaxConcurrent),
		MaxRPS:             v.GetFloat64(KeyMaxRPS),
		UserAgent:          v.GetString(KeyUserAgent),
		ConnectionPoolSize: v.GetInt(KeyPoolSize),
		ConnectionPerHost:  v.GetInt(KeyPerHost),
		RetryAttempts:      v.GetInt(KeyRetries),
		BreakerThreshold:   v.GetInt(KeyCircuitThreshold),
		BufferSize:         v.GetInt(KeyBufferSize),
		DedupeMaxSize:      v.GetInt(KeyDedupeMaxSize),
		PostgresDSN:        v.GetString(KeyPostgresDSN),
		PostgresTable:      v.GetString(KeyPostgresTable),
		MetricsAddr:        v.GetString(KeyMetricsAddr),
		LogLevel:           strings.ToLower(v.GetString(KeyLogLevel)),
		Verbose:            v.GetBool(KeyVerbose),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{KeyDelay, &cfg.Delay},
		{KeyTimeout, &cfg.Timeout},
		{KeyRetryBackoff, &cfg.RetryBackoff},
		{KeyRetryBackoffMax, &cfg.RetryBackoffMax},
		{KeyRetryMaxElapsed, &cfg.RetryMaxElapsed},
		{KeyCircuitTimeout, &cfg.BreakerCooldown},
		{KeyCheckpointInterval, &cfg.CheckpointInterval},
		{KeyProgressInterval, &cfg.ProgressInterval},
	}
	for _, d := range durations {
		value, err := ParseDuration(v.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = value
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseDuration accepts Go duration strings ("250ms") and bare numbers,
// which are read as seconds ("0.1" is 100ms).
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if seconds, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(seconds * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}
