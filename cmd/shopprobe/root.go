package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/idealinvestse/shoppi-shop-finder/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCommand() *cobra.Command {
	v := config.NewViper()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "shopprobe",
		Short: "Probe candidate shop names and harvest live catalogs",
		Long: `shopprobe reads candidate shop names from a wordlist, probes each one
against the catalog endpoint with bounded concurrency, and writes the products
of every live shop to CSV (optionally JSONL and PostgreSQL). Progress is kept
in a state file so an interrupted run can be resumed with --resume.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.ReadFile(v, cfgFile); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return run(cmd.Context(), cfg, logger, cmd.OutOrStdout())
		},
	}

	d := config.DefaultConfig()
	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ./shopprobe.yaml if present)")
	flags.StringP(config.KeyWordlist, "w", d.WordlistPath, "wordlist with one candidate per line")
	flags.StringP(config.KeyOutput, "o", d.OutputFile, "catalog output file")
	flags.String(config.KeyFormat, d.OutputFormat, "output format: csv, json, or dual")
	flags.String(config.KeyState, d.StatePath, "state file tracking processed candidates")
	flags.String(config.KeyBaseURL, d.BaseURL, "endpoint template containing "+config.Placeholder)
	flags.BoolP(config.KeyResume, "r", d.Resume, "skip candidates recorded in the state file and append to the output")
	flags.IntP(config.KeyMaxConcurrent, "c", d.MaxConcurrent, "maximum concurrent probes")
	flags.String(config.KeyDelay, d.Delay.String(), "delay before each request (duration or seconds)")
	flags.Float64(config.KeyMaxRPS, d.MaxRPS, "global requests per second ceiling (0 disables)")
	flags.String(config.KeyTimeout, d.Timeout.String(), "per-request timeout (duration or seconds)")
	flags.String(config.KeyUserAgent, d.UserAgent, "User-Agent header")
	flags.Int(config.KeyPoolSize, d.ConnectionPoolSize, "maximum connections in the HTTP pool")
	flags.Int(config.KeyPerHost, d.ConnectionPerHost, "maximum idle connections per host")
	flags.Int(config.KeyRetries, d.RetryAttempts, "attempts per candidate on transient failures")
	flags.String(config.KeyRetryBackoff, d.RetryBackoff.String(), "initial retry backoff")
	flags.String(config.KeyRetryBackoffMax, d.RetryBackoffMax.String(), "maximum retry backoff")
	flags.String(config.KeyRetryMaxElapsed, d.RetryMaxElapsed.String(), "maximum time spent retrying one candidate (0 disables)")
	flags.Int(config.KeyCircuitThreshold, d.BreakerThreshold, "consecutive transient failures that open the circuit breaker")
	flags.String(config.KeyCircuitTimeout, d.BreakerCooldown.String(), "circuit breaker cooldown")
	flags.Int(config.KeyBufferSize, d.BufferSize, "records buffered before a flush")
	flags.Int(config.KeyDedupeMaxSize, d.DedupeMaxSize, "recent records remembered for duplicate suppression (0 disables)")
	flags.String(config.KeyCheckpointInterval, d.CheckpointInterval.String(), "interval between state checkpoints (0 disables)")
	flags.String(config.KeyProgressInterval, d.ProgressInterval.String(), "interval between progress logs (0 disables)")
	flags.String(config.KeyPostgresDSN, d.PostgresDSN, "optional PostgreSQL DSN for a catalog table")
	flags.String(config.KeyPostgresTable, d.PostgresTable, "PostgreSQL catalog table")
	flags.String(config.KeyMetricsAddr, d.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	flags.String(config.KeyLogLevel, d.LogLevel, "log level: debug, info, warn, error")
	flags.BoolP(config.KeyVerbose, "v", d.Verbose, "enable debug logging")

	if err := v.BindPFlags(flags); err != nil {
		panic(fmt.Sprintf("bind flags: %v", err))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "shopprobe version %s\n", version)
		},
	})

	return cmd
}
