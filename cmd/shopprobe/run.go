package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/idealinvestse/shoppi-shop-finder/config"
	"github.com/idealinvestse/shoppi-shop-finder/ledger"
	"github.com/idealinvestse/shoppi-shop-finder/models"
	"github.com/idealinvestse/shoppi-shop-finder/pipeline"
	"github.com/idealinvestse/shoppi-shop-finder/scraper"
	"github.com/idealinvestse/shoppi-shop-finder/wordlist"
)

const postgresConnectTimeout = 10 * time.Second

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// A second signal falls through to the default handler.
			stop()
			logger.Info("shutdown signal received, waiting for in-flight probes to finish")
		case <-done:
		}
	}()

	candidates, err := wordlist.Load(cfg.WordlistPath)
	if err != nil {
		return fmt.Errorf("load wordlist: %w", err)
	}
	if len(candidates) == 0 {
		logger.Warn("wordlist is empty", zap.String("path", cfg.WordlistPath))
	}

	book := ledger.New(cfg.StatePath, logger)
	if cfg.Resume {
		n, err := book.Load()
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		logger.Info("resuming", zap.Int("already_processed", n), zap.String("state", cfg.StatePath))
	}

	writer, err := createWriter(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create writer: %w", err)
	}

	p, err := pipeline.NewPipeline(writer, cfg, logger)
	if err != nil {
		writer.Close()
		return err
	}

	s, err := scraper.NewScraper(cfg, nil, book, logger)
	if err != nil {
		p.Close()
		return fmt.Errorf("initialise scraper: %w", err)
	}

	metricsServer := startMetricsServer(cfg.MetricsAddr, s.Metrics, logger)

	result, runErr := s.Run(ctx, candidates, p)
	validateErr := writer.Validate()
	if validateErr != nil {
		validateErr = fmt.Errorf("output validation: %w", validateErr)
	}
	closeErr := p.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("pipeline shutdown: %w", closeErr)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", zap.Error(err))
		}
		cancel()
	}

	if result != nil {
		result.Validation = p.ValidationErrors()
		printSummary(out, result, cfg)
	}
	return errors.Join(runErr, validateErr, closeErr)
}

func createWriter(ctx context.Context, cfg *config.Config) (pipeline.OutputWriter, error) {
	var primary pipeline.OutputWriter
	var err error
	switch cfg.OutputFormat {
	case "csv":
		primary, err = pipeline.NewCSVWriter(cfg.OutputFile, cfg.Resume)
	case "json":
		primary, err = pipeline.NewJSONWriter(cfg.OutputFile, cfg.Resume)
	case "dual":
		primary, err = pipeline.NewDualWriter(cfg.OutputFile, cfg.Resume)
	default:
		return nil, fmt.Errorf("unsupported format: %s", cfg.OutputFormat)
	}
	if err != nil {
		return nil, err
	}

	if cfg.PostgresDSN == "" {
		return primary, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, postgresConnectTimeout)
	defer cancel()
	pg, err := pipeline.NewPostgresWriter(connectCtx, cfg.PostgresDSN, cfg.PostgresTable)
	if err != nil {
		primary.Close()
		return nil, err
	}
	return pipeline.NewMultiWriter(primary, pg), nil
}

func startMetricsServer(addr string, metrics *scraper.Metrics, logger *zap.Logger) *http.Server {
	if addr == "" || metrics == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("metrics server enabled", zap.String("addr", addr))
	return server
}

func printSummary(out io.Writer, result *models.ScraperResult, cfg *config.Config) {
	duration := result.EndTime.Sub(result.StartTime)
	rate := 0.0
	if duration.Seconds() > 0 {
		rate = float64(result.Checked) / duration.Seconds()
	}

	separator := "--------------------------------------------------"
	fmt.Fprintln(out, "\n"+separator)
	if result.Interrupted {
		fmt.Fprintln(out, "Probe interrupted (resume with --resume)")
	} else {
		fmt.Fprintln(out, "Probe complete")
	}
	fmt.Fprintf(out, "  Candidates:    %d\n", result.Candidates)
	fmt.Fprintf(out, "  Checked:       %d\n", result.Checked)
	fmt.Fprintf(out, "  Skipped:       %d\n", result.Skipped)
	fmt.Fprintf(out, "  Live shops:    %d\n", result.Found)
	fmt.Fprintf(out, "  Not found:     %d\n", result.NotFound)
	fmt.Fprintf(out, "  Products:      %d\n", result.RecordsFound)
	fmt.Fprintf(out, "  Errors:        %d\n", result.ErrorCount())
	for _, kind := range sortedKeys(result.ErrorsByType) {
		fmt.Fprintf(out, "    %-13s %d\n", kind+":", result.ErrorsByType[kind])
	}
	if result.WriteErrors > 0 {
		fmt.Fprintf(out, "  Write errors:  %d\n", result.WriteErrors)
	}
	if len(result.Validation) > 0 {
		fmt.Fprintf(out, "  Validation:    %v\n", result.Validation)
	}
	fmt.Fprintf(out, "  Requests:      %d\n", result.RequestCount)
	fmt.Fprintf(out, "  Retries:       %d\n", result.RetryCount)
	fmt.Fprintf(out, "  Breaker:       %s\n", result.BreakerState)
	fmt.Fprintf(out, "  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  Checks/sec:    %.2f\n", rate)
	fmt.Fprintf(out, "  Output file:   %s\n", cfg.OutputFile)
	fmt.Fprintf(out, "  State file:    %s\n", cfg.StatePath)
	fmt.Fprintln(out, separator)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
