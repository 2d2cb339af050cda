package scraper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/idealinvestse/shoppi-shop-finder/config"
	"github.com/idealinvestse/shoppi-shop-finder/ledger"
	"github.com/idealinvestse/shoppi-shop-finder/models"
	"github.com/idealinvestse/shoppi-shop-finder/parser"
	"github.com/idealinvestse/shoppi-shop-finder/wordlist"
)

// RecordSink receives the records of live shops.
type RecordSink interface {
	Process(records ...*models.ProductRecord) error
	Flush() error
}

// Scraper probes candidate shop names against the endpoint template with
// bounded concurrency, retries, and a shared circuit breaker.
type Scraper struct {
	cfg       *config.Config
	transport Transport
	breaker   *Breaker
	retry     *RetryPolicy
	stats     *Stats
	ledger    *ledger.Ledger
	limiter   *rate.Limiter
	logger    *zap.Logger
	now       func() time.Time
	Metrics   *Metrics

	requestCount int64

	// durableMu guards the shops whose records are known to be on disk.
	durableMu sync.Mutex
	durable   map[string]struct{}
	found     map[string]struct{}
}

// NewScraper wires an engine from cfg. A nil transport selects the colly
// transport; a nil ledger starts an empty one at cfg.StatePath.
func NewScraper(cfg *config.Config, transport Transport, book *ledger.Ledger, logger *zap.Logger) (*Scraper, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if transport == nil {
		transport = NewCollyTransport(cfg)
	}
	if book == nil {
		book = ledger.New(cfg.StatePath, logger)
	}

	s := &Scraper{
		cfg:       cfg,
		transport: transport,
		breaker:   NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		retry:     NewRetryPolicy(cfg),
		stats:     NewStats(),
		ledger:    book,
		logger:    logger,
		now:       time.Now,
		Metrics:   NewMetrics(),
		durable:   make(map[string]struct{}),
		found:     make(map[string]struct{}),
	}
	if cfg.MaxRPS > 0 {
		burst := int(cfg.MaxRPS)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRPS), burst)
	}

	s.breaker.SetFailurePredicate(isTransient)
	s.breaker.OnStateChange(func(from, to BreakerState) {
		s.Metrics.SetBreakerState(to)
		s.logger.Warn("circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	})
	s.retry.OnRetry = func(err error, wait time.Duration) {
		s.stats.IncRetries()
		s.Metrics.IncRetries()
		s.logger.Debug("retrying probe",
			zap.String("error_type", errorTypeLabel(err)),
			zap.Duration("wait", wait),
		)
	}
	return s, nil
}

// Stats exposes the live counters.
func (s *Scraper) Stats() *Stats {
	return s.stats
}

// Breaker exposes the shared circuit breaker.
func (s *Scraper) Breaker() *Breaker {
	return s.breaker
}

// Run probes every candidate not already in the ledger and forwards found
// records to sink. Cancelling ctx stops admission; probes already admitted
// finish, then the sink is flushed and the ledger persisted.
func (s *Scraper) Run(ctx context.Context, candidates []string, sink RecordSink) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if sink == nil {
		return nil, errors.New("record sink is required")
	}

	start := time.Now()
	candidates = wordlist.Dedupe(candidates)
	s.resetDurable()
	probeCtx := context.WithoutCancel(ctx)
	slots := semaphore.NewWeighted(int64(s.cfg.MaxConcurrent))

	s.logger.Info("probe run starting",
		zap.Int("candidates", len(candidates)),
		zap.Int("already_processed", s.ledger.Len()),
		zap.Int("max_concurrent", s.cfg.MaxConcurrent),
		zap.String("endpoint", s.cfg.BaseURL),
	)

	stopBackground := s.startBackground(sink)

	var wg sync.WaitGroup
	for _, shop := range candidates {
		if ctx.Err() != nil {
			break
		}
		if s.ledger.Contains(shop) {
			s.stats.IncSkipped()
			continue
		}
		if err := slots.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(shop string) {
			defer wg.Done()
			defer slots.Release(1)
			s.handle(ctx, probeCtx, shop, sink)
		}(shop)
	}
	wg.Wait()
	stopBackground()

	interrupted := ctx.Err() != nil
	if interrupted {
		s.logger.Warn("shutdown requested, in-flight probes drained")
	}

	var errs []error
	if err := sink.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("final flush: %w", err))
		shops := s.durableSnapshot()
		s.logger.Error("final flush failed, saving state without unflushed shops",
			zap.Int("saved", len(shops)),
			zap.Int("marked", s.ledger.Len()),
			zap.Error(err),
		)
		if err := s.ledger.SaveSnapshot(shops); err != nil {
			errs = append(errs, fmt.Errorf("save state: %w", err))
		}
	} else if err := s.ledger.Save(); err != nil {
		s.logger.Error("final state save failed", zap.Error(err))
		errs = append(errs, fmt.Errorf("save state: %w", err))
	}

	result := s.result(start, len(candidates), interrupted)
	s.logger.Info("probe run finished",
		zap.Int("checked", result.Checked),
		zap.Int("found", result.Found),
		zap.Int("records", result.RecordsFound),
		zap.Int("errors", result.ErrorCount()),
		zap.Bool("interrupted", interrupted),
		zap.Duration("elapsed", result.EndTime.Sub(result.StartTime)),
	)
	return result, errors.Join(errs...)
}

// handle is the per-candidate boundary: a panic is recorded as an "other"
// error and never escapes the worker.
func (s *Scraper) handle(ctx, probeCtx context.Context, shop string, sink RecordSink) {
	s.Metrics.AddInFlight(1)
	defer s.Metrics.AddInFlight(-1)

	recorded := false
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("probe panicked",
				zap.String("shop", shop),
				zap.Any("panic", r),
			)
			if !recorded {
				s.ledger.MarkDone(shop)
				s.record(models.FatalError(shop, "other", fmt.Errorf("panic: %v", r)))
			}
		}
	}()

	if !s.pace(ctx) {
		return
	}

	outcome := s.probe(probeCtx, shop)
	if outcome.Kind == models.OutcomeFound {
		s.markFound(shop)
		if err := sink.Process(outcome.Records...); err != nil {
			s.stats.IncWriteErrors()
			s.logger.Warn("write failed",
				zap.String("shop", shop),
				zap.Int("records", len(outcome.Records)),
				zap.Error(err),
			)
		}
	}

	s.ledger.MarkDone(shop)
	recorded = true
	s.record(outcome)
}

// pace applies the per-worker delay and the optional global rate ceiling.
// It reports false when ctx is cancelled first.
func (s *Scraper) pace(ctx context.Context) bool {
	if d := s.cfg.Delay; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
		}
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return false
		}
	}
	return true
}

// probe runs retries around the breaker around one HTTP attempt, then maps
// the result to an outcome. ctx is detached from run cancellation, so an
// admitted probe spends its whole retry budget.
func (s *Scraper) probe(ctx context.Context, shop string) models.ProbeOutcome {
	url := s.cfg.Endpoint(shop)

	var resp *Response
	attempts, err := s.retry.Do(ctx, func() error {
		return s.breaker.Execute(func() error {
			r, err := s.fetch(ctx, url)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
	})

	if err != nil {
		label := errorTypeLabel(err)
		s.logger.Debug("probe failed",
			zap.String("shop", shop),
			zap.String("error_type", label),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		switch {
		case label == "not_found":
			return models.NotFound(shop)
		case isTransient(err) || label == "breaker_open":
			return models.TransientError(shop, label, err)
		default:
			return models.FatalError(shop, label, err)
		}
	}

	records, dropped, err := parser.ParseProducts(shop, resp.Body, s.now())
	if dropped > 0 {
		s.logger.Debug("invalid products dropped",
			zap.String("shop", shop),
			zap.Int("dropped", dropped),
		)
	}
	if err != nil {
		return models.FatalError(shop, "malformed", classifyError(err, 0))
	}
	if len(records) == 0 {
		return models.NotFound(shop)
	}
	return models.Found(shop, records)
}

func (s *Scraper) fetch(ctx context.Context, url string) (*Response, error) {
	atomic.AddInt64(&s.requestCount, 1)
	start := time.Now()
	resp, err := s.transport.Get(ctx, url)
	s.Metrics.ObserveDuration(time.Since(start))
	if err != nil {
		s.Metrics.IncRequest("error")
		return nil, classifyError(err, 0)
	}
	s.Metrics.IncRequest(statusClass(resp.StatusCode))
	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Scraper) record(outcome models.ProbeOutcome) {
	s.stats.Record(outcome)
	s.Metrics.IncProbe(outcome.Kind.String())
	switch outcome.Kind {
	case models.OutcomeFound:
		s.Metrics.AddRecords(len(outcome.Records))
		s.logger.Info("shop found",
			zap.String("shop", outcome.Shop),
			zap.Int("products", len(outcome.Records)),
		)
	case models.OutcomeTransientError, models.OutcomeFatalError:
		s.Metrics.IncError(outcome.ErrorKind)
	}
}

// checkpoint makes every candidate in the ledger snapshot durable: the
// snapshot is taken first, the sink flushed, then the snapshot persisted.
func (s *Scraper) checkpoint(sink RecordSink) error {
	shops := s.ledger.Snapshot()
	if err := sink.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if err := s.ledger.SaveSnapshot(shops); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	s.markDurable(shops)
	return nil
}

func (s *Scraper) resetDurable() {
	s.durableMu.Lock()
	defer s.durableMu.Unlock()
	s.found = make(map[string]struct{})
	s.durable = make(map[string]struct{})
}

// markFound is called before the shop enters the ledger, so any snapshot
// containing it was taken after its records reached the sink.
func (s *Scraper) markFound(shop string) {
	s.durableMu.Lock()
	s.found[shop] = struct{}{}
	s.durableMu.Unlock()
}

func (s *Scraper) markDurable(shops []string) {
	s.durableMu.Lock()
	defer s.durableMu.Unlock()
	for _, shop := range shops {
		s.durable[shop] = struct{}{}
	}
}

// durableSnapshot returns the ledger minus Found shops of this run whose
// records no successful checkpoint has flushed.
func (s *Scraper) durableSnapshot() []string {
	shops := s.ledger.Snapshot()
	s.durableMu.Lock()
	defer s.durableMu.Unlock()

	out := shops[:0]
	for _, shop := range shops {
		_, found := s.found[shop]
		_, durable := s.durable[shop]
		if !found || durable {
			out = append(out, shop)
		}
	}
	return out
}

func (s *Scraper) startBackground(sink RecordSink) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup

	if interval := s.cfg.CheckpointInterval; interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := s.checkpoint(sink); err != nil {
						s.logger.Warn("checkpoint failed", zap.Error(err))
					}
				}
			}
		}()
	}

	if interval := s.cfg.ProgressInterval; interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					s.logProgress()
				}
			}
		}()
	}

	return func() {
		close(done)
		wg.Wait()
	}
}

func (s *Scraper) logProgress() {
	snap := s.stats.Snapshot()
	s.logger.Info("progress",
		zap.Int("checked", snap.Checked),
		zap.Int("found", snap.Found),
		zap.Int("not_found", snap.NotFound),
		zap.Int("records", snap.RecordsFound),
		zap.Int("errors", snap.ErrorCount()),
		zap.Int("skipped", snap.Skipped),
		zap.String("breaker", s.breaker.State().String()),
	)
}

func (s *Scraper) result(start time.Time, candidates int, interrupted bool) *models.ScraperResult {
	snap := s.stats.Snapshot()
	return &models.ScraperResult{
		StartTime:     start,
		EndTime:       time.Now(),
		Candidates:    candidates,
		Checked:       snap.Checked,
		Found:         snap.Found,
		NotFound:      snap.NotFound,
		RecordsFound:  snap.RecordsFound,
		Skipped:       snap.Skipped,
		WriteErrors:   snap.WriteErrors,
		ErrorsByType:  snap.Errors,
		RetryCount:    snap.Retries,
		RequestCount:  int(atomic.LoadInt64(&s.requestCount)),
		BreakerState:  s.breaker.State().String(),
		Interrupted:   interrupted,
		LedgerEntries: s.ledger.Len(),
	}
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code/100) + "xx"
}
