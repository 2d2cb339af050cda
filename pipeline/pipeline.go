package pipeline

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/idealinvestse/shoppi-shop-finder/config"
	"github.com/idealinvestse/shoppi-shop-finder/models"
	"github.com/idealinvestse/shoppi-shop-finder/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []*models.ProductRecord) error
	// Sync forces everything written so far to durable storage.
	Sync() error
	Close() error
	Validate() error
}

// Pipeline buffers validated records and hands them to the writer in
// batches. A batch is written and synced before the buffer is cleared; a
// failed flush keeps the buffer for the next attempt.
type Pipeline struct {
	writer   OutputWriter
	capacity int
	seen     *lru.Cache[string, struct{}]
	logger   *zap.Logger

	mu     sync.Mutex
	buffer []*models.ProductRecord
	closed bool

	metrics metrics
}

// NewPipeline builds a pipeline flushing every cfg.BufferSize records and
// optionally dropping exact duplicates among the last cfg.DedupeMaxSize
// records (0 keeps every record).
func NewPipeline(writer OutputWriter, cfg *config.Config, logger *zap.Logger) (*Pipeline, error) {
	if writer == nil {
		return nil, errors.New("pipeline: writer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	capacity := cfg.BufferSize
	if capacity < 1 {
		capacity = 1
	}

	p := &Pipeline{
		writer:   writer,
		capacity: capacity,
		logger:   logger,
		buffer:   make([]*models.ProductRecord, 0, capacity),
		metrics:  newMetrics(),
	}
	if cfg.DedupeMaxSize > 0 {
		seen, err := lru.New[string, struct{}](cfg.DedupeMaxSize)
		if err != nil {
			return nil, fmt.Errorf("create dedupe cache: %w", err)
		}
		p.seen = seen
	}
	return p, nil
}

// Process validates and buffers records, flushing once the buffer is full.
// The returned error reports records that were not accepted. A failed flush
// at capacity is logged and the batch stays buffered for the next Flush.
func (p *Pipeline) Process(records ...*models.ProductRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPipelineClosed
	}

	for _, record := range records {
		if record == nil {
			continue
		}
		if err := parser.ValidateProduct(record); err != nil {
			p.metrics.addValidation("invalid_record")
			p.logger.Debug("record rejected",
				zap.String("shop", record.ShopName),
				zap.Error(err),
			)
			continue
		}
		if p.seen != nil {
			key := dedupeKey(record)
			if p.seen.Contains(key) {
				p.metrics.addValidation("duplicate_record")
				continue
			}
			p.seen.Add(key, struct{}{})
		}

		p.buffer = append(p.buffer, record)
		p.metrics.incrementProcessed()
	}

	if len(p.buffer) >= p.capacity {
		if err := p.flushLocked(); err != nil {
			p.metrics.incrementFlushErrors()
			p.logger.Warn("flush at capacity failed, batch retained",
				zap.Int("buffered", len(p.buffer)),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Flush writes and syncs any buffered records.
func (p *Pipeline) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked()
}

// Close flushes the remainder and closes the writer. Later calls to Process
// return ErrPipelineClosed.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	flushErr := p.flushLocked()
	closeErr := p.writer.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("close writer: %w", closeErr)
	}
	return errors.Join(flushErr, closeErr)
}

// Buffered returns the number of records waiting for a flush.
func (p *Pipeline) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// ValidationErrors returns the rejected record counts by reason.
func (p *Pipeline) ValidationErrors() map[string]int {
	return p.metrics.validationSnapshot()
}

func (p *Pipeline) flushLocked() error {
	if len(p.buffer) == 0 {
		return nil
	}
	if err := p.writer.Write(p.buffer); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	if err := p.writer.Sync(); err != nil {
		return fmt.Errorf("sync batch: %w", err)
	}

	p.logger.Debug("batch flushed", zap.Int("records", len(p.buffer)))
	p.metrics.incrementFlushes()
	p.buffer = make([]*models.ProductRecord, 0, p.capacity)
	return nil
}

func dedupeKey(r *models.ProductRecord) string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%d", r.ShopName, r.ProductName, parser.FormatPrice(r.Price), r.Stock)
}

type metrics struct {
	mu         sync.Mutex
	processed   int64
	flushes     int64
	flushErrors int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) incrementFlushes() {
	m.mu.Lock()
	m.flushes++
	m.mu.Unlock()
}

func (m *metrics) incrementFlushErrors() {
	m.mu.Lock()
	m.flushErrors++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) validationSnapshot() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		out[k] = v
	}
	return out
}

func (m *metrics) snapshot() map[string]interface{} {
	validation := m.validationSnapshot()

	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]interface{}{
		"processed_records": m.processed,
		"flushes":           m.flushes,
		"flush_errors":      m.flushErrors,
		"validation_errors": validation,
	}
}
