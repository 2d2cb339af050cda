// Package models defines data structures for the shop finder.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductRecord represents one product harvested from a live shop.
type ProductRecord struct {
	ShopName     string          `csv:"shop_name" json:"shop_name"`
	ProductName  string          `csv:"product_name" json:"product_name"`
	Price        decimal.Decimal `csv:"price" json:"price"`
	Stock        int             `csv:"stock" json:"stock"`
	DiscoveredAt time.Time       `csv:"discovered_at" json:"discovered_at"`
}

// OutcomeKind tags the variant held by a ProbeOutcome.
type OutcomeKind int

const (
	// OutcomeFound means the shop is live and returned at least one valid product.
	OutcomeFound OutcomeKind = iota
	// OutcomeNotFound is a definitive miss; it is not an error.
	OutcomeNotFound
	// OutcomeTransientError means retries were exhausted on a transient failure
	// or the circuit breaker rejected the probe.
	OutcomeTransientError
	// OutcomeFatalError is a non-retryable per-candidate failure.
	OutcomeFatalError
)

// String returns the label used in logs and metrics.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeTransientError:
		return "transient_error"
	case OutcomeFatalError:
		return "fatal_error"
	default:
		return "unknown"
	}
}

// ProbeOutcome is the result of one probe of one candidate, retries included.
// Records is only populated for OutcomeFound; ErrorKind and Err only for the
// two error kinds.
type ProbeOutcome struct {
	Kind      OutcomeKind
	Shop      string
	Records   []*ProductRecord
	ErrorKind string
	Err       error
}

// Found builds an OutcomeFound.
func Found(shop string, records []*ProductRecord) ProbeOutcome {
	return ProbeOutcome{Kind: OutcomeFound, Shop: shop, Records: records}
}

// NotFound builds an OutcomeNotFound.
func NotFound(shop string) ProbeOutcome {
	return ProbeOutcome{Kind: OutcomeNotFound, Shop: shop}
}

// TransientError builds an OutcomeTransientError.
func TransientError(shop, kind string, err error) ProbeOutcome {
	return ProbeOutcome{Kind: OutcomeTransientError, Shop: shop, ErrorKind: kind, Err: err}
}

// FatalError builds an OutcomeFatalError.
func FatalError(shop, kind string, err error) ProbeOutcome {
	return ProbeOutcome{Kind: OutcomeFatalError, Shop: shop, ErrorKind: kind, Err: err}
}

// ScraperResult holds the overall result of a probe run.
type ScraperResult struct {
	StartTime     time.Time
	EndTime       time.Time
	Candidates    int
	Checked       int
	Found         int
	NotFound      int
	RecordsFound  int
	Skipped       int
	WriteErrors   int
	ErrorsByType  map[string]int
	Validation    map[string]int
	RetryCount    int
	RequestCount  int
	BreakerState  string
	Interrupted   bool
	LedgerEntries int
}

// ErrorCount sums the per-kind error breakdown.
func (r *ScraperResult) ErrorCount() int {
	total := 0
	for _, n := range r.ErrorsByType {
		total += n
	}
	return total
}
