package scraper

import (
	"sync"

	"github.com/idealinvestse/shoppi-shop-finder/models"
)

// StatsSnapshot is a consistent copy of the run counters.
type StatsSnapshot struct {
	Checked      int
	Found        int
	NotFound     int
	RecordsFound int
	Skipped      int
	WriteErrors  int
	Retries      int
	Errors       map[string]int
}

// ErrorCount sums the per-kind error counters.
func (s StatsSnapshot) ErrorCount() int {
	total := 0
	for _, n := range s.Errors {
		total += n
	}
	return total
}

// Stats aggregates probe outcomes across workers.
type Stats struct {
	mu   sync.RWMutex
	snap StatsSnapshot
}

// NewStats returns zeroed counters.
func NewStats() *Stats {
	return &Stats{snap: StatsSnapshot{Errors: make(map[string]int)}}
}

// Record folds one finished candidate into the counters under a single lock,
// keeping checked equal to found + not_found + errors at every snapshot.
func (s *Stats) Record(outcome models.ProbeOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Checked++
	switch outcome.Kind {
	case models.OutcomeFound:
		s.snap.Found++
		s.snap.RecordsFound += len(outcome.Records)
	case models.OutcomeNotFound:
		s.snap.NotFound++
	default:
		kind := outcome.ErrorKind
		if kind == "" {
			kind = "other"
		}
		s.snap.Errors[kind]++
	}
}

// IncSkipped counts a candidate skipped because the ledger already holds it.
func (s *Stats) IncSkipped() {
	s.mu.Lock()
	s.snap.Skipped++
	s.mu.Unlock()
}

// IncWriteErrors counts a failed hand-off to the writer.
func (s *Stats) IncWriteErrors() {
	s.mu.Lock()
	s.snap.WriteErrors++
	s.mu.Unlock()
}

// IncRetries counts a scheduled retry.
func (s *Stats) IncRetries() {
	s.mu.Lock()
	s.snap.Retries++
	s.mu.Unlock()
}

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.snap
	out.Errors = make(map[string]int, len(s.snap.Errors))
	for k, v := range s.snap.Errors {
		out.Errors[k] = v
	}
	return out
}
