// Package ledger tracks which candidates have been fully processed so an
// interrupted run can resume without probing them again.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the on-disk snapshot format.
type State struct {
	ProcessedShops []string  `json:"processed_shops"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Ledger is the set of completed candidates. The in-memory set only grows
// during a run; every save rewrites the whole file.
type Ledger struct {
	path   string
	logger *zap.Logger
	now    func() time.Time

	mu   sync.RWMutex
	done map[string]struct{}

	saveMu sync.Mutex
}

// New creates an empty ledger persisted at path.
func New(path string, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		path:   path,
		logger: logger,
		now:    time.Now,
		done:   make(map[string]struct{}),
	}
}

// Path returns the state file location.
func (l *Ledger) Path() string {
	return l.path
}

// Load merges the persisted snapshot into the set and returns its size.
// A missing file is an empty ledger; a corrupt one is logged and ignored.
func (l *Ledger) Load() (int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		l.logger.Warn("corrupted state file, starting fresh",
			zap.String("path", l.path),
			zap.Error(err),
		)
		return 0, nil
	}

	l.mu.Lock()
	for _, shop := range state.ProcessedShops {
		if shop == "" {
			continue
		}
		l.done[shop] = struct{}{}
	}
	n := len(l.done)
	l.mu.Unlock()

	return n, nil
}

// Contains reports whether shop has already been processed.
func (l *Ledger) Contains(shop string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.done[shop]
	return ok
}

// MarkDone records shop as processed.
func (l *Ledger) MarkDone(shop string) {
	l.mu.Lock()
	l.done[shop] = struct{}{}
	l.mu.Unlock()
}

// Len returns the number of processed candidates.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.done)
}

// Snapshot returns the processed candidates in sorted order.
func (l *Ledger) Snapshot() []string {
	l.mu.RLock()
	out := make([]string, 0, len(l.done))
	for shop := range l.done {
		out = append(out, shop)
	}
	l.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Save persists the current set.
func (l *Ledger) Save() error {
	return l.SaveSnapshot(l.Snapshot())
}

// SaveSnapshot persists shops, replacing the previous file atomically.
func (l *Ledger) SaveSnapshot(shops []string) error {
	l.saveMu.Lock()
	defer l.saveMu.Unlock()

	if shops == nil {
		shops = []string{}
	}
	data, err := json.MarshalIndent(State{
		ProcessedShops: shops,
		LastUpdated:    l.now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create state tmp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}

	l.logger.Debug("state saved",
		zap.String("path", l.path),
		zap.Int("processed", len(shops)),
	)
	return nil
}
