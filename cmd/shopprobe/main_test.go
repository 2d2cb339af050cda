package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idealinvestse/shoppi-shop-finder/config"
	"github.com/idealinvestse/shoppi-shop-finder/ledger"
	"github.com/idealinvestse/shoppi-shop-finder/models"
)

func newCatalogServer(t *testing.T, hits *int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(hits, 1)
		if r.URL.Path != "/alpha/products" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"products":[{"name":"Widget","price":19.999,"stock":3},{"name":"Gadget","price":"45.5","stock":"2"},{"name":"","price":1,"stock":1}]}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestShopprobeEndToEnd(t *testing.T) {
	var hits int64
	server := newCatalogServer(t, &hits)
	dir := t.TempDir()

	wordlistPath := filepath.Join(dir, "words.txt")
	require.NoError(t, os.WriteFile(wordlistPath, []byte("alpha\nbeta\n\nalpha\n"), 0o644))
	outputPath := filepath.Join(dir, "full_catalog.csv")
	statePath := filepath.Join(dir, "finder_state.json")

	args := []string{
		"--wordlist", wordlistPath,
		"--output", outputPath,
		"--state", statePath,
		"--base-url", server.URL + "/{shop}/products",
		"--delay", "0",
		"--checkpoint-interval", "0",
		"--progress-interval", "0",
		"--log-level", "error",
	}

	out, err := runCommand(t, args...)
	require.NoError(t, err)
	assert.Contains(t, out, "Probe complete")
	assert.Contains(t, out, "Live shops:    1")
	assert.EqualValues(t, 2, atomic.LoadInt64(&hits))

	f, err := os.Open(outputPath)
	require.NoError(t, err)
	rows, err := csv.NewReader(f).ReadAll()
	f.Close()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"shop_name", "product_name", "price", "stock", "discovered_at"}, rows[0])
	assert.Equal(t, []string{"alpha", "Widget", "20.00", "3"}, rows[1][:4])
	assert.Equal(t, []string{"alpha", "Gadget", "45.50", "2"}, rows[2][:4])
	_, err = time.Parse(time.RFC3339, rows[1][4])
	require.NoError(t, err)

	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	var state ledger.State
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Equal(t, []string{"alpha", "beta"}, state.ProcessedShops)

	// Resuming with an unchanged state file probes nothing and keeps the output.
	out, err = runCommand(t, append(args, "--resume")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Skipped:       2")
	assert.EqualValues(t, 2, atomic.LoadInt64(&hits))

	f, err = os.Open(outputPath)
	require.NoError(t, err)
	rows, err = csv.NewReader(f).ReadAll()
	f.Close()
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestShopprobeMissingWordlist(t *testing.T) {
	dir := t.TempDir()
	_, err := runCommand(t,
		"--wordlist", filepath.Join(dir, "missing.txt"),
		"--output", filepath.Join(dir, "out.csv"),
		"--state", filepath.Join(dir, "state.json"),
		"--log-level", "error",
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestShopprobeInvalidConfiguration(t *testing.T) {
	_, err := runCommand(t, "--max-concurrent", "0")
	require.ErrorContains(t, err, "invalid configuration")

	_, err = runCommand(t, "--base-url", "https://shoppi.com/products")
	require.ErrorContains(t, err, "placeholder")
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "shopprobe version")
}

func TestCreateWriterFormats(t *testing.T) {
	dir := t.TempDir()
	for _, format := range []string{"csv", "json", "dual"} {
		cfg := config.DefaultConfig()
		cfg.OutputFormat = format
		cfg.OutputFile = filepath.Join(dir, format, "catalog.csv")

		w, err := createWriter(context.Background(), cfg)
		require.NoError(t, err, format)
		require.NoError(t, w.Close(), format)
	}

	cfg := config.DefaultConfig()
	cfg.OutputFormat = "xml"
	_, err := createWriter(context.Background(), cfg)
	require.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	printSummary(&out, &models.ScraperResult{
		StartTime:    start,
		EndTime:      start.Add(2 * time.Second),
		Candidates:   4,
		Checked:      4,
		Found:        1,
		NotFound:     1,
		RecordsFound: 2,
		ErrorsByType: map[string]int{"timeout": 1, "forbidden": 1},
		Interrupted:  true,
		BreakerState: "closed",
	}, config.DefaultConfig())

	text := out.String()
	assert.Contains(t, text, "Probe interrupted")
	assert.Contains(t, text, "Errors:        2")
	assert.Contains(t, text, "forbidden:")
	assert.Contains(t, text, "Checks/sec:    2.00")
}
