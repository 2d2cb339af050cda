package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/idealinvestse/shoppi-shop-finder/models"
	"github.com/idealinvestse/shoppi-shop-finder/parser"
)

// CSVHeader is the column order of the catalog file.
var CSVHeader = []string{"shop_name", "product_name", "price", "stock", "discovered_at"}

// CSVWriter writes records to CSV.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter opens filename for writing. When resume is set and the file
// already holds data, rows are appended without a new header; otherwise the
// file is truncated and the header row written.
func NewCSVWriter(filename string, resume bool) (*CSVWriter, error) {
	f, appending, err := openOutput(filename, resume)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if !appending {
		if err := writer.Write(CSVHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("flush csv header: %w", err)
		}
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends records to the CSV output.
func (cw *CSVWriter) Write(records []*models.ProductRecord) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, r := range records {
		row := []string{
			r.ShopName,
			r.ProductName,
			parser.FormatPrice(r.Price),
			strconv.Itoa(r.Stock),
			r.DiscoveredAt.Format(time.RFC3339),
		}
		if err := cw.writer.Write(row); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Sync flushes buffered rows and fsyncs the file.
func (cw *CSVWriter) Sync() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	if err := cw.file.Sync(); err != nil {
		return fmt.Errorf("sync csv file: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the file at least carries its header.
func (cw *CSVWriter) Validate() error {
	info, err := cw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// jsonRecord is the JSONL row shape; prices keep two decimals.
type jsonRecord struct {
	ShopName     string      `json:"shop_name"`
	ProductName  string      `json:"product_name"`
	Price        json.Number `json:"price"`
	Stock        int         `json:"stock"`
	DiscoveredAt string      `json:"discovered_at"`
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter opens filename with the same resume rules as NewCSVWriter.
func NewJSONWriter(filename string, resume bool) (*JSONWriter, error) {
	f, _, err := openOutput(filename, resume)
	if err != nil {
		return nil, fmt.Errorf("open json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends records in JSONL format.
func (jw *JSONWriter) Write(records []*models.ProductRecord) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, r := range records {
		row := jsonRecord{
			ShopName:     r.ShopName,
			ProductName:  r.ProductName,
			Price:        json.Number(parser.FormatPrice(r.Price)),
			Stock:        r.Stock,
			DiscoveredAt: r.DiscoveredAt.Format(time.RFC3339),
		}
		if err := jw.encoder.Encode(row); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Sync flushes buffered output and fsyncs the file.
func (jw *JSONWriter) Sync() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	if err := jw.file.Sync(); err != nil {
		return fmt.Errorf("sync json file: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file is readable. An empty JSONL file is a run
// that found nothing.
func (jw *JSONWriter) Validate() error {
	if _, err := jw.file.Stat(); err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	return nil
}

// openOutput reports whether the file was opened for appending to existing
// data.
func openOutput(filename string, resume bool) (*os.File, bool, error) {
	if err := ensureDir(filename); err != nil {
		return nil, false, err
	}

	if resume {
		info, err := os.Stat(filename)
		switch {
		case err == nil && info.Size() > 0:
			f, err := os.OpenFile(filename, os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, false, err
			}
			return f, true, nil
		case err != nil && !errors.Is(err, os.ErrNotExist):
			return nil, false, err
		}
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, false, err
	}
	return f, false, nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
