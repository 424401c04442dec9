package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shelfhelp/shelfhelp-ai/models"
)

// Output formats accepted by NewWriter.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatDual = "dual"
)

var csvHeader = []string{
	"check_id", "book_key", "title", "author", "available", "overall_confidence",
	models.ServiceKindleUnlimited, models.ServiceHoopla, models.ServiceLibrary,
	"failed_sources", "warnings", "cached", "checked_at",
}

// NewWriter opens the writer for format. Dual output derives the JSONL
// filename from filename by swapping its extension.
func NewWriter(format, filename string) (OutputWriter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatCSV:
		return NewCSVWriter(filename)
	case FormatJSON:
		return NewJSONWriter(filename)
	case FormatDual:
		base := strings.TrimSuffix(filename, filepath.Ext(filename))
		return NewDualWriter(base+".csv", base+".jsonl")
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// CSVWriter writes one row per availability report.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(csvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends reports to the CSV output.
func (cw *CSVWriter) Write(reports []*models.AvailabilityReport) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, report := range reports {
		if err := cw.writer.Write(csvRecord(report)); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
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

// Validate ensures the file has content besides the header.
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

func csvRecord(r *models.AvailabilityReport) []string {
	var failed []string
	for _, o := range r.Sources {
		if o.Failed() {
			failed = append(failed, o.Source)
		}
	}
	var warnings []string
	if r.Summary != nil {
		warnings = r.Summary.Warnings
	}

	return []string{
		r.CheckID,
		r.BookKey,
		r.BookTitle,
		r.Author,
		strconv.FormatBool(r.Available),
		strconv.FormatFloat(r.OverallConfidence, 'f', 2, 64),
		sourceCell(r, models.ServiceKindleUnlimited),
		sourceCell(r, models.ServiceHoopla),
		sourceCell(r, models.ServiceLibrary),
		strings.Join(failed, ";"),
		strings.Join(warnings, ";"),
		strconv.FormatBool(r.Cached),
		r.CheckedAt.Format(time.RFC3339),
	}
}

// sourceCell renders one service column: its final confidence, "error" when
// the scraper failed, or blank when the service was not queried.
func sourceCell(r *models.AvailabilityReport, service string) string {
	o := r.Source(service)
	switch {
	case o == nil:
		return ""
	case o.Failed():
		return "error"
	default:
		return strconv.FormatFloat(o.FinalConfidence, 'f', 2, 64)
	}
}

// JSONWriter writes newline-delimited JSON reports.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends reports in JSONL format.
func (jw *JSONWriter) Write(reports []*models.AvailabilityReport) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, report := range reports {
		if err := jw.encoder.Encode(report); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
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

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	info, err := jw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file is empty")
	}
	return nil
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
