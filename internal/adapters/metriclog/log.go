// Package metriclog persists metric records to an append-only CSV file.
//
// The file is the pipeline's external contract: downstream reporting reads
// it directly, so the format is a plain CSV with a header row written once.
// Appends are mutex-serialized and fsynced, so concurrent appends never
// interleave and the file is crash-safe up to the last fully-written row.
package metriclog

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/okian/driftwatch/internal/domain/model"
)

var header = []string{"id", "y_true", "y_pred", "error_value", "computed_time"}

// Log appends metric records to a CSV file at a fixed path.
type Log struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *csv.Writer
}

// Open creates or opens the log file for appending, creating parent
// directories and writing the header row if the file is new or empty.
func Open(path string) (*Log, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open metric log: %w", err)
	}

	l := &Log{path: path, f: f, w: csv.NewWriter(f)}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat metric log: %w", err)
	}
	if info.Size() == 0 {
		if err := l.writeRow(header); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
	}

	return l, nil
}

// Append durably writes one record after all existing rows. Records are
// never rewritten or reordered.
func (l *Log) Append(ctx context.Context, rec model.MetricRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("append cancelled: %w", err)
	}

	row := []string{
		rec.ID,
		strconv.FormatFloat(rec.TrueValue, 'g', -1, 64),
		strconv.FormatFloat(rec.PredictedValue, 'g', -1, 64),
		strconv.FormatFloat(rec.ErrorValue, 'g', -1, 64),
		rec.ComputedTime.UTC().Format(time.RFC3339Nano),
	}
	return l.writeRow(row)
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.w.Flush()
	if err := l.w.Error(); err != nil {
		_ = l.f.Close()
		return fmt.Errorf("flush metric log: %w", err)
	}
	return l.f.Close()
}

func (l *Log) writeRow(row []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("%w: %v", ErrAppend, err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrAppend, err)
	}
	// fsync so a crash cannot lose an acknowledged record.
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrAppend, err)
	}
	return nil
}
