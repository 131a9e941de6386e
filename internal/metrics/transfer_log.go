// Package metrics holds the append-only transfer log and the pure functions
// that derive knowledge-flow metrics from it.
package metrics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"hivemind/internal/logging"
	"hivemind/internal/types"
)

// TransferLog is an append-only, concurrency-safe record of deliveries.
// Timestamps never decrease, even if the wall clock steps backwards.
type TransferLog struct {
	mu      sync.Mutex
	records []types.TransferRecord
	last    int64
	now     func() time.Time

	sink     *os.File
	sinkEnc  *json.Encoder
	sinkPath string
}

// Option configures a TransferLog.
type Option func(*TransferLog)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *TransferLog) { l.now = now }
}

// NewTransferLog creates an in-memory log.
func NewTransferLog(opts ...Option) *TransferLog {
	l := &TransferLog{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OpenTransferLog creates a log that also appends every record as one JSON
// line to path. Existing records in the file are loaded first so metrics
// cover earlier runs.
func OpenTransferLog(path string, opts ...Option) (*TransferLog, error) {
	l := NewTransferLog(opts...)

	existing, err := ReadTransferLog(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, types.StorageError("OpenTransferLog", path, err)
	}
	l.records = existing
	for _, r := range existing {
		if r.TimestampMillis > l.last {
			l.last = r.TimestampMillis
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, types.StorageError("OpenTransferLog", path, fmt.Errorf("failed to create log directory: %w", err))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, types.StorageError("OpenTransferLog", path, fmt.Errorf("failed to open transfer log: %w", err))
	}
	if torn, _ := endsMidLine(path); torn {
		// Terminate a partial line left by a crash so new records parse.
		if _, err := f.Write([]byte("\n")); err != nil {
			f.Close()
			return nil, types.StorageError("OpenTransferLog", path, err)
		}
	}
	l.sink = f
	l.sinkEnc = json.NewEncoder(f)
	l.sinkPath = path

	logging.Get(logging.CategoryMetrics).Info("Transfer log opened at %s (%d prior records)", path, len(existing))
	return l, nil
}

// ReadTransferLog reads a JSONL transfer log. Malformed lines are skipped.
func ReadTransferLog(path string) ([]types.TransferRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []types.TransferRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec types.TransferRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			logging.Get(logging.CategoryMetrics).Warn("Skipping malformed transfer record %s:%d: %v", path, line, err)
			continue
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("failed to read transfer log: %w", err)
	}
	return out, nil
}

// endsMidLine reports whether a non-empty file lacks a trailing newline.
func endsMidLine(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return false, err
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}

// Append stamps rec with a non-decreasing timestamp, stores it and returns
// the stored copy.
func (l *TransferLog) Append(rec types.TransferRecord) types.TransferRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now().UnixMilli()
	if ts < l.last {
		ts = l.last
	}
	l.last = ts
	rec.TimestampMillis = ts
	rec.FromAgents = append([]string(nil), rec.FromAgents...)
	l.records = append(l.records, rec)

	if l.sinkEnc != nil {
		if err := l.sinkEnc.Encode(rec); err != nil {
			logging.Get(logging.CategoryMetrics).Error("Failed to write transfer record to %s: %v", l.sinkPath, err)
		}
	}
	logging.Get(logging.CategoryMetrics).Debug("Transfer %s -> %s: %s", rec.PatternID, rec.ToAgent, rec.Status)
	return rec
}

// Records returns a copy of every record in append order.
func (l *TransferLog) Records() []types.TransferRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.TransferRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Since returns the records appended at or after index start, for per-cycle views.
func (l *TransferLog) Since(start int) []types.TransferRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if start < 0 {
		start = 0
	}
	if start >= len(l.records) {
		return nil
	}
	out := make([]types.TransferRecord, len(l.records)-start)
	copy(out, l.records[start:])
	return out
}

// Len returns the number of records.
func (l *TransferLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Close flushes and closes the sink, if any.
func (l *TransferLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		return nil
	}
	err := l.sink.Sync()
	if cerr := l.sink.Close(); err == nil {
		err = cerr
	}
	l.sink = nil
	l.sinkEnc = nil
	if err != nil {
		return types.StorageError("TransferLog.Close", l.sinkPath, err)
	}
	return nil
}
