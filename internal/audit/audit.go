// Package audit is the append-only buffered ledger of spec C13, grounded on
// original_source/src/privacy/audit.py's AuditLogger (buffer, size/timer
// flush, search-by-filter) re-expressed as a sync.Mutex-guarded buffer that
// callers append to directly, plus one background goroutine for the timed
// flush.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bacoco/firmia/internal/clockconfig"
	"github.com/bacoco/firmia/internal/model"
)

const defaultBufferSize = 100
const defaultFlushInterval = 60 * time.Second

// Filters narrows a Query call.
type Filters struct {
	BusinessKey string
	CallerID    string
	Tool        string
	StartDate   *time.Time
	EndDate     *time.Time
	Limit       int
}

// Ledger buffers AuditEntry values and periodically flushes them to
// line-delimited JSON files under Dir.
type Ledger struct {
	mu            sync.Mutex
	buffer        []model.AuditEntry
	flushed       []model.AuditEntry // small in-memory tail kept for Query, bounded
	dir           string
	bufferSize    int
	flushInterval time.Duration
	clock         clockconfig.Clock

	stop chan struct{}
	done chan struct{}
}

// Config configures a Ledger's flush thresholds.
type Config struct {
	Dir           string
	BufferSize    int
	FlushInterval time.Duration
	Clock         clockconfig.Clock
}

// New builds a Ledger and starts its periodic-flush goroutine.
func New(cfg Config) (*Ledger, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("audit: dir required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockconfig.RealClock{}
	}

	l := &Ledger{
		dir:           cfg.Dir,
		bufferSize:    bufferSize,
		flushInterval: interval,
		clock:         clock,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go l.periodicFlush()
	return l, nil
}

func (l *Ledger) periodicFlush() {
	defer close(l.done)
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = l.Flush()
		case <-l.stop:
			_ = l.Flush()
			return
		}
	}
}

// Log appends an entry to the buffer, masking sensitive metadata fields
// first, flushing immediately if the buffer has reached its size threshold.
func (l *Ledger) Log(entry model.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.clock.Now()
	}
	entry.Metadata = maskSensitiveFields(entry.Metadata)

	l.mu.Lock()
	l.buffer = append(l.buffer, entry)
	shouldFlush := len(l.buffer) >= l.bufferSize
	l.mu.Unlock()

	if shouldFlush {
		_ = l.Flush()
	}
}

// Flush writes every buffered entry to a new line-delimited JSON file named
// audit_<UTC-YYYYMMDD_HHMMSS>.jsonl and clears the buffer. Best-effort: on
// crash before a flush, buffered entries are lost (spec §4.12).
func (l *Ledger) Flush() error {
	l.mu.Lock()
	if len(l.buffer) == 0 {
		l.mu.Unlock()
		return nil
	}
	pending := l.buffer
	l.buffer = nil
	l.mu.Unlock()

	filename := fmt.Sprintf("audit_%s.jsonl", l.clock.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(l.dir, filename)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.mu.Lock()
		l.buffer = append(pending, l.buffer...)
		l.mu.Unlock()
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, entry := range pending {
		line, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return err
	}

	l.mu.Lock()
	l.flushed = append(l.flushed, pending...)
	if len(l.flushed) > l.bufferSize*10 {
		l.flushed = l.flushed[len(l.flushed)-l.bufferSize*10:]
	}
	l.mu.Unlock()
	return nil
}

// Close stops the periodic-flush goroutine and flushes any remainder.
func (l *Ledger) Close(ctx context.Context) error {
	close(l.stop)
	select {
	case <-l.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Query searches the in-memory buffer and the recently flushed tail for
// entries matching filters; it does not re-read historical files from disk.
func (l *Ledger) Query(filters Filters) []model.AuditEntry {
	l.mu.Lock()
	candidates := make([]model.AuditEntry, 0, len(l.flushed)+len(l.buffer))
	candidates = append(candidates, l.flushed...)
	candidates = append(candidates, l.buffer...)
	l.mu.Unlock()

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}

	out := make([]model.AuditEntry, 0, limit)
	for i := len(candidates) - 1; i >= 0 && len(out) < limit; i-- {
		entry := candidates[i]
		if filters.BusinessKey != "" && entry.BusinessKey != filters.BusinessKey {
			continue
		}
		if filters.CallerID != "" && entry.CallerID != filters.CallerID {
			continue
		}
		if filters.Tool != "" && entry.Tool != filters.Tool {
			continue
		}
		if filters.StartDate != nil && entry.Timestamp.Before(*filters.StartDate) {
			continue
		}
		if filters.EndDate != nil && entry.Timestamp.After(*filters.EndDate) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// sensitiveMetadataKeys names metadata keys whose string values get masked
// before an entry is logged, per spec §4.12 (bank account numbers and
// similar identifiers).
var sensitiveMetadataKeys = map[string]bool{
	"iban":           true,
	"bank_account":   true,
	"account_number": true,
}

func maskSensitiveFields(metadata map[string]interface{}) map[string]interface{} {
	if metadata == nil {
		return nil
	}
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		if sensitiveMetadataKeys[k] {
			if s, ok := v.(string); ok {
				out[k] = maskMiddle(s)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// maskMiddle keeps the first four and last four characters, replacing the
// rest with '*', per spec §4.12's masking rule.
func maskMiddle(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	middle := make([]byte, len(s)-8)
	for i := range middle {
		middle[i] = '*'
	}
	return s[:4] + string(middle) + s[len(s)-4:]
}
