// Package dlq implements the dead-letter log for schema-invalid payloads:
// an append-only NDJSON file folded by dlq_id, plus the retry scheduler
// that replays quarantined payloads with backoff.
package dlq

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/iambrandonn/statekeeper/internal/fsutil"
	"github.com/iambrandonn/statekeeper/internal/ndjson"
	"github.com/iambrandonn/statekeeper/internal/state"
)

// Entry statuses
const (
	StatusPendingRetry    = "pending_retry"
	StatusResolved        = "resolved"
	StatusFailedPermanent = "failed_permanent"
)

// Backoff is the retry schedule; retries past the last slot reuse it
var Backoff = []time.Duration{
	60 * time.Second,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
}

// DefaultMaxRetries bounds how many times an entry is replayed
const DefaultMaxRetries = 5

// Entry is one quarantined payload and its retry state
type Entry struct {
	DLQID            string   `json:"dlq_id"`
	SchemaName       string   `json:"schema_name"`
	Payload          any      `json:"payload"`
	ValidationErrors []string `json:"validation_errors"`
	FirstSeenTS      string   `json:"first_seen_ts"`
	RetryCount       int      `json:"retry_count"`
	NextRetryTS      string   `json:"next_retry_ts"`
	Status           string   `json:"status"`
	LastRetryTS      string   `json:"last_retry_ts,omitempty"`
	LastResultStatus string   `json:"last_result_status,omitempty"`
}

// Log is the append-only DLQ store
type Log struct {
	path   string
	logger *slog.Logger
}

// NewLog creates a DLQ log backed by the NDJSON file at path
func NewLog(path string, logger *slog.Logger) *Log {
	return &Log{path: path, logger: logger}
}

// Path returns the backing file path
func (l *Log) Path() string {
	return l.path
}

// Append writes one entry record to the log
func (l *Log) Append(entry *Entry) error {
	line, err := ndjson.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode DLQ entry: %w", err)
	}
	return fsutil.AppendLine(l.path, string(line))
}

// Quarantine records a schema-invalid payload with retry metadata and
// returns the created entry.
func (l *Log) Quarantine(schemaName string, payload any, validationErrors []string, now time.Time) (*Entry, error) {
	entry := &Entry{
		DLQID:            uuid.New().String(),
		SchemaName:       schemaName,
		Payload:          payload,
		ValidationErrors: validationErrors,
		FirstSeenTS:      state.FormatTS(now),
		RetryCount:       0,
		NextRetryTS:      state.FormatTS(now.Add(Backoff[0])),
		Status:           StatusPendingRetry,
	}
	if err := l.Append(entry); err != nil {
		return nil, err
	}
	l.logger.Warn("payload quarantined",
		"dlq_id", entry.DLQID,
		"schema", schemaName,
		"errors", len(validationErrors))
	return entry, nil
}

// FoldResult is the authoritative per-entry state rebuilt from the log
type FoldResult struct {
	Entries        map[string]*Entry
	MalformedLines int
}

// Fold scans the full log and rebuilds per-entry state, last write wins
// per field. A missing log file folds to an empty result. Malformed lines
// are counted but never abort the read.
func (l *Log) Fold() (*FoldResult, error) {
	result := &FoldResult{Entries: make(map[string]*Entry)}

	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, fmt.Errorf("failed to open DLQ log: %w", err)
	}
	defer file.Close()

	merged := make(map[string]map[string]any)
	scan, err := ndjson.Scan(file, func(_ int, record map[string]any, _ []byte) error {
		id, _ := record["dlq_id"].(string)
		if id == "" {
			result.MalformedLines++
			return nil
		}
		base := merged[id]
		if base == nil {
			base = make(map[string]any)
			merged[id] = base
		}
		for k, v := range record {
			base[k] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.MalformedLines += scan.MalformedLines

	for id, fields := range merged {
		data, err := json.Marshal(fields)
		if err != nil {
			result.MalformedLines++
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			result.MalformedLines++
			continue
		}
		result.Entries[id] = &entry
	}

	return result, nil
}

// PendingEntries returns pending_retry entries due at now (or all pending
// when includeNotDue), ordered by first_seen_ts ascending.
func (r *FoldResult) PendingEntries(now time.Time, includeNotDue bool) []*Entry {
	var pending []*Entry
	for _, entry := range r.Entries {
		if entry.Status != StatusPendingRetry {
			continue
		}
		if !includeNotDue {
			due, err := state.ParseTS(entry.NextRetryTS)
			if err != nil || due.After(now) {
				continue
			}
		}
		pending = append(pending, entry)
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].FirstSeenTS < pending[j].FirstSeenTS
	})
	return pending
}
