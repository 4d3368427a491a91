package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/iambrandonn/statekeeper/internal/state"
)

// Dispatcher replays a quarantined payload through the engine path named
// by its schema and returns the result status. The ingestion pipeline,
// confirmation lifecycle, and signal adapter each sit behind this.
type Dispatcher interface {
	Dispatch(ctx context.Context, schemaName string, payload map[string]any, forceCommit bool) (string, error)
}

// DispatcherFunc adapts a function to the Dispatcher interface
type DispatcherFunc func(ctx context.Context, schemaName string, payload map[string]any, forceCommit bool) (string, error)

// Dispatch implements Dispatcher
func (f DispatcherFunc) Dispatch(ctx context.Context, schemaName string, payload map[string]any, forceCommit bool) (string, error) {
	return f(ctx, schemaName, payload, forceCommit)
}

// RetryOptions tunes one retry pass
type RetryOptions struct {
	Limit         int
	MaxRetries    int
	IncludeNotDue bool
	ForceCommit   bool
}

// RetryResult records the outcome for one entry
type RetryResult struct {
	DLQID        string `json:"dlq_id"`
	SchemaName   string `json:"schema_name"`
	ResultStatus string `json:"result_status"`
	NewStatus    string `json:"new_status"`
	RetryCount   int    `json:"retry_count"`
}

// RetrySummary aggregates one retry pass
type RetrySummary struct {
	Scanned         int           `json:"scanned"`
	Attempted       int           `json:"attempted"`
	Resolved        int           `json:"resolved"`
	PendingRetry    int           `json:"pending_retry"`
	FailedPermanent int           `json:"failed_permanent"`
	MalformedLines  int           `json:"malformed_lines"`
	Results         []RetryResult `json:"results"`
}

// resolvedStatuses lists, per schema, the dispatch results that close an
// entry as resolved.
var resolvedStatuses = map[string]map[string]bool{
	"observation": {
		"committed":            true,
		"pending_confirmation": true,
		"tentative":            true,
		"duplicate":            true,
	},
	"confirmation": {
		"committed": true,
		"rejected":  true,
	},
	"signal": {
		"ok": true,
	},
}

// permanentStatuses never become retryable
var permanentStatuses = map[string]bool{
	"unsupported_schema": true,
	"not_found":          true,
	"mismatch":           true,
}

// Retry folds the log, replays due pending entries oldest-first, and
// appends an update line per attempted entry with the new status.
func (l *Log) Retry(ctx context.Context, dispatcher Dispatcher, opts RetryOptions, now time.Time) (*RetrySummary, error) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	folded, err := l.Fold()
	if err != nil {
		return nil, err
	}

	pending := folded.PendingEntries(now, opts.IncludeNotDue)
	summary := &RetrySummary{
		Scanned:        len(folded.Entries),
		MalformedLines: folded.MalformedLines,
	}

	// Limit <= 0 attempts every due entry
	if opts.Limit > 0 && len(pending) > opts.Limit {
		pending = pending[:opts.Limit]
	}

	for _, entry := range pending {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		summary.Attempted++

		update := &Entry{
			DLQID:            entry.DLQID,
			SchemaName:       entry.SchemaName,
			Payload:          entry.Payload,
			ValidationErrors: entry.ValidationErrors,
			FirstSeenTS:      entry.FirstSeenTS,
			RetryCount:       entry.RetryCount,
			LastRetryTS:      state.FormatTS(now),
		}

		known := resolvedStatuses[entry.SchemaName]
		var resultStatus string
		if known != nil {
			resultStatus = l.dispatch(ctx, dispatcher, entry, opts.ForceCommit)
		}
		update.LastResultStatus = resultStatus

		switch {
		case known == nil:
			update.Status = StatusFailedPermanent
			update.LastResultStatus = "unsupported_schema"
			summary.FailedPermanent++
		case known[resultStatus]:
			update.Status = StatusResolved
			update.NextRetryTS = entry.NextRetryTS
			summary.Resolved++
		case permanentStatuses[resultStatus]:
			update.Status = StatusFailedPermanent
			summary.FailedPermanent++
		default:
			update.RetryCount = entry.RetryCount + 1
			if update.RetryCount >= opts.MaxRetries {
				update.Status = StatusFailedPermanent
				summary.FailedPermanent++
			} else {
				update.Status = StatusPendingRetry
				slot := update.RetryCount
				if slot >= len(Backoff) {
					slot = len(Backoff) - 1
				}
				update.NextRetryTS = state.FormatTS(now.Add(Backoff[slot]))
				summary.PendingRetry++
			}
		}

		if err := l.Append(update); err != nil {
			return summary, fmt.Errorf("failed to record retry outcome: %w", err)
		}

		summary.Results = append(summary.Results, RetryResult{
			DLQID:        entry.DLQID,
			SchemaName:   entry.SchemaName,
			ResultStatus: update.LastResultStatus,
			NewStatus:    update.Status,
			RetryCount:   update.RetryCount,
		})
	}

	return summary, nil
}

func (l *Log) dispatch(ctx context.Context, dispatcher Dispatcher, entry *Entry, force bool) string {
	payload, ok := entry.Payload.(map[string]any)
	if !ok {
		return "validation_failed"
	}
	status, err := dispatcher.Dispatch(ctx, entry.SchemaName, payload, force)
	if err != nil {
		l.logger.Warn("DLQ dispatch failed",
			"dlq_id", entry.DLQID,
			"schema", entry.SchemaName,
			"error", err)
		return "dispatch_error"
	}
	return status
}
