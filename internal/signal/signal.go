// Package signal converts calendar-event and mail-thread batches into
// deterministic observation batches. Event ids are content-derived, so
// re-polling the same feed is a pile of duplicates, not double commits.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/iambrandonn/statekeeper/internal/dlq"
	"github.com/iambrandonn/statekeeper/internal/ident"
	"github.com/iambrandonn/statekeeper/internal/ingest"
	"github.com/iambrandonn/statekeeper/internal/schema"
	"github.com/iambrandonn/statekeeper/internal/state"
)

// Signal source kinds and modes
const (
	KindCalendar = "calendar"
	KindEmail    = "email"
	ModePoll     = "poll"
	ModeWebhook  = "webhook"
)

// Batch-level outcomes
const (
	StatusOK               = "ok"
	StatusValidationFailed = "validation_failed"
)

// Result aggregates per-item ingestion outcomes for one signal
type Result struct {
	Status           string         `json:"status"` // ok | validation_failed
	Counters         map[string]int `json:"counters,omitempty"`
	DLQID            string         `json:"dlq_id,omitempty"`
	ValidationErrors []string       `json:"validation_errors,omitempty"`
}

// Adapter explodes signals into observations and feeds the pipeline
type Adapter struct {
	pipeline  *ingest.Pipeline
	validator *schema.Validator
	deadLine  *dlq.Log
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a signal adapter
func New(pipeline *ingest.Pipeline, validator *schema.Validator, deadLine *dlq.Log, logger *slog.Logger) *Adapter {
	return &Adapter{
		pipeline:  pipeline,
		validator: validator,
		deadLine:  deadLine,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the adapter clock for deterministic tests
func (a *Adapter) SetClock(now func() time.Time) {
	a.now = now
}

// Ingest validates a typed signal and processes its items in array order
func (a *Adapter) Ingest(ctx context.Context, sig *state.Signal, opts ingest.Options) (*Result, error) {
	payload, err := schema.Payload(sig)
	if err != nil {
		return nil, err
	}
	return a.IngestPayload(ctx, payload, opts)
}

// IngestPayload validates a raw signal payload and processes its items
func (a *Adapter) IngestPayload(ctx context.Context, payload map[string]any, opts ingest.Options) (*Result, error) {
	errs, err := a.validator.Validate(schema.SchemaSignal, payload)
	if err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		if opts.SkipQuarantine {
			return &Result{Status: StatusValidationFailed, ValidationErrors: errs}, nil
		}
		entry, qerr := a.deadLine.Quarantine(schema.SchemaSignal, payload, errs, a.now())
		if qerr != nil {
			return nil, fmt.Errorf("failed to quarantine signal: %w", qerr)
		}
		return &Result{
			Status:           StatusValidationFailed,
			DLQID:            entry.DLQID,
			ValidationErrors: errs,
		}, nil
	}

	var sig state.Signal
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to re-marshal signal: %w", err)
	}
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, fmt.Errorf("failed to decode signal: %w", err)
	}

	result := &Result{Status: StatusOK, Counters: make(map[string]int)}
	for i, item := range sig.Items {
		obs, err := a.observationFor(&sig, item, i)
		if err != nil {
			return nil, err
		}
		itemResult, err := a.pipeline.Ingest(ctx, obs, opts)
		if err != nil {
			return nil, err
		}
		result.Counters[string(itemResult.Status)]++
	}

	a.logger.Info("signal processed",
		"signal_id", sig.SignalID,
		"items", len(sig.Items),
		"counters", result.Counters)
	return result, nil
}

// observationFor builds the deterministic observation for one signal item.
// The event id hashes (kind, mode, entity_id, item.ref, value): re-polling
// is a no-op, a content change mints a new event.
func (a *Adapter) observationFor(sig *state.Signal, item state.SignalItem, index int) (*state.Observation, error) {
	eventID, err := ident.EventID(sig.Source.Kind, sig.Source.Mode, sig.EntityID, item.Ref, item.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to derive event id: %w", err)
	}

	corroborators := item.Corroborators
	if corroborators == nil {
		corroborators = []state.SourceRef{}
	}

	return &state.Observation{
		EventID:        eventID,
		EventTS:        sig.EventTS,
		Domain:         item.Domain,
		EntityID:       sig.EntityID,
		Field:          item.Field,
		CandidateValue: item.Value,
		Intent:         item.Intent,
		Source: state.SourceRef{
			Type: sourceTypeFor(sig.Source.Kind, sig.Source.Mode),
			Ref:  fmt.Sprintf("%s#item-%d", sig.Source.Ref, index+1),
		},
		Corroborators: corroborators,
	}, nil
}

// sourceTypeFor maps (kind, mode) to the closed source-type set, falling
// back to email_poll for anything unexpected.
func sourceTypeFor(kind, mode string) string {
	switch kind {
	case KindCalendar:
		if mode == ModeWebhook {
			return state.SourceCalendarWebhook
		}
		return state.SourceCalendarPoll
	case KindEmail:
		if mode == ModeWebhook {
			return state.SourceEmailWebhook
		}
		return state.SourceEmailPoll
	}
	return state.SourceEmailPoll
}
