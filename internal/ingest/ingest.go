// Package ingest drives an observation through validation, idempotency,
// confidence resolution, and the decision's state mutation, emitting one
// audit line per processed event.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iambrandonn/statekeeper/internal/dlq"
	"github.com/iambrandonn/statekeeper/internal/resolver"
	"github.com/iambrandonn/statekeeper/internal/schema"
	"github.com/iambrandonn/statekeeper/internal/state"
	"github.com/iambrandonn/statekeeper/internal/store"
)

// Status is the ingestion outcome for one observation
type Status string

const (
	StatusCommitted           Status = "committed"
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusTentative           Status = "tentative"
	StatusDuplicate           Status = "duplicate"
	StatusValidationFailed    Status = "validation_failed"
)

// Result carries the ingestion outcome and its supporting detail
type Result struct {
	Status           Status               `json:"status"`
	Confidence       float64              `json:"confidence,omitempty"`
	Margin           float64              `json:"margin,omitempty"`
	Reasons          []string             `json:"reasons,omitempty"`
	Prompt           *state.PendingPrompt `json:"prompt,omitempty"`
	DLQID            string               `json:"dlq_id,omitempty"`
	ValidationErrors []string             `json:"validation_errors,omitempty"`
}

// Options tunes a single ingestion
type Options struct {
	ForceCommit bool
	// SkipQuarantine reports a schema-invalid payload as validation_failed
	// without opening a DLQ entry. The DLQ retry pass sets it so a replay
	// updates the existing entry instead of minting a new one.
	SkipQuarantine bool
}

// Pipeline wires the validator, canonical store, and DLQ together
type Pipeline struct {
	store     *store.Store
	validator *schema.Validator
	deadLine  *dlq.Log
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an ingestion pipeline
func New(st *store.Store, validator *schema.Validator, deadLine *dlq.Log, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:     st,
		validator: validator,
		deadLine:  deadLine,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the pipeline clock for deterministic tests
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// Ingest validates and routes a typed observation
func (p *Pipeline) Ingest(ctx context.Context, obs *state.Observation, opts Options) (*Result, error) {
	payload, err := schema.Payload(obs)
	if err != nil {
		return nil, err
	}
	return p.IngestPayload(ctx, payload, opts)
}

// IngestPayload validates and routes a raw observation payload. The
// processed-event set is updated before the decision is applied, so a
// replay of the same event_id can never commit or prompt twice.
func (p *Pipeline) IngestPayload(ctx context.Context, payload map[string]any, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	errs, err := p.validator.Validate(schema.SchemaObservation, payload)
	if err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		if opts.SkipQuarantine {
			return &Result{Status: StatusValidationFailed, ValidationErrors: errs}, nil
		}
		entry, qerr := p.deadLine.Quarantine(schema.SchemaObservation, payload, errs, p.now())
		if qerr != nil {
			return nil, fmt.Errorf("failed to quarantine payload: %w", qerr)
		}
		return &Result{
			Status:           StatusValidationFailed,
			DLQID:            entry.DLQID,
			ValidationErrors: errs,
		}, nil
	}

	obs, err := decodeObservation(payload)
	if err != nil {
		return nil, err
	}

	doc, err := p.store.Load()
	if err != nil {
		return nil, err
	}

	if doc.HasProcessed(obs.EventID) {
		p.logger.Debug("duplicate observation", "event_id", obs.EventID)
		return &Result{Status: StatusDuplicate}, nil
	}
	doc.MarkProcessed(obs.EventID)

	now := p.now()
	decision := resolver.Resolve(doc, obs, now, opts.ForceCommit)
	result := &Result{
		Confidence: decision.Confidence,
		Margin:     decision.Margin,
		Reasons:    decision.Reasons,
	}

	field := state.StripFieldPrefix(obs.Domain, obs.Field)
	slot := fmt.Sprintf("%s/%s.%s", obs.EntityID, obs.Domain, field)

	var audit string
	switch decision.Type {
	case resolver.AutoCommit:
		Commit(doc, obs, decision.Confidence, now)
		doc.LearningStats.AutoCommits++
		result.Status = StatusCommitted
		audit = fmt.Sprintf("%s | decision=auto_commit | %s | value=%s | confidence=%.3f | source=%s",
			obs.EventID, slot, state.FormatValue(obs.CandidateValue), decision.Confidence, obs.Source.Type)

	case resolver.AskUser:
		prompt := NewPrompt(obs, decision.Confidence, decision.Reasons, now)
		doc.PendingConfirmations[prompt.PromptID] = prompt
		result.Status = StatusPendingConfirmation
		result.Prompt = prompt
		audit = fmt.Sprintf("%s | decision=ask_user | %s | prompt_id=%s | confidence=%.3f | source=%s",
			obs.EventID, slot, prompt.PromptID, decision.Confidence, obs.Source.Type)

	case resolver.TentativeReject:
		doc.PushTentative(state.Tentative{
			Observation: *obs,
			ObservedAt:  state.FormatTS(now),
			Confidence:  decision.Confidence,
			Reasons:     summarizeReasons(decision.Reasons),
		})
		doc.LearningStats.TentativeRejects++
		result.Status = StatusTentative
		audit = fmt.Sprintf("%s | decision=tentative_reject | %s | confidence=%.3f | source=%s",
			obs.EventID, slot, decision.Confidence, obs.Source.Type)
	}

	if err := p.store.Save(doc); err != nil {
		return nil, err
	}
	if err := p.store.AppendAudit(audit); err != nil {
		return nil, err
	}

	p.logger.Info("observation processed",
		"event_id", obs.EventID,
		"status", string(result.Status),
		"slot", slot,
		"confidence", decision.Confidence)
	return result, nil
}

// Commit applies an auto-commit decision to the document: write the record
// or, for a retract with a null value, delete the field.
func Commit(doc *state.Document, obs *state.Observation, confidence float64, now time.Time) {
	field := state.StripFieldPrefix(obs.Domain, obs.Field)
	if obs.Intent == string(state.IntentRetract) && obs.CandidateValue == nil {
		doc.DeleteRecord(obs.EntityID, obs.Domain, field)
		return
	}
	doc.SetRecord(obs.EntityID, obs.Domain, field, &state.Record{
		Value:      obs.CandidateValue,
		LastUpdate: state.FormatTS(now),
		Source:     obs.Source.Type,
		Confidence: confidence,
		EventID:    obs.EventID,
	})
}

// NewPrompt builds the pending prompt for an ask_user decision
func NewPrompt(obs *state.Observation, confidence float64, reasons []string, now time.Time) *state.PendingPrompt {
	field := state.StripFieldPrefix(obs.Domain, obs.Field)
	return &state.PendingPrompt{
		PromptID:         uuid.New().String(),
		EntityID:         obs.EntityID,
		Domain:           obs.Domain,
		ProposedChange:   fmt.Sprintf("%s -> %s", field, state.FormatValue(obs.CandidateValue)),
		Confidence:       confidence,
		ReasonSummary:    summarizeReasons(reasons),
		Action:           state.ActionConfirm,
		ObservationEvent: *obs,
		Source:           obs.Source,
		CreatedAt:        state.FormatTS(now),
	}
}

// summarizeReasons keeps the first 5 reasons, each capped at 160 chars
func summarizeReasons(reasons []string) []string {
	if len(reasons) > 5 {
		reasons = reasons[:5]
	}
	out := make([]string, len(reasons))
	for i, r := range reasons {
		if len(r) > 160 {
			r = r[:160]
		}
		out[i] = r
	}
	return out
}

func decodeObservation(payload map[string]any) (*state.Observation, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to re-marshal payload: %w", err)
	}
	var obs state.Observation
	if err := json.Unmarshal(data, &obs); err != nil {
		return nil, fmt.Errorf("failed to decode observation: %w", err)
	}
	return &obs, nil
}
