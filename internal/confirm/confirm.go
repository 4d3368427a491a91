// Package confirm applies user decisions to pending prompts and promotes
// tentative observations into the review queue under the pending cap.
package confirm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iambrandonn/statekeeper/internal/dlq"
	"github.com/iambrandonn/statekeeper/internal/ingest"
	"github.com/iambrandonn/statekeeper/internal/learner"
	"github.com/iambrandonn/statekeeper/internal/resolver"
	"github.com/iambrandonn/statekeeper/internal/schema"
	"github.com/iambrandonn/statekeeper/internal/state"
	"github.com/iambrandonn/statekeeper/internal/store"
)

// Status is the confirmation outcome
type Status string

const (
	StatusCommitted        Status = "committed"
	StatusRejected         Status = "rejected"
	StatusNotFound         Status = "not_found"
	StatusMismatch         Status = "mismatch"
	StatusValidationFailed Status = "validation_failed"
)

// Result carries the confirmation outcome
type Result struct {
	Status           Status   `json:"status"`
	PromptID         string   `json:"prompt_id,omitempty"`
	EventID          string   `json:"event_id,omitempty"` // id of the committed observation
	Confidence       float64  `json:"confidence,omitempty"`
	DLQID            string   `json:"dlq_id,omitempty"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
}

// Lifecycle owns the pending-prompt state transitions
type Lifecycle struct {
	store     *store.Store
	validator *schema.Validator
	deadLine  *dlq.Log
	events    *learner.EventLog
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a confirmation lifecycle
func New(st *store.Store, validator *schema.Validator, deadLine *dlq.Log, events *learner.EventLog, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		store:     st,
		validator: validator,
		deadLine:  deadLine,
		events:    events,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the lifecycle clock for deterministic tests
func (l *Lifecycle) SetClock(now func() time.Time) {
	l.now = now
}

// Apply validates and applies a typed confirmation
func (l *Lifecycle) Apply(ctx context.Context, conf *state.UserConfirmation) (*Result, error) {
	payload, err := schema.Payload(conf)
	if err != nil {
		return nil, err
	}
	return l.ApplyPayload(ctx, payload)
}

// ApplyPayload validates and applies a raw confirmation payload. A
// confirm or edit synthesizes a fresh observation with a new event id so
// the commit is not blocked by the pending observation's idempotency entry.
func (l *Lifecycle) ApplyPayload(ctx context.Context, payload map[string]any) (*Result, error) {
	return l.applyPayload(ctx, payload, true)
}

// ReplayPayload is ApplyPayload for the DLQ retry pass: a payload that is
// still invalid comes back as validation_failed without opening a second
// DLQ entry, leaving the retry scheduler as the only writer.
func (l *Lifecycle) ReplayPayload(ctx context.Context, payload map[string]any) (*Result, error) {
	return l.applyPayload(ctx, payload, false)
}

func (l *Lifecycle) applyPayload(ctx context.Context, payload map[string]any, quarantine bool) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	errs, err := l.validator.Validate(schema.SchemaConfirmation, payload)
	if err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		if !quarantine {
			return &Result{Status: StatusValidationFailed, ValidationErrors: errs}, nil
		}
		entry, qerr := l.deadLine.Quarantine(schema.SchemaConfirmation, payload, errs, l.now())
		if qerr != nil {
			return nil, fmt.Errorf("failed to quarantine confirmation: %w", qerr)
		}
		return &Result{Status: StatusValidationFailed, DLQID: entry.DLQID, ValidationErrors: errs}, nil
	}

	var conf state.UserConfirmation
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to re-marshal confirmation: %w", err)
	}
	if err := json.Unmarshal(data, &conf); err != nil {
		return nil, fmt.Errorf("failed to decode confirmation: %w", err)
	}

	doc, err := l.store.Load()
	if err != nil {
		return nil, err
	}

	prompt, ok := doc.PendingConfirmations[conf.PromptID]
	if !ok {
		return &Result{Status: StatusNotFound, PromptID: conf.PromptID}, nil
	}
	if prompt.EntityID != conf.EntityID || prompt.Domain != conf.Domain {
		return &Result{Status: StatusMismatch, PromptID: conf.PromptID}, nil
	}

	delete(doc.PendingConfirmations, conf.PromptID)
	doc.LearningStats.AskUserConfirmations++

	if conf.Action == state.ActionReject {
		doc.LearningStats.UserRejects++
		if err := l.store.Save(doc); err != nil {
			return nil, err
		}
		audit := fmt.Sprintf("prompt=%s | action=reject | no state mutation", conf.PromptID)
		if err := l.store.AppendAudit(audit); err != nil {
			return nil, err
		}
		l.recordOutcome(prompt, state.ActionReject, learner.OutcomeCorrected)
		return &Result{Status: StatusRejected, PromptID: conf.PromptID}, nil
	}

	// confirm or edit: synthesize a committed observation from the pending
	// one. The fresh event id breaks the idempotency tie; user_confirmation
	// becomes the source of record.
	committed := prompt.ObservationEvent
	committed.EventID = uuid.New().String()
	committed.Intent = string(state.IntentAssertive)
	committed.Source = state.SourceRef{
		Type: state.SourceUserConfirmation,
		Ref:  "prompt:" + conf.PromptID,
	}
	if conf.TS != "" {
		committed.EventTS = conf.TS
	} else {
		committed.EventTS = state.FormatTS(l.now())
	}
	if conf.Action == state.ActionEdit {
		committed.CandidateValue = conf.EditedValue
	}
	if committed.Corroborators == nil {
		committed.Corroborators = []state.SourceRef{}
	}

	committedPayload, err := schema.Payload(&committed)
	if err != nil {
		return nil, err
	}
	errs, err = l.validator.Validate(schema.SchemaObservation, committedPayload)
	if err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		if err := l.store.Save(doc); err != nil {
			return nil, err
		}
		if !quarantine {
			return &Result{Status: StatusValidationFailed, PromptID: conf.PromptID, ValidationErrors: errs}, nil
		}
		entry, qerr := l.deadLine.Quarantine(schema.SchemaObservation, committedPayload, errs, l.now())
		if qerr != nil {
			return nil, fmt.Errorf("failed to quarantine synthesized observation: %w", qerr)
		}
		return &Result{Status: StatusValidationFailed, PromptID: conf.PromptID, DLQID: entry.DLQID, ValidationErrors: errs}, nil
	}

	now := l.now()
	confidence, _ := resolver.Confidence(doc, &committed, now)
	ingest.Commit(doc, &committed, confidence, now)
	doc.MarkProcessed(committed.EventID)

	outcome := learner.OutcomeAccepted
	if conf.Action == state.ActionEdit {
		doc.LearningStats.UserEdits++
		outcome = learner.OutcomeCorrected
	} else {
		doc.LearningStats.UserConfirms++
	}

	if err := l.store.Save(doc); err != nil {
		return nil, err
	}

	field := state.StripFieldPrefix(committed.Domain, committed.Field)
	audit := fmt.Sprintf("%s | decision=user_confirmation | prompt=%s | action=%s | %s/%s.%s | value=%s | confidence=%.3f",
		committed.EventID, conf.PromptID, conf.Action,
		committed.EntityID, committed.Domain, field,
		state.FormatValue(committed.CandidateValue), confidence)
	if err := l.store.AppendAudit(audit); err != nil {
		return nil, err
	}

	l.recordOutcome(prompt, conf.Action, outcome)
	l.logger.Info("confirmation applied",
		"prompt_id", conf.PromptID,
		"action", conf.Action,
		"event_id", committed.EventID)

	return &Result{
		Status:     StatusCommitted,
		PromptID:   conf.PromptID,
		EventID:    committed.EventID,
		Confidence: confidence,
	}, nil
}

// recordOutcome appends a learning event; failures are logged and
// swallowed because learning history must never block a confirmation.
func (l *Lifecycle) recordOutcome(prompt *state.PendingPrompt, action, outcome string) {
	field := state.StripFieldPrefix(prompt.Domain, prompt.ObservationEvent.Field)
	ev := learner.LearningEvent{
		TS:         state.FormatTS(l.now()),
		EntityID:   prompt.EntityID,
		Domain:     prompt.Domain,
		Field:      field,
		Decision:   "ask_user",
		Action:     action,
		Outcome:    outcome,
		Confidence: prompt.Confidence,
		Intent:     prompt.ObservationEvent.Intent,
		SourceType: prompt.Source.Type,
		SourceRef:  prompt.Source.Ref,
		PromptID:   prompt.PromptID,
	}
	if err := l.events.Append(ev); err != nil {
		l.logger.Warn("failed to append learning event", "prompt_id", prompt.PromptID, "error", err)
	}
}
