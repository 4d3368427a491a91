package confirm

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iambrandonn/statekeeper/internal/dlq"
	"github.com/iambrandonn/statekeeper/internal/ingest"
	"github.com/iambrandonn/statekeeper/internal/learner"
	"github.com/iambrandonn/statekeeper/internal/schema"
	"github.com/iambrandonn/statekeeper/internal/state"
	"github.com/iambrandonn/statekeeper/internal/store"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var confirmNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store     *store.Store
	pipeline  *ingest.Pipeline
	lifecycle *Lifecycle
	events    *learner.EventLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.New(t.TempDir(), quietLogger)
	st.SetClock(func() time.Time { return confirmNow })

	validator, err := schema.NewValidator()
	require.NoError(t, err)

	deadLine := dlq.NewLog(st.DLQPath(), quietLogger)
	events := learner.NewEventLog(st.LearningEventsPath(), quietLogger)

	pipeline := ingest.New(st, validator, deadLine, quietLogger)
	pipeline.SetClock(func() time.Time { return confirmNow })

	lifecycle := New(st, validator, deadLine, events, quietLogger)
	lifecycle.SetClock(func() time.Time { return confirmNow })

	return &fixture{store: st, pipeline: pipeline, lifecycle: lifecycle, events: events}
}

// seedPrompt pushes a calendar_poll observation through the pipeline; its
// confidence lands in the ask band, so a pending prompt comes back.
func (f *fixture) seedPrompt(t *testing.T, eventID, value string) *state.PendingPrompt {
	t.Helper()
	obs := &state.Observation{
		EventID:        eventID,
		EventTS:        state.FormatTS(confirmNow),
		Domain:         "travel",
		EntityID:       "user:brandon",
		Field:          "travel.next_trip",
		CandidateValue: value,
		Intent:         "assertive",
		Source:         state.SourceRef{Type: state.SourceCalendarPoll, Ref: "gcal:primary#item-1"},
		Corroborators:  []state.SourceRef{},
	}
	result, err := f.pipeline.Ingest(context.Background(), obs, ingest.Options{})
	require.NoError(t, err)
	require.Equal(t, ingest.StatusPendingConfirmation, result.Status)
	return result.Prompt
}

func (f *fixture) decisionFor(prompt *state.PendingPrompt, action string) *state.UserConfirmation {
	return &state.UserConfirmation{
		PromptID:       prompt.PromptID,
		EntityID:       prompt.EntityID,
		Domain:         prompt.Domain,
		ProposedChange: prompt.ProposedChange,
		Confidence:     prompt.Confidence,
		ReasonSummary:  prompt.ReasonSummary,
		Action:         action,
		TS:             state.FormatTS(confirmNow),
	}
}

func TestConfirmCommitsWithFreshEventID(t *testing.T) {
	f := newFixture(t)
	prompt := f.seedPrompt(t, "9f0c2f9a-1111-4000-8000-000000000001", "tokyo")

	result, err := f.lifecycle.Apply(context.Background(), f.decisionFor(prompt, state.ActionConfirm))
	require.NoError(t, err)

	assert.Equal(t, StatusCommitted, result.Status)
	assert.NotEqual(t, prompt.ObservationEvent.EventID, result.EventID,
		"the commit must carry a fresh event id, not the pending observation's")
	assert.InDelta(t, 0.98, result.Confidence, 1e-9)

	doc, err := f.store.Load()
	require.NoError(t, err)
	assert.Empty(t, doc.PendingConfirmations)

	rec := doc.RecordFor("user:brandon", "travel", "next_trip")
	require.NotNil(t, rec)
	assert.Equal(t, "tokyo", rec.Value)
	assert.Equal(t, state.SourceUserConfirmation, rec.Source)
	assert.Equal(t, result.EventID, rec.EventID)
	assert.True(t, doc.HasProcessed(result.EventID))

	assert.Equal(t, 1, doc.LearningStats.AskUserConfirmations)
	assert.Equal(t, 1, doc.LearningStats.UserConfirms)
}

func TestRejectMutatesNothing(t *testing.T) {
	f := newFixture(t)
	prompt := f.seedPrompt(t, "9f0c2f9a-1111-4000-8000-000000000002", "tokyo")

	result, err := f.lifecycle.Apply(context.Background(), f.decisionFor(prompt, state.ActionReject))
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, result.Status)

	doc, err := f.store.Load()
	require.NoError(t, err)
	assert.Empty(t, doc.PendingConfirmations)
	assert.Nil(t, doc.RecordFor("user:brandon", "travel", "next_trip"))
	assert.Equal(t, 1, doc.LearningStats.UserRejects)
}

func TestEditCommitsTheEditedValue(t *testing.T) {
	f := newFixture(t)
	prompt := f.seedPrompt(t, "9f0c2f9a-1111-4000-8000-000000000003", "tokyo")

	conf := f.decisionFor(prompt, state.ActionEdit)
	conf.EditedValue = "osaka"
	result, err := f.lifecycle.Apply(context.Background(), conf)
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, result.Status)

	doc, err := f.store.Load()
	require.NoError(t, err)
	rec := doc.RecordFor("user:brandon", "travel", "next_trip")
	require.NotNil(t, rec)
	assert.Equal(t, "osaka", rec.Value)
	assert.Equal(t, 1, doc.LearningStats.UserEdits)
	assert.Equal(t, 0, doc.LearningStats.UserConfirms)
}

func TestUnknownPromptIsNotFound(t *testing.T) {
	f := newFixture(t)

	conf := &state.UserConfirmation{
		PromptID: "9f0c2f9a-9999-4000-8000-000000000099",
		EntityID: "user:brandon",
		Domain:   "travel",
		Action:   state.ActionConfirm,
		TS:       state.FormatTS(confirmNow),
	}
	result, err := f.lifecycle.Apply(context.Background(), conf)
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, result.Status)
}

func TestEntityMismatchIsRejectedWithoutEffect(t *testing.T) {
	f := newFixture(t)
	prompt := f.seedPrompt(t, "9f0c2f9a-1111-4000-8000-000000000004", "tokyo")

	conf := f.decisionFor(prompt, state.ActionConfirm)
	conf.EntityID = "user:mallory"
	result, err := f.lifecycle.Apply(context.Background(), conf)
	require.NoError(t, err)
	assert.Equal(t, StatusMismatch, result.Status)

	doc, err := f.store.Load()
	require.NoError(t, err)
	assert.Len(t, doc.PendingConfirmations, 1, "a mismatch must leave the prompt open")
}

func TestInvalidConfirmationIsQuarantined(t *testing.T) {
	f := newFixture(t)
	prompt := f.seedPrompt(t, "9f0c2f9a-1111-4000-8000-000000000005", "tokyo")

	payload, err := schema.Payload(f.decisionFor(prompt, "maybe"))
	require.NoError(t, err)

	result, err := f.lifecycle.ApplyPayload(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, StatusValidationFailed, result.Status)
	assert.NotEmpty(t, result.DLQID)
}

func TestOutcomesAreRecordedAsLearningEvents(t *testing.T) {
	f := newFixture(t)

	first := f.seedPrompt(t, "9f0c2f9a-1111-4000-8000-000000000006", "tokyo")
	_, err := f.lifecycle.Apply(context.Background(), f.decisionFor(first, state.ActionConfirm))
	require.NoError(t, err)

	second := f.seedPrompt(t, "9f0c2f9a-1111-4000-8000-000000000007", "osaka")
	_, err = f.lifecycle.Apply(context.Background(), f.decisionFor(second, state.ActionReject))
	require.NoError(t, err)

	events, err := f.events.ReadSince(time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, learner.OutcomeAccepted, events[0].Outcome)
	assert.Equal(t, first.PromptID, events[0].PromptID)
	assert.Equal(t, state.SourceCalendarPoll, events[0].SourceType)

	assert.Equal(t, learner.OutcomeCorrected, events[1].Outcome)
	assert.Equal(t, second.PromptID, events[1].PromptID)
}

func TestReplayPayloadDoesNotRequarantine(t *testing.T) {
	f := newFixture(t)

	result, err := f.lifecycle.ReplayPayload(context.Background(), map[string]any{"action": "maybe"})
	require.NoError(t, err)
	assert.Equal(t, StatusValidationFailed, result.Status)
	assert.Empty(t, result.DLQID)
	assert.NotEmpty(t, result.ValidationErrors)

	folded, err := dlq.NewLog(f.store.DLQPath(), quietLogger).Fold()
	require.NoError(t, err)
	assert.Empty(t, folded.Entries, "a replay must not open a new DLQ entry")
}
