package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iambrandonn/statekeeper/internal/intent"
	"github.com/iambrandonn/statekeeper/internal/state"
)

func TestExtractObservation(t *testing.T) {
	ts := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	obs, err := ExtractObservation(context.Background(),
		"We are planning a trip to Tokyo", intent.RuleClassifier{}, ExtractOptions{
			EntityID:  "user:brandon",
			SourceRef: "chat:telegram/home",
			EventTS:   ts,
		})
	require.NoError(t, err)

	assert.Equal(t, "travel", obs.Domain)
	assert.Equal(t, "travel.note", obs.Field, "the field defaults to the inferred domain's note slot")
	assert.Equal(t, "planning", obs.Intent)
	assert.Equal(t, "We are planning a trip to Tokyo", obs.CandidateValue)
	assert.Equal(t, state.SourceConversationAssertive, obs.Source.Type, "assertive is the default source grade")
	assert.Equal(t, "chat:telegram/home", obs.Source.Ref)
	assert.Equal(t, state.FormatTS(ts), obs.EventTS)
	assert.NotNil(t, obs.Corroborators)

	_, err = uuid.Parse(obs.EventID)
	assert.NoError(t, err, "a minted event id must be a uuid")
}

func TestExtractObservationOverrides(t *testing.T) {
	obs, err := ExtractObservation(context.Background(),
		"The rent is 2400 a month", intent.RuleClassifier{}, ExtractOptions{
			EntityID:      "family:chen",
			FieldOverride: "financial.rent",
			SourceType:    state.SourceConversationPlanning,
			EventID:       "9f0c2f9a-6666-4000-8000-000000000001",
		})
	require.NoError(t, err)

	assert.Equal(t, "financial", obs.Domain)
	assert.Equal(t, "financial.rent", obs.Field)
	assert.Equal(t, "assertive", obs.Intent)
	assert.Equal(t, state.SourceConversationPlanning, obs.Source.Type)
	assert.Equal(t, "9f0c2f9a-6666-4000-8000-000000000001", obs.EventID)
}

func TestExtractObservationRequiresInput(t *testing.T) {
	_, err := ExtractObservation(context.Background(), "", intent.RuleClassifier{}, ExtractOptions{EntityID: "user:brandon"})
	assert.Error(t, err)

	_, err = ExtractObservation(context.Background(), "some text", intent.RuleClassifier{}, ExtractOptions{})
	assert.Error(t, err)
}
