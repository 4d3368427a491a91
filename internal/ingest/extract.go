package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iambrandonn/statekeeper/internal/intent"
	"github.com/iambrandonn/statekeeper/internal/state"
)

// ExtractOptions steers free-text observation extraction
type ExtractOptions struct {
	EntityID      string
	FieldOverride string // full "<domain>.<field>" override; empty infers "<domain>.note"
	SourceType    string
	SourceRef     string
	EventID       string // empty mints a random uuid
	EventTS       time.Time
}

// ExtractObservation turns a free-form human utterance into a structured
// observation: domain from the keyword matcher, field defaulting to
// <domain>.note, intent from the supplied classifier.
func ExtractObservation(ctx context.Context, text string, classifier intent.Classifier, opts ExtractOptions) (*state.Observation, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}
	if opts.EntityID == "" {
		return nil, fmt.Errorf("entity_id required")
	}
	if opts.SourceType == "" {
		opts.SourceType = state.SourceConversationAssertive
	}

	domain := intent.InferDomain(text)

	field := opts.FieldOverride
	if field == "" {
		field = domain + ".note"
	}

	classified, err := classifier.Classify(ctx, domain, text)
	if err != nil {
		return nil, fmt.Errorf("failed to classify intent: %w", err)
	}

	eventID := opts.EventID
	if eventID == "" {
		eventID = uuid.New().String()
	}
	eventTS := opts.EventTS
	if eventTS.IsZero() {
		eventTS = time.Now()
	}

	return &state.Observation{
		EventID:        eventID,
		EventTS:        state.FormatTS(eventTS),
		Domain:         domain,
		EntityID:       opts.EntityID,
		Field:          field,
		CandidateValue: text,
		Intent:         classified.Intent,
		Source: state.SourceRef{
			Type: opts.SourceType,
			Ref:  opts.SourceRef,
		},
		Corroborators: []state.SourceRef{},
	}, nil
}
