// Package learner records ask_user outcomes as learning events and, in
// shadow or apply mode, proposes per-domain threshold adjustments from
// that history.
package learner

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/iambrandonn/statekeeper/internal/fsutil"
	"github.com/iambrandonn/statekeeper/internal/ndjson"
	"github.com/iambrandonn/statekeeper/internal/state"
)

// Outcomes recorded per ask_user resolution
const (
	OutcomeAccepted  = "accepted"
	OutcomeCorrected = "corrected"
)

// LearningEvent is one recorded ask_user outcome
type LearningEvent struct {
	LearningEventID string  `json:"learning_event_id"`
	TS              string  `json:"ts"`
	EntityID        string  `json:"entity_id"`
	Domain          string  `json:"domain"`
	Field           string  `json:"field"`
	Decision        string  `json:"decision"`
	Action          string  `json:"action"`
	Outcome         string  `json:"outcome"`
	Confidence      float64 `json:"confidence"`
	Intent          string  `json:"intent"`
	SourceType      string  `json:"source_type"`
	SourceRef       string  `json:"source_ref"`
	PromptID        string  `json:"prompt_id"`
}

// EventLog is the append-only NDJSON learning-event store
type EventLog struct {
	path   string
	logger *slog.Logger
}

// NewEventLog creates a learning-event log backed by path
func NewEventLog(path string, logger *slog.Logger) *EventLog {
	return &EventLog{path: path, logger: logger}
}

// Append records one learning event, filling id and timestamp when unset.
// Events accrue even while the learner is off so history is ready when it
// is enabled.
func (l *EventLog) Append(ev LearningEvent) error {
	if ev.LearningEventID == "" {
		ev.LearningEventID = uuid.New().String()
	}
	if ev.TS == "" {
		ev.TS = state.FormatTS(time.Now())
	}
	if ev.Decision == "" {
		ev.Decision = "ask_user"
	}
	line, err := ndjson.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode learning event: %w", err)
	}
	return fsutil.AppendLine(l.path, string(line))
}

// ReadSince returns events with ts >= since; malformed lines are skipped
func (l *EventLog) ReadSince(since time.Time) ([]LearningEvent, error) {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open learning-event log: %w", err)
	}
	defer file.Close()

	var events []LearningEvent
	_, err = ndjson.Scan(file, func(_ int, _ map[string]any, raw []byte) error {
		var ev LearningEvent
		if err := decode(raw, &ev); err != nil {
			return nil
		}
		ts, err := state.ParseTS(ev.TS)
		if err != nil || ts.Before(since) {
			return nil
		}
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
