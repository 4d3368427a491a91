package signal

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iambrandonn/statekeeper/internal/intent"
	"github.com/iambrandonn/statekeeper/internal/state"
)

// CalendarEvent is one raw event object from the external fetcher
type CalendarEvent struct {
	Ref         string `json:"ref"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Start       string `json:"start"`
	End         string `json:"end"`
}

// EmailThread is one raw thread object from the external fetcher
type EmailThread struct {
	Ref     string   `json:"ref"`
	Subject string   `json:"subject"`
	From    string   `json:"from"`
	Labels  []string `json:"labels"`
	Snippet string   `json:"snippet"`
}

// schoolKeywords refine a family-domain hit into school
var schoolKeywords = []string{"school", "class", "lesson", "teacher", "homework"}

// BuildCalendarSignal converts fetched calendar events into a signal. The
// domain comes from the event texts (summary, description, location); a
// family hit is refined to school when class or lesson keywords appear.
func BuildCalendarSignal(entityID, mode, sourceRef string, events []CalendarEvent, now time.Time) *state.Signal {
	items := make([]state.SignalItem, 0, len(events))
	for _, ev := range events {
		text := strings.Join([]string{ev.Summary, ev.Description, ev.Location}, " ")
		domain := refineDomain(intent.InferDomain(text), text)
		items = append(items, state.SignalItem{
			Domain: domain,
			Field:  fmt.Sprintf("%s.event.%s", domain, sanitizeRef(ev.Ref)),
			Ref:    "calendar_event:" + ev.Ref,
			Value: map[string]any{
				"summary":  ev.Summary,
				"start":    ev.Start,
				"end":      ev.End,
				"location": ev.Location,
			},
			Intent: string(state.IntentAssertive),
		})
	}

	return &state.Signal{
		SignalID: uuid.New().String(),
		EventTS:  state.FormatTS(now),
		Source:   state.SignalSource{Kind: KindCalendar, Mode: mode, Ref: sourceRef},
		EntityID: entityID,
		Items:    items,
	}
}

// BuildEmailSignal converts fetched mail threads into a signal, inferring
// the domain from subject, sender, and labels.
func BuildEmailSignal(entityID, mode, sourceRef string, threads []EmailThread, now time.Time) *state.Signal {
	items := make([]state.SignalItem, 0, len(threads))
	for _, th := range threads {
		text := strings.Join(append([]string{th.Subject, th.From}, th.Labels...), " ")
		domain := refineDomain(intent.InferDomain(text), text)
		items = append(items, state.SignalItem{
			Domain: domain,
			Field:  fmt.Sprintf("%s.thread.%s", domain, sanitizeRef(th.Ref)),
			Ref:    "email_thread:" + th.Ref,
			Value: map[string]any{
				"subject": th.Subject,
				"from":    th.From,
				"snippet": th.Snippet,
			},
			Intent: string(state.IntentAssertive),
		})
	}

	return &state.Signal{
		SignalID: uuid.New().String(),
		EventTS:  state.FormatTS(now),
		Source:   state.SignalSource{Kind: KindEmail, Mode: mode, Ref: sourceRef},
		EntityID: entityID,
		Items:    items,
	}
}

func refineDomain(domain, text string) string {
	if domain != string(state.DomainFamily) {
		return domain
	}
	lower := strings.ToLower(text)
	for _, kw := range schoolKeywords {
		if strings.Contains(lower, kw) {
			return string(state.DomainSchool)
		}
	}
	return domain
}

// sanitizeRef squeezes an external ref into a stable field-safe token
func sanitizeRef(ref string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(ref) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if len(s) > 64 {
		s = s[:64]
	}
	if s == "" {
		s = "unknown"
	}
	return s
}
