// Package bridge connects the engine to a host chat runtime: it injects a
// canonical-state context block ahead of outbound turns and screens inbound
// messages into confirmations or observations.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/iambrandonn/statekeeper/internal/confirm"
	"github.com/iambrandonn/statekeeper/internal/ident"
	"github.com/iambrandonn/statekeeper/internal/ingest"
	"github.com/iambrandonn/statekeeper/internal/intent"
	"github.com/iambrandonn/statekeeper/internal/state"
	"github.com/iambrandonn/statekeeper/internal/store"
	"github.com/iambrandonn/statekeeper/internal/worker"
)

// Defaults for the inbound screen and context injection
const (
	DefaultMinChars        = 12
	DefaultMaxPending      = 10
	DefaultInjectMaxFields = 32
)

// Options configures the bridge
type Options struct {
	EntityID        string
	Channels        []string // empty allows every channel
	AllowedSenders  []string // empty allows every sender
	MinChars        int
	MaxPending      int
	InjectMaxFields int
	SourceType      string // default conversation_planning
	WorkerStatePath string
}

// Bridge implements the host-runtime hooks
type Bridge struct {
	store      *store.Store
	pipeline   *ingest.Pipeline
	lifecycle  *confirm.Lifecycle
	classifier intent.Classifier
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a bridge
func New(st *store.Store, pipeline *ingest.Pipeline, lifecycle *confirm.Lifecycle, classifier intent.Classifier, opts Options, logger *slog.Logger) *Bridge {
	if opts.MinChars <= 0 {
		opts.MinChars = DefaultMinChars
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = DefaultMaxPending
	}
	if opts.InjectMaxFields <= 0 {
		opts.InjectMaxFields = DefaultInjectMaxFields
	}
	if opts.SourceType == "" {
		opts.SourceType = state.SourceConversationPlanning
	}
	if opts.WorkerStatePath == "" {
		opts.WorkerStatePath = st.WorkerStatePath()
	}
	return &Bridge{
		store:      st,
		pipeline:   pipeline,
		lifecycle:  lifecycle,
		classifier: classifier,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock overrides the bridge clock for deterministic tests
func (b *Bridge) SetClock(now func() time.Time) {
	b.now = now
}

// PrependContext renders the canonical-state block injected ahead of each
// outbound turn. The block is plain text, capped at InjectMaxFields record
// lines, and always ends with the snapshot-preference instruction.
func (b *Bridge) PrependContext() (string, error) {
	doc, err := b.store.Load()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Known state (machine-managed):\n")

	lines := recordLines(doc, b.opts.EntityID)
	if len(lines) == 0 {
		sb.WriteString("- No committed state yet.\n")
	} else {
		shown := lines
		if len(shown) > b.opts.InjectMaxFields {
			shown = shown[:b.opts.InjectMaxFields]
		}
		for _, line := range shown {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
		if omitted := len(lines) - len(shown); omitted > 0 {
			fmt.Fprintf(&sb, "- %d more fields omitted\n", omitted)
		}
	}

	fmt.Fprintf(&sb, "Pending confirmations: %d\n", len(doc.PendingConfirmations))

	if rs, err := worker.LoadRuntimeState(b.opts.WorkerStatePath); err == nil && rs.ActivePromptID != "" {
		if prompt := doc.PendingConfirmations[rs.ActivePromptID]; prompt != nil {
			fmt.Fprintf(&sb, "Awaiting user reply: [%s] %s (yes / no / edit)\n",
				shortID(prompt.PromptID), prompt.ProposedChange)
		}
	}

	sb.WriteString("If chat context conflicts with this snapshot, prefer this snapshot.")
	return sb.String(), nil
}

// recordLines renders every committed record sorted by entity, domain,
// field. When entityID is set only that entity's records are included.
func recordLines(doc *state.Document, entityID string) []string {
	var lines []string
	entityIDs := make([]string, 0, len(doc.Entities))
	for id := range doc.Entities {
		if entityID != "" && id != entityID {
			continue
		}
		entityIDs = append(entityIDs, id)
	}
	sort.Strings(entityIDs)

	for _, eid := range entityIDs {
		entity := doc.Entities[eid]
		domains := make([]string, 0, len(entity.State))
		for d := range entity.State {
			domains = append(domains, d)
		}
		sort.Strings(domains)
		for _, d := range domains {
			fields := make([]string, 0, len(entity.State[d]))
			for f := range entity.State[d] {
				fields = append(fields, f)
			}
			sort.Strings(fields)
			for _, f := range fields {
				rec := entity.State[d][f]
				lines = append(lines, fmt.Sprintf("- [%s] %s.%s = %s (confidence=%.2f, source=%s)",
					eid, d, f, state.FormatValue(rec.Value), rec.Confidence, rec.Source))
			}
		}
	}
	return lines
}

// InboundMessage is one message arriving from the host chat runtime
type InboundMessage struct {
	Channel      string  `json:"channel"`
	Conversation string  `json:"conversation"`
	MessageID    string  `json:"message_id"`
	From         string  `json:"from"`
	Timestamp    float64 `json:"timestamp"` // unix seconds or millis
	Text         string  `json:"text"`
}

// Inbound handling outcomes
const (
	InboundSkipped         = "skipped"
	InboundDecisionApplied = "decision_applied"
	InboundIngested        = "ingested"
)

// InboundResult reports what the screen did with one message
type InboundResult struct {
	Status     string          `json:"status"`
	Reason     string          `json:"reason,omitempty"` // set when skipped
	Ingestion  *ingest.Result  `json:"ingestion,omitempty"`
	Confirmed  *confirm.Result `json:"confirmed,omitempty"`
	PromptID   string          `json:"prompt_id,omitempty"`
	EventID    string          `json:"event_id,omitempty"`
	ObservedAs string          `json:"observed_as,omitempty"` // "<domain>.<field>"
}

// HandleInbound screens one inbound chat message. A message that resolves
// the active prompt is applied as a confirmation; conversational content
// passing the screen is ingested as a planning-grade observation with a
// deterministic event id, so redelivery is a duplicate, not a double commit.
func (b *Bridge) HandleInbound(ctx context.Context, msg *InboundMessage) (*InboundResult, error) {
	if reason := b.screen(msg); reason != "screen_passed" {
		// Short tokens like "yes" fail the screen but may still resolve the
		// active prompt.
		if applied, result, err := b.tryDecision(ctx, msg.Text); err != nil {
			return nil, err
		} else if applied {
			return result, nil
		}
		return &InboundResult{Status: InboundSkipped, Reason: reason}, nil
	}

	if applied, result, err := b.tryDecision(ctx, msg.Text); err != nil {
		return nil, err
	} else if applied {
		return result, nil
	}

	doc, err := b.store.Load()
	if err != nil {
		return nil, err
	}
	if len(doc.PendingConfirmations) >= b.opts.MaxPending {
		return &InboundResult{Status: InboundSkipped, Reason: "pending_limit_reached"}, nil
	}

	eventID, err := ident.EventID(msg.Channel, msg.Conversation, msg.MessageID, msg.From, msg.Timestamp, msg.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to derive event id: %w", err)
	}

	obs, err := ingest.ExtractObservation(ctx, msg.Text, b.classifier, ingest.ExtractOptions{
		EntityID:   b.opts.EntityID,
		SourceType: b.opts.SourceType,
		SourceRef:  fmt.Sprintf("message:%s:%s:%s", msg.Channel, msg.Conversation, msg.MessageID),
		EventID:    eventID,
		EventTS:    messageTime(msg, b.now),
	})
	if err != nil {
		return nil, err
	}
	obs.Field = obs.Domain + ".current_assertion"

	result, err := b.pipeline.Ingest(ctx, obs, ingest.Options{})
	if err != nil {
		return nil, err
	}
	b.logger.Info("inbound message ingested",
		"event_id", obs.EventID,
		"status", string(result.Status),
		"domain", obs.Domain)
	return &InboundResult{
		Status:     InboundIngested,
		Ingestion:  result,
		EventID:    obs.EventID,
		ObservedAs: obs.Field,
	}, nil
}

// tryDecision checks the message against the active prompt. Bare yes/no
// applies to the active prompt only; a named prompt must match it.
func (b *Bridge) tryDecision(ctx context.Context, text string) (bool, *InboundResult, error) {
	rs, err := worker.LoadRuntimeState(b.opts.WorkerStatePath)
	if err != nil || rs.ActivePromptID == "" {
		return false, nil, nil
	}

	doc, err := b.store.Load()
	if err != nil {
		return false, nil, err
	}
	prompt := doc.PendingConfirmations[rs.ActivePromptID]
	if prompt == nil {
		return false, nil, nil
	}

	decision, ok := worker.ParseDecision(text, pendingIDs(doc))
	if !ok || decision.Action == worker.DecisionEditHelp {
		return false, nil, nil
	}
	if decision.PromptID != "" && decision.PromptID != rs.ActivePromptID {
		return false, nil, nil
	}

	conf := &state.UserConfirmation{
		PromptID:       prompt.PromptID,
		EntityID:       prompt.EntityID,
		Domain:         prompt.Domain,
		ProposedChange: prompt.ProposedChange,
		Confidence:     prompt.Confidence,
		ReasonSummary:  prompt.ReasonSummary,
		Action:         decision.Action,
		TS:             state.FormatTS(b.now()),
	}
	if decision.Action == worker.DecisionEdit {
		conf.EditedValue = state.ParseLooseValue(decision.Value)
	}

	result, err := b.lifecycle.Apply(ctx, conf)
	if err != nil {
		return false, nil, err
	}

	rs.ActivePromptID = ""
	rs.ActiveMessageID = ""
	rs.LastDecisionAt = state.FormatTS(b.now())
	if err := worker.SaveRuntimeState(b.opts.WorkerStatePath, rs); err != nil {
		b.logger.Warn("failed to persist worker state", "error", err)
	}

	return true, &InboundResult{
		Status:    InboundDecisionApplied,
		Confirmed: result,
		PromptID:  prompt.PromptID,
	}, nil
}

// screen applies the inbound filters. Returns "screen_passed" when the
// message should be ingested, otherwise the skip reason.
func (b *Bridge) screen(msg *InboundMessage) string {
	if len(b.opts.Channels) > 0 && !contains(b.opts.Channels, msg.Channel) {
		return "channel_not_allowed"
	}
	if len(b.opts.AllowedSenders) > 0 && !contains(b.opts.AllowedSenders, msg.From) {
		return "sender_not_allowed"
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return "empty"
	}
	if strings.HasPrefix(text, "/") {
		return "command"
	}
	if len(text) < b.opts.MinChars {
		return "too_short"
	}
	if !hasLetter(text) {
		return "no_text_content"
	}
	if strings.HasSuffix(text, "?") {
		return "question"
	}
	return "screen_passed"
}

func messageTime(msg *InboundMessage, now func() time.Time) time.Time {
	if msg.Timestamp > 0 {
		return worker.TimestampFromUnix(msg.Timestamp)
	}
	return now()
}

func pendingIDs(doc *state.Document) []string {
	ids := make([]string, 0, len(doc.PendingConfirmations))
	for id := range doc.PendingConfirmations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
