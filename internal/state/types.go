package state

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Domain partitions facts by subject area
type Domain string

const (
	DomainTravel    Domain = "travel"
	DomainFamily    Domain = "family"
	DomainProject   Domain = "project"
	DomainFinancial Domain = "financial"
	DomainProfile   Domain = "profile"
	DomainSchool    Domain = "school"
	DomainGeneral   Domain = "general"
)

// Domains lists every known domain in declaration order
var Domains = []Domain{
	DomainTravel,
	DomainFamily,
	DomainProject,
	DomainFinancial,
	DomainProfile,
	DomainSchool,
	DomainGeneral,
}

// Intent classifies how strongly an observation asserts its value
type Intent string

const (
	IntentAssertive    Intent = "assertive"
	IntentPlanning     Intent = "planning"
	IntentHypothetical Intent = "hypothetical"
	IntentHistorical   Intent = "historical"
	IntentRetract      Intent = "retract"
)

// Source types form a closed set; unknown types fall back to a default
// reliability when scoring.
const (
	SourceConversationAssertive = "conversation_assertive"
	SourceConversationPlanning  = "conversation_planning"
	SourceCalendarPoll          = "calendar_poll"
	SourceCalendarWebhook       = "calendar_webhook"
	SourceEmailPoll             = "email_poll"
	SourceEmailWebhook          = "email_webhook"
	SourceStaticMarkdown        = "static_markdown"
	SourceUserConfirmation      = "user_confirmation"
)

// SourceRef identifies where an observation (or corroboration) came from
type SourceRef struct {
	Type string `json:"type"`
	Ref  string `json:"ref"`
}

// Observation is a single inbound claim that a field has a candidate value
type Observation struct {
	EventID        string      `json:"event_id"`
	EventTS        string      `json:"event_ts"`
	Domain         string      `json:"domain"`
	EntityID       string      `json:"entity_id"`
	Field          string      `json:"field"`
	CandidateValue any         `json:"candidate_value"`
	Intent         string      `json:"intent"`
	Source         SourceRef   `json:"source"`
	Corroborators  []SourceRef `json:"corroborators"`
}

// SignalSource identifies the upstream feed a signal batch came from
type SignalSource struct {
	Kind string `json:"kind"` // calendar | email
	Mode string `json:"mode"` // poll | webhook
	Ref  string `json:"ref"`
}

// SignalItem is one fact extracted from a calendar event or mail thread
type SignalItem struct {
	Domain        string      `json:"domain"`
	Field         string      `json:"field"`
	Ref           string      `json:"ref"`
	Value         any         `json:"value"`
	Intent        string      `json:"intent"`
	Corroborators []SourceRef `json:"corroborators,omitempty"`
}

// Signal is a batched external input exploded into observations by the
// signal adapter
type Signal struct {
	SignalID string       `json:"signal_id"`
	EventTS  string       `json:"event_ts"`
	Source   SignalSource `json:"source"`
	EntityID string       `json:"entity_id"`
	Items    []SignalItem `json:"items"`
}

// UserConfirmation is the user's decision on a pending prompt
type UserConfirmation struct {
	PromptID       string   `json:"prompt_id"`
	EntityID       string   `json:"entity_id"`
	Domain         string   `json:"domain"`
	ProposedChange string   `json:"proposed_change"`
	Confidence     float64  `json:"confidence"`
	ReasonSummary  []string `json:"reason_summary,omitempty"`
	Action         string   `json:"action"` // confirm | reject | edit
	EditedValue    any      `json:"edited_value,omitempty"`
	TS             string   `json:"ts,omitempty"`
}

// Confirmation actions
const (
	ActionConfirm = "confirm"
	ActionReject  = "reject"
	ActionEdit    = "edit"
)

// Record is the committed value for one (entity, domain, field) slot
type Record struct {
	Value      any     `json:"value"`
	LastUpdate string  `json:"last_update"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	EventID    string  `json:"event_id"`
}

// PendingPrompt is an ask-user decision awaiting a human action
type PendingPrompt struct {
	PromptID         string      `json:"prompt_id"`
	EntityID         string      `json:"entity_id"`
	Domain           string      `json:"domain"`
	ProposedChange   string      `json:"proposed_change"`
	Confidence       float64     `json:"confidence"`
	ReasonSummary    []string    `json:"reason_summary"`
	Action           string      `json:"action"`
	ObservationEvent Observation `json:"observation_event"`
	Source           SourceRef   `json:"source"`
	CreatedAt        string      `json:"created_at"`
}

// Tentative is a low-confidence observation stashed without mutating state
type Tentative struct {
	Observation
	ObservedAt string   `json:"observed_at"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
	PromotedAt string   `json:"promoted_at,omitempty"`
	PromptID   string   `json:"prompt_id,omitempty"`
}

// Entity holds all committed records for one entity, keyed domain → field
type Entity struct {
	State map[string]map[string]*Record `json:"state"`
}

// DomainConfig carries the per-domain decision thresholds
type DomainConfig struct {
	AskThreshold    float64 `json:"ask_threshold"`
	AutoThreshold   float64 `json:"auto_threshold"`
	MarginThreshold float64 `json:"margin_threshold"`
}

// LearnerConfig configures the adaptive threshold learner
type LearnerConfig struct {
	Mode                 string  `json:"mode"` // off | shadow | apply
	MinSamples           int     `json:"min_samples"`
	LookbackDays         int     `json:"lookback_days"`
	MaxDailyStep         float64 `json:"max_daily_step"`
	TargetCorrectionRate float64 `json:"target_correction_rate"`
	LowConfirmationRate  float64 `json:"low_confirmation_rate"`
	HighConfirmationRate float64 `json:"high_confirmation_rate"`
	MinIntervalHours     float64 `json:"min_interval_hours"`
	LastRunAt            string  `json:"last_run_at,omitempty"`
}

// Runtime carries mutable engine settings persisted with the document
type Runtime struct {
	ProjectionMode          string            `json:"projection_mode"` // ast_zone | legacy_string
	AdaptiveLearningEnabled bool              `json:"adaptive_learning_enabled"`
	AdaptiveLearning        LearnerConfig     `json:"adaptive_learning"`
	ProjectionHashes        map[string]string `json:"projection_hashes"`
	LastPollAt              string            `json:"last_poll_at,omitempty"`
	LastReviewQueueAt       string            `json:"last_review_queue_at,omitempty"`
}

// LearningStats counts decision outcomes for observability and the learner
type LearningStats struct {
	AutoCommits          int `json:"auto_commits"`
	AskUserConfirmations int `json:"ask_user_confirmations"`
	UserConfirms         int `json:"user_confirms"`
	UserRejects          int `json:"user_rejects"`
	UserEdits            int `json:"user_edits"`
	TentativeRejects     int `json:"tentative_rejects"`
}

// Bounds on the in-document rolling lists
const (
	MaxProcessedEventIDs     = 5000
	MaxTentativeObservations = 1000
)

// Document is the canonical, single-writer state of the engine
type Document struct {
	Version               string                    `json:"version"`
	LastConsistencyCheck  string                    `json:"last_consistency_check"`
	Runtime               Runtime                   `json:"runtime"`
	Domains               map[string]DomainConfig   `json:"domains"`
	SourceReliability     map[string]float64        `json:"source_reliability"`
	Entities              map[string]*Entity        `json:"entities"`
	TentativeObservations []Tentative               `json:"tentative_observations"`
	ActiveConflicts       []any                     `json:"active_conflicts"`
	PendingConfirmations  map[string]*PendingPrompt `json:"pending_confirmations"`
	ProcessedEventIDs     []string                  `json:"processed_event_ids"`
	LearningStats         LearningStats             `json:"learning_stats"`
}

var entityIDPattern = regexp.MustCompile(`^(user|family|team):[a-z0-9._-]+$`)

// ValidEntityID reports whether id matches the entity scope grammar
func ValidEntityID(id string) bool {
	return entityIDPattern.MatchString(id)
}

// ValidDomain reports whether d names a known domain
func ValidDomain(d string) bool {
	for _, known := range Domains {
		if string(known) == d {
			return true
		}
	}
	return false
}

// HasProcessed reports whether eventID has already been ingested
func (d *Document) HasProcessed(eventID string) bool {
	for _, id := range d.ProcessedEventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

// MarkProcessed appends eventID to the processed set, evicting the oldest
// entries beyond the cap
func (d *Document) MarkProcessed(eventID string) {
	d.ProcessedEventIDs = append(d.ProcessedEventIDs, eventID)
	if n := len(d.ProcessedEventIDs); n > MaxProcessedEventIDs {
		d.ProcessedEventIDs = d.ProcessedEventIDs[n-MaxProcessedEventIDs:]
	}
}

// PushTentative appends t, evicting the oldest entries beyond the cap
func (d *Document) PushTentative(t Tentative) {
	d.TentativeObservations = append(d.TentativeObservations, t)
	if n := len(d.TentativeObservations); n > MaxTentativeObservations {
		d.TentativeObservations = d.TentativeObservations[n-MaxTentativeObservations:]
	}
}

// RecordFor returns the committed record for (entityID, domain, field), or
// nil when none exists
func (d *Document) RecordFor(entityID, domain, field string) *Record {
	entity := d.Entities[entityID]
	if entity == nil {
		return nil
	}
	fields := entity.State[domain]
	if fields == nil {
		return nil
	}
	return fields[field]
}

// SetRecord writes (or with a nil record path, creates) the slot for
// (entityID, domain, field)
func (d *Document) SetRecord(entityID, domain, field string, rec *Record) {
	entity := d.Entities[entityID]
	if entity == nil {
		entity = &Entity{State: make(map[string]map[string]*Record)}
		d.Entities[entityID] = entity
	}
	if entity.State == nil {
		entity.State = make(map[string]map[string]*Record)
	}
	fields := entity.State[domain]
	if fields == nil {
		fields = make(map[string]*Record)
		entity.State[domain] = fields
	}
	fields[field] = rec
}

// DeleteRecord removes the slot for (entityID, domain, field), pruning
// emptied maps so the document stays compact
func (d *Document) DeleteRecord(entityID, domain, field string) {
	entity := d.Entities[entityID]
	if entity == nil {
		return
	}
	fields := entity.State[domain]
	if fields == nil {
		return
	}
	delete(fields, field)
	if len(fields) == 0 {
		delete(entity.State, domain)
	}
	if len(entity.State) == 0 {
		delete(d.Entities, entityID)
	}
}

// StripFieldPrefix removes the "<domain>." prefix observations carry on
// their field names; stored fields are unprefixed.
func StripFieldPrefix(domain, field string) string {
	prefix := domain + "."
	if len(field) > len(prefix) && field[:len(prefix)] == prefix {
		return field[len(prefix):]
	}
	return field
}

// FormatValue renders a candidate value for display: strings pass through,
// everything else is JSON-encoded.
func FormatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// ParseLooseValue interprets user-supplied value text: valid JSON decodes
// to its value, anything else stays a plain string.
func ParseLooseValue(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return v
	}
	return s
}

// FormatTS renders t in the on-disk timestamp format (RFC 3339 UTC)
func FormatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseTS parses an on-disk timestamp, accepting fractional seconds
func ParseTS(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// Round3 clamps v to [0,1] and rounds to 3 decimals, the canonical float
// representation for confidences
func Round3(v float64) float64 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return float64(int(v*1000+0.5)) / 1000
}
