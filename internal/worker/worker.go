package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iambrandonn/statekeeper/internal/confirm"
	"github.com/iambrandonn/statekeeper/internal/state"
	"github.com/iambrandonn/statekeeper/internal/store"
)

// Options configures the confirmation-loop worker
type Options struct {
	Target      string // explicit target; env and side-car are fallbacks
	ThreadID    string
	EntityID    string
	SessionsDir string
	StatePath   string
	SidecarPath string // optional YAML side-car naming the target
}

// TickReport summarizes one worker tick
type TickReport struct {
	Target         string `json:"target"`
	RepliesParsed  int    `json:"replies_parsed"`
	ResolvedPrompt string `json:"resolved_prompt,omitempty"`
	ResolvedAction string `json:"resolved_action,omitempty"`
	Dispatched     string `json:"dispatched,omitempty"`
	Skipped        string `json:"skipped,omitempty"`
}

// Worker runs the periodic confirmation loop
type Worker struct {
	store     *store.Store
	lifecycle *confirm.Lifecycle
	messenger Messenger
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a worker
func New(st *store.Store, lifecycle *confirm.Lifecycle, messenger Messenger, opts Options, logger *slog.Logger) *Worker {
	if opts.StatePath == "" {
		opts.StatePath = st.WorkerStatePath()
	}
	return &Worker{
		store:     st,
		lifecycle: lifecycle,
		messenger: messenger,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the worker clock for deterministic tests
func (w *Worker) SetClock(now func() time.Time) {
	w.now = now
}

// sidecarConfig is the optional YAML side-car naming the review target
type sidecarConfig struct {
	Target   string `yaml:"target"`
	ThreadID string `yaml:"thread_id"`
}

// resolveTarget picks the first non-empty of explicit option, environment,
// side-car config.
func (w *Worker) resolveTarget() (target, threadID string) {
	target, threadID = w.opts.Target, w.opts.ThreadID
	if target == "" {
		target = os.Getenv("STATE_TELEGRAM_TARGET")
	}
	if threadID == "" {
		threadID = os.Getenv("STATE_TELEGRAM_THREAD_ID")
	}
	if target == "" && w.opts.SidecarPath != "" {
		data, err := os.ReadFile(w.opts.SidecarPath)
		if err == nil {
			var side sidecarConfig
			if yaml.Unmarshal(data, &side) == nil {
				target = side.Target
				if threadID == "" {
					threadID = side.ThreadID
				}
			}
		}
	}
	return target, threadID
}

// Tick runs one bounded pass of the confirmation loop. A stale active
// prompt (resolved elsewhere) is cleared; at most one prompt is dispatched
// per tick.
func (w *Worker) Tick(ctx context.Context) (*TickReport, error) {
	rs, err := LoadRuntimeState(w.opts.StatePath)
	if err != nil {
		return nil, err
	}

	target, threadID := w.resolveTarget()
	report := &TickReport{Target: target}
	if target == "" {
		report.Skipped = "unresolved_target"
		return report, nil
	}
	rs.Target = target
	if w.opts.EntityID != "" {
		rs.EntityID = w.opts.EntityID
	}

	sessionFile, err := LocateSession(w.opts.SessionsDir, target)
	if err != nil {
		return nil, err
	}
	if sessionFile != "" && sessionFile != rs.SessionFile {
		// New session: earlier cursors are meaningless
		rs.SessionFile = sessionFile
		rs.SessionCursor = 0
	}

	var replies []Reply
	if rs.SessionFile != "" {
		replies, rs.SessionCursor, err = ReadReplies(rs.SessionFile, rs.SessionCursor)
		if err != nil {
			return nil, err
		}
	}
	report.RepliesParsed = len(replies)

	doc, err := w.store.Load()
	if err != nil {
		return nil, err
	}

	if rs.ActivePromptID != "" {
		prompt := doc.PendingConfirmations[rs.ActivePromptID]
		if prompt == nil {
			// Resolved out of band; harmless, clear and move on
			rs.ActivePromptID = ""
			rs.ActiveMessageID = ""
		} else if err := w.absorbReplies(ctx, rs, doc, prompt, replies, report); err != nil {
			return nil, err
		}
	}

	if rs.ActivePromptID == "" {
		doc, err = w.store.Load()
		if err != nil {
			return nil, err
		}
		if err := w.dispatchNext(ctx, rs, doc, target, threadID, report); err != nil {
			return nil, err
		}
	}

	if err := SaveRuntimeState(w.opts.StatePath, rs); err != nil {
		return nil, err
	}
	return report, nil
}

// absorbReplies resolves the active prompt from the newest applicable
// parsed reply, if any.
func (w *Worker) absorbReplies(ctx context.Context, rs *RuntimeState, doc *state.Document, prompt *state.PendingPrompt, replies []Reply, report *TickReport) error {
	promptIDs := pendingIDs(doc)

	var decision *Decision
	var decidedAt string
	for i := len(replies) - 1; i >= 0; i-- {
		d, ok := ParseDecision(replies[i].Text, promptIDs)
		if !ok {
			continue
		}
		// A reply naming a different prompt is ignored
		if d.PromptID != "" && d.PromptID != rs.ActivePromptID {
			continue
		}
		decision = d
		decidedAt = replies[i].TS
		break
	}
	if decision == nil {
		return nil
	}

	if decision.Action == DecisionEditHelp {
		hint := fmt.Sprintf("To edit, reply: edit %s: <new value>", shortID(rs.ActivePromptID))
		if _, err := w.messenger.Send(ctx, rs.Target, w.opts.ThreadID, hint, nil); err != nil {
			w.logger.Warn("failed to send edit hint", "error", err)
		}
		return nil
	}

	conf := &state.UserConfirmation{
		PromptID:       prompt.PromptID,
		EntityID:       prompt.EntityID,
		Domain:         prompt.Domain,
		ProposedChange: prompt.ProposedChange,
		Confidence:     prompt.Confidence,
		ReasonSummary:  prompt.ReasonSummary,
		Action:         decision.Action,
		TS:             decidedAt,
	}
	if conf.TS == "" {
		conf.TS = state.FormatTS(w.now())
	}
	if decision.Action == DecisionEdit {
		conf.EditedValue = state.ParseLooseValue(decision.Value)
	}

	result, err := w.lifecycle.Apply(ctx, conf)
	if err != nil {
		return err
	}

	var ack string
	switch result.Status {
	case confirm.StatusCommitted:
		ack = fmt.Sprintf("Applied: %s (%s)", prompt.ProposedChange, decision.Action)
	case confirm.StatusRejected:
		ack = fmt.Sprintf("Rejected: %s", prompt.ProposedChange)
	default:
		ack = fmt.Sprintf("Could not apply confirmation (%s)", result.Status)
	}
	if _, err := w.messenger.Send(ctx, rs.Target, w.opts.ThreadID, ack, nil); err != nil {
		w.logger.Warn("failed to send acknowledgement", "error", err)
	}

	report.ResolvedPrompt = prompt.PromptID
	report.ResolvedAction = decision.Action
	rs.ActivePromptID = ""
	rs.ActiveMessageID = ""
	rs.LastDecisionAt = state.FormatTS(w.now())
	return nil
}

// dispatchNext sends the oldest pending prompt for this entity, resetting
// the session cursor so pre-dispatch chatter is never misattributed to it.
func (w *Worker) dispatchNext(ctx context.Context, rs *RuntimeState, doc *state.Document, target, threadID string, report *TickReport) error {
	prompt := nextPrompt(doc, rs.EntityID)
	if prompt == nil {
		return nil
	}

	text := fmt.Sprintf("Please confirm: [%s] %s (confidence=%.0f%%). Reply yes or no.",
		prompt.EntityID, prompt.ProposedChange, prompt.Confidence*100)
	buttons := PromptButtons(prompt.PromptID)

	messageID, err := w.messenger.Send(ctx, target, threadID, text, buttons)
	if err != nil {
		w.logger.Warn("failed to dispatch prompt", "prompt_id", prompt.PromptID, "error", err)
		return nil
	}

	rs.ActivePromptID = prompt.PromptID
	rs.ActiveMessageID = messageID
	rs.LastDispatchedAt = state.FormatTS(w.now())
	if rs.SessionFile != "" {
		rs.SessionCursor = SessionEOF(rs.SessionFile)
	}
	report.Dispatched = prompt.PromptID

	w.logger.Info("prompt dispatched", "prompt_id", prompt.PromptID, "target", target)
	return nil
}

// Run executes ticks at the given interval until the context is cancelled
func (w *Worker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := w.Tick(ctx); err != nil {
			w.logger.Error("worker tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PromptButtons builds the inline Yes/No buttons for a prompt
func PromptButtons(promptID string) []Button {
	return []Button{
		{Text: "Yes", CallbackData: fmt.Sprintf("/state-confirm %s yes", promptID)},
		{Text: "No", CallbackData: fmt.Sprintf("/state-confirm %s no", promptID)},
	}
}

// nextPrompt returns the oldest pending prompt (created_at asc, prompt id
// as tiebreak), filtered by entity when set.
func nextPrompt(doc *state.Document, entityID string) *state.PendingPrompt {
	var prompts []*state.PendingPrompt
	for _, prompt := range doc.PendingConfirmations {
		if entityID != "" && prompt.EntityID != entityID {
			continue
		}
		prompts = append(prompts, prompt)
	}
	if len(prompts) == 0 {
		return nil
	}
	sort.Slice(prompts, func(i, j int) bool {
		if prompts[i].CreatedAt != prompts[j].CreatedAt {
			return prompts[i].CreatedAt < prompts[j].CreatedAt
		}
		return prompts[i].PromptID < prompts[j].PromptID
	})
	return prompts[0]
}

func pendingIDs(doc *state.Document) []string {
	ids := make([]string, 0, len(doc.PendingConfirmations))
	for id := range doc.PendingConfirmations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
