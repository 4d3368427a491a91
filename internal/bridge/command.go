package bridge

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/iambrandonn/statekeeper/internal/confirm"
	"github.com/iambrandonn/statekeeper/internal/state"
	"github.com/iambrandonn/statekeeper/internal/worker"
)

// CommandReply is the bridge's response to a /state-confirm invocation
type CommandReply struct {
	Text    string          `json:"text"`
	Buttons []worker.Button `json:"buttons,omitempty"`
}

// Command handles "/state-confirm [args...]". Forms:
//
//	(no args) | show            list pending prompts
//	yes | no | edit: <value>    act on the active (or oldest) prompt
//	<ref> and an action,        act on the prompt matching ref; the ref may
//	in either order             come before or after the action words
//	<ref>                       show the prompt matching ref
//
// A ref is a full prompt id or a prefix of at least 8 characters; an
// ambiguous prefix is reported with its candidates rather than guessed.
func (b *Bridge) Command(ctx context.Context, args []string) (*CommandReply, error) {
	doc, err := b.store.Load()
	if err != nil {
		return nil, err
	}

	if len(args) == 0 || strings.EqualFold(args[0], "show") || strings.EqualFold(args[0], "list") {
		return b.listPrompts(doc), nil
	}

	// Resolve the ref before parsing action words, so "yes <ref>" targets
	// the named prompt and never falls back to the active one.
	prompt, ref, candidates, rest := extractRef(doc, args)
	if len(candidates) > 1 {
		return &CommandReply{
			Text: fmt.Sprintf("Prompt ref %q is ambiguous:\n%s", ref, strings.Join(candidates, "\n")),
		}, nil
	}
	if prompt != nil {
		if len(rest) == 0 {
			return b.showPrompt(prompt), nil
		}
		action, value, ok := parseAction(rest)
		if !ok {
			return &CommandReply{
				Text: fmt.Sprintf("Usage: /state-confirm %s yes|no|edit: <new value>", shortID(prompt.PromptID)),
			}, nil
		}
		return b.applyCommand(ctx, prompt, action, value)
	}

	// Bare action applies to the active prompt, falling back to the oldest
	// pending one.
	if action, value, ok := parseAction(args); ok {
		prompt := b.activePrompt(doc)
		if prompt == nil {
			prompt = oldestPrompt(doc)
		}
		if prompt == nil {
			return &CommandReply{Text: "No pending confirmations."}, nil
		}
		return b.applyCommand(ctx, prompt, action, value)
	}

	return &CommandReply{Text: fmt.Sprintf("No pending prompt matches %q.", args[0])}, nil
}

// extractRef scans args for the first token resolving against a pending
// prompt id and returns the match plus the remaining tokens. Ambiguity is
// reported through candidates, never guessed past.
func extractRef(doc *state.Document, args []string) (*state.PendingPrompt, string, []string, []string) {
	for i, arg := range args {
		prompt, candidates := resolveRef(doc, arg)
		if prompt == nil && len(candidates) == 0 {
			continue
		}
		rest := make([]string, 0, len(args)-1)
		rest = append(rest, args[:i]...)
		rest = append(rest, args[i+1:]...)
		return prompt, arg, candidates, rest
	}
	return nil, "", nil, args
}

func (b *Bridge) showPrompt(prompt *state.PendingPrompt) *CommandReply {
	return &CommandReply{
		Text: fmt.Sprintf("[%s] %s %s (confidence=%.2f)\nReply: /state-confirm %s yes|no|edit: <new value>",
			shortID(prompt.PromptID), prompt.EntityID, prompt.ProposedChange, prompt.Confidence,
			shortID(prompt.PromptID)),
		Buttons: worker.PromptButtons(prompt.PromptID),
	}
}

func (b *Bridge) applyCommand(ctx context.Context, prompt *state.PendingPrompt, action, value string) (*CommandReply, error) {
	if action == worker.DecisionEdit && value == "" {
		return &CommandReply{
			Text: fmt.Sprintf("To edit, send: /state-confirm %s edit: <new value>", shortID(prompt.PromptID)),
		}, nil
	}

	conf := &state.UserConfirmation{
		PromptID:       prompt.PromptID,
		EntityID:       prompt.EntityID,
		Domain:         prompt.Domain,
		ProposedChange: prompt.ProposedChange,
		Confidence:     prompt.Confidence,
		ReasonSummary:  prompt.ReasonSummary,
		Action:         action,
		TS:             state.FormatTS(b.now()),
	}
	if action == worker.DecisionEdit {
		conf.EditedValue = state.ParseLooseValue(value)
	}

	result, err := b.lifecycle.Apply(ctx, conf)
	if err != nil {
		return nil, err
	}
	b.clearActiveIfResolved(prompt.PromptID)

	var text string
	switch result.Status {
	case confirm.StatusCommitted:
		text = fmt.Sprintf("Applied (%s): %s", action, prompt.ProposedChange)
	case confirm.StatusRejected:
		text = fmt.Sprintf("Rejected: %s", prompt.ProposedChange)
	default:
		text = fmt.Sprintf("Could not apply confirmation (%s).", result.Status)
	}

	reply := &CommandReply{Text: text}

	// Offer the next prompt in the same reply
	doc, err := b.store.Load()
	if err != nil {
		return nil, err
	}
	if next := oldestPrompt(doc); next != nil {
		reply.Text += fmt.Sprintf("\n\nNext: [%s] %s", shortID(next.PromptID), next.ProposedChange)
		reply.Buttons = worker.PromptButtons(next.PromptID)
	}
	return reply, nil
}

// clearActiveIfResolved keeps the worker runtime state consistent when a
// command resolves the prompt the worker is waiting on.
func (b *Bridge) clearActiveIfResolved(promptID string) {
	rs, err := worker.LoadRuntimeState(b.opts.WorkerStatePath)
	if err != nil || rs.ActivePromptID != promptID {
		return
	}
	rs.ActivePromptID = ""
	rs.ActiveMessageID = ""
	rs.LastDecisionAt = state.FormatTS(b.now())
	if err := worker.SaveRuntimeState(b.opts.WorkerStatePath, rs); err != nil {
		b.logger.Warn("failed to persist worker state", "error", err)
	}
}

func (b *Bridge) listPrompts(doc *state.Document) *CommandReply {
	prompts := sortedPrompts(doc)
	if len(prompts) == 0 {
		return &CommandReply{Text: "No pending confirmations."}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Pending confirmations (%d):\n", len(prompts))
	for _, p := range prompts {
		fmt.Fprintf(&sb, "- [%s] %s %s (confidence=%.2f)\n",
			shortID(p.PromptID), p.EntityID, p.ProposedChange, p.Confidence)
	}
	sb.WriteString("Reply: /state-confirm <ref> yes|no|edit: <new value>")
	reply := &CommandReply{Text: sb.String()}
	reply.Buttons = worker.PromptButtons(prompts[0].PromptID)
	return reply
}

func (b *Bridge) activePrompt(doc *state.Document) *state.PendingPrompt {
	rs, err := worker.LoadRuntimeState(b.opts.WorkerStatePath)
	if err != nil || rs.ActivePromptID == "" {
		return nil
	}
	return doc.PendingConfirmations[rs.ActivePromptID]
}

// parseAction maps command words to a decision action plus an optional edit
// value ("edit: new value" or "edit new value").
func parseAction(args []string) (action, value string, ok bool) {
	if len(args) == 0 {
		return "", "", false
	}
	head := strings.ToLower(strings.TrimSuffix(args[0], ":"))
	rest := strings.TrimSpace(strings.TrimPrefix(strings.Join(args[1:], " "), ":"))
	switch head {
	case "yes", "y", "ok", "okay", "confirm", "approved":
		return worker.DecisionConfirm, "", true
	case "no", "n", "reject", "decline":
		return worker.DecisionReject, "", true
	case "edit":
		return worker.DecisionEdit, rest, true
	}
	return "", "", false
}

// resolveRef matches ref against pending prompt ids. On ambiguity the
// candidate lines come back for the error reply.
func resolveRef(doc *state.Document, ref string) (*state.PendingPrompt, []string) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if len(ref) < 8 {
		return nil, nil
	}
	var matches []*state.PendingPrompt
	for _, p := range sortedPrompts(doc) {
		if strings.HasPrefix(strings.ToLower(p.PromptID), ref) {
			matches = append(matches, p)
		}
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	candidates := make([]string, len(matches))
	for i, p := range matches {
		candidates[i] = fmt.Sprintf("- %s: %s", p.PromptID, p.ProposedChange)
	}
	return nil, candidates
}

func sortedPrompts(doc *state.Document) []*state.PendingPrompt {
	prompts := make([]*state.PendingPrompt, 0, len(doc.PendingConfirmations))
	for _, p := range doc.PendingConfirmations {
		prompts = append(prompts, p)
	}
	sort.Slice(prompts, func(i, j int) bool {
		if prompts[i].CreatedAt != prompts[j].CreatedAt {
			return prompts[i].CreatedAt < prompts[j].CreatedAt
		}
		return prompts[i].PromptID < prompts[j].PromptID
	})
	return prompts
}

func oldestPrompt(doc *state.Document) *state.PendingPrompt {
	prompts := sortedPrompts(doc)
	if len(prompts) == 0 {
		return nil
	}
	return prompts[0]
}
