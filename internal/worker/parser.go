package worker

import (
	"strings"
)

// Decision actions produced by the reply parser
const (
	DecisionConfirm  = "confirm"
	DecisionReject   = "reject"
	DecisionEdit     = "edit"
	DecisionEditHelp = "edit_help"
)

// Decision is one parsed user reply. PromptID is empty when the reply did
// not name a prompt (bare "yes"); such decisions apply to the active
// prompt only.
type Decision struct {
	Action   string
	PromptID string
	Value    string
}

var confirmTokens = map[string]bool{
	"confirm": true, "approved": true, "yes": true, "y": true, "ok": true, "okay": true,
}

var rejectTokens = map[string]bool{
	"reject": true, "decline": true, "no": true, "n": true,
}

// ParseDecision interprets one user reply against the known prompt ids.
// promptIDs are the currently pending prompt ids; a named prompt must
// match exactly one of them by a prefix of at least 8 characters.
// Anything unrecognized parses to no decision.
func ParseDecision(text string, promptIDs []string) (*Decision, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}

	// Callback-data form: state_confirm:<id>, state_reject:<id>, state_edit:<id>
	if decision, ok := parseCallback(text, promptIDs); ok {
		return decision, true
	}

	// Inline-button form: /state-confirm <id> yes|no
	if rest, ok := strings.CutPrefix(text, "/state-confirm "); ok {
		fields := strings.Fields(rest)
		if len(fields) == 2 {
			id, matched := matchPrompt(fields[0], promptIDs)
			if matched {
				switch {
				case confirmTokens[strings.ToLower(fields[1])]:
					return &Decision{Action: DecisionConfirm, PromptID: id}, true
				case rejectTokens[strings.ToLower(fields[1])]:
					return &Decision{Action: DecisionReject, PromptID: id}, true
				}
			}
		}
		return nil, false
	}

	lower := strings.ToLower(text)

	// Bare tokens
	switch {
	case confirmTokens[lower]:
		return &Decision{Action: DecisionConfirm}, true
	case rejectTokens[lower]:
		return &Decision{Action: DecisionReject}, true
	case lower == "edit":
		return &Decision{Action: DecisionEditHelp}, true
	}

	// edit: <value> / edit - <value>
	if value, ok := cutEditValue(text); ok {
		return &Decision{Action: DecisionEdit, Value: value}, true
	}

	// Natural line: (confirm|reject|edit) <prompt_id>[: edited value],
	// verb and id in either order.
	head, value := text, ""
	if idx := strings.Index(text, ":"); idx >= 0 {
		head = text[:idx]
		value = strings.TrimSpace(text[idx+1:])
	}
	fields := strings.Fields(head)
	if len(fields) == 2 {
		verb, ref := strings.ToLower(fields[0]), fields[1]
		if !isVerb(verb) {
			verb, ref = strings.ToLower(fields[1]), fields[0]
		}
		if isVerb(verb) {
			if id, matched := matchPrompt(ref, promptIDs); matched {
				switch verb {
				case "confirm":
					return &Decision{Action: DecisionConfirm, PromptID: id}, true
				case "reject":
					return &Decision{Action: DecisionReject, PromptID: id}, true
				case "edit":
					if value == "" {
						return &Decision{Action: DecisionEditHelp, PromptID: id}, true
					}
					return &Decision{Action: DecisionEdit, PromptID: id, Value: value}, true
				}
			}
		}
	}

	return nil, false
}

func parseCallback(text string, promptIDs []string) (*Decision, bool) {
	for prefix, action := range map[string]string{
		"state_confirm:": DecisionConfirm,
		"state_reject:":  DecisionReject,
		"state_edit:":    DecisionEditHelp,
	} {
		if rest, ok := strings.CutPrefix(text, prefix); ok {
			id, matched := matchPrompt(strings.TrimSpace(rest), promptIDs)
			if !matched {
				return nil, false
			}
			return &Decision{Action: action, PromptID: id}, true
		}
	}
	return nil, false
}

// cutEditValue handles "edit: <value>" and "edit - <value>"
func cutEditValue(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, sep := range []string{"edit:", "edit -"} {
		if strings.HasPrefix(lower, sep) {
			value := strings.TrimSpace(text[len(sep):])
			if value != "" {
				return value, true
			}
		}
	}
	return "", false
}

func isVerb(s string) bool {
	return s == "confirm" || s == "reject" || s == "edit"
}

// matchPrompt resolves ref against the known prompt ids: a full id, or a
// prefix of at least 8 characters matching exactly one id. Ambiguous
// prefixes never resolve.
func matchPrompt(ref string, promptIDs []string) (string, bool) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if len(ref) < 8 {
		return "", false
	}
	var match string
	for _, id := range promptIDs {
		if strings.HasPrefix(strings.ToLower(id), ref) {
			if match != "" {
				return "", false
			}
			match = id
		}
	}
	return match, match != ""
}
