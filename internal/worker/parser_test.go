package worker

import (
	"testing"
)

var knownPrompts = []string{
	"aaaa1111-0000-4000-8000-000000000001",
	"aaaa1111-0000-4000-8000-000000000002",
	"bbbb2222-0000-4000-8000-000000000003",
}

func TestParseDecisionBareTokens(t *testing.T) {
	cases := []struct {
		text   string
		action string
	}{
		{"yes", DecisionConfirm},
		{"Y", DecisionConfirm},
		{"ok", DecisionConfirm},
		{"Approved", DecisionConfirm},
		{"no", DecisionReject},
		{"N", DecisionReject},
		{"decline", DecisionReject},
		{"edit", DecisionEditHelp},
	}
	for _, tc := range cases {
		decision, ok := ParseDecision(tc.text, knownPrompts)
		if !ok {
			t.Errorf("ParseDecision(%q) not recognized", tc.text)
			continue
		}
		if decision.Action != tc.action || decision.PromptID != "" {
			t.Errorf("ParseDecision(%q) = %+v", tc.text, decision)
		}
	}
}

func TestParseDecisionCallbackData(t *testing.T) {
	decision, ok := ParseDecision("state_confirm:bbbb2222-0000-4000-8000-000000000003", knownPrompts)
	if !ok || decision.Action != DecisionConfirm || decision.PromptID != knownPrompts[2] {
		t.Errorf("callback confirm = %+v, ok=%v", decision, ok)
	}

	decision, ok = ParseDecision("state_reject:bbbb2222", knownPrompts)
	if !ok || decision.Action != DecisionReject || decision.PromptID != knownPrompts[2] {
		t.Errorf("callback reject by prefix = %+v, ok=%v", decision, ok)
	}

	decision, ok = ParseDecision("state_edit:bbbb2222", knownPrompts)
	if !ok || decision.Action != DecisionEditHelp {
		t.Errorf("callback edit = %+v, ok=%v", decision, ok)
	}

	if _, ok := ParseDecision("state_confirm:ffff9999", knownPrompts); ok {
		t.Error("unknown prompt ref must not parse")
	}
}

func TestParseDecisionButtonCommand(t *testing.T) {
	decision, ok := ParseDecision("/state-confirm bbbb2222 yes", knownPrompts)
	if !ok || decision.Action != DecisionConfirm || decision.PromptID != knownPrompts[2] {
		t.Errorf("button yes = %+v, ok=%v", decision, ok)
	}

	decision, ok = ParseDecision("/state-confirm bbbb2222 no", knownPrompts)
	if !ok || decision.Action != DecisionReject {
		t.Errorf("button no = %+v, ok=%v", decision, ok)
	}

	if _, ok := ParseDecision("/state-confirm bbbb2222 maybe", knownPrompts); ok {
		t.Error("unknown button token must not parse")
	}
}

func TestParseDecisionEditValue(t *testing.T) {
	decision, ok := ParseDecision("edit: Osaka in October", knownPrompts)
	if !ok || decision.Action != DecisionEdit || decision.Value != "Osaka in October" {
		t.Errorf("edit colon = %+v, ok=%v", decision, ok)
	}

	decision, ok = ParseDecision("edit - 2400", knownPrompts)
	if !ok || decision.Action != DecisionEdit || decision.Value != "2400" {
		t.Errorf("edit dash = %+v, ok=%v", decision, ok)
	}
}

func TestParseDecisionNaturalLine(t *testing.T) {
	decision, ok := ParseDecision("confirm bbbb2222", knownPrompts)
	if !ok || decision.Action != DecisionConfirm || decision.PromptID != knownPrompts[2] {
		t.Errorf("verb-first = %+v, ok=%v", decision, ok)
	}

	decision, ok = ParseDecision("bbbb2222 reject", knownPrompts)
	if !ok || decision.Action != DecisionReject || decision.PromptID != knownPrompts[2] {
		t.Errorf("id-first = %+v, ok=%v", decision, ok)
	}

	decision, ok = ParseDecision("edit bbbb2222: Osaka", knownPrompts)
	if !ok || decision.Action != DecisionEdit || decision.Value != "Osaka" {
		t.Errorf("edit with value = %+v, ok=%v", decision, ok)
	}

	decision, ok = ParseDecision("edit bbbb2222", knownPrompts)
	if !ok || decision.Action != DecisionEditHelp {
		t.Errorf("edit without value = %+v, ok=%v", decision, ok)
	}
}

func TestParseDecisionUnrecognized(t *testing.T) {
	for _, text := range []string{"", "   ", "what about the trip?", "sure thing", "edit:"} {
		if decision, ok := ParseDecision(text, knownPrompts); ok {
			t.Errorf("ParseDecision(%q) unexpectedly parsed %+v", text, decision)
		}
	}
}

func TestMatchPromptPrefixRules(t *testing.T) {
	if _, ok := matchPrompt("aaaa111", knownPrompts); ok {
		t.Error("a 7-char prefix is too short to resolve")
	}
	if _, ok := matchPrompt("aaaa1111", knownPrompts); ok {
		t.Error("an ambiguous prefix must not resolve")
	}
	id, ok := matchPrompt("aaaa1111-0000-4000-8000-000000000002", knownPrompts)
	if !ok || id != knownPrompts[1] {
		t.Errorf("full id should resolve, got %q ok=%v", id, ok)
	}
	id, ok = matchPrompt("BBBB2222", knownPrompts)
	if !ok || id != knownPrompts[2] {
		t.Errorf("prefix match is case-insensitive, got %q ok=%v", id, ok)
	}
}
