package projection

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iambrandonn/statekeeper/internal/state"
	"github.com/iambrandonn/statekeeper/internal/store"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestProjector(t *testing.T) (*Projector, *store.Store, string) {
	t.Helper()
	root := t.TempDir()
	st := store.New(root, quietLogger)
	st.SetClock(func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) })

	doc, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	doc.SetRecord("user:brandon", "travel", "next_trip", &state.Record{
		Value:      "tokyo",
		Confidence: 0.95,
		Source:     state.SourceConversationAssertive,
		EventID:    "ev-1",
	})
	doc.SetRecord("user:brandon", "financial", "rent", &state.Record{
		Value:      2400.0,
		Confidence: 0.98,
		Source:     state.SourceUserConfirmation,
		EventID:    "ev-2",
	})
	if err := st.Save(doc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := st.AppendAudit("ev-1 | decision=auto_commit | user:brandon/travel.next_trip | value=tokyo"); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}

	artifact := filepath.Join(root, "state.md")
	return New(st, artifact, quietLogger), st, artifact
}

func TestProjectWritesManagedZones(t *testing.T) {
	p, _, artifact := newTestProjector(t)

	result, err := p.Project(false)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if !result.Wrote {
		t.Fatal("first projection must write")
	}

	data, err := os.ReadFile(artifact)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(data)

	for _, want := range []string{
		"## " + HeadingCanonical,
		"## " + HeadingChangeLog,
		"<!-- STATE:BEGIN zone_id=canonical_state schema=v1 -->",
		"<!-- STATE:END zone_id=canonical_state -->",
		"<!-- STATE:BEGIN zone_id=state_change_log schema=v1 -->",
		"- [user:brandon] financial.rent = 2400 (confidence=0.98, source=user_confirmation)",
		"- [user:brandon] travel.next_trip = tokyo (confidence=0.95, source=conversation_assertive)",
		"### Pending Confirmations",
		"decision=auto_commit",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("artifact missing %q", want)
		}
	}

	// financial sorts before travel
	if strings.Index(content, "financial.rent") > strings.Index(content, "travel.next_trip") {
		t.Error("records must render in sorted domain order")
	}
}

func TestProjectPreservesUserProse(t *testing.T) {
	p, _, artifact := newTestProjector(t)

	prose := "# Household Notes\n\nHand-written context that must survive.\n"
	if err := os.WriteFile(artifact, []byte(prose), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := p.Project(false); err != nil {
		t.Fatalf("Project: %v", err)
	}

	data, _ := os.ReadFile(artifact)
	if !strings.HasPrefix(string(data), "# Household Notes") {
		t.Error("prose above the managed zones must be preserved")
	}
	if !strings.Contains(string(data), "Hand-written context that must survive.") {
		t.Error("prose body lost")
	}
}

func TestReprojectionIsANoOp(t *testing.T) {
	p, _, artifact := newTestProjector(t)

	if _, err := p.Project(false); err != nil {
		t.Fatalf("first Project: %v", err)
	}
	first, _ := os.ReadFile(artifact)

	result, err := p.Project(false)
	if err != nil {
		t.Fatalf("second Project: %v", err)
	}
	if result.Wrote {
		t.Error("unchanged inputs must not rewrite the artifact")
	}

	second, _ := os.ReadFile(artifact)
	if string(first) != string(second) {
		t.Error("artifact changed across a no-op projection")
	}
}

func TestManualZoneEditIsDriftAndReconciled(t *testing.T) {
	p, st, artifact := newTestProjector(t)

	if _, err := p.Project(false); err != nil {
		t.Fatalf("Project: %v", err)
	}

	data, _ := os.ReadFile(artifact)
	edited := strings.Replace(string(data), "= tokyo", "= osaka", 1)
	if err := os.WriteFile(artifact, []byte(edited), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := p.Project(false)
	if err != nil {
		t.Fatalf("Project after edit: %v", err)
	}
	if len(result.Drift) != 1 || result.Drift[0] != HeadingCanonical {
		t.Errorf("expected canonical drift, got %v", result.Drift)
	}
	if !result.Wrote {
		t.Error("drift must be reconciled by rewriting")
	}

	reconciled, _ := os.ReadFile(artifact)
	if !strings.Contains(string(reconciled), "= tokyo") {
		t.Error("the canonical value must win over the manual edit")
	}

	tail, err := st.AuditTail(5)
	if err != nil {
		t.Fatalf("AuditTail: %v", err)
	}
	found := false
	for _, line := range tail {
		if strings.Contains(line, "drift_detected | section="+HeadingCanonical) {
			found = true
		}
	}
	if !found {
		t.Error("drift must leave an audit line")
	}
}

func TestCheckOnlyNeverWrites(t *testing.T) {
	p, _, artifact := newTestProjector(t)

	if _, err := p.Project(false); err != nil {
		t.Fatalf("Project: %v", err)
	}
	data, _ := os.ReadFile(artifact)
	edited := strings.Replace(string(data), "= tokyo", "= osaka", 1)
	if err := os.WriteFile(artifact, []byte(edited), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := p.Project(true)
	if err != nil {
		t.Fatalf("check Project: %v", err)
	}
	if result.Wrote {
		t.Error("check mode must never write")
	}
	if len(result.Drift) != 1 {
		t.Errorf("check mode must still report drift, got %v", result.Drift)
	}

	after, _ := os.ReadFile(artifact)
	if string(after) != edited {
		t.Error("check mode touched the artifact")
	}
}

func TestLegacyModeWritesBackup(t *testing.T) {
	p, _, artifact := newTestProjector(t)

	prose := "# Notes\n"
	if err := os.WriteFile(artifact, []byte(prose), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// Bootstrapped documents start in legacy_string projection mode
	if _, err := p.Project(false); err != nil {
		t.Fatalf("Project: %v", err)
	}

	backup, err := os.ReadFile(artifact + ".bak")
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if string(backup) != prose {
		t.Errorf("backup must hold the pre-projection bytes, got %q", backup)
	}
}
