package learner

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/iambrandonn/statekeeper/internal/state"
	"github.com/iambrandonn/statekeeper/internal/store"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var learnerNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func newTestLearner(t *testing.T) (*Learner, *store.Store, *EventLog) {
	t.Helper()
	st := store.New(t.TempDir(), quietLogger)
	st.SetClock(func() time.Time { return learnerNow })

	events := NewEventLog(st.LearningEventsPath(), quietLogger)
	l := New(st, events, quietLogger)
	l.SetClock(func() time.Time { return learnerNow })
	return l, st, events
}

func setMode(t *testing.T, st *store.Store, mode string, mutate func(*state.LearnerConfig)) {
	t.Helper()
	doc, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	doc.Runtime.AdaptiveLearning.Mode = mode
	if mutate != nil {
		mutate(&doc.Runtime.AdaptiveLearning)
	}
	if err := st.Save(doc); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

// seedOutcomes appends n resolved ask_user outcomes for travel at the
// learner clock, split between confirms and rejects.
func seedOutcomes(t *testing.T, events *EventLog, confirms, rejects int, confidence float64) {
	t.Helper()
	add := func(action string) {
		err := events.Append(LearningEvent{
			TS:         state.FormatTS(learnerNow.Add(-time.Hour)),
			EntityID:   "user:brandon",
			Domain:     "travel",
			Field:      "next_trip",
			Action:     action,
			Outcome:    OutcomeAccepted,
			Confidence: confidence,
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	for i := 0; i < confirms; i++ {
		add(state.ActionConfirm)
	}
	for i := 0; i < rejects; i++ {
		add(state.ActionReject)
	}
}

func TestRunSkipsWhenOff(t *testing.T) {
	l, _, _ := newTestLearner(t)

	report, err := l.Run(RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Skipped || report.SkipReason != "mode_off" {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestRunThrottlesUnlessForced(t *testing.T) {
	l, st, _ := newTestLearner(t)
	setMode(t, st, state.LearnerModeShadow, func(cfg *state.LearnerConfig) {
		cfg.LastRunAt = state.FormatTS(learnerNow.Add(-time.Hour))
	})

	report, err := l.Run(RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Skipped || report.SkipReason != "min_interval_not_elapsed" {
		t.Errorf("expected throttle skip, got %+v", report)
	}

	report, err = l.Run(RunOptions{Force: true})
	if err != nil {
		t.Fatalf("forced Run: %v", err)
	}
	if report.Skipped {
		t.Error("force must bypass the throttle")
	}
}

func TestRunIgnoresDomainsBelowMinSamples(t *testing.T) {
	l, st, events := newTestLearner(t)
	setMode(t, st, state.LearnerModeShadow, nil)
	seedOutcomes(t, events, 3, 2, 0.7)

	report, err := l.Run(RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Proposals) != 0 {
		t.Errorf("5 samples are below the 12-sample floor: %+v", report.Proposals)
	}
}

func TestShadowProposesWithoutMutating(t *testing.T) {
	l, st, events := newTestLearner(t)
	setMode(t, st, state.LearnerModeShadow, nil)
	// half corrected: correction rate far above target, confirmation rate
	// below the low-water mark, so both thresholds should drift up
	seedOutcomes(t, events, 6, 6, 0.8)

	report, err := l.Run(RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Proposals) != 1 {
		t.Fatalf("expected one travel proposal, got %+v", report.Proposals)
	}
	p := report.Proposals[0]
	if p.Domain != "travel" || p.Samples != 12 {
		t.Errorf("unexpected proposal: %+v", p)
	}
	if p.ProposedAuto != 0.92 || p.ProposedAsk != 0.62 {
		t.Errorf("one max_daily_step up expected, got ask=%v auto=%v", p.ProposedAsk, p.ProposedAuto)
	}
	if p.Applied {
		t.Error("shadow mode must never apply")
	}

	doc, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Domains["travel"].AutoThreshold != 0.90 || doc.Domains["travel"].AskThreshold != 0.60 {
		t.Errorf("shadow mode mutated thresholds: %+v", doc.Domains["travel"])
	}
	if doc.Runtime.AdaptiveLearning.LastRunAt != state.FormatTS(learnerNow) {
		t.Error("every non-skipped run must stamp last_run_at")
	}
}

func TestApplyMutatesAndAudits(t *testing.T) {
	l, st, events := newTestLearner(t)
	setMode(t, st, state.LearnerModeApply, nil)
	seedOutcomes(t, events, 6, 6, 0.8)

	report, err := l.Run(RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Proposals) != 1 || !report.Proposals[0].Applied {
		t.Fatalf("expected an applied proposal, got %+v", report.Proposals)
	}

	doc, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := doc.Domains["travel"]
	if cfg.AskThreshold != 0.62 || cfg.AutoThreshold != 0.92 {
		t.Errorf("thresholds not applied: %+v", cfg)
	}
	if cfg.MarginThreshold != 0.15 {
		t.Error("the margin threshold is not learner-managed")
	}

	data, err := os.ReadFile(st.AuditPath())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "adaptive_thresholds | domain=travel") {
		t.Error("apply must write an audit line")
	}
}

func TestProposalsAreClamped(t *testing.T) {
	l, st, events := newTestLearner(t)
	setMode(t, st, state.LearnerModeApply, func(cfg *state.LearnerConfig) {
		cfg.MaxDailyStep = 0.5
	})
	// every prompt corrected: the thresholds slam into the clamp rails
	seedOutcomes(t, events, 0, 12, 0.9)

	report, err := l.Run(RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Proposals) != 1 {
		t.Fatalf("expected one proposal, got %+v", report.Proposals)
	}
	p := report.Proposals[0]
	if p.ProposedAuto != AutoCeil {
		t.Errorf("auto should clamp at %v, got %v", AutoCeil, p.ProposedAuto)
	}
	if p.ProposedAsk != AskCeil {
		t.Errorf("ask should clamp at %v, got %v", AskCeil, p.ProposedAsk)
	}
}

func TestRunExcludesEventsOutsideLookback(t *testing.T) {
	l, st, events := newTestLearner(t)
	setMode(t, st, state.LearnerModeShadow, nil)

	stale := state.FormatTS(learnerNow.AddDate(0, 0, -30))
	for i := 0; i < 15; i++ {
		if err := events.Append(LearningEvent{
			TS:     stale,
			Domain: "travel",
			Action: state.ActionConfirm,
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	report, err := l.Run(RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Proposals) != 0 {
		t.Errorf("30-day-old events sit outside the 14-day lookback: %+v", report.Proposals)
	}
}
