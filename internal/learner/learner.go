package learner

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/iambrandonn/statekeeper/internal/state"
	"github.com/iambrandonn/statekeeper/internal/store"
)

// Threshold clamps enforced on every proposal
const (
	AutoFloor = 0.80
	AutoCeil  = 0.99
	AskFloor  = 0.55
	AskCeil   = 0.80
	AskGap    = 0.08
)

// DomainProposal is the learner's recommendation for one domain
type DomainProposal struct {
	Domain           string  `json:"domain"`
	Samples          int     `json:"samples"`
	ConfirmationRate float64 `json:"confirmation_rate"`
	CorrectionRate   float64 `json:"correction_rate"`
	CurrentAsk       float64 `json:"current_ask"`
	CurrentAuto      float64 `json:"current_auto"`
	ProposedAsk      float64 `json:"proposed_ask"`
	ProposedAuto     float64 `json:"proposed_auto"`
	Applied          bool    `json:"applied"`
}

// RunReport summarizes one learner pass
type RunReport struct {
	Mode       string           `json:"mode"`
	Skipped    bool             `json:"skipped"`
	SkipReason string           `json:"skip_reason,omitempty"`
	Proposals  []DomainProposal `json:"proposals,omitempty"`
}

// RunOptions tunes a learner pass
type RunOptions struct {
	Force bool // bypass the min-interval throttle
}

// Learner computes per-domain threshold proposals from recorded outcomes
type Learner struct {
	store  *store.Store
	events *EventLog
	logger *slog.Logger
	now    func() time.Time
}

// New creates a learner over the canonical store and learning-event log
func New(st *store.Store, events *EventLog, logger *slog.Logger) *Learner {
	return &Learner{store: st, events: events, logger: logger, now: time.Now}
}

// SetClock overrides the learner clock for deterministic tests
func (l *Learner) SetClock(now func() time.Time) {
	l.now = now
}

// Run executes one learner pass. Mode off reports skipped; shadow computes
// proposals without mutating thresholds; apply mutates audited, rounded,
// clamped thresholds.
func (l *Learner) Run(opts RunOptions) (*RunReport, error) {
	doc, err := l.store.Load()
	if err != nil {
		return nil, err
	}
	cfg := doc.Runtime.AdaptiveLearning

	report := &RunReport{Mode: cfg.Mode}
	if cfg.Mode == state.LearnerModeOff {
		report.Skipped = true
		report.SkipReason = "mode_off"
		return report, nil
	}

	now := l.now()
	if !opts.Force && cfg.LastRunAt != "" {
		lastRun, err := state.ParseTS(cfg.LastRunAt)
		if err == nil && now.Sub(lastRun).Hours() < cfg.MinIntervalHours {
			report.Skipped = true
			report.SkipReason = "min_interval_not_elapsed"
			return report, nil
		}
	}

	since := now.AddDate(0, 0, -cfg.LookbackDays)
	events, err := l.events.ReadSince(since)
	if err != nil {
		return nil, err
	}

	byDomain := make(map[string][]LearningEvent)
	for _, ev := range events {
		switch ev.Action {
		case state.ActionConfirm, state.ActionReject, state.ActionEdit:
			byDomain[ev.Domain] = append(byDomain[ev.Domain], ev)
		}
	}

	changed := false
	for _, domain := range state.Domains {
		name := string(domain)
		samples := byDomain[name]
		if len(samples) < cfg.MinSamples {
			continue
		}

		proposal := l.propose(name, samples, doc.Domains[name], cfg)
		if cfg.Mode == state.LearnerModeApply {
			current := doc.Domains[name]
			if proposal.ProposedAsk != current.AskThreshold || proposal.ProposedAuto != current.AutoThreshold {
				doc.Domains[name] = state.DomainConfig{
					AskThreshold:    proposal.ProposedAsk,
					AutoThreshold:   proposal.ProposedAuto,
					MarginThreshold: current.MarginThreshold,
				}
				proposal.Applied = true
				changed = true
				audit := fmt.Sprintf(
					"adaptive_thresholds | domain=%s | ask %.2f->%.2f | auto %.2f->%.2f | samples=%d",
					name, current.AskThreshold, proposal.ProposedAsk,
					current.AutoThreshold, proposal.ProposedAuto, len(samples))
				if err := l.store.AppendAudit(audit); err != nil {
					return nil, err
				}
			}
		}
		report.Proposals = append(report.Proposals, proposal)
	}

	doc.Runtime.AdaptiveLearning.LastRunAt = state.FormatTS(now)
	if err := l.store.Save(doc); err != nil {
		return nil, err
	}

	l.logger.Info("learner run complete",
		"mode", cfg.Mode,
		"proposals", len(report.Proposals),
		"applied", changed)
	return report, nil
}

// propose derives the candidate thresholds for one domain, then moves the
// current thresholds toward them capped at max_daily_step per run.
func (l *Learner) propose(domain string, events []LearningEvent, current state.DomainConfig, cfg state.LearnerConfig) DomainProposal {
	confirms, corrections := 0, 0
	var correctionConfidences []float64
	for _, ev := range events {
		switch ev.Action {
		case state.ActionConfirm:
			confirms++
		case state.ActionReject, state.ActionEdit:
			corrections++
			if ev.Confidence > 0 {
				correctionConfidences = append(correctionConfidences, ev.Confidence)
			}
		}
	}
	samples := confirms + corrections
	confirmationRate := float64(confirms) / float64(samples)
	correctionRate := float64(corrections) / float64(samples)

	auto := current.AutoThreshold
	switch {
	case correctionRate > cfg.TargetCorrectionRate:
		auto += cfg.MaxDailyStep
	case correctionRate < cfg.TargetCorrectionRate/2 && confirmationRate >= cfg.HighConfirmationRate:
		auto -= cfg.MaxDailyStep * 0.5
	}
	if len(correctionConfidences) >= 3 {
		floor := percentile(correctionConfidences, 0.75) + 0.01
		if auto < floor {
			auto = floor
		}
	}
	auto = clamp(auto, AutoFloor, AutoCeil)

	ask := current.AskThreshold
	switch {
	case confirmationRate < cfg.LowConfirmationRate:
		ask += cfg.MaxDailyStep
	case confirmationRate > cfg.HighConfirmationRate:
		ask -= cfg.MaxDailyStep
	}
	if ask > auto-AskGap {
		ask = auto - AskGap
	}
	ask = clamp(ask, AskFloor, AskCeil)

	// Each threshold moves at most max_daily_step per run, whatever the
	// candidate says.
	proposedAuto := round2(current.AutoThreshold + clamp(auto-current.AutoThreshold, -cfg.MaxDailyStep, cfg.MaxDailyStep))
	proposedAsk := round2(current.AskThreshold + clamp(ask-current.AskThreshold, -cfg.MaxDailyStep, cfg.MaxDailyStep))
	if proposedAsk > proposedAuto-AskGap {
		proposedAsk = round2(proposedAuto - AskGap)
	}
	proposedAsk = clamp(proposedAsk, AskFloor, AskCeil)
	proposedAuto = clamp(proposedAuto, AutoFloor, AutoCeil)

	return DomainProposal{
		Domain:           domain,
		Samples:          samples,
		ConfirmationRate: state.Round3(confirmationRate),
		CorrectionRate:   state.Round3(correctionRate),
		CurrentAsk:       current.AskThreshold,
		CurrentAuto:      current.AutoThreshold,
		ProposedAsk:      proposedAsk,
		ProposedAuto:     proposedAuto,
	}
}

// percentile returns the p-quantile of values with linear interpolation
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// round2 rounds thresholds to 2 decimals, the granularity they are
// compared and audited at
func round2(v float64) float64 {
	if v < 0 {
		return 0
	}
	return float64(int(v*100+0.5)) / 100
}

func decode(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}
