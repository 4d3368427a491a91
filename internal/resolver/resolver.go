// Package resolver scores observations against the current document and
// routes them to auto_commit, ask_user, or tentative_reject. Pure: no I/O,
// the caller supplies the clock.
package resolver

import (
	"fmt"
	"time"

	"github.com/iambrandonn/statekeeper/internal/state"
)

// DecisionType is the routing outcome for one observation
type DecisionType string

const (
	AutoCommit      DecisionType = "auto_commit"
	AskUser         DecisionType = "ask_user"
	TentativeReject DecisionType = "tentative_reject"
)

// Decision carries the routing outcome with its score and reasons
type Decision struct {
	Type       DecisionType
	Confidence float64
	Margin     float64
	Reasons    []string
}

// Confidence computes the clamped, rounded confidence for obs:
//
//	source_reliability · intent_factor · recency_factor · corroboration_factor
//
// and returns the component breakdown as reasons.
func Confidence(doc *state.Document, obs *state.Observation, now time.Time) (float64, []string) {
	reliability, ok := doc.SourceReliability[obs.Source.Type]
	if !ok {
		reliability = state.DefaultSourceReliabilityFallback
	}

	intentFactor, ok := state.IntentFactors[obs.Intent]
	if !ok {
		intentFactor = state.IntentFactors[string(state.IntentHypothetical)]
	}

	recency := recencyFactor(obs.EventTS, now)
	corroboration := corroborationFactor(len(obs.Corroborators))

	confidence := state.Round3(reliability * intentFactor * recency * corroboration)

	reasons := []string{
		fmt.Sprintf("source_reliability[%s]=%.2f", obs.Source.Type, reliability),
		fmt.Sprintf("intent_factor[%s]=%.2f", obs.Intent, intentFactor),
		fmt.Sprintf("recency_factor=%.3f", recency),
		fmt.Sprintf("corroboration_factor=%.2f", corroboration),
	}
	return confidence, reasons
}

// Resolve routes obs against the per-domain thresholds. forceCommit short
// circuits to auto_commit. A retract with a null candidate value routes
// like any other observation; its commit deletes the field.
func Resolve(doc *state.Document, obs *state.Observation, now time.Time, forceCommit bool) Decision {
	if forceCommit {
		confidence, _ := Confidence(doc, obs, now)
		current := currentConfidence(doc, obs)
		return Decision{
			Type:       AutoCommit,
			Confidence: confidence,
			Margin:     round3Signed(confidence - current),
			Reasons:    []string{"force_commit=true"},
		}
	}

	confidence, reasons := Confidence(doc, obs, now)
	current := currentConfidence(doc, obs)
	margin := round3Signed(confidence - current)

	domain := doc.Domains[obs.Domain]

	switch {
	case confidence >= domain.AutoThreshold && margin >= domain.MarginThreshold:
		reasons = append(reasons, fmt.Sprintf(
			"confidence %.3f >= auto_threshold %.2f, margin %.3f >= %.2f",
			confidence, domain.AutoThreshold, margin, domain.MarginThreshold))
		return Decision{Type: AutoCommit, Confidence: confidence, Margin: margin, Reasons: reasons}
	case confidence >= domain.AskThreshold:
		reasons = append(reasons, fmt.Sprintf(
			"confidence %.3f in ask band [%.2f, %.2f)",
			confidence, domain.AskThreshold, domain.AutoThreshold))
		return Decision{Type: AskUser, Confidence: confidence, Margin: margin, Reasons: reasons}
	default:
		reasons = append(reasons, fmt.Sprintf(
			"confidence %.3f below ask_threshold %.2f",
			confidence, domain.AskThreshold))
		return Decision{Type: TentativeReject, Confidence: confidence, Margin: margin, Reasons: reasons}
	}
}

// currentConfidence is the confidence of the committed record obs targets,
// 0 when none exists. Observation fields carry the domain prefix; stored
// fields do not.
func currentConfidence(doc *state.Document, obs *state.Observation) float64 {
	field := state.StripFieldPrefix(obs.Domain, obs.Field)
	if rec := doc.RecordFor(obs.EntityID, obs.Domain, field); rec != nil {
		return rec.Confidence
	}
	return 0
}

// recencyFactor decays linearly from 1.0 to 0.4 over 168 hours
func recencyFactor(eventTS string, now time.Time) float64 {
	ts, err := state.ParseTS(eventTS)
	if err != nil {
		return 1.0
	}
	ageHours := now.Sub(ts).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	if ageHours > 168 {
		ageHours = 168
	}
	factor := 1 - ageHours/168*0.6
	if factor < 0.4 {
		factor = 0.4
	}
	if factor > 1.0 {
		factor = 1.0
	}
	return factor
}

// corroborationFactor adds 5% per corroborator, capped at 1.2
func corroborationFactor(n int) float64 {
	factor := 1 + 0.05*float64(n)
	if factor < 1 {
		factor = 1
	}
	if factor > 1.2 {
		factor = 1.2
	}
	return factor
}

// round3Signed rounds to 3 decimals without the [0,1] clamp; margins can
// legitimately be negative.
func round3Signed(v float64) float64 {
	if v < 0 {
		return -float64(int(-v*1000+0.5)) / 1000
	}
	return float64(int(v*1000+0.5)) / 1000
}
