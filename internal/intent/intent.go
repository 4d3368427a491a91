// Package intent classifies free-form text into an observation intent and
// infers the target domain from keyword heuristics. Two classifier modes
// exist: the built-in rule classifier and an external command whose output
// is schema-validated, falling back to the rules on any failure.
package intent

import (
	"context"
	"regexp"
	"strings"

	"github.com/iambrandonn/statekeeper/internal/state"
)

// Result is a classified intent with supporting metadata
type Result struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
	Domain     string  `json:"domain,omitempty"`
}

// Classifier maps free text to an intent
type Classifier interface {
	Classify(ctx context.Context, domain, text string) (Result, error)
}

// Classifier modes
const (
	ModeRule    = "rule"
	ModeCommand = "command"
)

// intentPatterns are evaluated in order; first match wins. Assertive is
// the fallback for plain declarative text.
var intentPatterns = []struct {
	intent  string
	pattern *regexp.Regexp
	reason  string
}{
	{string(state.IntentRetract),
		regexp.MustCompile(`(?i)\b(forget|remove|delete|clear|no longer|not anymore|scratch that)\b`),
		"retraction keyword"},
	{string(state.IntentHypothetical),
		regexp.MustCompile(`(?i)\b(what if|maybe|perhaps|might|could be|imagine|hypothetically|not sure)\b`),
		"hypothetical keyword"},
	{string(state.IntentHistorical),
		regexp.MustCompile(`(?i)\b(used to|last year|last month|previously|back then|in the past|had been)\b`),
		"historical keyword"},
	{string(state.IntentPlanning),
		regexp.MustCompile(`(?i)\b(plan|planning|will be|going to|next week|next month|tomorrow|schedule|scheduled|intend|upcoming)\b`),
		"planning keyword"},
}

// RuleClassifier is the built-in regex-driven classifier
type RuleClassifier struct{}

// Classify scores text against the fixed pattern table
func (RuleClassifier) Classify(_ context.Context, domain, text string) (Result, error) {
	for _, entry := range intentPatterns {
		if entry.pattern.MatchString(text) {
			return Result{
				Intent:     entry.intent,
				Confidence: 0.7,
				Reason:     entry.reason,
				Domain:     domain,
			}, nil
		}
	}
	return Result{
		Intent:     string(state.IntentAssertive),
		Confidence: 0.6,
		Reason:     "no weaker-intent keyword matched",
		Domain:     domain,
	}, nil
}

// domainKeywords drive domain inference; evaluated in fixed order so ties
// resolve deterministically.
var domainKeywords = []struct {
	domain   state.Domain
	keywords []string
}{
	{state.DomainTravel, []string{
		"trip", "travel", "flight", "fly", "airport", "hotel", "vacation",
		"drive to", "leave for", "itinerary", "departure", "airbnb",
	}},
	{state.DomainSchool, []string{
		"school", "class", "classroom", "teacher", "homework", "lesson",
		"semester", "grade", "tuition", "pickup time",
	}},
	{state.DomainFamily, []string{
		"family", "kid", "kids", "son", "daughter", "wife", "husband",
		"partner", "mom", "dad", "grandma", "grandpa", "birthday",
	}},
	{state.DomainFinancial, []string{
		"pay", "paid", "payment", "invoice", "budget", "bank", "mortgage",
		"rent", "tax", "taxes", "money", "salary", "subscription",
	}},
	{state.DomainProject, []string{
		"project", "deadline", "milestone", "launch", "deploy", "release",
		"sprint", "ticket", "review", "repo",
	}},
	{state.DomainProfile, []string{
		"my name", "my email", "my phone", "my address", "allergy",
		"allergic", "i prefer", "preference", "timezone",
	}},
}

// InferDomain picks the domain whose keyword table scores the most hits in
// text; general when nothing matches.
func InferDomain(text string) string {
	lower := strings.ToLower(text)

	best := state.DomainGeneral
	bestScore := 0
	for _, entry := range domainKeywords {
		score := 0
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			best = entry.domain
			bestScore = score
		}
	}
	return string(best)
}
