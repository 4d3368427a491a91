package state

import "time"

// DocumentVersion is written into every bootstrapped document
const DocumentVersion = "1.0"

// Projection modes
const (
	ProjectionModeASTZone      = "ast_zone"
	ProjectionModeLegacyString = "legacy_string"
)

// Learner modes
const (
	LearnerModeOff    = "off"
	LearnerModeShadow = "shadow"
	LearnerModeApply  = "apply"
)

// DefaultDomainConfigs returns the baseline per-domain thresholds.
// Financial facts ask for review earlier and auto-commit later than the
// rest; everything else starts on the common band.
func DefaultDomainConfigs() map[string]DomainConfig {
	configs := make(map[string]DomainConfig, len(Domains))
	for _, d := range Domains {
		configs[string(d)] = DomainConfig{
			AskThreshold:    0.60,
			AutoThreshold:   0.90,
			MarginThreshold: 0.15,
		}
	}
	configs[string(DomainFinancial)] = DomainConfig{
		AskThreshold:    0.70,
		AutoThreshold:   0.95,
		MarginThreshold: 0.20,
	}
	return configs
}

// DefaultSourceReliability returns the baseline reliability table.
// Unknown source types score DefaultSourceReliabilityFallback.
func DefaultSourceReliability() map[string]float64 {
	return map[string]float64{
		SourceUserConfirmation:      0.98,
		SourceConversationAssertive: 0.95,
		SourceCalendarWebhook:       0.88,
		SourceCalendarPoll:          0.82,
		SourceEmailWebhook:          0.78,
		SourceEmailPoll:             0.72,
		SourceConversationPlanning:  0.65,
		SourceStaticMarkdown:        0.60,
	}
}

// DefaultSourceReliabilityFallback scores source types absent from the table
const DefaultSourceReliabilityFallback = 0.5

// IntentFactors scales confidence by how strongly the intent asserts
var IntentFactors = map[string]float64{
	string(IntentAssertive):    1.00,
	string(IntentRetract):      0.95,
	string(IntentPlanning):     0.72,
	string(IntentHistorical):   0.68,
	string(IntentHypothetical): 0.45,
}

// DefaultLearnerConfig returns the adaptive learner defaults (gated off)
func DefaultLearnerConfig() LearnerConfig {
	return LearnerConfig{
		Mode:                 LearnerModeOff,
		MinSamples:           12,
		LookbackDays:         14,
		MaxDailyStep:         0.02,
		TargetCorrectionRate: 0.08,
		LowConfirmationRate:  0.55,
		HighConfirmationRate: 0.85,
		MinIntervalHours:     20,
	}
}

// NewDocument builds a freshly bootstrapped canonical document
func NewDocument(now time.Time) *Document {
	return &Document{
		Version:              DocumentVersion,
		LastConsistencyCheck: FormatTS(now),
		Runtime: Runtime{
			ProjectionMode:   ProjectionModeLegacyString,
			AdaptiveLearning: DefaultLearnerConfig(),
			ProjectionHashes: make(map[string]string),
		},
		Domains:               DefaultDomainConfigs(),
		SourceReliability:     DefaultSourceReliability(),
		Entities:              make(map[string]*Entity),
		TentativeObservations: make([]Tentative, 0),
		ActiveConflicts:       make([]any, 0),
		PendingConfirmations:  make(map[string]*PendingPrompt),
		ProcessedEventIDs:     make([]string, 0),
	}
}
