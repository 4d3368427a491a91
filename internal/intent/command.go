package intent

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/iambrandonn/statekeeper/internal/extproc"
	"github.com/iambrandonn/statekeeper/internal/schema"
)

// fewShotExamples prime an external model-backed classifier. Configuration
// data, not code; injected into every request.
var fewShotExamples = []map[string]string{
	{"text": "We're going to Tahoe on Friday", "intent": "planning"},
	{"text": "My flight lands at 4pm", "intent": "assertive"},
	{"text": "Forget what I said about the hotel", "intent": "retract"},
	{"text": "Maybe we could rent a cabin instead", "intent": "hypothetical"},
	{"text": "We used to live in Portland", "intent": "historical"},
}

// classifierRequest is the stdin contract for command-mode classifiers
type classifierRequest struct {
	Task           string              `json:"task"`
	Domain         string              `json:"domain"`
	Text           string              `json:"text"`
	AllowedIntents []string            `json:"allowed_intents"`
	OutputSchema   string              `json:"output_schema"`
	FewShotPrompt  []map[string]string `json:"few_shot_prompt"`
}

// CommandClassifier spawns an external process per classification and
// validates its stdout against the intent_result schema. Any failure falls
// back to the rule classifier: classifier trouble must never block
// ingestion.
type CommandClassifier struct {
	argv      []string
	runner    *extproc.Runner
	validator *schema.Validator
	fallback  RuleClassifier
	logger    *slog.Logger
}

// NewCommandClassifier builds a command-mode classifier
func NewCommandClassifier(argv []string, runner *extproc.Runner, validator *schema.Validator, logger *slog.Logger) *CommandClassifier {
	return &CommandClassifier{
		argv:      argv,
		runner:    runner,
		validator: validator,
		logger:    logger,
	}
}

// Classify invokes the external command; free-form output is never
// accepted silently.
func (c *CommandClassifier) Classify(ctx context.Context, domain, text string) (Result, error) {
	request := classifierRequest{
		Task:   "classify_intent",
		Domain: domain,
		Text:   text,
		AllowedIntents: []string{
			"assertive", "planning", "hypothetical", "historical", "retract",
		},
		OutputSchema:  schema.SchemaIntentResult,
		FewShotPrompt: fewShotExamples,
	}

	var raw json.RawMessage
	if err := c.runner.RunJSON(ctx, c.argv, request, &raw); err != nil {
		c.logger.Warn("intent command failed, using rule classifier", "error", err)
		return c.fallback.Classify(ctx, domain, text)
	}

	payload := make(map[string]any)
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.logger.Warn("intent command output not an object, using rule classifier", "error", err)
		return c.fallback.Classify(ctx, domain, text)
	}

	errs, err := c.validator.Validate(schema.SchemaIntentResult, payload)
	if err != nil || len(errs) > 0 {
		c.logger.Warn("intent command output failed schema validation, using rule classifier",
			"errors", errs)
		return c.fallback.Classify(ctx, domain, text)
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return c.fallback.Classify(ctx, domain, text)
	}
	if result.Domain == "" {
		result.Domain = domain
	}
	return result, nil
}
