// Package cli wires the engine packages into the statekeeper command tree.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/statekeeper/internal/config"
	"github.com/iambrandonn/statekeeper/internal/confirm"
	"github.com/iambrandonn/statekeeper/internal/dlq"
	"github.com/iambrandonn/statekeeper/internal/extproc"
	"github.com/iambrandonn/statekeeper/internal/ingest"
	"github.com/iambrandonn/statekeeper/internal/intent"
	"github.com/iambrandonn/statekeeper/internal/learner"
	"github.com/iambrandonn/statekeeper/internal/schema"
	"github.com/iambrandonn/statekeeper/internal/store"
)

// ErrValidation marks a run that completed but rejected its payload; main
// maps it to exit code 2.
var ErrValidation = errors.New("validation failed")

var (
	flagRoot    string
	flagEntity  string
	flagEnvFile string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "statekeeper",
	Short: "Canonical state engine with confidence-scored ingestion",
	Long: `statekeeper maintains a machine-owned store of facts about entities,
scores every inbound observation for confidence, and routes it to an
automatic commit, a user confirmation prompt, or a tentative stash.
Committed state is projected into Markdown artifacts and surfaced to a
host chat runtime for confirmations.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", "", "State root directory (default: STATE_ROOT_DIR or .)")
	rootCmd.PersistentFlags().StringVar(&flagEntity, "entity", "", "Entity id (default: STATE_ENTITY_ID)")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", "", "Path to a .env file (default: ./.env)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(confirmCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(statusCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// engine bundles the wired components every command draws from
type engine struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	validator  *schema.Validator
	deadLine   *dlq.Log
	events     *learner.EventLog
	runner     *extproc.Runner
	classifier intent.Classifier
	pipeline   *ingest.Pipeline
	lifecycle  *confirm.Lifecycle
}

// newEngine resolves configuration and wires the component graph
func newEngine() (*engine, error) {
	config.LoadDotenv(flagEnvFile)
	cfg := config.FromEnv()
	if flagRoot != "" {
		cfg.RootDir = flagRoot
	}
	if flagEntity != "" {
		cfg.EntityID = flagEntity
	}

	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	validator, err := schema.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}

	st := store.New(cfg.RootDir, logger)
	deadLine := dlq.NewLog(st.DLQPath(), logger)
	events := learner.NewEventLog(st.LearningEventsPath(), logger)
	runner := extproc.NewRunner(0, logger)

	var classifier intent.Classifier = intent.RuleClassifier{}
	if cfg.IntentExtractorMode == intent.ModeCommand && len(cfg.IntentExtractorCmd) > 0 {
		classifier = intent.NewCommandClassifier(cfg.IntentExtractorCmd, runner, validator, logger)
	}

	pipeline := ingest.New(st, validator, deadLine, logger)
	lifecycle := confirm.New(st, validator, deadLine, events, logger)

	return &engine{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		validator:  validator,
		deadLine:   deadLine,
		events:     events,
		runner:     runner,
		classifier: classifier,
		pipeline:   pipeline,
		lifecycle:  lifecycle,
	}, nil
}

// printJSON writes v to stdout as indented JSON
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// readPayload loads a JSON object from a file, or stdin when path is "-"
func readPayload(path string) (map[string]any, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}
	return payload, nil
}
