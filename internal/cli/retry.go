package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/statekeeper/internal/dlq"
	"github.com/iambrandonn/statekeeper/internal/ingest"
	"github.com/iambrandonn/statekeeper/internal/schema"
	"github.com/iambrandonn/statekeeper/internal/signal"
)

var (
	retryLimit         int
	retryIncludeNotDue bool
	retryForceCommit   bool
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Replay due dead-letter entries through their pipelines",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}

		summary, err := eng.deadLine.Retry(cmd.Context(), retryDispatcher(eng), dlq.RetryOptions{
			Limit:         retryLimit,
			IncludeNotDue: retryIncludeNotDue,
			ForceCommit:   retryForceCommit,
		}, time.Now())
		if err != nil {
			return err
		}
		return printJSON(summary)
	},
}

// retryDispatcher routes a quarantined payload back into the pipeline its
// schema belongs to and reports the pipeline's status string. Replays run
// with quarantining off: a still-invalid payload keeps its existing entry,
// which the retry scheduler alone updates.
func retryDispatcher(eng *engine) dlq.Dispatcher {
	adapter := signal.New(eng.pipeline, eng.validator, eng.deadLine, eng.logger)

	return dlq.DispatcherFunc(func(ctx context.Context, schemaName string, payload map[string]any, forceCommit bool) (string, error) {
		switch schemaName {
		case schema.SchemaObservation:
			result, err := eng.pipeline.IngestPayload(ctx, payload, ingest.Options{ForceCommit: forceCommit, SkipQuarantine: true})
			if err != nil {
				return "", err
			}
			return string(result.Status), nil

		case schema.SchemaConfirmation:
			result, err := eng.lifecycle.ReplayPayload(ctx, payload)
			if err != nil {
				return "", err
			}
			return string(result.Status), nil

		case schema.SchemaSignal:
			result, err := adapter.IngestPayload(ctx, payload, ingest.Options{ForceCommit: forceCommit, SkipQuarantine: true})
			if err != nil {
				return "", err
			}
			return result.Status, nil
		}
		return "unsupported_schema", nil
	})
}

func init() {
	retryCmd.Flags().IntVar(&retryLimit, "limit", 0, "Max entries to attempt (0 = all due)")
	retryCmd.Flags().BoolVar(&retryIncludeNotDue, "include-not-due", false, "Also retry entries whose backoff has not elapsed")
	retryCmd.Flags().BoolVar(&retryForceCommit, "force-commit", false, "Force commit observation payloads on replay")
}
