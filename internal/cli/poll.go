package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/statekeeper/internal/ingest"
	"github.com/iambrandonn/statekeeper/internal/signal"
	"github.com/iambrandonn/statekeeper/internal/state"
)

var (
	pollKind       string
	pollFetcherCmd string
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Fetch calendar events or mail threads and ingest them as a signal",
	Long: `Poll runs the external fetcher command, which must print a JSON array
of event or thread objects on stdout, converts the batch into a signal,
and ingests it. Event ids are content-derived, so re-polling an unchanged
feed produces duplicates, not double commits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if pollFetcherCmd == "" {
			return fmt.Errorf("--fetcher-cmd is required")
		}
		eng, err := newEngine()
		if err != nil {
			return err
		}
		if eng.cfg.EntityID == "" {
			return fmt.Errorf("entity id required: set --entity or STATE_ENTITY_ID")
		}

		argv := strings.Fields(pollFetcherCmd)
		sourceRef := eng.cfg.GogAccount
		if sourceRef == "" {
			sourceRef = argv[0]
		}
		now := time.Now()

		var sig *state.Signal
		switch pollKind {
		case signal.KindCalendar:
			var events []signal.CalendarEvent
			if err := eng.runner.RunJSON(cmd.Context(), argv, nil, &events); err != nil {
				return fmt.Errorf("fetcher failed: %w", err)
			}
			sig = signal.BuildCalendarSignal(eng.cfg.EntityID, signal.ModePoll, sourceRef, events, now)

		case signal.KindEmail:
			var threads []signal.EmailThread
			if err := eng.runner.RunJSON(cmd.Context(), argv, nil, &threads); err != nil {
				return fmt.Errorf("fetcher failed: %w", err)
			}
			sig = signal.BuildEmailSignal(eng.cfg.EntityID, signal.ModePoll, sourceRef, threads, now)

		default:
			return fmt.Errorf("--kind must be calendar or email")
		}

		adapter := signal.New(eng.pipeline, eng.validator, eng.deadLine, eng.logger)
		result, err := adapter.Ingest(cmd.Context(), sig, ingest.Options{})
		if err != nil {
			return err
		}

		doc, err := eng.store.Load()
		if err != nil {
			return err
		}
		doc.Runtime.LastPollAt = state.FormatTS(now)
		if err := eng.store.Save(doc); err != nil {
			return err
		}

		if err := printJSON(result); err != nil {
			return err
		}
		if result.Status == signal.StatusValidationFailed {
			return ErrValidation
		}
		return nil
	},
}

func init() {
	pollCmd.Flags().StringVar(&pollKind, "kind", signal.KindCalendar, "Feed kind: calendar or email")
	pollCmd.Flags().StringVar(&pollFetcherCmd, "fetcher-cmd", "", "External fetcher command printing a JSON array")
}
