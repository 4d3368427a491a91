package cli

import (
	"github.com/spf13/cobra"

	"github.com/iambrandonn/statekeeper/internal/dlq"
	"github.com/iambrandonn/statekeeper/internal/state"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap the state root with defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		doc, err := eng.store.Load()
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"root":     eng.store.Root(),
			"document": eng.store.DocumentPath(),
			"version":  doc.Version,
			"domains":  len(doc.Domains),
		})
	},
}

// statusReport is the one-shot engine summary
type statusReport struct {
	EntityCount          int                 `json:"entity_count"`
	CommittedRecords     int                 `json:"committed_records"`
	PendingConfirmations int                 `json:"pending_confirmations"`
	Tentatives           int                 `json:"tentative_observations"`
	ProcessedEvents      int                 `json:"processed_events"`
	DLQPending           int                 `json:"dlq_pending"`
	DLQPermanent         int                 `json:"dlq_failed_permanent"`
	DLQMalformedLines    int                 `json:"dlq_malformed_lines"`
	LearningStats        state.LearningStats `json:"learning_stats"`
	AdaptiveMode         string              `json:"adaptive_mode"`
	LastConsistencyCheck string              `json:"last_consistency_check"`
	LastPollAt           string              `json:"last_poll_at,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize committed state, pending work, and DLQ backlog",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		doc, err := eng.store.Load()
		if err != nil {
			return err
		}

		report := statusReport{
			EntityCount:          len(doc.Entities),
			PendingConfirmations: len(doc.PendingConfirmations),
			Tentatives:           len(doc.TentativeObservations),
			ProcessedEvents:      len(doc.ProcessedEventIDs),
			LearningStats:        doc.LearningStats,
			AdaptiveMode:         doc.Runtime.AdaptiveLearning.Mode,
			LastConsistencyCheck: doc.LastConsistencyCheck,
			LastPollAt:           doc.Runtime.LastPollAt,
		}
		for _, entity := range doc.Entities {
			for _, fields := range entity.State {
				report.CommittedRecords += len(fields)
			}
		}

		fold, err := eng.deadLine.Fold()
		if err != nil {
			return err
		}
		report.DLQMalformedLines = fold.MalformedLines
		for _, entry := range fold.Entries {
			switch entry.Status {
			case dlq.StatusPendingRetry:
				report.DLQPending++
			case dlq.StatusFailedPermanent:
				report.DLQPermanent++
			}
		}

		return printJSON(report)
	},
}
