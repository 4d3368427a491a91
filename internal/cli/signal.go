package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/statekeeper/internal/ingest"
	"github.com/iambrandonn/statekeeper/internal/signal"
)

var (
	signalFile  string
	signalForce bool
)

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Ingest a calendar or email signal batch from a JSON payload",
	RunE: func(cmd *cobra.Command, args []string) error {
		if signalFile == "" {
			return fmt.Errorf("--file is required")
		}
		eng, err := newEngine()
		if err != nil {
			return err
		}

		payload, err := readPayload(signalFile)
		if err != nil {
			return err
		}
		adapter := signal.New(eng.pipeline, eng.validator, eng.deadLine, eng.logger)
		result, err := adapter.IngestPayload(cmd.Context(), payload, ingest.Options{ForceCommit: signalForce})
		if err != nil {
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
	signalCmd.Flags().StringVarP(&signalFile, "file", "f", "", "Signal payload JSON file (- for stdin)")
	signalCmd.Flags().BoolVar(&signalForce, "force", false, "Force auto-commits regardless of confidence")
}
