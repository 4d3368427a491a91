package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/statekeeper/internal/ingest"
	"github.com/iambrandonn/statekeeper/internal/state"
)

var (
	ingestFile       string
	ingestText       string
	ingestField      string
	ingestSourceType string
	ingestSourceRef  string
	ingestForce      bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest one observation from a JSON payload or free text",
	Long: `Ingest routes a single observation through validation, confidence
scoring, and the decision resolver. With --file the payload is taken as a
structured observation; with --text an observation is extracted from the
utterance (domain from keywords, intent from the classifier).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}

		var result *ingest.Result
		switch {
		case ingestFile != "":
			payload, err := readPayload(ingestFile)
			if err != nil {
				return err
			}
			result, err = eng.pipeline.IngestPayload(cmd.Context(), payload, ingest.Options{ForceCommit: ingestForce})
			if err != nil {
				return err
			}

		case ingestText != "":
			if eng.cfg.EntityID == "" {
				return fmt.Errorf("entity id required: set --entity or STATE_ENTITY_ID")
			}
			sourceType := ingestSourceType
			if sourceType == "" {
				sourceType = state.SourceConversationAssertive
			}
			obs, err := ingest.ExtractObservation(cmd.Context(), strings.TrimSpace(ingestText), eng.classifier, ingest.ExtractOptions{
				EntityID:      eng.cfg.EntityID,
				FieldOverride: ingestField,
				SourceType:    sourceType,
				SourceRef:     ingestSourceRef,
			})
			if err != nil {
				return err
			}
			result, err = eng.pipeline.Ingest(cmd.Context(), obs, ingest.Options{ForceCommit: ingestForce})
			if err != nil {
				return err
			}

		default:
			return fmt.Errorf("either --file or --text is required")
		}

		if err := printJSON(result); err != nil {
			return err
		}
		if result.Status == ingest.StatusValidationFailed {
			return ErrValidation
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "Observation payload JSON file (- for stdin)")
	ingestCmd.Flags().StringVarP(&ingestText, "text", "t", "", "Free-form utterance to extract an observation from")
	ingestCmd.Flags().StringVar(&ingestField, "field", "", "Field override as <domain>.<field> (default <domain>.note)")
	ingestCmd.Flags().StringVar(&ingestSourceType, "source-type", "", "Source type for --text (default conversation_assertive)")
	ingestCmd.Flags().StringVar(&ingestSourceRef, "source-ref", "", "Source ref for --text")
	ingestCmd.Flags().BoolVar(&ingestForce, "force", false, "Force an auto-commit regardless of confidence")
}
