package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/statekeeper/internal/confirm"
	"github.com/iambrandonn/statekeeper/internal/state"
)

var (
	confirmFile   string
	confirmAction string
	confirmValue  string
)

var confirmCmd = &cobra.Command{
	Use:   "confirm [prompt_id]",
	Short: "Apply a user decision to a pending prompt",
	Long: `Confirm resolves a pending prompt. With a prompt id argument the
decision comes from --action (and --value for an edit); with --file the
full confirmation payload is read as JSON.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}

		var result *confirm.Result
		switch {
		case confirmFile != "":
			payload, err := readPayload(confirmFile)
			if err != nil {
				return err
			}
			result, err = eng.lifecycle.ApplyPayload(cmd.Context(), payload)
			if err != nil {
				return err
			}

		case len(args) == 1:
			doc, err := eng.store.Load()
			if err != nil {
				return err
			}
			prompt, ok := doc.PendingConfirmations[args[0]]
			if !ok {
				return fmt.Errorf("no pending prompt %s", args[0])
			}
			conf := &state.UserConfirmation{
				PromptID:       prompt.PromptID,
				EntityID:       prompt.EntityID,
				Domain:         prompt.Domain,
				ProposedChange: prompt.ProposedChange,
				Confidence:     prompt.Confidence,
				ReasonSummary:  prompt.ReasonSummary,
				Action:         confirmAction,
			}
			if confirmAction == state.ActionEdit {
				if confirmValue == "" {
					return fmt.Errorf("--value is required for an edit")
				}
				conf.EditedValue = state.ParseLooseValue(confirmValue)
			}
			result, err = eng.lifecycle.Apply(cmd.Context(), conf)
			if err != nil {
				return err
			}

		default:
			return fmt.Errorf("either a prompt id or --file is required")
		}

		if err := printJSON(result); err != nil {
			return err
		}
		if result.Status == confirm.StatusValidationFailed {
			return ErrValidation
		}
		return nil
	},
}

func init() {
	confirmCmd.Flags().StringVarP(&confirmFile, "file", "f", "", "Confirmation payload JSON file (- for stdin)")
	confirmCmd.Flags().StringVarP(&confirmAction, "action", "a", state.ActionConfirm, "Decision: confirm, reject, or edit")
	confirmCmd.Flags().StringVar(&confirmValue, "value", "", "Replacement value for --action edit")
}
