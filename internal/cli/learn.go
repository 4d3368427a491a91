package cli

import (
	"github.com/spf13/cobra"

	"github.com/iambrandonn/statekeeper/internal/learner"
)

var learnForce bool

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Run the adaptive threshold learner over recorded outcomes",
	Long: `Learn reads the recorded ask-user outcomes and proposes per-domain
threshold adjustments. In shadow mode proposals are reported only; in
apply mode changed thresholds are written back and audited. The mode comes
from the canonical document (runtime.adaptive_learning.mode).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}

		adaptive := learner.New(eng.store, eng.events, eng.logger)
		report, err := adaptive.Run(learner.RunOptions{Force: learnForce})
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

func init() {
	learnCmd.Flags().BoolVar(&learnForce, "force", false, "Bypass the minimum-interval throttle")
}
