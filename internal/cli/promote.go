package cli

import (
	"github.com/spf13/cobra"

	"github.com/iambrandonn/statekeeper/internal/confirm"
)

var (
	promoteDomain        string
	promoteLimit         int
	promoteMinConfidence float64
	promoteMaxPending    int
)

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Promote tentative observations into the review queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}

		limit := promoteLimit
		if !cmd.Flags().Changed("limit") {
			limit = eng.cfg.ReviewLimit
		}
		minConfidence := promoteMinConfidence
		if !cmd.Flags().Changed("min-confidence") {
			minConfidence = eng.cfg.ReviewMinConfidence
		}
		maxPending := promoteMaxPending
		if !cmd.Flags().Changed("max-pending") {
			maxPending = eng.cfg.ReviewMaxPending
		}

		result, err := eng.lifecycle.PromoteReviewQueue(confirm.PromoteOptions{
			EntityID:      eng.cfg.EntityID,
			Domain:        promoteDomain,
			MinConfidence: minConfidence,
			Limit:         limit,
			MaxPending:    maxPending,
		})
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	promoteCmd.Flags().StringVar(&promoteDomain, "domain", "", "Only promote tentatives in this domain")
	promoteCmd.Flags().IntVar(&promoteLimit, "limit", 0, "Max promotions this pass (default: STATE_REVIEW_LIMIT)")
	promoteCmd.Flags().Float64Var(&promoteMinConfidence, "min-confidence", 0, "Eligibility floor (default: STATE_REVIEW_MIN_CONFIDENCE)")
	promoteCmd.Flags().IntVar(&promoteMaxPending, "max-pending", 0, "Pending-prompt cap (default: STATE_REVIEW_MAX_PENDING)")
}
