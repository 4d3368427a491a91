package confirm

import (
	"fmt"
	"sort"

	"github.com/iambrandonn/statekeeper/internal/ingest"
	"github.com/iambrandonn/statekeeper/internal/state"
)

// PromoteOptions filters and bounds a review-queue promotion pass
type PromoteOptions struct {
	EntityID      string // optional filter
	Domain        string // optional filter
	MinConfidence float64
	Limit         int
	MaxPending    int
}

// PromoteResult reports one promotion pass
type PromoteResult struct {
	PromotedCount int      `json:"promoted_count"`
	PromptIDs     []string `json:"prompt_ids,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// PromoteReviewQueue promotes eligible tentative observations into pending
// prompts. The cap is compared against the pending count under the same
// entity/domain filter as the eligibility scan: an unfiltered call applies
// it globally, a filtered call per filter.
func (l *Lifecycle) PromoteReviewQueue(opts PromoteOptions) (*PromoteResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = 10
	}

	doc, err := l.store.Load()
	if err != nil {
		return nil, err
	}

	currentPending := 0
	referenced := make(map[string]bool)
	for _, prompt := range doc.PendingConfirmations {
		referenced[prompt.ObservationEvent.EventID] = true
		if opts.EntityID != "" && prompt.EntityID != opts.EntityID {
			continue
		}
		if opts.Domain != "" && prompt.Domain != opts.Domain {
			continue
		}
		currentPending++
	}

	remaining := opts.MaxPending - currentPending
	if remaining <= 0 {
		return &PromoteResult{Reason: "pending_limit_reached"}, nil
	}

	var eligible []int
	for i, tentative := range doc.TentativeObservations {
		if tentative.PromotedAt != "" {
			continue
		}
		if opts.EntityID != "" && tentative.EntityID != opts.EntityID {
			continue
		}
		if opts.Domain != "" && tentative.Domain != opts.Domain {
			continue
		}
		if tentative.Confidence < opts.MinConfidence {
			continue
		}
		if referenced[tentative.EventID] {
			continue
		}
		eligible = append(eligible, i)
	}

	sort.SliceStable(eligible, func(a, b int) bool {
		ta := doc.TentativeObservations[eligible[a]]
		tb := doc.TentativeObservations[eligible[b]]
		if ta.Confidence != tb.Confidence {
			return ta.Confidence > tb.Confidence
		}
		return ta.ObservedAt < tb.ObservedAt
	})

	take := opts.Limit
	if take > remaining {
		take = remaining
	}
	if take > len(eligible) {
		take = len(eligible)
	}

	now := l.now()
	result := &PromoteResult{}
	for _, idx := range eligible[:take] {
		tentative := &doc.TentativeObservations[idx]
		prompt := ingest.NewPrompt(&tentative.Observation, tentative.Confidence, tentative.Reasons, now)
		doc.PendingConfirmations[prompt.PromptID] = prompt
		tentative.PromotedAt = state.FormatTS(now)
		tentative.PromptID = prompt.PromptID
		result.PromptIDs = append(result.PromptIDs, prompt.PromptID)
		result.PromotedCount++
	}

	if result.PromotedCount > 0 {
		doc.Runtime.LastReviewQueueAt = state.FormatTS(now)
	}
	if err := l.store.Save(doc); err != nil {
		return nil, err
	}
	if result.PromotedCount > 0 {
		audit := fmt.Sprintf("review_queue | promoted=%d | pending=%d",
			result.PromotedCount, len(doc.PendingConfirmations))
		if err := l.store.AppendAudit(audit); err != nil {
			return nil, err
		}
	}

	l.logger.Info("review queue promotion",
		"promoted", result.PromotedCount,
		"pending", len(doc.PendingConfirmations))
	return result, nil
}
