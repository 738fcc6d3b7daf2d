package reconcile

import (
	"fmt"

	"github.com/noah-isme/backend-recargo/internal/surcharge"
)

// Step is one remote call of a mutation plan.
type Step struct {
	Operation string `json:"operation"`
	Target    string `json:"target,omitempty"`
	Note      string `json:"note"`
}

// Plan is the ordered list of remote calls that realises a decision.
type Plan struct {
	OrderKind surcharge.OrderKind `json:"orderKind"`
	Decision  surcharge.Kind      `json:"decision"`
	Atomic    bool                `json:"atomic"`
	Steps     []Step              `json:"steps"`
}

// BuildPlan describes how a decision would be applied to snap.
func BuildPlan(snap surcharge.OrderSnapshot, cls surcharge.Classification, d surcharge.Decision, title string) Plan {
	plan := Plan{OrderKind: snap.Kind, Decision: d.Kind, Atomic: true}
	if !d.Mutates() {
		return plan
	}
	if snap.Kind == surcharge.OrderDraft {
		plan.Steps = []Step{{
			Operation: "draftOrderUpdate",
			Target:    snap.ID,
			Note: fmt.Sprintf("replace line items with %d goods and one %q line of %s",
				len(cls.Goods), title, d.Amount),
		}}
		return plan
	}

	plan.Atomic = false
	plan.Steps = append(plan.Steps, Step{
		Operation: "orderEditBegin",
		Target:    snap.ID,
		Note:      "open edit session; not visible on the order until committed",
	})
	for _, id := range d.StaleIDs {
		plan.Steps = append(plan.Steps, Step{
			Operation: "orderEditSetQuantity",
			Target:    id,
			Note:      "stage removal of stale surcharge line",
		})
	}
	plan.Steps = append(plan.Steps,
		Step{
			Operation: "orderEditAddCustomItem",
			Note:      fmt.Sprintf("stage %q at %s, not taxable, no shipping", title, d.Amount),
		},
		Step{
			Operation: "orderEditCommit",
			Note:      "apply staged changes; the order changes only here",
		},
	)
	return plan
}
