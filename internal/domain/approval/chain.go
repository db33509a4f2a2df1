// Package approval computes approval chains from invoice amounts.
package approval

import (
	"fmt"
	"sort"

	"github.com/finops-lab/invoiceflow/internal/domain/entity"
)

// Approver is one rung of the threshold ladder: this approver is required
// for every invoice whose amount is at or above Threshold.
type Approver struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Role      string  `json:"role"`
	Threshold float64 `json:"threshold"`
}

// Ladder is an ascending-sorted list of approvers. A valid ladder has a
// zero-threshold floor entry so every non-negative amount yields a
// non-empty chain.
type Ladder []Approver

// DefaultLadder returns the standard AP approval ladder.
func DefaultLadder() Ladder {
	return Ladder{
		{ID: "ap-clerk", Name: "Sarah Chen", Role: "AP Clerk", Threshold: 0},
		{ID: "ap-manager", Name: "Michael Torres", Role: "AP Manager", Threshold: 5000},
		{ID: "controller", Name: "Jennifer Walsh", Role: "Controller", Threshold: 25000},
		{ID: "cfo", Name: "David Kim", Role: "CFO", Threshold: 100000},
	}
}

// NewLadder validates and normalizes a ladder configuration. Entries are
// sorted by threshold; the lowest entry must have threshold zero.
func NewLadder(approvers []Approver) (Ladder, error) {
	if len(approvers) == 0 {
		return nil, fmt.Errorf("ladder requires at least one approver")
	}
	l := append(Ladder(nil), approvers...)
	sort.SliceStable(l, func(i, j int) bool { return l[i].Threshold < l[j].Threshold })
	if l[0].Threshold != 0 {
		return nil, fmt.Errorf("ladder floor entry must have threshold 0, got %.2f", l[0].Threshold)
	}
	return l, nil
}

// Compute returns the ordered chain of approver steps required for the given
// amount: every ladder entry with threshold <= amount, in ladder order, with
// 1-based sequence positions and the last step marked final. Pure and
// deterministic; any non-negative amount produces a non-empty chain.
func (l Ladder) Compute(amount float64) []entity.ApproverStep {
	var chain []entity.ApproverStep
	for _, a := range l {
		if a.Threshold > amount {
			continue
		}
		chain = append(chain, entity.ApproverStep{
			ID:        a.ID,
			Name:      a.Name,
			Role:      a.Role,
			Threshold: a.Threshold,
			Order:     len(chain) + 1,
			Status:    entity.ApproverPending,
		})
	}
	if len(chain) > 0 {
		chain[len(chain)-1].Final = true
	}
	return chain
}
