package approval

import (
	"testing"

	"github.com/finops-lab/invoiceflow/internal/domain/entity"
)

func TestLadder_Compute(t *testing.T) {
	ladder := DefaultLadder()

	tests := []struct {
		name      string
		amount    float64
		wantLen   int
		wantRoles []string
	}{
		{"zero amount keeps floor approver", 0, 1, []string{"AP Clerk"}},
		{"below manager threshold", 4999.99, 1, []string{"AP Clerk"}},
		{"at manager threshold", 5000, 2, []string{"AP Clerk", "AP Manager"}},
		{"mid-tier amount", 30000, 3, []string{"AP Clerk", "AP Manager", "Controller"}},
		{"executive amount", 250000, 4, []string{"AP Clerk", "AP Manager", "Controller", "CFO"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := ladder.Compute(tt.amount)
			if len(chain) != tt.wantLen {
				t.Fatalf("Compute(%v) length = %d, want %d", tt.amount, len(chain), tt.wantLen)
			}
			for i, step := range chain {
				if step.Role != tt.wantRoles[i] {
					t.Errorf("step %d role = %q, want %q", i, step.Role, tt.wantRoles[i])
				}
				if step.Order != i+1 {
					t.Errorf("step %d order = %d, want %d", i, step.Order, i+1)
				}
				if step.Status != entity.ApproverPending {
					t.Errorf("step %d status = %q, want pending", i, step.Status)
				}
				wantFinal := i == len(chain)-1
				if step.Final != wantFinal {
					t.Errorf("step %d final = %v, want %v", i, step.Final, wantFinal)
				}
			}
		})
	}
}

func TestLadder_ComputeNonEmpty(t *testing.T) {
	ladder := DefaultLadder()
	for _, amount := range []float64{0, 0.01, 1, 999, 10000, 99999.99, 1e9} {
		if chain := ladder.Compute(amount); len(chain) == 0 {
			t.Errorf("Compute(%v) returned empty chain", amount)
		}
	}
}

func TestLadder_ComputeMonotonic(t *testing.T) {
	ladder := DefaultLadder()
	amounts := []float64{0, 100, 4999, 5000, 10000, 24999, 25000, 99999, 100000, 500000}

	for i := 0; i < len(amounts)-1; i++ {
		lower := ladder.Compute(amounts[i])
		higher := ladder.Compute(amounts[i+1])

		ids := make(map[string]bool, len(higher))
		for _, step := range higher {
			ids[step.ID] = true
		}
		for _, step := range lower {
			if !ids[step.ID] {
				t.Errorf("approver %s required at %v but dropped at %v", step.ID, amounts[i], amounts[i+1])
			}
		}
	}
}

func TestNewLadder(t *testing.T) {
	t.Run("sorts by threshold", func(t *testing.T) {
		l, err := NewLadder([]Approver{
			{ID: "b", Threshold: 5000},
			{ID: "a", Threshold: 0},
		})
		if err != nil {
			t.Fatalf("NewLadder() error = %v", err)
		}
		if l[0].ID != "a" || l[1].ID != "b" {
			t.Errorf("ladder not sorted: %+v", l)
		}
	})

	t.Run("rejects missing floor entry", func(t *testing.T) {
		if _, err := NewLadder([]Approver{{ID: "a", Threshold: 100}}); err == nil {
			t.Error("NewLadder() expected error for missing zero-threshold floor")
		}
	})

	t.Run("rejects empty ladder", func(t *testing.T) {
		if _, err := NewLadder(nil); err == nil {
			t.Error("NewLadder() expected error for empty ladder")
		}
	})
}
