package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finops-lab/invoiceflow/internal/domain/approval"
	"github.com/finops-lab/invoiceflow/internal/domain/entity"
	"github.com/finops-lab/invoiceflow/internal/domain/lifecycle"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	return New(approval.DefaultLadder(), zap.NewNop(), opts...)
}

func invoice(id string, amount float64) *entity.Invoice {
	return &entity.Invoice{
		ID:       id,
		Vendor:   "Acme Corp",
		Currency: "USD",
		Amount:   amount,
		Status:   entity.StatusReadyForApproval,
	}
}

// exclusivity asserts the at-most-one-bucket invariant for every id ever seen
func exclusivity(t *testing.T, s *Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		found := 0
		for _, bucket := range [][]*entity.Invoice{s.Inbox(), s.Routed(), s.Payable(), s.Paid()} {
			for _, inv := range bucket {
				if inv.ID == id {
					found++
				}
			}
		}
		assert.LessOrEqual(t, found, 1, "invoice %s appears in %d buckets", id, found)
	}
}

func TestStore_Ingest(t *testing.T) {
	s := newTestStore(t)

	got := s.Ingest(invoice("INV-1", 1200))
	require.NotNil(t, got)
	assert.Equal(t, entity.StatusReadyForApproval, got.Status)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, 1, s.ProcessedCount())

	t.Run("generates missing id", func(t *testing.T) {
		got := s.Ingest(&entity.Invoice{Vendor: "Globex", Amount: 50})
		require.NotNil(t, got)
		assert.NotEmpty(t, got.ID)
	})

	t.Run("processed count is monotonic", func(t *testing.T) {
		before := s.ProcessedCount()
		s.Ingest(invoice("INV-1", 1200)) // re-ingest same id
		assert.Equal(t, before+1, s.ProcessedCount())
	})
}

func TestStore_RouteToApproval(t *testing.T) {
	s := newTestStore(t)
	s.Ingest(invoice("INV-1", 30000))

	got := s.RouteToApproval("INV-1")
	require.NotNil(t, got)
	assert.Equal(t, entity.StatusPendingApproval, got.Status)
	assert.Equal(t, 0, got.CurrentApprover)
	require.Len(t, got.ApprovalChain, 3)
	assert.NotNil(t, got.RoutedAt)

	_, bucket, ok := s.Lookup("INV-1")
	require.True(t, ok)
	assert.Equal(t, lifecycle.BucketRouted, bucket)
	exclusivity(t, s, "INV-1")
}

func TestStore_MissingIDNoOps(t *testing.T) {
	s := newTestStore(t)
	s.Ingest(invoice("INV-1", 1200))

	assert.Nil(t, s.RouteToApproval("INV-404"))
	assert.Nil(t, s.ApproveCurrent("INV-404"))
	assert.Nil(t, s.RejectCurrent("INV-404", "nope"))
	assert.Nil(t, s.SchedulePayment("INV-404", nil))
	assert.Nil(t, s.MarkPaid("INV-404", ""))
	assert.Nil(t, s.MarkPaymentFailed("INV-404", "declined"))

	// buckets unchanged
	assert.Len(t, s.Inbox(), 1)
	assert.Empty(t, s.Routed())
	assert.Empty(t, s.Payable())
	assert.Empty(t, s.Paid())
	assert.Equal(t, 1, s.ProcessedCount())
}

func TestStore_AutoApprovePath(t *testing.T) {
	s := newTestStore(t)
	s.Ingest(invoice("INV-1", 5000))

	stageHistory := &entity.ProcessingHistory{
		Logs:           []entity.LogEntry{{Message: "triage complete", Stage: entity.StageApproval}},
		ProcessingTime: 1.2,
	}
	got := s.ApplyTriageResult("INV-1", entity.RouteAutoApprove, stageHistory)
	require.NotNil(t, got)

	assert.Equal(t, entity.StatusReadyToPay, got.Status)
	assert.Empty(t, got.ApprovalChain)
	assert.True(t, got.AutoApproved)
	assert.Equal(t, "ai_auto_approve", got.ApprovalMethod)
	require.NotNil(t, got.History)
	assert.Len(t, got.History.Logs, 1)

	_, bucket, ok := s.Lookup("INV-1")
	require.True(t, ok)
	assert.Equal(t, lifecycle.BucketPayable, bucket)
	exclusivity(t, s, "INV-1")
}

func TestStore_AutoRejectPath(t *testing.T) {
	s := newTestStore(t)
	s.Ingest(invoice("INV-1", 9900))

	got := s.ApplyTriageResult("INV-1", entity.RouteAutoReject, nil)
	require.NotNil(t, got)

	assert.Equal(t, entity.StatusRejected, got.Status)
	assert.NotEmpty(t, got.RejectionReason)
	assert.Equal(t, "AI Approval Agent", got.RejectedBy)
	assert.NotNil(t, got.RejectedAt)

	// stays in the inbox
	_, bucket, ok := s.Lookup("INV-1")
	require.True(t, ok)
	assert.Equal(t, lifecycle.BucketInbox, bucket)
}

func TestStore_FullHumanChain(t *testing.T) {
	s := newTestStore(t, WithDiscounter(func() int { return 2 }))
	s.Ingest(invoice("INV-1", 30000))

	got := s.ApplyTriageResult("INV-1", entity.RouteToHuman, nil)
	require.NotNil(t, got)
	require.Len(t, got.ApprovalChain, 3)
	assert.Equal(t, "AP Clerk", got.ApprovalChain[0].Role)
	assert.Equal(t, "AP Manager", got.ApprovalChain[1].Role)
	assert.Equal(t, "Controller", got.ApprovalChain[2].Role)
	assert.True(t, got.ApprovalChain[2].Final)

	first := s.ApproveCurrent("INV-1")
	require.NotNil(t, first)
	assert.Equal(t, entity.StatusPendingApproval, first.Status)
	assert.Equal(t, 1, first.CurrentApprover)
	assert.Equal(t, entity.ApproverApproved, first.ApprovalChain[0].Status)
	assert.NotNil(t, first.ApprovalChain[0].DecidedAt)

	second := s.ApproveCurrent("INV-1")
	require.NotNil(t, second)
	assert.Equal(t, entity.StatusPendingApproval, second.Status)
	assert.Equal(t, 2, second.CurrentApprover)
	_, bucket, _ := s.Lookup("INV-1")
	assert.Equal(t, lifecycle.BucketRouted, bucket)

	final := s.ApproveCurrent("INV-1")
	require.NotNil(t, final)
	assert.Equal(t, entity.StatusReadyToPay, final.Status)
	assert.NotNil(t, final.FullyApprovedAt)
	assert.Equal(t, "ACH", final.PaymentMethod)
	assert.Equal(t, 2, final.EarlyPayDiscount)

	_, bucket, _ = s.Lookup("INV-1")
	assert.Equal(t, lifecycle.BucketPayable, bucket)
	exclusivity(t, s, "INV-1")
}

func TestStore_MidChainRejection(t *testing.T) {
	s := newTestStore(t)
	s.Ingest(invoice("INV-1", 30000))
	s.ApplyTriageResult("INV-1", entity.RouteToHuman, nil)
	s.ApproveCurrent("INV-1")

	got := s.RejectCurrent("INV-1", "PO mismatch")
	require.NotNil(t, got)
	assert.Equal(t, entity.StatusApprovalRejected, got.Status)
	assert.Equal(t, "PO mismatch", got.RejectionReason)
	assert.Equal(t, entity.ApproverRejected, got.ApprovalChain[1].Status)
	assert.Equal(t, got.ApprovalChain[1].Name, got.RejectedBy)

	// terminal within the routed bucket
	_, bucket, ok := s.Lookup("INV-1")
	require.True(t, ok)
	assert.Equal(t, lifecycle.BucketRouted, bucket)

	assert.Nil(t, s.ApproveCurrent("INV-1"))
	assert.Nil(t, s.RejectCurrent("INV-1", "again"))
}

func TestStore_SchedulePayment(t *testing.T) {
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	s := newTestStore(t, WithClock(func() time.Time { return now }))
	s.Ingest(invoice("INV-1", 800))
	s.ApplyTriageResult("INV-1", entity.RouteAutoApprove, nil)

	t.Run("default date is seven days out", func(t *testing.T) {
		got := s.SchedulePayment("INV-1", nil)
		require.NotNil(t, got)
		assert.Equal(t, entity.StatusScheduled, got.Status)
		require.NotNil(t, got.ScheduledDate)
		assert.Equal(t, now.Add(7*24*time.Hour), *got.ScheduledDate)
	})

	t.Run("explicit date wins", func(t *testing.T) {
		when := now.Add(48 * time.Hour)
		got := s.SchedulePayment("INV-1", &when)
		require.NotNil(t, got)
		assert.Equal(t, when, *got.ScheduledDate)
	})
}

func TestStore_PaymentCompletion(t *testing.T) {
	s := newTestStore(t)
	s.Ingest(invoice("INV-1", 800))
	s.ApplyTriageResult("INV-1", entity.RouteAutoApprove, nil)

	got := s.MarkPaid("INV-1", "TXN-20240115-A1B2C3D4")
	require.NotNil(t, got)
	assert.Equal(t, entity.StatusPaid, got.Status)
	assert.Equal(t, "TXN-20240115-A1B2C3D4", got.TransactionID)
	assert.NotNil(t, got.PaidAt)

	_, bucket, _ := s.Lookup("INV-1")
	assert.Equal(t, lifecycle.BucketPaid, bucket)
	exclusivity(t, s, "INV-1")
}

func TestStore_PaymentGeneratesTransactionID(t *testing.T) {
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	s := newTestStore(t, WithClock(func() time.Time { return now }))
	s.Ingest(invoice("INV-1", 800))
	s.ApplyTriageResult("INV-1", entity.RouteAutoApprove, nil)

	got := s.MarkPaid("INV-1", "")
	require.NotNil(t, got)
	assert.Regexp(t, `^TXN-20240115-[0-9A-F]{8}$`, got.TransactionID)
}

func TestStore_PaymentFailure(t *testing.T) {
	s := newTestStore(t)
	s.Ingest(invoice("INV-1", 60000))
	s.ApplyTriageResult("INV-1", entity.RouteAutoApprove, nil)

	got := s.MarkPaymentFailed("INV-1", "amount exceeds single-payment limit")
	require.NotNil(t, got)
	assert.Equal(t, entity.StatusPaymentFailed, got.Status)
	assert.Empty(t, got.TransactionID)

	// stays payable so the payment can be retried
	_, bucket, ok := s.Lookup("INV-1")
	require.True(t, ok)
	assert.Equal(t, lifecycle.BucketPayable, bucket)
}

func TestStore_PaymentPromotesClearedInvoices(t *testing.T) {
	t.Run("paid straight from inbox", func(t *testing.T) {
		s := newTestStore(t)
		s.Ingest(invoice("INV-1", 800))

		got := s.MarkPaid("INV-1", "TXN-20240115-A1B2C3D4")
		require.NotNil(t, got)
		assert.Equal(t, entity.StatusPaid, got.Status)
		assert.Equal(t, "TXN-20240115-A1B2C3D4", got.TransactionID)
		assert.Equal(t, defaultPaymentMethod, got.PaymentMethod)

		_, bucket, ok := s.Lookup("INV-1")
		require.True(t, ok)
		assert.Equal(t, lifecycle.BucketPaid, bucket)
		assert.Empty(t, s.Inbox())
		exclusivity(t, s, "INV-1")
	})

	t.Run("paid from a pending approval chain", func(t *testing.T) {
		s := newTestStore(t)
		s.Ingest(invoice("INV-2", 30000))
		s.RouteToApproval("INV-2")

		got := s.MarkPaid("INV-2", "")
		require.NotNil(t, got)
		assert.Equal(t, entity.StatusPaid, got.Status)
		assert.NotEmpty(t, got.TransactionID)

		_, bucket, ok := s.Lookup("INV-2")
		require.True(t, ok)
		assert.Equal(t, lifecycle.BucketPaid, bucket)
		assert.Empty(t, s.Routed())
		exclusivity(t, s, "INV-2")
	})

	t.Run("failure promotes into payable for retry", func(t *testing.T) {
		s := newTestStore(t)
		s.Ingest(invoice("INV-3", 90000))

		got := s.MarkPaymentFailed("INV-3", "amount exceeds single-payment limit")
		require.NotNil(t, got)
		assert.Equal(t, entity.StatusPaymentFailed, got.Status)
		assert.Empty(t, got.TransactionID)

		_, bucket, ok := s.Lookup("INV-3")
		require.True(t, ok)
		assert.Equal(t, lifecycle.BucketPayable, bucket)
	})

	t.Run("paid invoices stay paid", func(t *testing.T) {
		s := newTestStore(t)
		s.Ingest(invoice("INV-4", 800))
		require.NotNil(t, s.MarkPaid("INV-4", "TXN-20240115-AAAAAAAA"))

		assert.Nil(t, s.MarkPaid("INV-4", "TXN-20240115-BBBBBBBB"))
		inv, _, _ := s.Lookup("INV-4")
		assert.Equal(t, "TXN-20240115-AAAAAAAA", inv.TransactionID)
	})
}

func TestStore_RouteAllReady(t *testing.T) {
	s := newTestStore(t)
	s.Ingest(invoice("INV-1", 100))
	s.Ingest(invoice("INV-2", 200))
	needsReview := invoice("INV-3", 300)
	needsReview.Status = entity.StatusNeedsReview
	s.Ingest(needsReview)

	routed := s.RouteAllReady()
	assert.Len(t, routed, 2)
	assert.Len(t, s.Inbox(), 1)
	assert.Len(t, s.Routed(), 2)
}

func TestStore_LookupOrderAndClones(t *testing.T) {
	s := newTestStore(t)
	s.Ingest(invoice("INV-1", 100))

	got, bucket, ok := s.Lookup("INV-1")
	require.True(t, ok)
	assert.Equal(t, lifecycle.BucketInbox, bucket)

	// mutating the clone must not leak into the store
	got.Status = entity.StatusPaid
	again, _, _ := s.Lookup("INV-1")
	assert.Equal(t, entity.StatusReadyForApproval, again.Status)

	_, _, ok = s.Lookup("INV-404")
	assert.False(t, ok)
}

func TestStore_Reset(t *testing.T) {
	s := newTestStore(t)
	s.Ingest(invoice("INV-1", 100))
	s.Ingest(invoice("INV-2", 200))
	s.RouteToApproval("INV-1")

	s.Reset()

	assert.Empty(t, s.Inbox())
	assert.Empty(t, s.Routed())
	assert.Empty(t, s.Payable())
	assert.Empty(t, s.Paid())
	assert.Equal(t, 0, s.ProcessedCount())
}

func TestStore_BucketExclusivityUnderConcurrency(t *testing.T) {
	s := newTestStore(t)
	s.Ingest(invoice("INV-1", 30000))
	s.ApplyTriageResult("INV-1", entity.RouteToHuman, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.ApproveCurrent("INV-1")
			s.RejectCurrent("INV-1", "race")
			s.Lookup("INV-1")
		}()
	}
	wg.Wait()

	exclusivity(t, s, "INV-1")
	_, _, ok := s.Lookup("INV-1")
	assert.True(t, ok)
}
