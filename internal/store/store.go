// Package store holds the authoritative in-memory registry of invoices
// across the four lifecycle buckets and the transition operations that move
// an invoice between them.
package store

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finops-lab/invoiceflow/internal/domain/approval"
	"github.com/finops-lab/invoiceflow/internal/domain/entity"
	"github.com/finops-lab/invoiceflow/internal/domain/history"
	"github.com/finops-lab/invoiceflow/internal/domain/lifecycle"
)

const (
	defaultPaymentMethod = "ACH"
	defaultScheduleDelay = 7 * 24 * time.Hour

	autoRejectReason = "Auto-rejected due to major red flags"
	autoRejectActor  = "AI Approval Agent"
)

// Store is the single source of truth for invoice bucket membership. All
// bucket transitions go through its operations; mutations are serialized by
// one lock, which preserves the at-most-one-bucket invariant under
// concurrent calls on the same identifier.
//
// Operations on identifiers absent from the expected bucket are silent
// no-ops logged at debug level: a concurrent operation may have already
// relocated the record, and a stale UI click is a benign race, not a fault.
type Store struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	ladder   approval.Ladder
	machines lifecycle.Builder

	inbox   map[string]*entity.Invoice
	routed  map[string]*entity.Invoice
	payable map[string]*entity.Invoice
	paid    map[string]*entity.Invoice

	processed int

	now      func() time.Time
	discount func() int
	txnID    func(time.Time) string
}

// Option customizes a store
type Option func(*Store)

// WithClock replaces the wall clock, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithDiscounter replaces the early-pay discount source, for tests
func WithDiscounter(fn func() int) Option {
	return func(s *Store) { s.discount = fn }
}

// WithTransactionIDs replaces the transaction identifier generator, for tests
func WithTransactionIDs(fn func(time.Time) string) Option {
	return func(s *Store) { s.txnID = fn }
}

// New creates an empty store using the given approval ladder
func New(ladder approval.Ladder, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		logger:   logger,
		ladder:   ladder,
		machines: lifecycle.DefaultBuilder(),
		inbox:    make(map[string]*entity.Invoice),
		routed:   make(map[string]*entity.Invoice),
		payable:  make(map[string]*entity.Invoice),
		paid:     make(map[string]*entity.Invoice),
		now:      time.Now,
		discount: randomDiscount,
		txnID:    defaultTransactionID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// randomDiscount returns 0 half the time, otherwise 1 to 3 percent. The
// mechanism (optional incentive attached at full approval) is contractual;
// the value policy is demo flavor and replaceable via WithDiscounter.
func randomDiscount() int {
	if rand.Intn(2) == 0 {
		return 0
	}
	return 1 + rand.Intn(3)
}

func defaultTransactionID(now time.Time) string {
	u := uuid.New()
	return fmt.Sprintf("TXN-%s-%s", now.Format("20060102"), strings.ToUpper(hex.EncodeToString(u[:4])))
}

// fireLocked runs a bucket move through the lifecycle machine and relocates
// the record when the machine lands in a different bucket. Caller holds the
// write lock and has already verified the record sits in from.
func (s *Store) fireLocked(id string, from lifecycle.Bucket, trigger lifecycle.Trigger) error {
	m := s.machines.Build(from)
	if err := m.Fire(context.Background(), trigger); err != nil {
		s.logger.Warn("lifecycle transition refused",
			zap.String("invoice_id", id),
			zap.String("bucket", from.String()),
			zap.String("trigger", trigger.String()),
			zap.Strings("permitted", triggerStrings(m.PermittedTriggers())),
			zap.Error(err),
		)
		return err
	}
	if to := m.Bucket(); to != from {
		rec := s.records(from)[id]
		delete(s.records(from), id)
		s.records(to)[id] = rec
	}
	return nil
}

func (s *Store) records(b lifecycle.Bucket) map[string]*entity.Invoice {
	switch b {
	case lifecycle.BucketInbox:
		return s.inbox
	case lifecycle.BucketRouted:
		return s.routed
	case lifecycle.BucketPayable:
		return s.payable
	default:
		return s.paid
	}
}

func triggerStrings(triggers []lifecycle.Trigger) []string {
	out := make([]string, len(triggers))
	for i, t := range triggers {
		out[i] = t.String()
	}
	sort.Strings(out)
	return out
}

// Ingest inserts an invoice into the inbox and bumps the processed counter.
// A missing identifier is generated; a zero status defaults to
// ready_for_approval. Returns a clone of the stored record.
func (s *Store) Ingest(inv *entity.Invoice) *entity.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := inv.Clone()
	if rec.ID == "" {
		rec.ID = "INV-" + strings.ToUpper(uuid.New().String()[:8])
	}
	if rec.Status == "" {
		rec.Status = entity.StatusReadyForApproval
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	s.removeEverywhere(rec.ID)
	s.inbox[rec.ID] = rec
	s.processed++

	s.logger.Info("invoice ingested",
		zap.String("invoice_id", rec.ID),
		zap.String("vendor", rec.Vendor),
		zap.Float64("amount", rec.Amount),
		zap.String("status", rec.Status.String()),
	)
	return rec.Clone()
}

// RouteToApproval moves an invoice from inbox to routed, attaching a freshly
// computed approval chain for its amount. No-op if the id is not in the inbox.
func (s *Store) RouteToApproval(id string) *entity.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.routeLocked(id)
}

// RouteAllReady routes every inbox invoice with status ready_for_approval
func (s *Store) RouteAllReady() []*entity.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []string
	for id, inv := range s.inbox {
		if inv.Status == entity.StatusReadyForApproval {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	routed := make([]*entity.Invoice, 0, len(ready))
	for _, id := range ready {
		if inv := s.routeLocked(id); inv != nil {
			routed = append(routed, inv)
		}
	}
	return routed
}

func (s *Store) routeLocked(id string) *entity.Invoice {
	inv, ok := s.inbox[id]
	if !ok {
		s.noop("route_to_approval", id, lifecycle.BucketInbox)
		return nil
	}
	if err := s.fireLocked(id, lifecycle.BucketInbox, lifecycle.TriggerRoute); err != nil {
		return nil
	}

	now := s.now()
	inv.Status = entity.StatusPendingApproval
	inv.RoutedAt = &now
	inv.ApprovalChain = s.ladder.Compute(inv.Amount)
	inv.CurrentApprover = 0

	s.logger.Info("invoice routed to approval chain",
		zap.String("invoice_id", id),
		zap.Int("chain_length", len(inv.ApprovalChain)),
	)
	return inv.Clone()
}

// ApplyTriageResult applies the approval agent's route decision. The stage's
// processing history is merged into the record's accumulated history in every
// branch. No-op if the id is not in the inbox.
func (s *Store) ApplyTriageResult(id string, route entity.Route, stageHistory *entity.ProcessingHistory) *entity.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.inbox[id]
	if !ok {
		s.noop("apply_triage_result", id, lifecycle.BucketInbox)
		return nil
	}

	now := s.now()
	inv.History = history.Merge(inv.History, stageHistory)
	inv.TriageRoute = route

	switch route {
	case entity.RouteAutoApprove:
		if err := s.fireLocked(id, lifecycle.BucketInbox, lifecycle.TriggerAutoApprove); err != nil {
			return nil
		}
		inv.Status = entity.StatusReadyToPay
		inv.RoutedAt = &now
		inv.AutoApproved = true
		inv.ApprovalMethod = "ai_auto_approve"
		inv.ApprovalChain = nil
		inv.PaymentMethod = defaultPaymentMethod

	case entity.RouteAutoReject:
		if err := s.fireLocked(id, lifecycle.BucketInbox, lifecycle.TriggerAutoReject); err != nil {
			return nil
		}
		inv.Status = entity.StatusRejected
		inv.RejectedAt = &now
		inv.RejectedBy = autoRejectActor
		inv.RejectionReason = autoRejectReason

	default:
		if err := s.fireLocked(id, lifecycle.BucketInbox, lifecycle.TriggerRoute); err != nil {
			return nil
		}
		inv.Status = entity.StatusPendingApproval
		inv.RoutedAt = &now
		inv.ApprovalChain = s.ladder.Compute(inv.Amount)
		inv.CurrentApprover = 0
	}

	s.logger.Info("triage result applied",
		zap.String("invoice_id", id),
		zap.String("route", route.String()),
		zap.String("status", inv.Status.String()),
	)
	return inv.Clone()
}

// ApproveCurrent marks the approver at the current chain index as approved.
// The final approval moves the invoice to payable with a default payment
// method and a randomized early-pay discount; otherwise the index advances.
// No-op if the id is not in the routed bucket.
func (s *Store) ApproveCurrent(id string) *entity.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.routed[id]
	if !ok {
		s.noop("approve_current", id, lifecycle.BucketRouted)
		return nil
	}
	idx := inv.CurrentApprover
	if idx < 0 || idx >= len(inv.ApprovalChain) || inv.Status != entity.StatusPendingApproval {
		s.logger.Debug("approval ignored, chain not pending",
			zap.String("invoice_id", id),
			zap.Int("index", idx),
			zap.String("status", inv.Status.String()),
		)
		return nil
	}

	now := s.now()
	inv.ApprovalChain[idx].Status = entity.ApproverApproved
	inv.ApprovalChain[idx].DecidedAt = &now

	if idx == len(inv.ApprovalChain)-1 {
		if err := s.fireLocked(id, lifecycle.BucketRouted, lifecycle.TriggerApprove); err != nil {
			return nil
		}
		inv.Status = entity.StatusReadyToPay
		inv.FullyApprovedAt = &now
		inv.PaymentMethod = defaultPaymentMethod
		inv.EarlyPayDiscount = s.discount()

		s.logger.Info("invoice fully approved",
			zap.String("invoice_id", id),
			zap.String("approver", inv.ApprovalChain[idx].Name),
			zap.Int("early_pay_discount", inv.EarlyPayDiscount),
		)
	} else {
		inv.CurrentApprover = idx + 1
		s.logger.Info("approval chain advanced",
			zap.String("invoice_id", id),
			zap.String("approver", inv.ApprovalChain[idx].Name),
			zap.Int("next_index", inv.CurrentApprover),
		)
	}
	return inv.Clone()
}

// RejectCurrent marks the approver at the current chain index as rejected and
// sets the invoice status to approval_rejected. The invoice stays in the
// routed bucket; no further chain advancement is possible. No-op if the id is
// not in the routed bucket.
func (s *Store) RejectCurrent(id, reason string) *entity.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.routed[id]
	if !ok {
		s.noop("reject_current", id, lifecycle.BucketRouted)
		return nil
	}
	idx := inv.CurrentApprover
	if idx < 0 || idx >= len(inv.ApprovalChain) || inv.Status != entity.StatusPendingApproval {
		s.logger.Debug("rejection ignored, chain not pending",
			zap.String("invoice_id", id),
			zap.Int("index", idx),
			zap.String("status", inv.Status.String()),
		)
		return nil
	}

	if err := s.fireLocked(id, lifecycle.BucketRouted, lifecycle.TriggerReject); err != nil {
		return nil
	}

	now := s.now()
	inv.ApprovalChain[idx].Status = entity.ApproverRejected
	inv.ApprovalChain[idx].DecidedAt = &now
	inv.ApprovalChain[idx].RejectionReason = reason

	inv.Status = entity.StatusApprovalRejected
	inv.RejectedAt = &now
	inv.RejectedBy = inv.ApprovalChain[idx].Name
	inv.RejectionReason = reason

	s.logger.Info("invoice rejected by approver",
		zap.String("invoice_id", id),
		zap.String("approver", inv.ApprovalChain[idx].Name),
		zap.String("reason", reason),
	)
	return inv.Clone()
}

// SchedulePayment sets a scheduled date on a payable invoice. A nil date
// defaults to seven days out. No-op if the id is not payable.
func (s *Store) SchedulePayment(id string, date *time.Time) *entity.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.payable[id]
	if !ok {
		s.noop("schedule_payment", id, lifecycle.BucketPayable)
		return nil
	}
	if err := s.fireLocked(id, lifecycle.BucketPayable, lifecycle.TriggerSchedule); err != nil {
		return nil
	}

	when := s.now().Add(defaultScheduleDelay)
	if date != nil {
		when = *date
	}
	inv.Status = entity.StatusScheduled
	inv.ScheduledDate = &when

	s.logger.Info("payment scheduled",
		zap.String("invoice_id", id),
		zap.Time("scheduled_date", when),
	)
	return inv.Clone()
}

// SetPaymentMethod updates the payment method of a payable invoice
func (s *Store) SetPaymentMethod(id, method string) *entity.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.payable[id]
	if !ok {
		s.noop("set_payment_method", id, lifecycle.BucketPayable)
		return nil
	}
	inv.PaymentMethod = method
	return inv.Clone()
}

// payableLocked resolves an invoice for a payment finalizer. A record still
// in inbox or routed is promoted into payable first, through the trigger that
// permits the move; payment reaches the store only after the approval gate
// has cleared.
func (s *Store) payableLocked(op, id string) (*entity.Invoice, bool) {
	if inv, ok := s.payable[id]; ok {
		return inv, true
	}

	promote := func(inv *entity.Invoice, from lifecycle.Bucket, trigger lifecycle.Trigger) (*entity.Invoice, bool) {
		if err := s.fireLocked(id, from, trigger); err != nil {
			return nil, false
		}
		inv.Status = entity.StatusReadyToPay
		if inv.PaymentMethod == "" {
			inv.PaymentMethod = defaultPaymentMethod
		}
		s.logger.Info("invoice promoted to payable",
			zap.String("invoice_id", id),
			zap.String("from_bucket", from.String()),
			zap.String("operation", op),
		)
		return inv, true
	}

	if inv, ok := s.inbox[id]; ok {
		return promote(inv, lifecycle.BucketInbox, lifecycle.TriggerAutoApprove)
	}
	if inv, ok := s.routed[id]; ok {
		return promote(inv, lifecycle.BucketRouted, lifecycle.TriggerApprove)
	}
	s.noop(op, id, lifecycle.BucketPayable)
	return nil, false
}

// MarkPaid moves an invoice to paid, stamping the paid-at timestamp and a
// transaction identifier. An invoice still in inbox or routed is promoted
// into payable before the move. An empty txnID gets a generated one. No-op on
// unknown or already paid identifiers.
func (s *Store) MarkPaid(id, txnID string) *entity.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.payableLocked("mark_paid", id)
	if !ok {
		return nil
	}
	if err := s.fireLocked(id, lifecycle.BucketPayable, lifecycle.TriggerPay); err != nil {
		return nil
	}

	now := s.now()
	inv.Status = entity.StatusPaid
	inv.PaidAt = &now
	if txnID == "" {
		txnID = s.txnID(now)
	}
	inv.TransactionID = txnID

	s.logger.Info("invoice paid",
		zap.String("invoice_id", id),
		zap.String("transaction_id", txnID),
	)
	return inv.Clone()
}

// MarkPaymentFailed records a failed payment attempt. The invoice lands in
// the payable bucket with no transaction identifier so the payment can be
// retried; a record still in inbox or routed is promoted there first. No-op
// on unknown or already paid identifiers.
func (s *Store) MarkPaymentFailed(id, reason string) *entity.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.payableLocked("mark_payment_failed", id)
	if !ok {
		return nil
	}
	if err := s.fireLocked(id, lifecycle.BucketPayable, lifecycle.TriggerFailPayment); err != nil {
		return nil
	}

	inv.Status = entity.StatusPaymentFailed
	inv.RejectionReason = reason
	inv.TransactionID = ""

	s.logger.Warn("payment failed",
		zap.String("invoice_id", id),
		zap.String("reason", reason),
	)
	return inv.Clone()
}

// Lookup searches inbox, routed, payable, then paid and returns a clone of
// the first match with its bucket
func (s *Store) Lookup(id string) (*entity.Invoice, lifecycle.Bucket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range []struct {
		bucket  lifecycle.Bucket
		records map[string]*entity.Invoice
	}{
		{lifecycle.BucketInbox, s.inbox},
		{lifecycle.BucketRouted, s.routed},
		{lifecycle.BucketPayable, s.payable},
		{lifecycle.BucketPaid, s.paid},
	} {
		if inv, ok := b.records[id]; ok {
			return inv.Clone(), b.bucket, true
		}
	}
	return nil, "", false
}

// Inbox returns the inbox invoices, newest first
func (s *Store) Inbox() []*entity.Invoice { return s.snapshot(&s.inbox) }

// Routed returns the routed invoices, newest first
func (s *Store) Routed() []*entity.Invoice { return s.snapshot(&s.routed) }

// Payable returns the payable invoices, newest first
func (s *Store) Payable() []*entity.Invoice { return s.snapshot(&s.payable) }

// Paid returns the paid invoices, newest first
func (s *Store) Paid() []*entity.Invoice { return s.snapshot(&s.paid) }

func (s *Store) snapshot(bucket *map[string]*entity.Invoice) []*entity.Invoice {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entity.Invoice, 0, len(*bucket))
	for _, inv := range *bucket {
		out = append(out, inv.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ProcessedCount returns the monotonic count of invoices ever ingested
func (s *Store) ProcessedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processed
}

// Counts returns the current size of each bucket
func (s *Store) Counts() map[lifecycle.Bucket]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[lifecycle.Bucket]int{
		lifecycle.BucketInbox:   len(s.inbox),
		lifecycle.BucketRouted:  len(s.routed),
		lifecycle.BucketPayable: len(s.payable),
		lifecycle.BucketPaid:    len(s.paid),
	}
}

// Reset clears all buckets and the processed counter. Full teardown, used for
// session reset only.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inbox = make(map[string]*entity.Invoice)
	s.routed = make(map[string]*entity.Invoice)
	s.payable = make(map[string]*entity.Invoice)
	s.paid = make(map[string]*entity.Invoice)
	s.processed = 0

	s.logger.Info("store reset")
}

func (s *Store) removeEverywhere(id string) {
	delete(s.inbox, id)
	delete(s.routed, id)
	delete(s.payable, id)
	delete(s.paid, id)
}

func (s *Store) noop(op, id string, bucket lifecycle.Bucket) {
	s.logger.Debug("lifecycle no-op on missing identifier",
		zap.String("operation", op),
		zap.String("invoice_id", id),
		zap.String("expected_bucket", bucket.String()),
	)
}
