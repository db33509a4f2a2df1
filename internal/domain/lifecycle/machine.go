package lifecycle

import (
	"context"
	"fmt"
)

// Machine tracks an invoice's current bucket and validates moves
type Machine interface {
	// Bucket returns the current bucket
	Bucket() Bucket

	// CanFire returns true if the trigger is permitted in the current bucket
	CanFire(trigger Trigger) bool

	// Fire attempts to execute the trigger, moving to the new bucket if allowed
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers returns all triggers that can be fired in the current bucket
	PermittedTriggers() []Trigger
}

// machine implements Machine
type machine struct {
	current        Bucket
	configurations map[Bucket]*bucketConfig
}

// Bucket returns the current bucket
func (m *machine) Bucket() Bucket {
	return m.current
}

// CanFire returns true if the trigger is permitted in the current bucket
func (m *machine) CanFire(trigger Trigger) bool {
	config, exists := m.configurations[m.current]
	if !exists {
		return false
	}
	transitions, exists := config.transitions[trigger]
	return exists && len(transitions) > 0
}

// Fire attempts to execute the trigger, moving to the new bucket if allowed
func (m *machine) Fire(ctx context.Context, trigger Trigger) error {
	config, exists := m.configurations[m.current]
	if !exists {
		return fmt.Errorf("%w: cannot fire trigger %s from bucket %s (no configuration)", ErrInvalidTransition, trigger, m.current)
	}

	transitions, exists := config.transitions[trigger]
	if !exists || len(transitions) == 0 {
		return fmt.Errorf("%w: cannot fire trigger %s from bucket %s", ErrInvalidTransition, trigger, m.current)
	}

	for _, t := range transitions {
		if t.guard == nil || t.guard(ctx) {
			m.current = t.toBucket
			return nil
		}
	}

	return fmt.Errorf("%w: trigger %s from bucket %s", ErrGuardFailed, trigger, m.current)
}

// PermittedTriggers returns all triggers that can be fired in the current bucket
func (m *machine) PermittedTriggers() []Trigger {
	config, exists := m.configurations[m.current]
	if !exists {
		return []Trigger{}
	}

	triggers := make([]Trigger, 0, len(config.transitions))
	for trigger := range config.transitions {
		triggers = append(triggers, trigger)
	}
	return triggers
}

// DefaultBuilder returns a builder configured with the invoice lifecycle:
// routing and auto-approval leave the inbox, the final human approval makes an
// invoice payable, and payment is the only move into the terminal paid bucket.
// Rejections and scheduling keep the invoice where it is.
func DefaultBuilder() Builder {
	b := NewBuilder()

	b.Configure(BucketInbox).
		Permit(TriggerRoute, BucketRouted).
		Permit(TriggerAutoApprove, BucketPayable).
		Permit(TriggerAutoReject, BucketInbox)

	b.Configure(BucketRouted).
		Permit(TriggerApprove, BucketPayable).
		Permit(TriggerReject, BucketRouted)

	b.Configure(BucketPayable).
		Permit(TriggerSchedule, BucketPayable).
		Permit(TriggerPay, BucketPaid).
		Permit(TriggerFailPayment, BucketPayable)

	return b
}
