package lifecycle

import "errors"

var (
	// ErrInvalidTransition is returned when a trigger is not allowed from a bucket
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrInvalidBucket is returned when a bucket is not valid
	ErrInvalidBucket = errors.New("invalid bucket")

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = errors.New("guard condition failed")
)
