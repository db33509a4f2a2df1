package lifecycle

import (
	"context"
	"fmt"
)

// GuardFunc is a function that evaluates whether a transition should be allowed
type GuardFunc func(ctx context.Context) bool

// Builder builds a configured lifecycle machine
type Builder interface {
	// Configure returns a bucket configuration for the given bucket
	Configure(bucket Bucket) BucketConfiguration

	// Build creates a new machine instance positioned at the given bucket
	Build(initial Bucket) Machine
}

// BucketConfiguration configures transitions out of a specific bucket
type BucketConfiguration interface {
	// Permit allows a trigger to move to the target bucket
	Permit(trigger Trigger, to Bucket) BucketConfiguration

	// PermitIf allows a trigger to move to the target bucket if the guard passes
	PermitIf(trigger Trigger, to Bucket, guard GuardFunc) BucketConfiguration
}

// transition represents a bucket move with optional guard
type transition struct {
	toBucket Bucket
	guard    GuardFunc
}

// bucketConfig implements BucketConfiguration
type bucketConfig struct {
	builder     *builder
	fromBucket  Bucket
	transitions map[Trigger][]transition
}

// builder implements Builder
type builder struct {
	configurations map[Bucket]*bucketConfig
}

// NewBuilder creates a new lifecycle machine builder
func NewBuilder() Builder {
	return &builder{
		configurations: make(map[Bucket]*bucketConfig),
	}
}

// Configure returns a bucket configuration for the given bucket
func (b *builder) Configure(bucket Bucket) BucketConfiguration {
	if !bucket.IsValid() {
		panic(fmt.Sprintf("invalid bucket: %s", bucket))
	}

	config, exists := b.configurations[bucket]
	if !exists {
		config = &bucketConfig{
			builder:     b,
			fromBucket:  bucket,
			transitions: make(map[Trigger][]transition),
		}
		b.configurations[bucket] = config
	}

	return config
}

// Build creates a new machine instance positioned at the given bucket
func (b *builder) Build(initial Bucket) Machine {
	if !initial.IsValid() {
		panic(fmt.Sprintf("invalid initial bucket: %s", initial))
	}

	// Deep copy configurations so machines stay independent of the builder
	configsCopy := make(map[Bucket]*bucketConfig)
	for bucket, config := range b.configurations {
		transitionsCopy := make(map[Trigger][]transition)
		for trigger, transitions := range config.transitions {
			transitionsCopy[trigger] = append([]transition{}, transitions...)
		}
		configsCopy[bucket] = &bucketConfig{
			fromBucket:  bucket,
			transitions: transitionsCopy,
		}
	}

	return &machine{
		current:        initial,
		configurations: configsCopy,
	}
}

// Permit allows a trigger to move to the target bucket
func (c *bucketConfig) Permit(trigger Trigger, to Bucket) BucketConfiguration {
	return c.PermitIf(trigger, to, nil)
}

// PermitIf allows a trigger to move to the target bucket if the guard passes
func (c *bucketConfig) PermitIf(trigger Trigger, to Bucket, guard GuardFunc) BucketConfiguration {
	if !to.IsValid() {
		panic(fmt.Sprintf("invalid target bucket: %s", to))
	}

	c.transitions[trigger] = append(c.transitions[trigger], transition{
		toBucket: to,
		guard:    guard,
	})

	return c
}
