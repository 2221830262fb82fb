package core

import "errors"

var (
	// ErrInvalidCapacity is returned when bucket capacity is not positive.
	ErrInvalidCapacity = errors.New("bucket capacity must be positive")

	// ErrInvalidRefillRate is returned when the refill rate is negative.
	ErrInvalidRefillRate = errors.New("refill rate must not be negative")

	// ErrRefillRateTooHigh is returned when the refill rate exceeds the
	// capacity safety ratio, a sign of a misconfigured policy.
	ErrRefillRateTooHigh = errors.New("refill rate exceeds safety ratio")

	// ErrInvalidMinRefillInterval is returned for a negative refill interval.
	ErrInvalidMinRefillInterval = errors.New("min refill interval must not be negative")

	// ErrClockSkew is returned when the caller's clock is more than
	// MaxBackwardSkew behind the stored refill timestamp. This is a
	// correctness hazard, not a store failure, and callers must fail closed.
	ErrClockSkew = errors.New("backward clock skew exceeds tolerance")
)
