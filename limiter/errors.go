package limiter

import "errors"

var (
	// ErrInvalidRequest is returned for malformed requests (missing fields,
	// non-positive or excessive token cost) before any store call is made.
	ErrInvalidRequest = errors.New("invalid rate limit request")

	// ErrNoDescriptors is returned when a hierarchical check is asked to
	// evaluate an empty descriptor list.
	ErrNoDescriptors = errors.New("hierarchical check requires at least one descriptor")
)
