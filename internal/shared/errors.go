package shared

import "errors"

var (
	// ErrAlreadyProcessed indicates an idempotency key was claimed before.
	ErrAlreadyProcessed = errors.New("already processed")
)
