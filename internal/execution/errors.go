package execution

import "errors"

var (
	// ErrNotFound is returned when an execution does not exist.
	ErrNotFound = errors.New("execution: not found")

	// ErrExists is returned when creating an execution whose ID is taken.
	ErrExists = errors.New("execution: already exists")

	// ErrInvalidTransition is returned when a status update would violate
	// the pending -> running -> terminal ordering, including any attempt
	// to mutate an already terminal execution.
	ErrInvalidTransition = errors.New("execution: invalid status transition")

	// ErrNotRetryable is returned by CreateRetry for executions that are
	// not failed or have exhausted their retry budget.
	ErrNotRetryable = errors.New("execution: not retryable")
)
