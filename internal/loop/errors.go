package loop

import "errors"

var (
	// ErrNotFound is returned when a loop does not exist.
	ErrNotFound = errors.New("loop: not found")

	// ErrExists is returned when creating a loop whose ID is taken.
	ErrExists = errors.New("loop: already exists")

	// ErrNoEligibleAccount is returned by a tick that found no account
	// passing the loop's eligibility predicates. Not fatal; the next
	// tick tries again.
	ErrNoEligibleAccount = errors.New("loop: no eligible account")

	// ErrNoPreset is returned when the loop's mode has no preset
	// configured for the selected account.
	ErrNoPreset = errors.New("loop: no preset configured")
)
