package account

import "errors"

// Domain errors for the account package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, account.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when an account ID does not exist.
	ErrNotFound = errors.New("account: not found")

	// ErrExists is returned when creating an account with an ID that already exists.
	ErrExists = errors.New("account: already exists")

	// ErrProviderNotFound is returned when a provider ID does not exist.
	ErrProviderNotFound = errors.New("account: provider not found")

	// ErrInvalidName is returned when an account name is empty.
	ErrInvalidName = errors.New("account: invalid name")
)
