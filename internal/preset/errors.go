package preset

import "errors"

// Domain errors for the preset package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, preset.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when a preset ID does not exist.
	ErrNotFound = errors.New("preset: not found")

	// ErrExists is returned when creating a preset with an ID that already exists.
	ErrExists = errors.New("preset: already exists")

	// ErrInvalid is returned when preset validation fails.
	ErrInvalid = errors.New("preset: invalid")

	// ErrInvalidName is returned when a preset name is empty.
	ErrInvalidName = errors.New("preset: invalid name")

	// ErrUnknownActionType is returned when an action node has an
	// unrecognised type.
	ErrUnknownActionType = errors.New("preset: unknown action type")

	// ErrMissingParam is returned when an action node lacks a required
	// parameter.
	ErrMissingParam = errors.New("preset: missing required param")

	// ErrInvalidVariable is returned when a declared variable is invalid.
	ErrInvalidVariable = errors.New("preset: invalid variable")
)
