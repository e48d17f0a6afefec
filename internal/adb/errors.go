package adb

import "errors"

var (
	// ErrElementNotFound is returned when a selector matches no node in
	// the current UI hierarchy.
	ErrElementNotFound = errors.New("adb: element not found")

	// ErrWaitTimeout is returned when an element does not appear within
	// the wait deadline.
	ErrWaitTimeout = errors.New("adb: timed out waiting for element")

	// ErrDumpFailed is returned when the UI hierarchy cannot be dumped
	// after all retries.
	ErrDumpFailed = errors.New("adb: ui hierarchy dump failed")

	// ErrInvalidBounds is returned for a malformed bounds attribute.
	ErrInvalidBounds = errors.New("adb: invalid bounds format")

	// ErrInvalidSelector is returned when a selector has no criteria.
	ErrInvalidSelector = errors.New("adb: selector needs at least one criterion")
)
