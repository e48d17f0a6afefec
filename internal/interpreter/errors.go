package interpreter

import (
	"errors"
	"fmt"
)

var (
	// ErrCircularReference is returned when call_preset would re-enter a
	// preset already on the call stack. Always execution-fatal; it is
	// never suppressed by continue_on_error.
	ErrCircularReference = errors.New("interpreter: circular preset reference")

	// ErrMissingParam is returned when an action lacks a parameter it
	// cannot run without.
	ErrMissingParam = errors.New("interpreter: missing action parameter")

	// ErrUnknownActionType is returned for an unrecognised node type.
	ErrUnknownActionType = errors.New("interpreter: unknown action type")
)

// ActionError pinpoints the action that failed. Index is the top-level
// action index the failure occurred under; Path is the full bracketed
// route through the tree, e.g. "[2][0]".
type ActionError struct {
	Index  int
	Type   string
	Params map[string]any
	Path   string
	Err    error

	// fatal failures abort the run even under continue_on_error.
	fatal bool
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s at %s: %v", e.Type, e.Path, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the failure must abort the run regardless of
// the node's continue_on_error setting.
func (e *ActionError) Fatal() bool {
	return e.fatal
}
