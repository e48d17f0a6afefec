// Package interpreter executes preset action trees against a live
// device session.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────┐
//	│                    Interpreter                      │
//	│                                                     │
//	│  Execute(preset) ──► runList ──► dispatch per node  │
//	│                        │                            │
//	│          nested lists recurse (repeat, branches,    │
//	│          call_preset via PresetLoader)              │
//	└──────────────────────────┬──────────────────────────┘
//	                           │ Device
//	                    ┌──────▼──────┐
//	                    │ adb.Session │
//	                    └─────────────┘
//
// Failure semantics: a node failure is wrapped into an *ActionError
// carrying the top-level action index and the bracketed tree path. By
// default a failing node logs and the sibling sequence continues; only
// an explicit continue_on_error=false aborts the run. Two exceptions:
// circular call_preset references are always fatal, and presence-check
// nodes (the if_element_* family) never fail at all — an evaluation
// error collapses to "condition false".
//
// Coordinates in (0, 1] are fractions of the screen dimension, fetched
// once per execution and cached. ${name} references in string params
// expand from the variable map; unresolved references pass through
// unchanged.
//
// Cancellation is honoured between every action boundary and inside
// every wait, poll and repeat delay.
package interpreter
