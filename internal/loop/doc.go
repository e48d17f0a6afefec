// Package loop implements recurring execution loops: rotation
// configurations that cycle accounts and presets over time, producing
// pending executions for the worker pool to drain.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────┐
//	│                      Scheduler                         │
//	│                                                        │
//	│  tick ──► runnable loops ──► eligibility ──► strategy  │
//	│                                    │                   │
//	│                         preset derivation (mode)       │
//	│                                    │                   │
//	│                   create execution ──► enqueue         │
//	│                                    │                   │
//	│                      advance rotation state            │
//	└────────────────────────────────────────────────────────┘
//
// Account selection strategies: most_credits, least_credits,
// round_robin (stable id ordering after the last scheduled account)
// and specific_accounts (round robin within a configured id list).
//
// Preset derivation modes: single (one fixed preset), shared_list (one
// list walked by every account in turn) and per_account (each account
// keeps its own position in its own list). Wrapping a list clears
// CurrentAccountID, which tells the next tick to rotate to another
// account.
//
// Rotation state only advances after an execution has been created AND
// enqueued. A tick that is throttled, finds no device, or finds no
// eligible account leaves all state untouched.
//
// Health: every failed execution bumps ConsecutiveFailures via
// RecordResult; exceeding MaxConsecutiveFailures flips the loop to
// status error, which stops scheduling until a manual reset. Every
// outcome also appends a write-once HistoryEntry audit record.
package loop
