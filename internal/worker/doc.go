// Package worker drains the execution queue and runs each execution
// end to end.
//
// Architecture:
//
//	┌────────────┐   Enqueue    ┌───────────────┐
//	│ scheduler  │─────────────►│     Queue     │  MemoryQueue (in-proc)
//	│ (or manual │              │               │  MQTTQueue (broker)
//	│  trigger)  │              └───────┬───────┘
//	└────────────┘                      │ Consume
//	                              ┌─────▼─────┐
//	                              │   Pool    │  N goroutines (default 10)
//	                              └─────┬─────┘
//	                                    │ ProcessAutomation
//	                              ┌─────▼─────┐
//	                              │ Processor │
//	                              └─────┬─────┘
//	            resolve preset/account ─┤
//	            lease device (pool)    ─┤
//	            mark running (claim)   ─┤
//	            run interpreter        ─┤
//	            mark terminal          ─┤
//	            release device         ─┤
//	            record loop result     ─┘
//
// Delivery is at-least-once. Idempotency comes from two gates in the
// processor: only pending executions are picked up, and the
// pending -> running transition in the store is the exclusive claim.
// A duplicate delivery loses one of the two and becomes a no-op.
// Running rows left behind by a process that died mid-execution are
// swept at startup by RecoverInterrupted, which fails them before the
// pool begins consuming.
//
// Device handling: the lease is released in a deferred path on every
// outcome, on a fresh context so shutdown cannot strand a device in
// busy. When no device is available the execution stays pending and the
// pool re-enqueues it after a backoff.
//
// Credentials: account_name and account_secret are injected into the
// interpreter's variable map before any declared defaults apply, with
// the provider default secret as fallback when the account carries
// none.
package worker
