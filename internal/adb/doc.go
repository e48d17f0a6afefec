// Package adb drives Android devices through the adb binary: input
// injection, app lifecycle, screen capture and UI hierarchy inspection.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────┐
//	│                     Session                      │
//	│                                                  │
//	│  input layer      Tap / Swipe / KeyEvent / Text  │
//	│  app layer        LaunchApp / Deeplink / Start   │
//	│  inspection       DumpUIHierarchy / ScreenSize   │
//	│  element layer    Find / WaitFor / ClickIfFound  │
//	└───────────────────────┬──────────────────────────┘
//	                        │ Runner
//	                 ┌──────▼──────┐
//	                 │  adb binary │
//	                 └─────────────┘
//
// A Session addresses one device by serial for the duration of one
// execution. The Runner seam keeps the whole driver testable without a
// device: production wires ExecRunner, tests substitute a fake.
//
// Element location has three distinct capabilities: Find performs a
// single zero-wait lookup, WaitFor polls with a cancellable sleep until
// a deadline, and ClickIfFound taps only when present and treats
// absence as a normal outcome rather than an error.
//
// Usage:
//
//	session := adb.NewSession("emulator-5554", adb.NewExecRunner(""))
//	node, err := session.WaitFor(ctx, adb.Selector{Text: "Sign in"},
//	    10*time.Second, time.Second)
//	if err == nil {
//	    err = session.TapElement(ctx, node)
//	}
package adb
