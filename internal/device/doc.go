// Package device provides the device pool for TapForge Core.
//
// The pool is the central catalogue of Android devices available for
// automation. It manages device lifecycle, agent-reported presence, and
// exclusive leasing for executions.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────────────┐
//	│                            Device Pool                                   │
//	│                                                                          │
//	│  ┌──────────────────┐    ┌──────────────────┐    ┌──────────────────┐   │
//	│  │       Pool       │    │    Repository    │    │   AgentGateway   │   │
//	│  │    (pool.go)     │───▶│  (repository.go) │◀───│    (agent.go)    │   │
//	│  │                  │    │                  │    │                  │   │
//	│  │ • LRU selection  │    │ • SQLite queries │    │ • Registration   │   │
//	│  │ • Lease/release  │    │ • Conditional    │    │ • Heartbeats     │   │
//	│  │ • Serialisation  │    │   lease UPDATE   │    │ • Presence       │   │
//	│  └──────────────────┘    └──────────────────┘    └──────────────────┘   │
//	│           │                       │                       ▲              │
//	└───────────│───────────────────────│───────────────────────│──────────────┘
//	            │                       │                       │
//	            ▼                       ▼                       │
//	┌──────────────────────┐   ┌──────────────────────┐   ┌─────┴──────────┐
//	│   Worker / Scheduler │   │   SQLite Database    │   │  MQTT Broker   │
//	│  • Assign / Release  │   │   (devices table)    │   │  agent topics  │
//	└──────────────────────┘   └──────────────────────┘   └────────────────┘
//
// # Key Types
//
//   - Device: an Android device identified by serial, leased to executions
//   - Status: online, offline, busy, error
//   - Pool: LRU allocator handing out exclusive leases
//   - AgentGateway: ingests agent registration and heartbeat traffic
//
// # Leasing
//
// A device is leasable when online and enabled. Assign picks the least
// recently used candidate (never-used devices first), moves it to busy,
// and stamps last_used_at. Release returns busy and error devices to
// online. The select-then-commit window is serialised by a process-wide
// mutex, with a conditional UPDATE in the repository as the storage-level
// backstop, so a device is never leased twice.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db)
//	pool := device.NewPool(repo)
//	pool.SetLogger(log)
//
//	assignment, err := pool.Assign(ctx, "")
//	if err != nil {
//	    if errors.Is(err, device.ErrNoDevices) {
//	        // nothing free right now; retry on a later tick
//	    }
//	    return err
//	}
//	defer pool.Release(ctx, assignment.Device.ID)
//
// # Thread Safety
//
// Pool and AgentGateway are safe for concurrent use. The Repository
// implementation must also be thread-safe.
package device
