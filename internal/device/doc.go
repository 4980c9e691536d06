// Package device implements the daemon's device state machine: the
// registry of GPUs discovered at startup and the manager that drives
// their persistence mode and NUMA memory state.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                        Manager                               │
//	│                                                              │
//	│  ┌──────────────┐   ┌───────────────┐   ┌────────────────┐   │
//	│  │   Registry   │   │ driver.       │   │ NumaController │   │
//	│  │ (registry.go)│   │ Interface     │   │ (numa package) │   │
//	│  │              │   │               │   │                │   │
//	│  │ • discovery  │   │ • attach      │   │ • online seq   │   │
//	│  │ • lookup     │   │ • detach      │   │ • offline seq  │   │
//	│  └──────────────┘   └───────────────┘   └────────────────┘   │
//	└──────────────────────────────────────────────────────────────┘
//
// The registry is populated exactly once, at startup, from driver
// enumeration; devices never appear or disappear while the daemon runs.
// The manager serialises all state transitions behind a single mutex,
// so at most one transition is in flight at any time.
//
// Every transition attempt, successful or not, is reported to the
// configured TransitionRecorders for auditing and metrics.
package device
