// Package control provides the daemon's local HTTP/JSON control surface,
// served over a unix-domain socket in the runtime directory.
//
// Clients (the CLI, init scripts, management tooling) connect to the
// socket and issue ordinary HTTP requests; there is no TCP listener. The
// socket itself is world-connectable so unprivileged processes can query
// device state, but every mutating route is gated on the connecting
// process's socket credentials: only uid 0 may change persistence mode
// or NUMA state.
//
//	┌────────────┐   unix socket    ┌──────────────────────────┐
//	│ CLI / init │ ───────────────► │ control.Server           │
//	│ scripts    │   HTTP/JSON      │  ├─ peer-cred root gate  │
//	└────────────┘                  │  ├─ device.Manager       │
//	                                │  └─ audit.Repository     │
//	                                └──────────────────────────┘
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := control.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package control
