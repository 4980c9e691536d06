// Package lifecycle manages the daemon's process-level plumbing: the
// runtime directory, the flock-guarded PID file that enforces a single
// running instance, and readiness notification to the service manager.
//
// Startup order matters: the PID file lock is taken before any other
// component touches shared state (the control socket, the database),
// so a second instance is rejected before it can disturb the first.
//
//	┌───────────────┐
//	│ cmd/main      │
//	└──────┬────────┘
//	       │ Startup()           runtime dir + PID file lock
//	       │ ... components ...
//	       │ Ready()             sd_notify READY=1
//	       │ ... serve ...
//	       │ BeginShutdown()     sd_notify STOPPING=1
//	       │ Close()             release lock, remove PID file
//
// The lock is a kernel flock held on the open PID file descriptor, so
// it vanishes automatically if the daemon dies without cleanup; a stale
// PID file left behind never blocks the next start.
package lifecycle
