// Package manager is the supervisor of worker processes. It is structured
// into small files by concern:
//
//   - manager.go: Manager, StartGenerator/StopGenerator/SendNewJobSignal and
//     the per-worker pipe goroutines.
//   - registry.go: the process registry (generator id -> live worker).
//   - listeners.go: the event listener and the new-job signal listener.
//   - reconcile.go: startup crash recovery.
//   - shutdown.go: graceful close of all workers.
//   - spawner.go: Process/Spawner, the exec spawner and the in-process pipe spawner.
//   - config.go: ManagerConfig, the repository interfaces it consumes, defaults.
//   - errors.go: typed errors carrying HTTP status codes.
//   - events.go, broker.go: supervisor events and their fan-out to subscribers.
//   - metrics.go, status_report.go: prometheus collectors and /status.
//
// The supervisor is the only writer of generator status once a start has been
// requested. Worker events for one process are applied in emission order;
// nothing is guaranteed across generators.
package manager
