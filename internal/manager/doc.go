// Package manager owns kernel processes and their connection files. It is
// structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, active connection tracking.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: process handles and the launcher used to start kernels.
//   - errors.go: error types and helpers (IsSpawnTimeout, IsInvalidState, ...).
//   - spawn.go: id allocation, kernel launch and the lock record.
//   - probe.go: raw socket liveness probe.
//   - discover.go: runtime directory scan and status classification.
//   - connect.go: Connect and Restart.
//   - shutdown.go: idempotent shutdown, bulk actions and the process sweep.
//   - remove.go: connection file removal for died kernels.
//
// Callers should use public methods only (NewWithConfig, Spawn, Discover,
// Connect, Shutdown, RemoveConnectionFile). Process bookkeeping is internal.
package manager
