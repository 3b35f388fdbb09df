// Package device accounts where the shared encoder's parameters live.
//
//   - device.go: Kind, the Device interface and the Pool implementation
//     with budget, margin and a freed-bytes cache.
//   - lease.go: Acquire/Lease, the scoped residency used around every task.
//   - errors.go: ResourceExhaustionError and IsResourceExhausted.
//   - status.go: Status snapshots for the monitor API.
//   - metrics.go: Prometheus gauges and counters.
//
// Computation itself always runs on host memory; an accelerator Pool models
// the residency contract (reserve on entry, release and flush on exit) so
// budget overflows and leaked placements are observable and testable.
package device
