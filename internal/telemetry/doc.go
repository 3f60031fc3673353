// Package telemetry provides metrics hooks for the feed components.
//
// Key metrics:
//   - Connection state and reconnect attempts
//   - Inbound frame rates, malformed and unrouted counts
//   - Callback dispatch volume
//   - Outbound control frames by action
//   - Pending outbound buffer depth
//
// Collector is satisfied by a no-op implementation and a Prometheus one;
// components take the interface so tests run without a registry.
package telemetry
