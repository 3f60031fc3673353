// Package feed implements the consumer-facing half of the update channel.
//
// The feed package:
//   - Tracks consumer handles and per-topic ref-counts in a registry
//   - Emits one subscribe/unsubscribe control frame per 0-to-1/1-to-0 edge
//   - Dispatches parsed events to live handles in registration order
//   - Guarantees no callback runs after a handle's deregistration returns
//   - Exposes a Service that lazily opens the shared connection
package feed
