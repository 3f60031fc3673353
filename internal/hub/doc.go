// Package hub implements the feed simulator's WebSocket server side:
//
//   - upgrades client connections and runs per-connection read/write pumps
//   - tracks a per-connection topic set driven by subscribe and unsubscribe
//     control frames, both idempotent
//   - broadcasts event frames to every connection subscribed to the
//     event's topic
//
// The hub speaks the wire protocol the client stack consumes, so a feedmux
// client runs against it unmodified.
package hub
