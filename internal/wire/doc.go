// Package wire defines the frame formats exchanged over the feed connection.
//
// Two shapes exist:
//   - Event: inbound server-pushed message {type, topic, payload, ts}
//   - Control: outbound subscription command {action, topics}
//
// Frames are single JSON objects, one per WebSocket text message.
package wire
