// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns the single WebSocket connection shared by all consumers
//   - Reconnects with capped exponential backoff and jitter
//   - Replays subscribe frames for active topics before declaring a
//     (re)connected transport usable
//   - Buffers control frames sent while disconnected and flushes them in
//     order after replay
//   - Hands inbound frames to the Dispatcher over a channel
package connection
