// Package source provides the feed simulator's event producers.
//
// Two sources exist:
//   - Synthetic: generated depot events on a ticker, for development and
//     load testing without infrastructure
//   - Postgres: LISTEN/NOTIFY payloads forwarded as event frames, for
//     driving the feed from real depot database changes
package source
