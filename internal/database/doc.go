// Package database provides the PostgreSQL connection pool for the feed
// simulator's LISTEN/NOTIFY event source.
package database
