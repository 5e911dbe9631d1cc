package models

import "time"

// CacheEntry is a cached record set for one device and date range.
type CacheEntry struct {
	Records   []LogRecord `msgpack:"records"`
	FetchedAt time.Time   `msgpack:"fetched_at"`
}

// Valid reports whether the entry is younger than ttl at now.
func (e CacheEntry) Valid(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.FetchedAt) < ttl
}
