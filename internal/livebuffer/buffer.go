// Package livebuffer holds the accumulating record set for a device's live (today) view.
package livebuffer

import (
	"sort"
	"sync"
	"time"

	"github.com/iot-monitor/chartengine/internal/models"
)

// Buffer is an append-only, id-deduplicated, time-ordered record set.
type Buffer struct {
	mu      sync.RWMutex
	records []models.LogRecord
	ids     map[string]struct{}
}

// New creates an empty Buffer.
func New() *Buffer {
	return &Buffer{ids: make(map[string]struct{})}
}

// Merge adds records whose id has not been seen and returns how many were added.
// Ordering by timestamp is maintained; ties keep arrival order.
func (b *Buffer) Merge(records []models.LogRecord) int {
	if len(records) == 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	added := 0
	inOrder := true
	for _, r := range records {
		if _, dup := b.ids[r.ID]; dup {
			continue
		}
		b.ids[r.ID] = struct{}{}
		if n := len(b.records); n > 0 && r.Timestamp.Before(b.records[n-1].Timestamp) {
			inOrder = false
		}
		b.records = append(b.records, r)
		added++
	}
	if !inOrder {
		sort.SliceStable(b.records, func(i, j int) bool {
			return b.records[i].Timestamp.Before(b.records[j].Timestamp)
		})
	}
	return added
}

// Reset replaces the contents with records, deduplicated.
func (b *Buffer) Reset(records []models.LogRecord) int {
	b.mu.Lock()
	b.records = nil
	b.ids = make(map[string]struct{})
	b.mu.Unlock()
	return b.Merge(records)
}

// Records returns a copy of all buffered records.
func (b *Buffer) Records() []models.LogRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]models.LogRecord(nil), b.records...)
}

// ForKeys returns buffered records whose key is in keys.
func (b *Buffer) ForKeys(keys []string) []models.LogRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return models.FilterKeys(b.records, keys)
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// Latest returns the newest record timestamp, or the zero time when empty.
func (b *Buffer) Latest() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.records) == 0 {
		return time.Time{}
	}
	return b.records[len(b.records)-1].Timestamp
}
