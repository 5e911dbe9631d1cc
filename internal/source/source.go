// Package source is the reference sensor data source behind the HTTP API:
// it stores ingested readings and answers range and freshness queries.
package source

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/iot-monitor/chartengine/internal/models"
)

// InitialToken is the freshness token of a device with no ingested data.
const InitialToken = "0"

// Query selects readings for one device.
type Query struct {
	From   time.Time
	To     time.Time
	Keys   []string
	Limit  int
	Offset int
}

// IngestResult reports what an ingest call stored.
type IngestResult struct {
	Accepted   int
	Duplicates int
	Token      string
}

// Store is a readings store with a per-device freshness token. The token
// changes whenever an ingest stores at least one new record.
type Store interface {
	Ingest(ctx context.Context, deviceID string, records []models.LogRecord) (IngestResult, error)
	QueryRange(ctx context.Context, deviceID string, q Query) ([]models.LogRecord, int, error)
	LastUpdate(ctx context.Context, deviceID string) (string, error)
	Devices(ctx context.Context) ([]string, error)
	Close() error
}

func formatToken(seq int64) string {
	return strconv.FormatInt(seq, 10)
}

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]models.LogRecord
	ids     map[string]struct{}
	seq     map[string]int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]models.LogRecord),
		ids:     make(map[string]struct{}),
		seq:     make(map[string]int64),
	}
}

// Ingest stores records not seen before, keyed by record id.
func (s *MemoryStore) Ingest(ctx context.Context, deviceID string, records []models.LogRecord) (IngestResult, error) {
	if err := ctx.Err(); err != nil {
		return IngestResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var res IngestResult
	for _, r := range records {
		if _, dup := s.ids[r.ID]; dup {
			res.Duplicates++
			continue
		}
		s.ids[r.ID] = struct{}{}
		r.DeviceID = deviceID
		s.records[deviceID] = append(s.records[deviceID], r)
		res.Accepted++
	}
	if res.Accepted > 0 {
		s.seq[deviceID]++
		recs := s.records[deviceID]
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].Timestamp.Before(recs[j].Timestamp) })
	}
	res.Token = formatToken(s.seq[deviceID])
	return res, nil
}

// QueryRange returns one page of matching readings in time order and the total match count.
func (s *MemoryStore) QueryRange(ctx context.Context, deviceID string, q Query) ([]models.LogRecord, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys map[string]struct{}
	if len(q.Keys) > 0 {
		keys = make(map[string]struct{}, len(q.Keys))
		for _, k := range q.Keys {
			keys[strings.TrimSpace(k)] = struct{}{}
		}
	}

	var matched []models.LogRecord
	for _, r := range s.records[deviceID] {
		if r.Timestamp.Before(q.From) || r.Timestamp.After(q.To) {
			continue
		}
		if keys != nil {
			if _, ok := keys[r.Key]; !ok {
				continue
			}
		}
		matched = append(matched, r)
	}
	return paginate(matched, q.Limit, q.Offset), len(matched), nil
}

// LastUpdate returns the device's freshness token.
func (s *MemoryStore) LastUpdate(ctx context.Context, deviceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return formatToken(s.seq[deviceID]), nil
}

// Devices lists devices with data.
func (s *MemoryStore) Devices(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func paginate(records []models.LogRecord, limit, offset int) []models.LogRecord {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return []models.LogRecord{}
	}
	records = records[offset:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return append([]models.LogRecord(nil), records...)
}
