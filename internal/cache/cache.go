// Package cache implements the time range cache for historical sensor records.
package cache

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/iot-monitor/chartengine/internal/models"
	"github.com/iot-monitor/chartengine/internal/storage"
)

// DefaultTTL is how long a cached range stays valid.
const DefaultTTL = 10 * time.Minute

const keyPrefix = "logcache/"

// Store is the contract sessions use for historical range caching.
type Store interface {
	Get(deviceID string, rng models.DateRangeKey) ([]models.LogRecord, bool)
	Put(deviceID string, rng models.DateRangeKey, records []models.LogRecord)
}

// Options configures a TimeRangeCache.
type Options struct {
	TTL    time.Duration
	Now    func() time.Time
	Logger zerolog.Logger
}

// TimeRangeCache caches record sets per (device, date range) in session storage.
// Every failure is absorbed: reads degrade to a miss, writes to a no-op.
type TimeRangeCache struct {
	// Serializes read-modify sequences such as removing a corrupt entry.
	mu      sync.Mutex
	backend storage.SessionStorage
	ttl     time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// New creates a TimeRangeCache over backend.
func New(backend storage.SessionStorage, opts Options) *TimeRangeCache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &TimeRangeCache{
		backend: backend,
		ttl:     opts.TTL,
		now:     opts.Now,
		log:     opts.Logger.With().Str("component", "cache").Logger(),
	}
}

// Key returns the storage key for a device and range.
func Key(deviceID string, rng models.DateRangeKey) string {
	return keyPrefix + deviceID + "/" + rng.Key()
}

// Get returns the cached records when present and younger than the TTL.
func (c *TimeRangeCache) Get(deviceID string, rng models.DateRangeKey) ([]models.LogRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(deviceID, rng)
	entry, ok := c.load(key)
	if !ok {
		return nil, false
	}
	if !entry.Valid(c.now(), c.ttl) {
		c.log.Debug().Str("key", key).Msg("entry expired")
		return nil, false
	}
	return entry.Records, true
}

// Put stores records for a device and range, stamped with the current time.
// Empty record sets are not stored.
func (c *TimeRangeCache) Put(deviceID string, rng models.DateRangeKey, records []models.LogRecord) {
	if len(records) == 0 {
		return
	}

	data, err := msgpack.Marshal(models.CacheEntry{Records: records, FetchedAt: c.now()})
	if err != nil {
		c.log.Warn().Err(err).Str("device", deviceID).Msg("encode cache entry")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(deviceID, rng)
	if err := c.backend.Set(key, data); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("write cache entry")
		return
	}
	c.log.Debug().Str("key", key).Int("records", len(records)).Msg("cached range")
}

// Purge removes expired and undecodable entries and returns how many were removed.
func (c *TimeRangeCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.backend.Keys(keyPrefix)
	if err != nil {
		c.log.Warn().Err(err).Msg("list cache entries")
		return 0
	}

	removed := 0
	now := c.now()
	for _, key := range keys {
		entry, ok := c.load(key)
		if !ok {
			// load already dropped corrupt entries
			removed++
			continue
		}
		if entry.Valid(now, c.ttl) {
			continue
		}
		if err := c.backend.Remove(key); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("remove expired entry")
			continue
		}
		removed++
	}
	return removed
}

// Len returns the number of stored entries, expired ones included.
func (c *TimeRangeCache) Len() int {
	keys, err := c.backend.Keys(keyPrefix)
	if err != nil {
		return 0
	}
	return len(keys)
}

// Devices lists device ids with at least one stored entry.
func (c *TimeRangeCache) Devices() []string {
	keys, err := c.backend.Keys(keyPrefix)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, k := range keys {
		dev, _, _ := strings.Cut(strings.TrimPrefix(k, keyPrefix), "/")
		if _, ok := seen[dev]; !ok {
			seen[dev] = struct{}{}
			out = append(out, dev)
		}
	}
	return out
}

// load reads and decodes key. Corrupt entries are removed. Caller holds mu.
func (c *TimeRangeCache) load(key string) (models.CacheEntry, bool) {
	data, err := c.backend.Get(key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.log.Warn().Err(err).Str("key", key).Msg("read cache entry")
		}
		return models.CacheEntry{}, false
	}

	var entry models.CacheEntry
	if err := msgpack.Unmarshal(data, &entry); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("dropping corrupt cache entry")
		if rmErr := c.backend.Remove(key); rmErr != nil {
			c.log.Warn().Err(rmErr).Str("key", key).Msg("remove corrupt entry")
		}
		return models.CacheEntry{}, false
	}
	return entry, true
}
