package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iot-monitor/chartengine/internal/models"
	"github.com/iot-monitor/chartengine/internal/storage"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func createTestCache(t *testing.T) (*TimeRangeCache, *storage.MemoryStore, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2024, 3, 10, 9, 0, 0, 0, time.Local)}
	backend := storage.NewMemoryStore()
	c := New(backend, Options{Now: clk.Now, Logger: zerolog.Nop()})
	return c, backend, clk
}

func sampleRecords() []models.LogRecord {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	return []models.LogRecord{
		{ID: "r1", DeviceID: "dev-1", Key: "temp", Value: 21.5, Numeric: true, Timestamp: base},
		{ID: "r2", DeviceID: "dev-1", Key: "humidity", Value: 40, Numeric: true, Timestamp: base.Add(time.Minute)},
	}
}

var march = models.DateRangeKey{From: "2024-03-01", To: "2024-03-02"}

func TestTimeRangeCache_PutGet(t *testing.T) {
	c, _, _ := createTestCache(t)

	c.Put("dev-1", march, sampleRecords())

	got, ok := c.Get("dev-1", march)
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[0].ID)
	assert.Equal(t, 21.5, got[0].Value)
	assert.True(t, got[0].Timestamp.Equal(sampleRecords()[0].Timestamp))

	_, ok = c.Get("dev-2", march)
	assert.False(t, ok, "other device must miss")
	_, ok = c.Get("dev-1", models.DateRangeKey{From: "2024-03-01", To: "2024-03-01"})
	assert.False(t, ok, "other range must miss")
}

func TestTimeRangeCache_TTL(t *testing.T) {
	t.Run("valid just before ttl", func(t *testing.T) {
		c, _, clk := createTestCache(t)
		c.Put("dev-1", march, sampleRecords())
		clk.Advance(DefaultTTL - time.Second)

		_, ok := c.Get("dev-1", march)
		assert.True(t, ok)
	})

	t.Run("absent at ttl", func(t *testing.T) {
		c, _, clk := createTestCache(t)
		c.Put("dev-1", march, sampleRecords())
		clk.Advance(DefaultTTL)

		_, ok := c.Get("dev-1", march)
		assert.False(t, ok)
		assert.Equal(t, 1, c.Len(), "expired entries are not eagerly deleted")
	})

	t.Run("purge removes expired", func(t *testing.T) {
		c, _, clk := createTestCache(t)
		c.Put("dev-1", march, sampleRecords())
		clk.Advance(DefaultTTL + time.Minute)
		c.Put("dev-2", march, sampleRecords())

		assert.Equal(t, 1, c.Purge())
		assert.Equal(t, 1, c.Len())
		assert.Equal(t, []string{"dev-2"}, c.Devices())
	})
}

func TestTimeRangeCache_EmptyPutIgnored(t *testing.T) {
	c, _, _ := createTestCache(t)
	c.Put("dev-1", march, nil)
	c.Put("dev-1", march, []models.LogRecord{})

	_, ok := c.Get("dev-1", march)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTimeRangeCache_CorruptEntry(t *testing.T) {
	c, backend, _ := createTestCache(t)
	key := Key("dev-1", march)
	require.NoError(t, backend.Set(key, []byte{0xc1, 0xff, 0x00}))

	_, ok := c.Get("dev-1", march)
	assert.False(t, ok)

	_, err := backend.Get(key)
	assert.ErrorIs(t, err, storage.ErrNotFound, "corrupt entry should be removed")
}

type failingStore struct{ storage.MemoryStore }

func (f *failingStore) Get(string) ([]byte, error)   { return nil, errors.New("disk gone") }
func (f *failingStore) Set(string, []byte) error     { return errors.New("quota exceeded") }
func (f *failingStore) Keys(string) ([]string, error) { return nil, errors.New("disk gone") }

func TestTimeRangeCache_FailOpen(t *testing.T) {
	c := New(&failingStore{}, Options{Logger: zerolog.Nop()})

	assert.NotPanics(t, func() { c.Put("dev-1", march, sampleRecords()) })
	_, ok := c.Get("dev-1", march)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Purge())
	assert.Equal(t, 0, c.Len())
}
