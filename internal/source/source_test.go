package source

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iot-monitor/chartengine/internal/models"
)

var day = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func createTestStores(t *testing.T) map[string]Store {
	t.Helper()
	duck, err := NewDuckStore(filepath.Join(t.TempDir(), "readings.duckdb"), DuckOptions{Threads: 1, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { duck.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"duckdb": duck,
	}
}

func reading(id, key string, offset time.Duration, v float64) models.LogRecord {
	return models.LogRecord{
		ID:        id,
		Key:       key,
		Value:     v,
		Numeric:   true,
		Raw:       fmt.Sprint(v),
		Timestamp: day.Add(offset),
		Unit:      "C",
		Status:    models.StatusNormal,
	}
}

func TestStore_IngestAndToken(t *testing.T) {
	for name, store := range createTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			token, err := store.LastUpdate(ctx, "dev-7")
			require.NoError(t, err)
			assert.Equal(t, InitialToken, token)

			res, err := store.Ingest(ctx, "dev-7", []models.LogRecord{
				reading("a", "temp", time.Hour, 20),
				reading("b", "temp", 2*time.Hour, 21),
				reading("a", "temp", time.Hour, 20),
			})
			require.NoError(t, err)
			assert.Equal(t, 2, res.Accepted)
			assert.Equal(t, 1, res.Duplicates)
			assert.Equal(t, "1", res.Token)

			res, err = store.Ingest(ctx, "dev-7", []models.LogRecord{reading("b", "temp", 2*time.Hour, 21)})
			require.NoError(t, err)
			assert.Equal(t, 0, res.Accepted)
			assert.Equal(t, "1", res.Token, "duplicate-only ingest keeps the token")

			res, err = store.Ingest(ctx, "dev-7", []models.LogRecord{reading("c", "humidity", 3*time.Hour, 40)})
			require.NoError(t, err)
			assert.Equal(t, "2", res.Token)

			token, _ = store.LastUpdate(ctx, "dev-7")
			assert.Equal(t, "2", token)

			devices, err := store.Devices(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"dev-7"}, devices)
		})
	}
}

func TestStore_QueryRange(t *testing.T) {
	for name, store := range createTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var batch []models.LogRecord
			for i := 0; i < 10; i++ {
				key := "temp"
				if i%2 == 1 {
					key = "humidity"
				}
				batch = append(batch, reading(fmt.Sprintf("r%02d", i), key, time.Duration(i)*time.Hour, float64(i)))
			}
			_, err := store.Ingest(ctx, "dev-7", batch)
			require.NoError(t, err)

			t.Run("window and keys", func(t *testing.T) {
				recs, total, err := store.QueryRange(ctx, "dev-7", Query{
					From: day.Add(2 * time.Hour),
					To:   day.Add(6 * time.Hour),
					Keys: []string{"temp"},
				})
				require.NoError(t, err)
				assert.Equal(t, 3, total)
				require.Len(t, recs, 3)
				assert.Equal(t, "r02", recs[0].ID)
				assert.Equal(t, "r06", recs[2].ID)
				assert.Equal(t, "dev-7", recs[0].DeviceID)
				assert.Equal(t, "C", recs[0].Unit)
				assert.Equal(t, models.StatusNormal, recs[0].Status)
				assert.True(t, recs[0].Timestamp.Equal(day.Add(2*time.Hour)))
			})

			t.Run("pagination", func(t *testing.T) {
				q := Query{From: day, To: day.Add(24 * time.Hour), Limit: 4, Offset: 8}
				recs, total, err := store.QueryRange(ctx, "dev-7", q)
				require.NoError(t, err)
				assert.Equal(t, 10, total)
				require.Len(t, recs, 2)
				assert.Equal(t, "r08", recs[0].ID)
			})

			t.Run("unknown device", func(t *testing.T) {
				recs, total, err := store.QueryRange(ctx, "nope", Query{From: day, To: day.Add(time.Hour)})
				require.NoError(t, err)
				assert.Equal(t, 0, total)
				assert.Empty(t, recs)
			})
		})
	}
}

func TestDuckStore_ReopenKeepsTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readings.duckdb")
	ctx := context.Background()

	ds, err := NewDuckStore(path, DuckOptions{Logger: zerolog.Nop()})
	require.NoError(t, err)
	_, err = ds.Ingest(ctx, "dev-1", []models.LogRecord{reading("a", "temp", 0, 1)})
	require.NoError(t, err)
	_, err = ds.Ingest(ctx, "dev-1", []models.LogRecord{reading("b", "temp", time.Minute, 2)})
	require.NoError(t, err)
	require.NoError(t, ds.Close())

	reopened, err := NewDuckStore(path, DuckOptions{Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer reopened.Close()

	token, err := reopened.LastUpdate(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "2", token)

	res, err := reopened.Ingest(ctx, "dev-1", []models.LogRecord{reading("a", "temp", 0, 1)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates, "ids persist across reopen")
}
