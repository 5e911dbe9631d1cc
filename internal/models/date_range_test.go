package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateRangeKey_Classification(t *testing.T) {
	now := time.Date(2024, 6, 10, 15, 30, 0, 0, time.Local)

	tests := []struct {
		name      string
		rng       DateRangeKey
		today     bool
		cacheable bool
	}{
		{"today only", DateRangeKey{"2024-06-10", "2024-06-10"}, true, false},
		{"yesterday", DateRangeKey{"2024-06-09", "2024-06-09"}, false, true},
		{"past week", DateRangeKey{"2024-06-01", "2024-06-07"}, false, true},
		{"includes today", DateRangeKey{"2024-06-08", "2024-06-10"}, false, false},
		{"future", DateRangeKey{"2024-06-11", "2024-06-12"}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.today, tt.rng.IsToday(now))
			assert.Equal(t, tt.cacheable, tt.rng.CacheEligible(now))
		})
	}
}

func TestDateRangeKey_TodayRange(t *testing.T) {
	now := time.Date(2024, 1, 1, 23, 59, 0, 0, time.Local)
	rng := TodayRange(now)

	assert.Equal(t, "2024-01-01_2024-01-01", rng.Key())
	assert.True(t, rng.IsToday(now))
	assert.False(t, rng.IsToday(now.Add(2*time.Minute)))
}

func TestDateRangeKey_Bounds(t *testing.T) {
	loc := time.FixedZone("test", 2*3600)
	from, to, err := DateRangeKey{From: "2024-03-01", To: "2024-03-02"}.Bounds(loc)
	require.NoError(t, err)

	assert.True(t, time.Date(2024, 3, 1, 0, 0, 0, 0, loc).Equal(from), from)
	assert.True(t, time.Date(2024, 3, 2, 23, 59, 59, int(999*time.Millisecond), loc).Equal(to), to)

	_, _, err = DateRangeKey{From: "2024-03-02", To: "2024-03-01"}.Bounds(loc)
	assert.Error(t, err)
}

func TestParseDateRangeKey(t *testing.T) {
	rng, err := ParseDateRangeKey("2024-01-01_2024-01-31")
	require.NoError(t, err)
	assert.Equal(t, DateRangeKey{From: "2024-01-01", To: "2024-01-31"}, rng)
	assert.Equal(t, "2024-01-01_2024-01-31", rng.String())

	for _, bad := range []string{"", "2024-01-01", "2024-01-31_2024-01-01", "2024-13-01_2024-13-02", "a_b"} {
		_, err := ParseDateRangeKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestStartOfDay(t *testing.T) {
	ts := time.Date(2024, 6, 10, 17, 4, 5, 6, time.UTC)
	assert.True(t, time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC).Equal(StartOfDay(ts)))
}
