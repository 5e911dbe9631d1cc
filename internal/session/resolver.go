package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/iot-monitor/chartengine/internal/cache"
	"github.com/iot-monitor/chartengine/internal/livebuffer"
	"github.com/iot-monitor/chartengine/internal/models"
	"github.com/iot-monitor/chartengine/internal/refresh"
)

// resolver decides where a chart's records come from:
//   - today's live range reads the live buffer and never touches the cache
//   - a range that ended before today reads through the cache, fetching all
//     variables once per range and filtering per chart
//   - any other range (one that includes today) goes to the network uncached
type resolver struct {
	deviceID string
	buffer   *livebuffer.Buffer
	cache    cache.Store
	fetcher  refresh.Fetcher
	group    *singleflight.Group
	loc      *time.Location
	now      func() time.Time
	log      zerolog.Logger
}

func (r *resolver) Load(ctx context.Context, rng models.DateRangeKey, keys []string) ([]models.LogRecord, error) {
	now := r.now()

	if rng.IsToday(now) {
		return r.buffer.ForKeys(keys), nil
	}

	if rng.CacheEligible(now) {
		records, err := r.historical(ctx, rng)
		if err != nil {
			return nil, err
		}
		return models.FilterKeys(records, keys), nil
	}

	from, to, err := rng.Bounds(r.loc)
	if err != nil {
		return nil, err
	}
	if to.After(now) {
		to = now
	}
	records, err := r.fetcher.FetchAll(ctx, r.deviceID, from, to, keys)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rng, err)
	}
	return records, nil
}

// historical returns every record of a closed range. Concurrent misses for the
// same device and range share one network request.
func (r *resolver) historical(ctx context.Context, rng models.DateRangeKey) ([]models.LogRecord, error) {
	if records, ok := r.cache.Get(r.deviceID, rng); ok {
		r.log.Debug().Str("range", rng.Key()).Int("records", len(records)).Msg("cache hit")
		return records, nil
	}

	v, err, shared := r.group.Do(cache.Key(r.deviceID, rng), func() (interface{}, error) {
		// another caller may have filled the cache while we waited
		if records, ok := r.cache.Get(r.deviceID, rng); ok {
			return records, nil
		}
		from, to, err := rng.Bounds(r.loc)
		if err != nil {
			return nil, err
		}
		records, err := r.fetcher.FetchAll(ctx, r.deviceID, from, to, nil)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", rng, err)
		}
		r.cache.Put(r.deviceID, rng, records)
		return records, nil
	})
	if err != nil {
		return nil, err
	}

	records := v.([]models.LogRecord)
	r.log.Debug().Str("range", rng.Key()).Int("records", len(records)).Bool("shared", shared).Msg("cache miss")
	return records, nil
}
