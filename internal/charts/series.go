package charts

import (
	"encoding/json"
	"sort"

	"github.com/iot-monitor/chartengine/internal/models"
)

// SeriesData is the aligned input of the drawing primitive: a shared
// timestamp axis (unix seconds) and one value column per variable.
// A nil value is a gap and must not be interpolated.
type SeriesData struct {
	Timestamps []float64
	Series     [][]*float64
}

// MarshalJSON encodes the data as [timestamps, series...] with null gaps.
func (s SeriesData) MarshalJSON() ([]byte, error) {
	out := make([]any, 0, len(s.Series)+1)
	ts := s.Timestamps
	if ts == nil {
		ts = []float64{}
	}
	out = append(out, ts)
	for _, col := range s.Series {
		if col == nil {
			col = []*float64{}
		}
		out = append(out, col)
	}
	return json.Marshal(out)
}

// Len returns the number of aligned samples.
func (s SeriesData) Len() int {
	return len(s.Timestamps)
}

func unixSeconds(r models.LogRecord) float64 {
	return float64(r.Timestamp.UnixMilli()) / 1000
}

// BuildSeries aligns records onto the union of their timestamps, one column
// per key in keys order. Non-numeric readings are gaps. When a key has several
// readings at one instant the last one wins.
func BuildSeries(records []models.LogRecord, keys []string) SeriesData {
	col := make(map[string]int, len(keys))
	for i, k := range keys {
		col[k] = i
	}

	seen := make(map[float64]struct{})
	var stamps []float64
	for _, r := range records {
		if _, ok := col[r.Key]; !ok {
			continue
		}
		ts := unixSeconds(r)
		if _, dup := seen[ts]; !dup {
			seen[ts] = struct{}{}
			stamps = append(stamps, ts)
		}
	}
	sort.Float64s(stamps)

	index := make(map[float64]int, len(stamps))
	for i, ts := range stamps {
		index[ts] = i
	}

	series := make([][]*float64, len(keys))
	for i := range series {
		series[i] = make([]*float64, len(stamps))
	}
	for _, r := range records {
		c, ok := col[r.Key]
		if !ok || !r.Numeric {
			continue
		}
		v := r.Value
		series[c][index[unixSeconds(r)]] = &v
	}

	return SeriesData{Timestamps: stamps, Series: series}
}

// ApplyZoom clips s to the samples inside z. A nil or empty window returns s unchanged.
func ApplyZoom(s SeriesData, z *models.ZoomRange) SeriesData {
	if z == nil || !z.Valid() {
		return s
	}
	lo := sort.SearchFloat64s(s.Timestamps, z.Min)
	hi := sort.Search(len(s.Timestamps), func(i int) bool { return s.Timestamps[i] > z.Max })

	out := SeriesData{
		Timestamps: s.Timestamps[lo:hi],
		Series:     make([][]*float64, len(s.Series)),
	}
	for i, col := range s.Series {
		out.Series[i] = col[lo:hi]
	}
	return out
}
