package charts

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iot-monitor/chartengine/internal/models"
)

func reading(key string, sec int64, v float64) models.LogRecord {
	return models.LogRecord{ID: key + time.Unix(sec, 0).String(), Key: key, Value: v, Numeric: true, Timestamp: time.Unix(sec, 0)}
}

func TestBuildSeries(t *testing.T) {
	records := []models.LogRecord{
		reading("temp", 30, 3),
		reading("temp", 10, 1),
		reading("humidity", 20, 50),
		reading("pressure", 15, 1000),
		{ID: "x", Key: "temp", Raw: "ERR", Timestamp: time.Unix(40, 0)},
	}

	s := BuildSeries(records, []string{"temp", "humidity"})

	assert.Equal(t, []float64{10, 20, 30, 40}, s.Timestamps)
	require.Len(t, s.Series, 2)

	temp, hum := s.Series[0], s.Series[1]
	assert.Equal(t, 1.0, *temp[0])
	assert.Nil(t, temp[1], "no temp sample at 20 is a gap")
	assert.Equal(t, 3.0, *temp[2])
	assert.Nil(t, temp[3], "non-numeric reading is a gap")
	assert.Equal(t, 50.0, *hum[1])
	assert.Nil(t, hum[0])
}

func TestBuildSeries_Empty(t *testing.T) {
	s := BuildSeries(nil, []string{"temp"})
	assert.Equal(t, 0, s.Len())
	require.Len(t, s.Series, 1)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `[[],[]]`, string(data))
}

func TestSeriesData_MarshalJSON(t *testing.T) {
	s := BuildSeries([]models.LogRecord{reading("a", 1, 5), reading("b", 2, 6)}, []string{"a", "b"})

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `[[1,2],[5,null],[null,6]]`, string(data))
}

func TestApplyZoom(t *testing.T) {
	s := BuildSeries([]models.LogRecord{
		reading("a", 1000, 1), reading("a", 1500, 2), reading("a", 2000, 3), reading("a", 2500, 4),
	}, []string{"a"})

	z := ApplyZoom(s, &models.ZoomRange{Min: 1000, Max: 2000})
	assert.Equal(t, []float64{1000, 1500, 2000}, z.Timestamps)
	assert.Len(t, z.Series[0], 3)

	assert.Equal(t, s, ApplyZoom(s, nil))
	assert.Equal(t, 0, ApplyZoom(s, &models.ZoomRange{Min: 3000, Max: 4000}).Len())
}
