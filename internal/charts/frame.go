package charts

import "github.com/iot-monitor/chartengine/internal/models"

// Frame is everything the drawing primitive needs for one chart.
type Frame struct {
	ChartID int                            `json:"chartId"`
	Labels  []string                       `json:"labels"`
	Colors  []string                       `json:"colors"`
	Units   []string                       `json:"units"`
	Data    SeriesData                     `json:"data"`
	Axes    map[string]AxisScale           `json:"axes"`
	Status  map[string]models.RecordStatus `json:"status"`
	Zoom    *models.ZoomRange              `json:"zoom"`
	Loading bool                           `json:"loading"`
	Error   string                         `json:"error,omitempty"`

	// Placeholder frames carry chart metadata only; no series were built.
	Placeholder bool `json:"placeholder,omitempty"`
}

// BuildFrame renders a chart snapshot into a Frame. Axis scales are fitted to
// the zoomed window.
func BuildFrame(ch ChartSpec) Frame {
	zoom := ch.ZoomRange()
	data := ApplyZoom(BuildSeries(ch.Data, ch.Keys()), zoom)

	f := Frame{
		ChartID: ch.ID,
		Labels:  make([]string, len(ch.Variables)),
		Colors:  make([]string, len(ch.Variables)),
		Units:   make([]string, len(ch.Variables)),
		Data:    data,
		Axes:    make(map[string]AxisScale, len(ch.Variables)),
		Status:  LatestStatus(ch.Data, ch.Variables),
		Zoom:    zoom,
		Loading: ch.Loading,
	}
	for i, v := range ch.Variables {
		f.Labels[i] = v.Label
		if f.Labels[i] == "" {
			f.Labels[i] = v.Key
		}
		f.Colors[i] = v.Color
		f.Units[i] = v.Unit
		if scale, ok := ResolveAxis(data.Series[i], v, ch.Override(v.Key)); ok {
			f.Axes[v.Key] = scale
		}
	}
	if ch.LoadErr != nil {
		f.Error = ch.LoadErr.Error()
	}
	return f
}

// PlaceholderFrame describes a chart whose container has not been shown yet.
// Series and axes are not computed.
func PlaceholderFrame(ch ChartSpec) Frame {
	f := Frame{
		ChartID:     ch.ID,
		Labels:      make([]string, len(ch.Variables)),
		Colors:      make([]string, len(ch.Variables)),
		Units:       make([]string, len(ch.Variables)),
		Loading:     ch.Loading,
		Placeholder: true,
	}
	for i, v := range ch.Variables {
		f.Labels[i] = v.Label
		if f.Labels[i] == "" {
			f.Labels[i] = v.Key
		}
		f.Colors[i] = v.Color
		f.Units[i] = v.Unit
	}
	return f
}
