package models

// PersistedChart is a chart snapshot without its live data payload.
type PersistedChart struct {
	ID        int        `json:"id"`
	Variables []Variable `json:"variables"`
	ZoomRange *ZoomRange `json:"zoomRange"`
}

// PersistedViewState is the per-device snapshot stored in session storage.
type PersistedViewState struct {
	DateFrom        string                             `json:"dateFrom"`
	DateTo          string                             `json:"dateTo"`
	ActiveCategory  string                             `json:"activeCategory"`
	Charts          []PersistedChart                   `json:"charts"`
	ChartIDCounter  int                                `json:"chartIdCounter"`
	SharedZoomRange *ZoomRange                         `json:"sharedZoomRange"`
	YAxisSettings   map[string]map[string]AxisOverride `json:"yAxisSettings"`
	Timestamp       int64                              `json:"timestamp"` // Unix ms when captured
}

// Range returns the persisted active date range.
func (s PersistedViewState) Range() DateRangeKey {
	return DateRangeKey{From: s.DateFrom, To: s.DateTo}
}
