package charts

import "github.com/iot-monitor/chartengine/internal/models"

// warningBand is the fraction of the alarm band, measured inward from each
// bound, in which a reading is reported as a warning.
const warningBand = 0.1

// EffectiveStatus merges the server verdict with the client-side fallback.
// A server status other than empty or unknown always wins.
func EffectiveStatus(r models.LogRecord, v models.Variable) models.RecordStatus {
	if r.Status.Known() {
		return r.Status
	}
	return ThresholdStatus(r, v)
}

// ThresholdStatus evaluates a reading against the variable's alarm bounds.
// Readings that cannot be evaluated are unknown.
func ThresholdStatus(r models.LogRecord, v models.Variable) models.RecordStatus {
	if !r.Numeric || !v.AlarmEnabled || (v.MinAlarm == nil && v.MaxAlarm == nil) {
		return models.StatusUnknown
	}
	x := r.Value
	if v.MinAlarm != nil && x < *v.MinAlarm {
		return models.StatusCritical
	}
	if v.MaxAlarm != nil && x > *v.MaxAlarm {
		return models.StatusCritical
	}

	if v.MinAlarm != nil && v.MaxAlarm != nil {
		margin := (*v.MaxAlarm - *v.MinAlarm) * warningBand
		if x < *v.MinAlarm+margin || x > *v.MaxAlarm-margin {
			return models.StatusWarning
		}
	}
	return models.StatusNormal
}

// LatestStatus returns the effective status of the newest reading per key.
func LatestStatus(records []models.LogRecord, vars []models.Variable) map[string]models.RecordStatus {
	latest := make(map[string]models.LogRecord, len(vars))
	for _, r := range records {
		if cur, ok := latest[r.Key]; !ok || !r.Timestamp.Before(cur.Timestamp) {
			latest[r.Key] = r
		}
	}
	out := make(map[string]models.RecordStatus, len(vars))
	for _, v := range vars {
		if r, ok := latest[v.Key]; ok {
			out[v.Key] = EffectiveStatus(r, v)
		}
	}
	return out
}
