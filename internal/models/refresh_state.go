package models

import "time"

// RefreshState tracks the smart refresh protocol for one device view.
type RefreshState struct {
	// LastFetchBoundary is the end of the most recently retrieved window.
	LastFetchBoundary time.Time `json:"lastFetchBoundary"`
	// LastKnownUpdate is the freshness token reported by the server.
	LastKnownUpdate string `json:"lastKnownUpdate"`
}

// Initialized reports whether a first load has completed.
func (s RefreshState) Initialized() bool {
	return !s.LastFetchBoundary.IsZero()
}
