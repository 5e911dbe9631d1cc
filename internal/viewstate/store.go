// Package viewstate persists per-device chart view snapshots to session storage.
package viewstate

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/iot-monitor/chartengine/internal/models"
	"github.com/iot-monitor/chartengine/internal/storage"
)

const keyPrefix = "chartView_"

// Key returns the storage key for a device's snapshot.
func Key(deviceID string) string {
	return keyPrefix + deviceID
}

// Store reads and writes view snapshots. Read failures are reported as absent.
type Store struct {
	backend storage.SessionStorage
	now     func() time.Time
	log     zerolog.Logger
}

// New creates a Store over backend. now defaults to time.Now.
func New(backend storage.SessionStorage, now func() time.Time, log zerolog.Logger) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		backend: backend,
		now:     now,
		log:     log.With().Str("component", "viewstate").Logger(),
	}
}

// Save writes the snapshot for deviceID, stamping the capture time.
func (s *Store) Save(deviceID string, state models.PersistedViewState) error {
	state.Timestamp = s.now().UnixMilli()
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := s.backend.Set(Key(deviceID), data); err != nil {
		s.log.Warn().Err(err).Str("device", deviceID).Msg("save view state")
		return err
	}
	return nil
}

// Load returns the snapshot for deviceID. Corrupt snapshots are removed and
// reported absent.
func (s *Store) Load(deviceID string) (models.PersistedViewState, bool) {
	key := Key(deviceID)
	data, err := s.backend.Get(key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn().Err(err).Str("device", deviceID).Msg("read view state")
		}
		return models.PersistedViewState{}, false
	}

	var state models.PersistedViewState
	if err := json.Unmarshal(data, &state); err != nil {
		s.drop(key, err)
		return models.PersistedViewState{}, false
	}
	if !state.Range().IsZero() {
		if err := state.Range().Validate(); err != nil {
			s.drop(key, err)
			return models.PersistedViewState{}, false
		}
	}
	return state, true
}

// Clear removes the snapshot for deviceID.
func (s *Store) Clear(deviceID string) error {
	return s.backend.Remove(Key(deviceID))
}

func (s *Store) drop(key string, cause error) {
	s.log.Warn().Err(cause).Str("key", key).Msg("dropping corrupt view state")
	if err := s.backend.Remove(key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("remove corrupt view state")
	}
}
