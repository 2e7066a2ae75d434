// Package device manages the local device identity used as the
// deterministic conflict tiebreaker. The id is generated once per
// installation, persisted in the local cache, and carries no security
// meaning.
package device

import (
	"encoding/json"
	"time"

	"github.com/habitsync/habitsync/internal/cache"
	"github.com/habitsync/habitsync/internal/logging"
	"github.com/habitsync/habitsync/internal/models"
	"github.com/habitsync/habitsync/internal/uuid"
)

// Identity returns this installation's device id, generating and persisting
// one on first use.
func Identity(store cache.Store) (string, error) {
	id, ok, err := store.Get(cache.KeyDeviceID)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}

	id = uuid.New()
	if err := store.Set(cache.KeyDeviceID, id); err != nil {
		return "", err
	}

	logging.Info("Generated device identity",
		map[string]interface{}{"device_id": id})

	return id, nil
}

// Manager tracks per-device sync bookkeeping alongside the identity.
type Manager struct {
	store cache.Store
	id    string
}

// NewManager loads (or creates) the device identity and returns a manager
// bound to the store.
func NewManager(store cache.Store) (*Manager, error) {
	id, err := Identity(store)
	if err != nil {
		return nil, err
	}
	return &Manager{store: store, id: id}, nil
}

// ID returns the device id.
func (m *Manager) ID() string {
	return m.id
}

// State returns the persisted device state, initializing it when absent.
func (m *Manager) State() (*models.DeviceState, error) {
	raw, ok, err := m.store.Get(cache.KeyDeviceState)
	if err != nil {
		return nil, err
	}
	if ok && raw != "" {
		var state models.DeviceState
		if err := json.Unmarshal([]byte(raw), &state); err == nil && state.DeviceID == m.id {
			return &state, nil
		}
		// Corrupt or foreign state falls through and is rebuilt.
	}

	state := &models.DeviceState{
		DeviceID:  m.id,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := m.save(state); err != nil {
		return nil, err
	}
	return state, nil
}

// MarkSynced records the completion of a successful sync run.
func (m *Manager) MarkSynced(at time.Time) error {
	state, err := m.State()
	if err != nil {
		return err
	}
	state.LastSyncAt = at.UnixMilli()
	return m.save(state)
}

func (m *Manager) save(state *models.DeviceState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return m.store.Set(cache.KeyDeviceState, string(data))
}
