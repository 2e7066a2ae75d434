// Package cache provides the device-local key-value cache that is the
// durable offline source of truth for all synchronized collections.
package cache

// Store is the local cache boundary. Implementations must make Set durable
// before returning: a failed Set is the one fatal error class in the sync
// core, because there is no fallback beneath local-first.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error

	// Keys returns all keys with the given prefix.
	Keys(prefix string) ([]string, error)

	// Close releases the store's resources.
	Close() error
}

// Canonical cache keys used by the sync core.
const (
	KeyDeviceID        = "habitsync:device_id"
	KeyDeviceState     = "habitsync:device_state"
	KeyOpQueue         = "habitsync:op_queue"
	KeyActivitiesByDay = "habitsync:activities_by_date"
)
