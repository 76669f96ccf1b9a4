// Package config's LiveConfig is the hot-reload mechanism SPEC_FULL.md's
// domain stack calls for: the orchestrator and lifecycle loops re-read it at
// the start of every iteration, so an operator toggling pause_new_openings
// (spec.md §6) takes effect at the start of the next iteration, never
// mid-iteration. Venue adapters are built once at startup and do not read
// it. drain_existing_positions is copied into the orchestrator's
// per-iteration config, but no loop acts on it.
package config

import (
	"sync"
	"time"
)

// ConfigObserver is implemented by components that must react immediately to
// a config change rather than waiting for their next read. internal/app.Runner
// is the only registered observer, and it only logs the change; the
// orchestrator and lifecycle loops pick changes up on their next Get().
type ConfigObserver interface {
	OnConfigUpdate(cfg *Config)
}

// LiveConfig guards the running Config behind a sync.RWMutex so the
// orchestrator's hedge-ratio/venue-limit reads never race an operator's
// Gist-sourced settings update (config/settings.go).
type LiveConfig struct {
	mu        sync.RWMutex
	config    *Config
	observers []ConfigObserver
	obsMu     sync.RWMutex

	// Track when config was last updated
	lastUpdated time.Time
}

// NewLiveConfig creates a new LiveConfig with the given initial config.
func NewLiveConfig(initial *Config) *LiveConfig {
	if initial == nil {
		initial = Defaults()
	}
	return &LiveConfig{
		config:      initial.Clone(),
		observers:   make([]ConfigObserver, 0),
		lastUpdated: time.Now(),
	}
}

// Get returns a copy of the current config.
// This is safe to call from multiple goroutines.
func (lc *LiveConfig) Get() *Config {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.config.Clone()
}

// Update atomically updates the config after validation.
// Returns an error if validation fails.
// Notifies all observers of the change.
func (lc *LiveConfig) Update(newConfig *Config) error {
	if newConfig == nil {
		return nil
	}

	// Validate the new config
	result := newConfig.Validate()
	if !result.Valid {
		return &ConfigValidationError{Errors: result.Errors}
	}

	// Clone to ensure we own the data
	cloned := newConfig.Clone()

	// Update the config
	lc.mu.Lock()
	lc.config = cloned
	lc.lastUpdated = time.Now()
	lc.mu.Unlock()

	// Notify observers (outside of lock to avoid deadlocks)
	lc.notifyObservers(cloned)

	return nil
}

// AddObserver registers an observer to be notified of config changes.
func (lc *LiveConfig) AddObserver(obs ConfigObserver) {
	if obs == nil {
		return
	}
	lc.obsMu.Lock()
	defer lc.obsMu.Unlock()
	lc.observers = append(lc.observers, obs)
}

// notifyObservers notifies all registered observers of a config change.
func (lc *LiveConfig) notifyObservers(cfg *Config) {
	lc.obsMu.RLock()
	observers := make([]ConfigObserver, len(lc.observers))
	copy(observers, lc.observers)
	lc.obsMu.RUnlock()

	for _, obs := range observers {
		// Clone for each observer to prevent mutations
		obs.OnConfigUpdate(cfg.Clone())
	}
}

// LastUpdated returns when the config was last updated.
func (lc *LiveConfig) LastUpdated() time.Time {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.lastUpdated
}

// ConfigValidationError is returned when config validation fails.
type ConfigValidationError struct {
	Errors []ValidationError
}

func (e *ConfigValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "config validation failed"
	}
	return "config validation failed: " + e.Errors[0].Field + ": " + e.Errors[0].Message
}
