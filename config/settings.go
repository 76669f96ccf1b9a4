// Package config's SettingsManager layers an operator's Gist-persisted hedge
// ratios and pause/drain flags on top of env/defaults, so a deploy never has
// to restart the process to pick up a new setting — it only has to write a
// new SettingsSnapshot to the configured gist, which LoadSettings merges in
// ahead of the next LiveConfig.Update.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// SettingsFileName is the name of the settings file in the Gist.
	SettingsFileName = "hedgecore_settings.json"
)

// SettingsSnapshot represents the settings stored in a Gist.
type SettingsSnapshot struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Config    *Config   `json:"config"`
}

// GistStorage is the subset of gist.Storage SettingsManager needs, kept as
// its own interface so tests can fake the Gist without a real HTTP client.
type GistStorage interface {
	IsEnabled() bool
	LoadJSON(ctx context.Context, filename string, dest any) error
	SaveJSON(ctx context.Context, filename string, data any) error
	GetGistID() string
}

// SettingsManager resolves the config precedence the runner boots with:
// Gist settings override env vars, which override Defaults().
type SettingsManager struct {
	logger       *zap.Logger
	gist         GistStorage
	settingsGist string // must be non-empty for IsEnabled; does not select the gist read
}

// NewSettingsManager creates a new SettingsManager.
func NewSettingsManager(logger *zap.Logger, gist GistStorage, settingsGistID string) *SettingsManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsManager{
		logger:       logger,
		gist:         gist,
		settingsGist: settingsGistID,
	}
}

// IsEnabled returns true if settings persistence is available.
func (sm *SettingsManager) IsEnabled() bool {
	return sm.gist != nil && sm.gist.IsEnabled() && sm.settingsGist != ""
}

// LoadSettings loads settings from Gist and merges with env config.
// Priority: Gist > Environment Variables > Defaults
func (sm *SettingsManager) LoadSettings(ctx context.Context, envConfig *Config) (*Config, error) {
	// Start with defaults
	baseConfig := Defaults()

	// Merge env config on top of defaults (env vars override defaults)
	if envConfig != nil {
		baseConfig = mergeConfigs(baseConfig, envConfig)
	}

	// If Gist is not enabled, return env-merged config
	if !sm.IsEnabled() {
		sm.logger.Info("settings gist not configured, using env/defaults")
		return baseConfig, nil
	}

	// Try to load from Gist
	var snapshot SettingsSnapshot
	err := sm.loadFromGist(ctx, &snapshot)
	if err != nil {
		sm.logger.Warn("failed to load settings from gist, using env/defaults",
			zap.Error(err),
		)
		return baseConfig, nil
	}

	// Merge Gist settings on top of env config
	if snapshot.Config != nil {
		baseConfig = mergeConfigs(baseConfig, snapshot.Config)
		sm.logger.Info("loaded settings from gist",
			zap.Time("updated_at", snapshot.UpdatedAt),
			zap.Int("version", snapshot.Version),
		)
	}

	return baseConfig, nil
}

// loadFromGist loads settings from the configured Gist.
func (sm *SettingsManager) loadFromGist(ctx context.Context, dest *SettingsSnapshot) error {
	// LoadJSON reads from the gist the storage client was built with
	// (config.GistConfig.GistID, the settings-snapshot gist); settingsGist
	// is not passed here.
	return sm.gist.LoadJSON(ctx, SettingsFileName, dest)
}

// mergeConfigs merges overlay config onto base config.
// Every JSON-serialized field of overlay is applied, zero values included;
// fields left unset in overlay are not kept from base. Only the json:"-"
// secrets below fall back to base when overlay leaves them empty.
func mergeConfigs(base, overlay *Config) *Config {
	if base == nil {
		base = Defaults()
	}
	if overlay == nil {
		return base.Clone()
	}

	// Use JSON marshal/unmarshal to merge
	// json.Unmarshal only overwrites fields present in the JSON
	result := base.Clone()

	// Marshal overlay to JSON (Config's fields carry no omitempty, so zero
	// values are written too)
	overlayJSON, err := json.Marshal(overlay)
	if err != nil {
		return result
	}

	// Unmarshal onto result (overwrites every serialized field)
	_ = json.Unmarshal(overlayJSON, result)

	// Preserve sensitive fields that aren't in JSON (prefer overlay if set, else base)
	result.Discord.BotToken = overlay.Discord.BotToken
	if result.Discord.BotToken == "" {
		result.Discord.BotToken = base.Discord.BotToken
	}
	result.Telegram.BotToken = overlay.Telegram.BotToken
	if result.Telegram.BotToken == "" {
		result.Telegram.BotToken = base.Telegram.BotToken
	}

	// For Gist config, prefer overlay values if set
	result.Gist.Token = overlay.Gist.Token
	if result.Gist.Token == "" {
		result.Gist.Token = base.Gist.Token
	}
	result.Gist.GistID = overlay.Gist.GistID
	if result.Gist.GistID == "" {
		result.Gist.GistID = base.Gist.GistID
	}

	return result
}
