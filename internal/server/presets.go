package server

import (
	"encoding/json"

	"github.com/artemis/migrationctl/internal/config"
	"github.com/artemis/migrationctl/internal/model"
)

// materializePreset builds a MigrationConfig from a named preset's stored
// overrides, with the caller-supplied overrides taking precedence over the
// preset's own values on a per-key basis.
func materializePreset(preset config.PresetConfig, overrides map[string]interface{}) (model.MigrationConfig, error) {
	merged := make(map[string]interface{}, len(preset.Overrides)+len(overrides))
	for k, v := range preset.Overrides {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}

	var cfg model.MigrationConfig
	raw, err := json.Marshal(merged)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Name == "" {
		cfg.Name = preset.Description
	}
	return cfg, nil
}
