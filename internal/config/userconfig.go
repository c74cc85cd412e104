package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danmuck/entslink/internal/protocol/schema"
	"github.com/pelletier/go-toml/v2"
)

// LoadUserConfig reads a persisted settings record. A missing file yields
// (nil, nil).
func LoadUserConfig(path string) (*schema.UserConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user config load failed (%s): %w", path, err)
	}
	var uc schema.UserConfig
	if err := toml.Unmarshal(data, &uc); err != nil {
		return nil, fmt.Errorf("user config parse failed (%s): %w", path, err)
	}
	return &uc, nil
}

// SaveUserConfig writes uc as TOML, replacing the file atomically.
func SaveUserConfig(path string, uc schema.UserConfig) error {
	data, err := toml.Marshal(uc)
	if err != nil {
		return fmt.Errorf("user config encode failed: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("user config save failed (%s): %w", path, err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("user config save failed (%s): %w", path, err)
	}
	return os.Rename(tmp, path)
}
