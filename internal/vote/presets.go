package vote

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	ErrPresetExists   = errors.New("preset already exists")
	ErrPresetNotFound = errors.New("preset not found")
)

// presetPath maps a preset name to its file. Path separators are flattened
// so names cannot escape the presets directory.
func (m *Manager) presetPath(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	return filepath.Join(m.presetsDir, name)
}

// SavePreset stores a vote config for reuse. A running deadline is
// converted back to a relative duration; absolute timestamps are never
// persisted.
func (m *Manager) SavePreset(name string, cfg Config, overwrite bool) error {
	if cfg.AutoEndAt > 0 {
		remaining := cfg.AutoEndAt - time.Now().Unix()
		if remaining > 0 {
			cfg.AutoEndSeconds = int(remaining)
		} else {
			cfg.AutoEndSeconds = 0
		}
		cfg.AutoEndAt = 0
	}
	cfg.PresetName = name

	path := m.presetPath(name)
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return ErrPresetExists
		}
	}
	if err := os.MkdirAll(m.presetsDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	m.logger.Info().Str("preset", name).Msg("preset saved")
	return nil
}

// LoadPreset reads a stored vote config.
func (m *Manager) LoadPreset(name string) (Config, error) {
	data, err := os.ReadFile(m.presetPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, ErrPresetNotFound
		}
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse preset %s: %w", name, err)
	}
	return cfg, nil
}

// ListPresets returns the stored preset names, sorted.
func (m *Manager) ListPresets() ([]string, error) {
	entries, err := os.ReadDir(m.presetsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// DeletePreset removes a stored preset.
func (m *Manager) DeletePreset(name string) error {
	err := os.Remove(m.presetPath(name))
	if os.IsNotExist(err) {
		return ErrPresetNotFound
	}
	return err
}
