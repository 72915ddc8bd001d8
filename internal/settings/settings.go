// Package settings manages the operator-editable settings file
// (config.json). Values are read with dot paths and fall back to built-in
// defaults, so a partial or missing file is always usable. The file is
// hot-reloaded while the server runs.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Defaults returns the built-in settings tree. Loaded files are deep-merged
// over this, so new keys pick up defaults without touching existing files.
func Defaults() map[string]any {
	return map[string]any{
		"danmaku": map[string]any{
			"reconnect_interval":     5,
			"max_reconnect_attempts": 10,
			"message_buffer_size":    1000,
			"debug_mode":             false,
			"auto_connect_room":      "",
		},
		"queue": map[string]any{
			"auto_save_interval": 30,
			"cutline_cost":       2,
			"normal_cost":        1,
			"enable_auto_backup": true,
			"name_list_file":     "",
		},
	}
}

// Settings holds the merged settings tree. All methods are safe for
// concurrent use.
type Settings struct {
	mu     sync.RWMutex
	path   string
	values map[string]any
	logger zerolog.Logger

	onReload []func()
}

// Load reads the settings file at path, merging it over the defaults. A
// missing file is not an error; the defaults are written out so operators
// have something to edit.
func Load(path string, logger zerolog.Logger) (*Settings, error) {
	s := &Settings{
		path:   path,
		values: Defaults(),
		logger: logger.With().Str("component", "settings").Logger(),
	}

	if err := s.reload(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if err := s.Save(); err != nil {
			s.logger.Warn().Err(err).Msg("could not write default settings file")
		}
	}
	return s, nil
}

// Path returns the settings file location.
func (s *Settings) Path() string { return s.path }

// reload re-reads the file and swaps the merged tree in.
func (s *Settings) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var loaded map[string]any
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}

	merged := Defaults()
	deepMerge(merged, loaded)

	s.mu.Lock()
	s.values = merged
	s.mu.Unlock()
	return nil
}

// Reload re-reads the settings file and fires the reload callbacks.
func (s *Settings) Reload() error {
	if err := s.reload(); err != nil {
		return err
	}
	s.mu.RLock()
	callbacks := make([]func(), len(s.onReload))
	copy(callbacks, s.onReload)
	s.mu.RUnlock()
	for _, fn := range callbacks {
		fn()
	}
	return nil
}

// OnReload registers fn to run after every successful reload.
func (s *Settings) OnReload(fn func()) {
	s.mu.Lock()
	s.onReload = append(s.onReload, fn)
	s.mu.Unlock()
}

// Save writes the current tree atomically (temp file + rename).
func (s *Settings) Save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.values, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Get returns the value at a dot path ("queue.cutline_cost"), or def when
// the path is absent.
func (s *Settings) Get(path string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cur any = s.values
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return def
		}
		cur, ok = m[key]
		if !ok {
			return def
		}
	}
	return cur
}

// Set writes the value at a dot path, creating intermediate maps, and
// saves the file.
func (s *Settings) Set(path string, value any) error {
	s.mu.Lock()
	cur := s.values
	keys := strings.Split(path, ".")
	for _, key := range keys[:len(keys)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[key] = next
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = value
	s.mu.Unlock()

	return s.Save()
}

// GetInt reads an integer value, tolerating the float64 that JSON decoding
// produces.
func (s *Settings) GetInt(path string, def int) int {
	switch v := s.Get(path, nil).(type) {
	case int:
		return v
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

// GetBool reads a boolean value.
func (s *Settings) GetBool(path string, def bool) bool {
	if v, ok := s.Get(path, nil).(bool); ok {
		return v
	}
	return def
}

// GetString reads a string value.
func (s *Settings) GetString(path string, def string) string {
	if v, ok := s.Get(path, nil).(string); ok {
		return v
	}
	return def
}

// Tree returns a deep copy of the whole settings tree.
func (s *Settings) Tree() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopy(s.values)
}

// Typed accessors for the paths the rest of the server reads.

func (s *Settings) ReconnectInterval() time.Duration {
	return time.Duration(s.GetInt("danmaku.reconnect_interval", 5)) * time.Second
}

func (s *Settings) MaxReconnectAttempts() int {
	return s.GetInt("danmaku.max_reconnect_attempts", 10)
}

func (s *Settings) MessageBufferSize() int {
	return s.GetInt("danmaku.message_buffer_size", 1000)
}

func (s *Settings) DebugMode() bool {
	return s.GetBool("danmaku.debug_mode", false)
}

// AutoConnectRoom is the room to monitor at startup, empty for none.
func (s *Settings) AutoConnectRoom() string {
	return s.GetString("danmaku.auto_connect_room", "")
}

func (s *Settings) AutoSaveInterval() time.Duration {
	return time.Duration(s.GetInt("queue.auto_save_interval", 30)) * time.Second
}

func (s *Settings) CutlineCost() int  { return s.GetInt("queue.cutline_cost", 2) }
func (s *Settings) NormalCost() int   { return s.GetInt("queue.normal_cost", 1) }
func (s *Settings) AutoBackup() bool  { return s.GetBool("queue.enable_auto_backup", true) }
func (s *Settings) RosterPath() string {
	return s.GetString("queue.name_list_file", "")
}

// GuardRewards returns the queue plays granted per guard title
// (gift_monitor.guard_rewards). Titles without an entry earn nothing.
func (s *Settings) GuardRewards() map[string]int {
	out := map[string]int{}
	raw, ok := s.Get("gift_monitor.guard_rewards", nil).(map[string]any)
	if !ok {
		return out
	}
	for name, v := range raw {
		switch n := v.(type) {
		case int:
			out[name] = n
		case float64:
			out[name] = int(n)
		}
	}
	return out
}

func (s *Settings) LogGiftEvents() bool {
	return s.GetBool("gift_monitor.log_gift_events", true)
}

func (s *Settings) AutoSaveAfterAdd() bool {
	return s.GetBool("gift_monitor.auto_save_after_add", true)
}

func deepMerge(dst, src map[string]any) {
	for key, sv := range src {
		if sm, ok := sv.(map[string]any); ok {
			if dm, ok := dst[key].(map[string]any); ok {
				deepMerge(dm, sm)
				continue
			}
		}
		dst[key] = sv
	}
}

func deepCopy(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for key, v := range src {
		if m, ok := v.(map[string]any); ok {
			out[key] = deepCopy(m)
			continue
		}
		out[key] = v
	}
	return out
}
