package vote

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), zerolog.Nop())
}

func TestStartRejectsBadConfigs(t *testing.T) {
	m := newTestManager(t)

	if err := m.Start(Config{Title: "空选项"}); !errors.Is(err, ErrNoOptions) {
		t.Errorf("empty options: err = %v, want ErrNoOptions", err)
	}

	if err := m.Start(Config{Title: "今晚玩什么", Options: []string{"A", "B"}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Start(Config{Title: "再来一个", Options: []string{"C"}}); !errors.Is(err, ErrRunning) {
		t.Errorf("second start: err = %v, want ErrRunning", err)
	}

	if _, err := m.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	// A finished vote no longer blocks a new one.
	if err := m.Start(Config{Title: "再来一个", Options: []string{"C"}}); err != nil {
		t.Errorf("start after end: %v", err)
	}
}

func TestBallotCounting(t *testing.T) {
	m := newTestManager(t)
	if err := m.Start(Config{Title: "选歌", Options: []string{"甲曲", "乙曲", "丙曲"}}); err != nil {
		t.Fatalf("start: %v", err)
	}

	tests := []struct {
		uid     int64
		text    string
		counted bool
		opt     int
	}{
		{100, "2", true, 2},
		{100, "1", false, 0}, // one ballot per account
		{101, " 3 ", true, 3},
		{102, "4", false, 0}, // out of range
		{103, "0", false, 0},
		{104, "二", false, 0}, // digits only
		{105, "2啊", false, 0},
		{106, "1", true, 1},
	}
	for _, tt := range tests {
		counted, opt := m.HandleDanmaku(tt.uid, tt.text)
		if counted != tt.counted || opt != tt.opt {
			t.Errorf("HandleDanmaku(%d, %q) = (%v, %d), want (%v, %d)",
				tt.uid, tt.text, counted, opt, tt.counted, tt.opt)
		}
	}

	p := m.Progress()
	if !p.Running {
		t.Error("Progress().Running = false during vote")
	}
	if p.TotalVotes != 3 || p.VoterCount != 3 {
		t.Errorf("totals = %d votes / %d voters, want 3/3", p.TotalVotes, p.VoterCount)
	}
	if p.Counts[1] != 1 || p.Counts[2] != 1 || p.Counts[3] != 1 {
		t.Errorf("counts = %v", p.Counts)
	}

	if _, err := m.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	if counted, _ := m.HandleDanmaku(200, "1"); counted {
		t.Error("ballot counted after end")
	}
}

func TestEndWithoutVote(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.End(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("err = %v, want ErrNotRunning", err)
	}
}

func TestExportResult(t *testing.T) {
	m := newTestManager(t)

	path := filepath.Join(t.TempDir(), "result.json")
	if err := m.ExportResult(path); !errors.Is(err, ErrNotRunning) {
		t.Errorf("export before any vote: err = %v, want ErrNotRunning", err)
	}

	if err := m.Start(Config{Title: "选歌", Options: []string{"甲曲", "乙曲"}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.HandleDanmaku(100, "1")
	m.HandleDanmaku(101, "2")
	m.HandleDanmaku(102, "2")
	if _, err := m.End(); err != nil {
		t.Fatalf("end: %v", err)
	}

	if err := m.ExportResult(path); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}

	var doc struct {
		Config    Config      `json:"config"`
		StartTime int64       `json:"start_time"`
		EndTime   int64       `json:"end_time"`
		Counts    map[int]int `json:"counts"`
		Voters    []int64     `json:"voters"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parse export: %v", err)
	}
	if doc.Config.Title != "选歌" || doc.EndTime == 0 {
		t.Errorf("exported doc = %+v", doc)
	}
	if doc.Counts[1] != 1 || doc.Counts[2] != 2 {
		t.Errorf("counts = %v", doc.Counts)
	}
	if len(doc.Voters) != 3 || doc.Voters[0] != 100 {
		t.Errorf("voters = %v, want sorted uids", doc.Voters)
	}
}

func TestAutoEnd(t *testing.T) {
	m := newTestManager(t)
	if err := m.Start(Config{Title: "限时", Options: []string{"A"}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Force the deadline into the past rather than sleeping.
	m.mu.Lock()
	m.current.Config.AutoEndAt = time.Now().Unix() - 1
	m.mu.Unlock()

	result := m.TickAutoEnd()
	if result == nil {
		t.Fatal("TickAutoEnd() = nil, want ended result")
	}
	if result.EndTime == 0 {
		t.Error("result has no end time")
	}
	if m.Running() {
		t.Error("vote still running after auto end")
	}
	// A second tick is a no-op.
	if again := m.TickAutoEnd(); again != nil {
		t.Error("TickAutoEnd() fired twice")
	}
}

func TestAutoEndSecondsResolvesAtStart(t *testing.T) {
	m := newTestManager(t)
	if err := m.Start(Config{Title: "限时", Options: []string{"A"}, AutoEndSeconds: 300}); err != nil {
		t.Fatalf("start: %v", err)
	}
	p := m.Progress()
	if p.AutoEndAt < time.Now().Unix()+290 {
		t.Errorf("AutoEndAt = %d, want about 300s out", p.AutoEndAt)
	}
}

func TestPresets(t *testing.T) {
	m := newTestManager(t)
	cfg := Config{Title: "保留节目", Options: []string{"唱歌", "跳舞"}, AutoEndSeconds: 120}

	if err := m.SavePreset("每周投票", cfg, false); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := m.SavePreset("每周投票", cfg, false); !errors.Is(err, ErrPresetExists) {
		t.Errorf("duplicate save: err = %v, want ErrPresetExists", err)
	}
	if err := m.SavePreset("每周投票", cfg, true); err != nil {
		t.Errorf("overwrite save: %v", err)
	}

	names, err := m.ListPresets()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 1 || names[0] != "每周投票" {
		t.Errorf("presets = %v, want [每周投票]", names)
	}

	loaded, err := m.LoadPreset("每周投票")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Title != "保留节目" || len(loaded.Options) != 2 || loaded.AutoEndSeconds != 120 {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.PresetName != "每周投票" {
		t.Errorf("PresetName = %q, want 每周投票", loaded.PresetName)
	}

	if err := m.DeletePreset("每周投票"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.LoadPreset("每周投票"); !errors.Is(err, ErrPresetNotFound) {
		t.Errorf("load deleted: err = %v, want ErrPresetNotFound", err)
	}
}

func TestPresetNeverPersistsDeadline(t *testing.T) {
	m := newTestManager(t)
	cfg := Config{
		Title:     "进行中",
		Options:   []string{"A"},
		AutoEndAt: time.Now().Unix() + 60,
	}
	if err := m.SavePreset("快照", cfg, false); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := m.LoadPreset("快照")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.AutoEndAt != 0 {
		t.Errorf("AutoEndAt persisted as %d, want 0", loaded.AutoEndAt)
	}
	if loaded.AutoEndSeconds <= 0 || loaded.AutoEndSeconds > 60 {
		t.Errorf("AutoEndSeconds = %d, want remaining time", loaded.AutoEndSeconds)
	}
}

func TestPresetNameSanitized(t *testing.T) {
	m := newTestManager(t)
	if err := m.SavePreset("../逃逸/名字", Config{Options: []string{"A"}}, false); err != nil {
		t.Fatalf("save: %v", err)
	}
	names, err := m.ListPresets()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("presets = %v, want one flattened name", names)
	}
	if _, err := m.LoadPreset("../逃逸/名字"); err != nil {
		t.Errorf("load with original name: %v", err)
	}
}
