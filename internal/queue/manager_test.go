package queue

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bilibili-xiayun/bililive-queue/internal/settings"
)

func newTestManager(t *testing.T, settingsJSON string, rosterRows ...string) *Manager {
	t.Helper()
	dir := t.TempDir()

	settingsPath := filepath.Join(dir, "config.json")
	if settingsJSON != "" {
		if err := os.WriteFile(settingsPath, []byte(settingsJSON), 0o644); err != nil {
			t.Fatalf("write settings: %v", err)
		}
	}
	s, err := settings.Load(settingsPath, zerolog.Nop())
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}

	led, err := NewLedger(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	m := NewManager(Options{Settings: s, Ledger: led, DataDir: dir, Logger: zerolog.Nop()})
	if len(rosterRows) > 0 {
		path := filepath.Join(dir, "names.csv")
		if err := os.WriteFile(path, []byte(strings.Join(rosterRows, "\n")+"\n"), 0o644); err != nil {
			t.Fatalf("write roster: %v", err)
		}
		m.SetRosterPath(path)
		if err := m.ReloadRoster(false); err != nil {
			t.Fatalf("load roster: %v", err)
		}
	}
	return m
}

func TestProcessQueueRequest(t *testing.T) {
	m := newTestManager(t, "", "小明", "小红（2")

	if err := m.ProcessQueueRequest("小明"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("before start: err = %v, want ErrNotStarted", err)
	}

	m.StartQueue()
	if err := m.ProcessQueueRequest("小明"); err != nil {
		t.Errorf("first request: err = %v", err)
	}
	if err := m.ProcessQueueRequest("小明"); !errors.Is(err, ErrAlreadyQueued) {
		t.Errorf("duplicate request: err = %v, want ErrAlreadyQueued", err)
	}
	if err := m.ProcessQueueRequest("路人"); !errors.Is(err, ErrNoEntry) {
		t.Errorf("unknown name: err = %v, want ErrNoEntry", err)
	}

	snap := m.Snapshot()
	if len(snap.Queue) != 1 || snap.Queue[0].Name != "小明" {
		t.Fatalf("queue = %+v, want [小明]", snap.Queue)
	}
	if !snap.Queue[0].InQueue {
		t.Error("queued item not marked InQueue")
	}
}

func TestQueueOrderedByRosterIndex(t *testing.T) {
	m := newTestManager(t, "", "丙", "甲", "乙")
	m.StartQueue()

	for _, name := range []string{"乙", "丙", "甲"} {
		if err := m.ProcessQueueRequest(name); err != nil {
			t.Fatalf("request %s: %v", name, err)
		}
	}

	snap := m.Snapshot()
	got := []string{snap.Queue[0].Name, snap.Queue[1].Name, snap.Queue[2].Name}
	want := []string{"丙", "甲", "乙"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("queue order = %v, want %v", got, want)
		}
	}
}

func TestCompleteQueueItemDeductsAndSaves(t *testing.T) {
	m := newTestManager(t, "", "小明（3")
	m.StartQueue()
	if err := m.ProcessQueueRequest("小明"); err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := m.CompleteQueueItem(0); err != nil {
		t.Fatalf("complete: %v", err)
	}

	items := m.RosterItems()
	if items[0].Count != 2 {
		t.Errorf("roster count after complete = %d, want 2", items[0].Count)
	}
	if len(m.Snapshot().Queue) != 0 {
		t.Error("queue not empty after complete")
	}

	// Completion keeps the name on the round's joined set.
	if err := m.ProcessQueueRequest("小明"); !errors.Is(err, ErrAlreadyQueued) {
		t.Errorf("re-request after complete: err = %v, want ErrAlreadyQueued", err)
	}

	// The roster file was written immediately with the new count.
	data, err := os.ReadFile(m.RosterPath())
	if err != nil {
		t.Fatalf("read roster file: %v", err)
	}
	if !strings.Contains(string(data), "小明（2") {
		t.Errorf("roster file = %q, want 小明（2", data)
	}

	if err := m.CompleteQueueItem(5); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("out of range: err = %v, want ErrOutOfRange", err)
	}
}

func TestAbsentAllowsRequeue(t *testing.T) {
	m := newTestManager(t, "", "小明（2")
	m.StartQueue()
	if err := m.ProcessQueueRequest("小明"); err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := m.AbsentQueueItem(0); err != nil {
		t.Fatalf("absent: %v", err)
	}
	if got := m.RosterItems()[0].Count; got != 2 {
		t.Errorf("count after absent = %d, want 2 (no charge)", got)
	}
	if err := m.ProcessQueueRequest("小明"); err != nil {
		t.Errorf("re-request after absent: err = %v", err)
	}
}

func TestCutlineMergesRowsOfSameName(t *testing.T) {
	m := newTestManager(t, "", "小红", "小红")
	m.StartCutline()

	if err := m.ProcessCutlineRequest("小红"); err != nil {
		t.Fatalf("cutline request: %v", err)
	}

	snap := m.Snapshot()
	if len(snap.Cutline) != 1 {
		t.Fatalf("cutline entries = %d, want 1", len(snap.Cutline))
	}
	entry := snap.Cutline[0]
	if !entry.IsCutline || entry.Count != 2 || entry.Index != 2 {
		t.Errorf("cutline entry = %+v, want synthetic count 2 at index 2", entry)
	}

	// The roster rows are only charged on completion.
	for _, it := range m.RosterItems() {
		if it.Count != 1 || it.InQueue {
			t.Errorf("roster row %+v changed before completion", it)
		}
	}
}

func TestCutlineInsufficientCount(t *testing.T) {
	m := newTestManager(t, "", "小红")
	m.StartCutline()

	if err := m.ProcessCutlineRequest("小红"); !errors.Is(err, ErrInsufficientCount) {
		t.Errorf("err = %v, want ErrInsufficientCount", err)
	}
	if err := m.ProcessCutlineRequest("路人"); !errors.Is(err, ErrInsufficientCount) {
		t.Errorf("unknown name: err = %v, want ErrInsufficientCount", err)
	}
}

func TestCompleteCutlineChargesHighestRowsFirst(t *testing.T) {
	m := newTestManager(t, "", "小红", "小红（3")
	m.StartCutline()
	if err := m.ProcessCutlineRequest("小红"); err != nil {
		t.Fatalf("cutline request: %v", err)
	}

	if err := m.CompleteCutlineItem("小红"); err != nil {
		t.Fatalf("complete cutline: %v", err)
	}

	items := m.RosterItems()
	if items[0].Count != 1 {
		t.Errorf("row 1 count = %d, want 1 (untouched)", items[0].Count)
	}
	if items[1].Count != 1 {
		t.Errorf("row 2 count = %d, want 1 (charged 2, highest index first)", items[1].Count)
	}
	if len(m.Snapshot().Cutline) != 0 {
		t.Error("cutline not emptied after complete")
	}

	// A fresh cut for the same name is allowed once the round forgets it.
	m.StartCutline()
	if err := m.ProcessCutlineRequest("小红"); err != nil {
		t.Errorf("re-request after new round: %v", err)
	}
}

func TestInsertCutlineTransfersShortfall(t *testing.T) {
	m := newTestManager(t, "", "小刚", "小刚（3")

	if err := m.InsertCutline(1); err != nil {
		t.Fatalf("insert cutline: %v", err)
	}

	items := m.RosterItems()
	if items[0].Count != 2 || items[1].Count != 2 {
		t.Errorf("counts after transfer = %d,%d, want 2,2", items[0].Count, items[1].Count)
	}

	snap := m.Snapshot()
	if len(snap.Cutline) != 1 || snap.Cutline[0].Index != 1 || snap.Cutline[0].Count != 2 {
		t.Errorf("cutline = %+v, want entry at index 1 count 2", snap.Cutline)
	}

	if err := m.InsertCutline(99); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing index: err = %v, want ErrNotFound", err)
	}
}

func TestInsertCutlineNoDonor(t *testing.T) {
	m := newTestManager(t, "", "独行")

	if err := m.InsertCutline(1); !errors.Is(err, ErrInsufficientCount) {
		t.Errorf("err = %v, want ErrInsufficientCount", err)
	}
}

func TestBoardingLifecycle(t *testing.T) {
	m := newTestManager(t, "", "小舟（2")

	if err := m.ProcessBoardingRequest("小舟", false); !errors.Is(err, ErrNotStarted) {
		t.Errorf("before start: err = %v, want ErrNotStarted", err)
	}
	// Manual adds skip the open check.
	if err := m.ProcessBoardingRequest("小舟", true); err != nil {
		t.Fatalf("manual boarding: %v", err)
	}
	if err := m.ProcessBoardingRequest("小舟", true); !errors.Is(err, ErrAlreadyQueued) {
		t.Errorf("duplicate boarding: err = %v, want ErrAlreadyQueued", err)
	}

	if err := m.CompleteBoardingItem("小舟"); err != nil {
		t.Fatalf("complete boarding: %v", err)
	}
	items := m.RosterItems()
	if items[0].Count != 1 || items[0].InBoarding {
		t.Errorf("after complete: %+v, want count 1 and not boarding", items[0])
	}

	// Completion frees the name for another boarding.
	if err := m.ProcessBoardingRequest("小舟", true); err != nil {
		t.Errorf("re-boarding after complete: %v", err)
	}
	if err := m.DeleteBoardingItem("小舟"); err != nil {
		t.Fatalf("delete boarding: %v", err)
	}
	if got := m.RosterItems()[0].Count; got != 1 {
		t.Errorf("count after delete = %d, want 1 (no charge)", got)
	}
}

func TestClearQueues(t *testing.T) {
	m := newTestManager(t, "", "甲（3", "乙（3")
	m.StartQueue()
	m.StartCutline()
	if err := m.ProcessQueueRequest("甲"); err != nil {
		t.Fatalf("queue request: %v", err)
	}
	if err := m.ProcessCutlineRequest("乙"); err != nil {
		t.Fatalf("cutline request: %v", err)
	}
	if err := m.ProcessBoardingRequest("乙", true); err != nil {
		t.Fatalf("boarding request: %v", err)
	}

	m.ClearQueues()

	snap := m.Snapshot()
	if len(snap.Queue) != 0 || len(snap.Cutline) != 0 || len(snap.Boarding) != 0 {
		t.Errorf("after clear: queue=%d cutline=%d boarding=%d, want all 0",
			len(snap.Queue), len(snap.Cutline), len(snap.Boarding))
	}
	for _, it := range m.RosterItems() {
		if it.InQueue || it.InBoarding {
			t.Errorf("roster row %+v keeps queue marks after clear", it)
		}
		if it.Count != 3 {
			t.Errorf("roster row %+v count changed by clear", it)
		}
	}
	// Cleared names may join again.
	if err := m.ProcessQueueRequest("甲"); err != nil {
		t.Errorf("re-request after clear: %v", err)
	}
}

func TestProcessGuardGift(t *testing.T) {
	cfg := `{"gift_monitor": {"guard_rewards": {"舰长": 1, "提督": 5}}}`
	m := newTestManager(t, cfg, "老观众")

	reward, err := m.ProcessGuardGift("新舰长甲", 3, 2)
	if err != nil {
		t.Fatalf("guard gift: %v", err)
	}
	if reward != 2 {
		t.Errorf("reward = %d, want 2 (1 per month x 2 months)", reward)
	}

	items := m.RosterItems()
	if len(items) != 2 {
		t.Fatalf("roster rows = %d, want 2", len(items))
	}
	added := items[1]
	if added.Name != "新舰长甲" || added.Count != 2 || added.Index != 2 {
		t.Errorf("added row = %+v, want 新舰长甲 count 2 index 2", added)
	}

	// Unconfigured titles award nothing and change nothing.
	reward, err = m.ProcessGuardGift("路人", 1, 1)
	if err != nil {
		t.Fatalf("governor gift: %v", err)
	}
	if reward != 0 {
		t.Errorf("unconfigured reward = %d, want 0", reward)
	}
	if got := len(m.RosterItems()); got != 2 {
		t.Errorf("roster rows after unconfigured gift = %d, want 2", got)
	}

	// The day's new-guard CSV carries the header and the formatted row.
	matches, err := filepath.Glob(filepath.Join(m.dataDir, "*-新舰长.csv"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("guard csv files = %v (err %v), want exactly one", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read guard csv: %v", err)
	}
	if !strings.Contains(string(data), "用户名") || !strings.Contains(string(data), "新舰长甲（2") {
		t.Errorf("guard csv = %q, want header and 新舰长甲（2", data)
	}
}

func TestRandomSelect(t *testing.T) {
	m := newTestManager(t, "", "甲", "乙", "丙")
	m.StartQueue()
	for _, name := range []string{"甲", "乙", "丙"} {
		if err := m.ProcessQueueRequest(name); err != nil {
			t.Fatalf("request %s: %v", name, err)
		}
	}

	_, names, err := m.RandomSelect(2)
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if len(names) != 2 || names[0] == names[1] {
		t.Fatalf("winners = %v, want 2 distinct", names)
	}

	// Two of three are now recent winners; another 2-draw cannot fill.
	if _, _, err := m.RandomSelect(2); !errors.Is(err, ErrNotEnoughCandidates) {
		t.Errorf("short pool: err = %v, want ErrNotEnoughCandidates", err)
	}

	// The remaining name is still drawable one at a time.
	_, names, err = m.RandomSelect(1)
	if err != nil {
		t.Fatalf("single draw: %v", err)
	}
	recorded := false
	for _, w := range m.RecentWinners() {
		if w == names[0] {
			recorded = true
		}
	}
	if !recorded {
		t.Errorf("winner %s not recorded as recent", names[0])
	}
}

func TestRandomSelectExcludesBoarded(t *testing.T) {
	m := newTestManager(t, "", "甲（2", "乙（2")
	m.StartQueue()
	if err := m.ProcessQueueRequest("甲"); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := m.ProcessQueueRequest("乙"); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := m.ProcessBoardingRequest("乙", true); err != nil {
		t.Fatalf("board: %v", err)
	}

	if _, _, err := m.RandomSelect(2); !errors.Is(err, ErrNotEnoughCandidates) {
		t.Errorf("boarded name still drawable: err = %v, want ErrNotEnoughCandidates", err)
	}
	_, names, err := m.RandomSelect(1)
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if names[0] != "甲" {
		t.Errorf("winner = %s, want 甲 (乙 is boarded)", names[0])
	}
}

func TestStateRoundTrip(t *testing.T) {
	m := newTestManager(t, "", "甲（2", "乙（3")
	m.StartQueue()
	m.StartCutline()
	if err := m.ProcessQueueRequest("甲"); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := m.ProcessCutlineRequest("乙"); err != nil {
		t.Fatalf("cutline: %v", err)
	}
	if err := m.SaveState(); err != nil {
		t.Fatalf("save state: %v", err)
	}

	// A new manager over the same data dir restores everything.
	s, err := settings.Load(filepath.Join(m.dataDir, "config.json"), zerolog.Nop())
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	led, err := NewLedger(m.dataDir, zerolog.Nop())
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	restored := NewManager(Options{Settings: s, Ledger: led, DataDir: m.dataDir, Logger: zerolog.Nop()})
	if err := restored.LoadState(); err != nil {
		t.Fatalf("load state: %v", err)
	}

	snap := restored.Snapshot()
	if !snap.QueueStarted || !snap.CutlineStarted {
		t.Error("started flags lost in round trip")
	}
	if len(snap.Queue) != 1 || snap.Queue[0].Name != "甲" {
		t.Fatalf("queue = %+v, want [甲]", snap.Queue)
	}
	if len(snap.Cutline) != 1 || snap.Cutline[0].Name != "乙" || !snap.Cutline[0].IsCutline {
		t.Fatalf("cutline = %+v, want synthetic 乙", snap.Cutline)
	}

	// Queue entries point into the restored roster: completing charges it.
	if err := restored.CompleteQueueItem(0); err != nil {
		t.Fatalf("complete: %v", err)
	}
	for _, it := range restored.RosterItems() {
		if it.Name == "甲" && it.Count != 1 {
			t.Errorf("甲 count after complete = %d, want 1", it.Count)
		}
	}
}

func TestLoadStateToleratesOldFiles(t *testing.T) {
	m := newTestManager(t, "")
	old := `{
  "queue_started": true,
  "boarding_started": false,
  "user_queued": ["甲"],
  "user_boarded": [],
  "queue_list": [{"name": "甲", "count": 2, "index": 1, "is_cutline": false, "in_queue": true, "in_boarding": false}],
  "name_list": [{"name": "甲", "count": 2, "index": 1, "is_cutline": false, "in_queue": true, "in_boarding": false}]
}`
	if err := os.WriteFile(m.statePath(), []byte(old), 0o644); err != nil {
		t.Fatalf("write old state: %v", err)
	}

	if err := m.LoadState(); err != nil {
		t.Fatalf("load old state: %v", err)
	}
	snap := m.Snapshot()
	if !snap.QueueStarted || len(snap.Queue) != 1 {
		t.Errorf("old state restored badly: %+v", snap)
	}
	if len(snap.Cutline) != 0 {
		t.Errorf("cutline from nowhere: %+v", snap.Cutline)
	}
}

func TestReloadRosterPreservesQueues(t *testing.T) {
	m := newTestManager(t, "", "甲", "乙")
	m.StartQueue()
	if err := m.ProcessQueueRequest("乙"); err != nil {
		t.Fatalf("request: %v", err)
	}

	// 乙 moves to row 1, 甲 disappears, 丙 arrives.
	content := "乙（2\n丙\n"
	if err := os.WriteFile(m.RosterPath(), []byte(content), 0o644); err != nil {
		t.Fatalf("rewrite roster: %v", err)
	}
	if err := m.ReloadRoster(true); err != nil {
		t.Fatalf("reload: %v", err)
	}

	snap := m.Snapshot()
	if len(snap.Queue) != 1 || snap.Queue[0].Name != "乙" {
		t.Fatalf("queue after reload = %+v, want [乙]", snap.Queue)
	}
	if snap.Queue[0].Index != 1 || snap.Queue[0].Count != 2 {
		t.Errorf("queue entry = %+v, want re-pointed at new row 1", snap.Queue[0])
	}

	// Completing charges the new row, proving the pointer moved.
	if err := m.CompleteQueueItem(0); err != nil {
		t.Fatalf("complete: %v", err)
	}
	items := m.RosterItems()
	if items[0].Name != "乙" || items[0].Count != 1 {
		t.Errorf("new row after complete = %+v, want 乙 count 1", items[0])
	}
}

func TestStatusCounts(t *testing.T) {
	m := newTestManager(t, "", "甲", "乙（2", "丙")
	m.StartQueue()
	if err := m.ProcessQueueRequest("甲"); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := m.ProcessBoardingRequest("乙", true); err != nil {
		t.Fatalf("board: %v", err)
	}

	st := m.Status()
	if !st.QueueStarted {
		t.Error("QueueStarted = false")
	}
	if st.TotalNames != 3 || st.QueueCount != 1 || st.BoardingCount != 1 || st.AvailableCount != 3 {
		t.Errorf("status = %+v", st)
	}
	if len(st.QueuedUsers) != 1 || st.QueuedUsers[0] != "甲" {
		t.Errorf("queued users = %v, want [甲]", st.QueuedUsers)
	}
}

func TestLedgerLines(t *testing.T) {
	m := newTestManager(t, "", "小明（3")
	m.StartQueue()
	if err := m.ProcessQueueRequest("小明"); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := m.CompleteQueueItem(0); err != nil {
		t.Fatalf("complete: %v", err)
	}

	countLog, err := os.ReadFile(filepath.Join(m.dataDir, countLogFile))
	if err != nil {
		t.Fatalf("read count ledger: %v", err)
	}
	if !strings.Contains(string(countLog), "小明: 3 -> 2 (-1) | 原因: 完成排队（正常排队）") {
		t.Errorf("count ledger = %q", countLog)
	}

	dedLog, err := os.ReadFile(filepath.Join(m.dataDir, deductionLogFile))
	if err != nil {
		t.Fatalf("read deduction ledger: %v", err)
	}
	if !strings.Contains(string(dedLog), "小明 - 扣除 1 次 - 完成排队") {
		t.Errorf("deduction ledger = %q", dedLog)
	}
}
