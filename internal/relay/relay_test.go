package relay

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bilibili-xiayun/bililive-queue/internal/events"
	"github.com/bilibili-xiayun/bililive-queue/internal/models"
	"github.com/bilibili-xiayun/bililive-queue/internal/notify"
	"github.com/bilibili-xiayun/bililive-queue/internal/queue"
	"github.com/bilibili-xiayun/bililive-queue/internal/settings"
	"github.com/bilibili-xiayun/bililive-queue/internal/store"
	"github.com/bilibili-xiayun/bililive-queue/internal/vote"
)

type testRig struct {
	relay   *Relay
	queue   *queue.Manager
	votes   *vote.Manager
	archive *store.SQLiteStore
	hub     *events.Hub
}

func newTestRig(t *testing.T, rosterRows ...string) *testRig {
	t.Helper()

	dir := t.TempDir()
	logger := zerolog.Nop()

	values := map[string]any{
		"queue": map[string]any{"cutline_cost": 2, "normal_cost": 1, "enable_auto_backup": false},
		"gift_monitor": map[string]any{
			"guard_rewards": map[string]any{"舰长": 1, "提督": 3, "总督": 10},
		},
	}
	raw, _ := json.Marshal(values)
	settingsPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(settingsPath, raw, 0644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	s, err := settings.Load(settingsPath, logger)
	if err != nil {
		t.Fatalf("settings.Load: %v", err)
	}

	ledger, err := queue.NewLedger(dir, logger)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}

	qm := queue.NewManager(queue.Options{
		Settings: s,
		Ledger:   ledger,
		DataDir:  dir,
		Logger:   logger,
	})

	if len(rosterRows) > 0 {
		rosterPath := filepath.Join(dir, "名单.csv")
		content := ""
		for _, row := range rosterRows {
			content += row + "\n"
		}
		if err := os.WriteFile(rosterPath, []byte(content), 0644); err != nil {
			t.Fatalf("write roster: %v", err)
		}
		qm.SetRosterPath(rosterPath)
		if err := qm.ReloadRoster(false); err != nil {
			t.Fatalf("ReloadRoster: %v", err)
		}
	}

	vm := vote.NewManager(filepath.Join(dir, "presets"), logger)

	archive, err := store.NewSQLiteStore(context.Background(), filepath.Join(dir, "archive.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(archive.Close)

	hub := events.NewHub(logger)

	r := New(Options{
		Queue:    qm,
		Votes:    vm,
		Archive:  archive,
		Hub:      hub,
		Notifier: notify.New(false, logger),
		Settings: s,
		Logger:   logger,
	})

	return &testRig{relay: r, queue: qm, votes: vm, archive: archive, hub: hub}
}

func danmaku(username, body string, uid int64) models.Message {
	return models.Message{
		ID:       "",
		Kind:     models.KindDanmaku,
		RoomID:   1,
		UID:      uid,
		Username: username,
		Body:     body,
		Time:     time.Now(),
	}
}

func TestRelayQueueCommand(t *testing.T) {
	rig := newTestRig(t, "小明（3")
	rig.queue.StartQueue()

	rig.relay.Handle(danmaku("小明", "排队", 1))

	st := rig.queue.Status()
	if st.QueueCount != 1 {
		t.Fatalf("expected 1 queued, got %d", st.QueueCount)
	}

	// Unknown viewers are rejected without effect.
	rig.relay.Handle(danmaku("路人", "排队", 2))
	if rig.queue.Status().QueueCount != 1 {
		t.Error("unlisted viewer should not join")
	}
}

func TestRelayIgnoresChatter(t *testing.T) {
	rig := newTestRig(t, "小明（3")
	rig.queue.StartQueue()

	rig.relay.Handle(danmaku("小明", "主播好棒", 1))
	rig.relay.Handle(danmaku("小明", "今天打排位吗", 1))

	if rig.queue.Status().QueueCount != 0 {
		t.Error("plain chat must not enqueue")
	}
}

func TestRelayKeywordIsSubstringMatch(t *testing.T) {
	rig := newTestRig(t, "小明（3")
	rig.queue.StartQueue()

	rig.relay.Handle(danmaku("小明", "我要排队！", 1))

	if rig.queue.Status().QueueCount != 1 {
		t.Error("keyword inside longer danmaku should enqueue")
	}
}

func TestRelayCutlineAndBoarding(t *testing.T) {
	rig := newTestRig(t, "小明（3", "小红（1")
	rig.queue.StartCutline()
	rig.queue.StartBoarding()

	rig.relay.Handle(danmaku("小明", "插队", 1))
	rig.relay.Handle(danmaku("小红", "上车", 2))

	st := rig.queue.Status()
	if st.CutlineCount != 1 {
		t.Errorf("expected 1 cutline entry, got %d", st.CutlineCount)
	}
	if st.BoardingCount != 1 {
		t.Errorf("expected 1 boarding entry, got %d", st.BoardingCount)
	}
}

func TestRelayVoteConsumesDanmaku(t *testing.T) {
	rig := newTestRig(t, "小明（9", "小红（9")
	rig.queue.StartQueue()
	rig.queue.StartCutline()

	if err := rig.votes.Start(vote.Config{Title: "打什么图", Options: []string{"A", "B"}}); err != nil {
		t.Fatalf("vote.Start: %v", err)
	}

	// Ballots are counted, one per account.
	rig.relay.Handle(danmaku("小明", "1", 1))
	rig.relay.Handle(danmaku("小红", "2", 2))
	rig.relay.Handle(danmaku("小红", "1", 2))

	// Cutline requests are suppressed while the vote runs.
	rig.relay.Handle(danmaku("小明", "插队", 1))

	// Queue requests still work mid-vote.
	rig.relay.Handle(danmaku("小明", "排队", 1))

	progress := rig.votes.Progress()
	if progress.Counts[1] != 1 || progress.Counts[2] != 1 {
		t.Errorf("ballot counts wrong: %v", progress.Counts)
	}

	st := rig.queue.Status()
	if st.CutlineCount != 0 {
		t.Error("cutline request should be suppressed during vote")
	}
	if st.QueueCount != 1 {
		t.Error("queue request should still work during vote")
	}

	// After the vote ends, cutline requests flow again.
	if _, err := rig.votes.End(); err != nil {
		t.Fatalf("vote.End: %v", err)
	}
	rig.relay.Handle(danmaku("小红", "插队", 2))
	if rig.queue.Status().CutlineCount != 1 {
		t.Error("cutline should work after vote ends")
	}
}

func TestRelayGuardReward(t *testing.T) {
	rig := newTestRig(t)

	msg := models.Message{
		Kind:       models.KindGuard,
		RoomID:     1,
		UID:        7,
		Username:   "新舰长",
		GiftName:   "舰长",
		GuardLevel: models.GuardCaptain,
		Num:        2,
		Time:       time.Now(),
	}
	rig.relay.Handle(msg)

	items := rig.queue.RosterItems()
	if len(items) != 1 {
		t.Fatalf("expected reward row in roster, got %d rows", len(items))
	}
	if items[0].Name != "新舰长" || items[0].Count != 2 {
		t.Errorf("reward row mismatch: %+v", items[0])
	}

	purchases, err := rig.archive.ListGuardPurchases(context.Background(), time.Time{}, 10)
	if err != nil {
		t.Fatalf("ListGuardPurchases: %v", err)
	}
	if len(purchases) != 1 {
		t.Fatalf("expected archived purchase, got %d", len(purchases))
	}
	if purchases[0].Reward != 2 || purchases[0].Months != 2 {
		t.Errorf("purchase record mismatch: %+v", purchases[0])
	}
}

func TestRelayArchivesAndPublishes(t *testing.T) {
	rig := newTestRig(t)

	sub := rig.hub.Subscribe(events.TypeMessage)
	defer rig.hub.Unsubscribe(sub)

	rig.relay.Handle(danmaku("小明", "你好", 1))

	select {
	case f := <-sub.C():
		if f.Type != events.TypeMessage {
			t.Errorf("expected message frame, got %q", f.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame published")
	}

	saved, err := rig.archive.ListEvents(context.Background(), store.EventQuery{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(saved) != 1 || saved[0].Body != "你好" {
		t.Errorf("archive mismatch: %+v", saved)
	}
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	rig := newTestRig(t)

	ctx, cancel := context.WithCancel(context.Background())
	messages := make(chan models.Message)

	done := make(chan error, 1)
	go func() {
		done <- rig.relay.Run(ctx, messages)
	}()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
