package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/bilibili-xiayun/bililive-queue/internal/bilibili"
	"github.com/bilibili-xiayun/bililive-queue/internal/events"
	"github.com/bilibili-xiayun/bililive-queue/internal/handlers"
	"github.com/bilibili-xiayun/bililive-queue/internal/notify"
	"github.com/bilibili-xiayun/bililive-queue/internal/queue"
	"github.com/bilibili-xiayun/bililive-queue/internal/settings"
	"github.com/bilibili-xiayun/bililive-queue/internal/store"
	"github.com/bilibili-xiayun/bililive-queue/internal/vote"
)

const testAdminKey = "open-sesame"

type apiRig struct {
	srv     *httptest.Server
	queue   *queue.Manager
	monitor *bilibili.Monitor
}

// newAPIRig stands up the full router against temp-dir state: a two-name
// roster, a SQLite archive, and the admin key "open-sesame".
func newAPIRig(t *testing.T) *apiRig {
	t.Helper()

	dir := t.TempDir()
	logger := zerolog.Nop()

	values := map[string]any{
		"queue": map[string]any{"cutline_cost": 2, "normal_cost": 1, "enable_auto_backup": false},
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

	rosterPath := filepath.Join(dir, "名单.csv")
	if err := os.WriteFile(rosterPath, []byte("小明（3\n小红（2\n"), 0644); err != nil {
		t.Fatalf("write roster: %v", err)
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
	qm.SetRosterPath(rosterPath)
	if err := qm.ReloadRoster(false); err != nil {
		t.Fatalf("ReloadRoster: %v", err)
	}

	votes := vote.NewManager(filepath.Join(dir, "presets"), logger)
	client := bilibili.NewClient(logger)
	monitor := bilibili.NewMonitor(client, s, logger)
	t.Cleanup(func() { _ = monitor.Stop() })
	creds := bilibili.NewCredentialStore(filepath.Join(dir, "credential.json"), "")

	archive, err := store.NewSQLiteStore(context.Background(), filepath.Join(dir, "archive.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(archive.Close)

	hub := events.NewHub(logger)

	h := handlers.NewHandler(handlers.Options{
		Settings: s,
		Queue:    qm,
		Votes:    votes,
		Monitor:  monitor,
		API:      client,
		Creds:    creds,
		Archive:  archive,
		Hub:      hub,
		Notifier: notify.New(false, logger),
		Logger:   logger,
	})

	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	router := NewRouter(Options{
		Logger:       logger,
		Handler:      h,
		Hub:          hub,
		AdminKeyHash: string(hash),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &apiRig{srv: srv, queue: qm, monitor: monitor}
}

// request sends a JSON request. An empty key omits the admin header.
func (rig *apiRig) request(t *testing.T, method, path string, body any, key string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, rig.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("X-Queue-Key", key)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return res
}

func (rig *apiRig) admin(t *testing.T, method, path string, body any) *http.Response {
	return rig.request(t, method, path, body, testAdminKey)
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()
	var m map[string]any
	if err := json.NewDecoder(res.Body).Decode(&m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return m
}

func TestRootAndHealth(t *testing.T) {
	rig := newAPIRig(t)

	res := rig.request(t, http.MethodGet, "/", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("GET /: status %d", res.StatusCode)
	}
	if got := decodeBody(t, res)["name"]; got != "bililive-queue" {
		t.Errorf("name = %v", got)
	}

	res = rig.request(t, http.MethodGet, "/health", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("GET /health: status %d", res.StatusCode)
	}
	body := decodeBody(t, res)
	if body["status"] != "healthy" {
		t.Errorf("health status = %v", body["status"])
	}
}

func TestAdminKeyRequired(t *testing.T) {
	rig := newAPIRig(t)

	res := rig.request(t, http.MethodPost, "/api/queue/start", nil, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Errorf("no key: status %d, want 401", res.StatusCode)
	}
	res.Body.Close()

	res = rig.request(t, http.MethodPost, "/api/queue/start", nil, "wrong-key")
	if res.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong key: status %d, want 401", res.StatusCode)
	}
	res.Body.Close()

	res = rig.admin(t, http.MethodPost, "/api/queue/start", nil)
	if res.StatusCode != http.StatusOK {
		t.Errorf("correct key: status %d, want 200", res.StatusCode)
	}
	res.Body.Close()

	// Reads stay open
	res = rig.request(t, http.MethodGet, "/api/queue", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Errorf("GET /api/queue: status %d, want 200", res.StatusCode)
	}
	res.Body.Close()
}

func TestQueueLifecycle(t *testing.T) {
	rig := newAPIRig(t)

	res := rig.admin(t, http.MethodPost, "/api/queue/start", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("queue/start: status %d", res.StatusCode)
	}
	res.Body.Close()

	res = rig.admin(t, http.MethodPost, "/api/queue/items", map[string]string{"name": "小明"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("queue/items: status %d", res.StatusCode)
	}
	res.Body.Close()

	res = rig.request(t, http.MethodGet, "/api/queue", nil, "")
	snap := decodeBody(t, res)
	if snap["queue_started"] != true {
		t.Error("queue_started should be true")
	}
	items, _ := snap["queue"].([]any)
	if len(items) != 1 {
		t.Fatalf("queue length %d, want 1", len(items))
	}

	res = rig.admin(t, http.MethodPost, "/api/queue/items/0/complete", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: status %d", res.StatusCode)
	}
	res.Body.Close()

	// Completion charged one play
	res = rig.request(t, http.MethodGet, "/api/roster", nil, "")
	roster := decodeBody(t, res)
	for _, it := range roster["items"].([]any) {
		row := it.(map[string]any)
		if row["name"] == "小明" && row["count"].(float64) != 2 {
			t.Errorf("小明 count = %v, want 2", row["count"])
		}
	}
}

func TestQueuePositionErrors(t *testing.T) {
	rig := newAPIRig(t)

	res := rig.admin(t, http.MethodPost, "/api/queue/items/5/complete", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("out of range: status %d, want 404", res.StatusCode)
	}
	res.Body.Close()

	res = rig.admin(t, http.MethodPost, "/api/queue/items/abc/complete", nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("bad position: status %d, want 400", res.StatusCode)
	}
	res.Body.Close()

	// Unknown roster name cannot be added
	res = rig.admin(t, http.MethodPost, "/api/queue/items", map[string]string{"name": "路人"})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("unknown name: status %d, want 422", res.StatusCode)
	}
	res.Body.Close()
}

func TestLotteryShortPool(t *testing.T) {
	rig := newAPIRig(t)

	res := rig.admin(t, http.MethodPost, "/api/lottery/draw", map[string]int{"count": 2})
	if res.StatusCode != http.StatusConflict {
		t.Errorf("empty queue draw: status %d, want 409", res.StatusCode)
	}
	res.Body.Close()
}

func TestVoteLifecycle(t *testing.T) {
	rig := newAPIRig(t)

	res := rig.admin(t, http.MethodPost, "/api/vote", map[string]any{
		"title":   "下一首歌",
		"options": []string{"甲", "乙"},
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("vote start: status %d", res.StatusCode)
	}
	res.Body.Close()

	// Second start conflicts
	res = rig.admin(t, http.MethodPost, "/api/vote", map[string]any{
		"options": []string{"丙"},
	})
	if res.StatusCode != http.StatusConflict {
		t.Errorf("concurrent vote: status %d, want 409", res.StatusCode)
	}
	res.Body.Close()

	res = rig.admin(t, http.MethodPost, "/api/vote/ballot", map[string]any{"uid": 1, "text": "1"})
	ballot := decodeBody(t, res)
	if ballot["counted"] != true {
		t.Errorf("ballot not counted: %v", ballot)
	}

	res = rig.request(t, http.MethodGet, "/api/vote", nil, "")
	progress := decodeBody(t, res)
	if progress["running"] != true || progress["total_votes"].(float64) != 1 {
		t.Errorf("progress = %v", progress)
	}

	res = rig.admin(t, http.MethodPost, "/api/vote/end", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("vote end: status %d", res.StatusCode)
	}
	res.Body.Close()

	res = rig.request(t, http.MethodGet, "/api/vote", nil, "")
	progress = decodeBody(t, res)
	if progress["running"] != false {
		t.Error("vote should have ended")
	}

	res = rig.admin(t, http.MethodPost, "/api/vote/end", nil)
	if res.StatusCode != http.StatusConflict {
		t.Errorf("double end: status %d, want 409", res.StatusCode)
	}
	res.Body.Close()
}

func TestTestModeGate(t *testing.T) {
	rig := newAPIRig(t)

	msg := map[string]any{"username": "测试员", "body": "排队"}
	res := rig.admin(t, http.MethodPost, "/api/test/message", msg)
	if res.StatusCode != http.StatusConflict {
		t.Errorf("inject while idle: status %d, want 409", res.StatusCode)
	}
	res.Body.Close()

	res = rig.admin(t, http.MethodPost, "/api/monitor/start", map[string]string{"room": "test"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("monitor/start test: status %d", res.StatusCode)
	}
	status := decodeBody(t, res)
	if status["test_mode"] != true {
		t.Errorf("monitor status = %v", status)
	}

	res = rig.admin(t, http.MethodPost, "/api/test/message", msg)
	if res.StatusCode != http.StatusAccepted {
		t.Errorf("inject in test mode: status %d, want 202", res.StatusCode)
	}
	res.Body.Close()
}

func TestLoginSessionEndpoints(t *testing.T) {
	rig := newAPIRig(t)

	res := rig.request(t, http.MethodGet, "/api/login/qr/not-a-session", nil, "")
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session: status %d, want 404", res.StatusCode)
	}
	res.Body.Close()

	res = rig.request(t, http.MethodGet, "/api/login/session", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login/session: status %d", res.StatusCode)
	}
	if body := decodeBody(t, res); body["logged_in"] != false {
		t.Errorf("logged_in = %v, want false", body["logged_in"])
	}
}

func TestHistoryEndpoints(t *testing.T) {
	rig := newAPIRig(t)

	res := rig.request(t, http.MethodGet, "/api/history/events", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history/events: status %d", res.StatusCode)
	}
	body := decodeBody(t, res)
	if events, ok := body["events"].([]any); !ok || len(events) != 0 {
		t.Errorf("events = %v, want empty list", body["events"])
	}

	res = rig.request(t, http.MethodGet, "/api/history/guards?since=banana", nil, "")
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("bad since: status %d, want 400", res.StatusCode)
	}
	res.Body.Close()

	res = rig.request(t, http.MethodGet, "/api/history/guards?since=72h", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Errorf("duration since: status %d, want 200", res.StatusCode)
	}
	res.Body.Close()
}
