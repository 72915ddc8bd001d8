// Package liveq provides a client for the bililive-queue HTTP API.
package liveq

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Client is a bililive-queue API client. AdminKey is sent on mutating
// calls; reads work without one.
type Client struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// NewClient creates a new client. An empty baseURL falls back to the
// QUEUE_SERVER environment variable, then to localhost.
func NewClient(baseURL, adminKey string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("QUEUE_SERVER")
	}
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if adminKey == "" {
		adminKey = os.Getenv("QUEUE_KEY")
	}
	return &Client{
		BaseURL:    baseURL,
		AdminKey:   adminKey,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// doRequest performs an HTTP request. admin attaches the admin key header.
func (c *Client) doRequest(method, path string, body any, admin bool) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin && c.AdminKey != "" {
		req.Header.Set("X-Queue-Key", c.AdminKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody := new(bytes.Buffer)
	if _, err := respBody.ReadFrom(resp.Body); err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody.Bytes(), &errResp)
		if errResp.Error == "" {
			errResp.Error = resp.Status
		}
		return nil, fmt.Errorf("queue server error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody.Bytes(), nil
}

func (c *Client) get(path string, out any) error {
	body, err := c.doRequest("GET", path, nil, false)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (c *Client) post(path string, in, out any) error {
	body, err := c.doRequest("POST", path, in, true)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// RosterItem is one row of the name list.
type RosterItem struct {
	Name       string `json:"name"`
	Count      int    `json:"count"`
	Index      int    `json:"index"`
	IsCutline  bool   `json:"is_cutline"`
	InQueue    bool   `json:"in_queue"`
	InBoarding bool   `json:"in_boarding"`
}

// QueueSnapshot is the full queue state.
type QueueSnapshot struct {
	QueueStarted    bool         `json:"queue_started"`
	BoardingStarted bool         `json:"boarding_started"`
	CutlineStarted  bool         `json:"cutline_started"`
	Queue           []RosterItem `json:"queue"`
	Cutline         []RosterItem `json:"cutline"`
	Boarding        []RosterItem `json:"boarding"`
	TotalNames      int          `json:"total_names"`
	AvailableCount  int          `json:"available_count"`
	QueuedUsers     []string     `json:"queued_users"`
	RecentWinners   []string     `json:"recent_winners"`
}

// QueueStatus is the light counters view mutations return.
type QueueStatus struct {
	QueueStarted   bool     `json:"queue_started"`
	TotalNames     int      `json:"total_names"`
	QueueCount     int      `json:"queue_count"`
	CutlineCount   int      `json:"cutline_count"`
	BoardingCount  int      `json:"boarding_count"`
	AvailableCount int      `json:"available_count"`
	QueuedUsers    []string `json:"queued_users"`
}

// GetQueue retrieves the full queue snapshot.
func (c *Client) GetQueue() (*QueueSnapshot, error) {
	var snap QueueSnapshot
	if err := c.get("/api/queue", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ToggleList opens or closes one of the three lists: "queue", "boarding",
// or "cutline".
func (c *Client) ToggleList(list string, start bool) (*QueueStatus, error) {
	action := "stop"
	if start {
		action = "start"
	}
	var st QueueStatus
	if err := c.post("/api/"+list+"/"+action, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// AddQueueItem manually appends a roster name to the queue.
func (c *Client) AddQueueItem(name string) (*QueueStatus, error) {
	var st QueueStatus
	if err := c.post("/api/queue/items", map[string]string{"name": name}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// queueItemAction hits /api/queue/items/{pos}/{action}.
func (c *Client) queueItemAction(pos int, action string) (*QueueStatus, error) {
	var st QueueStatus
	path := "/api/queue/items/" + strconv.Itoa(pos) + "/" + action
	if err := c.post(path, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// CompleteQueueItem finishes the queue entry at pos, charging its plays.
func (c *Client) CompleteQueueItem(pos int) (*QueueStatus, error) {
	return c.queueItemAction(pos, "complete")
}

// AbsentQueueItem removes the entry at pos without charging.
func (c *Client) AbsentQueueItem(pos int) (*QueueStatus, error) {
	return c.queueItemAction(pos, "absent")
}

// CancelQueueItem removes the entry at pos without charging.
func (c *Client) CancelQueueItem(pos int) (*QueueStatus, error) {
	return c.queueItemAction(pos, "cancel")
}

// InsertCutline adds a cut for the roster row with the given index.
func (c *Client) InsertCutline(index int) (*QueueStatus, error) {
	var st QueueStatus
	if err := c.post("/api/cutline/items", map[string]int{"index": index}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// CompleteCutlineItem finishes a name's cut.
func (c *Client) CompleteCutlineItem(name string) (*QueueStatus, error) {
	var st QueueStatus
	path := "/api/cutline/items/" + url.PathEscape(name) + "/complete"
	if err := c.post(path, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// DeleteCutlineItem removes a name's cut without charging.
func (c *Client) DeleteCutlineItem(name string) (*QueueStatus, error) {
	var st QueueStatus
	body, err := c.doRequest("DELETE", "/api/cutline/items/"+url.PathEscape(name), nil, true)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// CompleteBoardingItem finishes a name's boarding entry.
func (c *Client) CompleteBoardingItem(name string) (*QueueStatus, error) {
	var st QueueStatus
	path := "/api/boarding/items/" + url.PathEscape(name) + "/complete"
	if err := c.post(path, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// DeleteBoardingItem removes a name's boarding entry without charging.
func (c *Client) DeleteBoardingItem(name string) (*QueueStatus, error) {
	var st QueueStatus
	body, err := c.doRequest("DELETE", "/api/boarding/items/"+url.PathEscape(name), nil, true)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ClearQueues empties all three lists and resets the round.
func (c *Client) ClearQueues() (*QueueStatus, error) {
	var st QueueStatus
	if err := c.post("/api/queue/clear", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SaveState flushes the queue state file to disk.
func (c *Client) SaveState() error {
	return c.post("/api/queue/save-state", nil, nil)
}

// RosterResponse is the roster file view.
type RosterResponse struct {
	Path      string       `json:"path"`
	Total     int          `json:"total"`
	Available int          `json:"available"`
	Items     []RosterItem `json:"items"`
}

// GetRoster retrieves the loaded roster.
func (c *Client) GetRoster() (*RosterResponse, error) {
	var resp RosterResponse
	if err := c.get("/api/roster", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReloadRoster re-reads the roster file, optionally preserving queue
// membership.
func (c *Client) ReloadRoster(preserve bool) (*QueueStatus, error) {
	var st QueueStatus
	if err := c.post("/api/roster/reload", map[string]bool{"preserve": preserve}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SaveRoster writes the in-memory counts back to the roster file.
func (c *Client) SaveRoster() error {
	return c.post("/api/roster/save", nil, nil)
}

// SetRosterPath switches the roster file and loads it.
func (c *Client) SetRosterPath(path string) (*QueueStatus, error) {
	var st QueueStatus
	body, err := c.doRequest("PUT", "/api/roster/path", map[string]string{"path": path}, true)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// LotteryResult is a completed draw.
type LotteryResult struct {
	Positions     []int    `json:"positions"`
	Winners       []string `json:"winners"`
	RecentWinners []string `json:"recent_winners"`
}

// DrawLottery picks count random winners from the queue. Zero asks for
// the server default of two.
func (c *Client) DrawLottery(count int) (*LotteryResult, error) {
	var resp LotteryResult
	if err := c.post("/api/lottery/draw", map[string]int{"count": count}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LotteryDraw is one archived draw.
type LotteryDraw struct {
	ID        string    `json:"id"`
	Winners   []string  `json:"winners"`
	PoolSize  int       `json:"pool_size"`
	CreatedAt time.Time `json:"created_at"`
}

// LotteryHistory lists past draws, newest first.
func (c *Client) LotteryHistory(limit int) ([]LotteryDraw, error) {
	var resp struct {
		Draws []LotteryDraw `json:"draws"`
	}
	if err := c.get("/api/lottery/history?limit="+strconv.Itoa(limit), &resp); err != nil {
		return nil, err
	}
	return resp.Draws, nil
}

// VoteProgress is the live tally.
type VoteProgress struct {
	Running    bool        `json:"running"`
	ID         string      `json:"id,omitempty"`
	Title      string      `json:"title,omitempty"`
	Options    []string    `json:"options,omitempty"`
	Counts     map[int]int `json:"counts,omitempty"`
	TotalVotes int         `json:"total_votes"`
	VoterCount int         `json:"voter_count"`
	StartTime  int64       `json:"start_time,omitempty"`
	EndTime    int64       `json:"end_time,omitempty"`
	AutoEndAt  int64       `json:"auto_end_at,omitempty"`
}

// StartVoteRequest begins a vote, inline or from a preset.
type StartVoteRequest struct {
	Title          string   `json:"title,omitempty"`
	Options        []string `json:"options,omitempty"`
	AutoEndSeconds int      `json:"auto_end_seconds,omitempty"`
	Preset         string   `json:"preset,omitempty"`
}

// StartVote begins a vote.
func (c *Client) StartVote(req StartVoteRequest) (*VoteProgress, error) {
	var resp VoteProgress
	if err := c.post("/api/vote", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EndVote closes the running vote and returns the final tally.
func (c *Client) EndVote() (*VoteProgress, error) {
	if _, err := c.doRequest("POST", "/api/vote/end", nil, true); err != nil {
		return nil, err
	}
	// The end response nests config; the flat progress view is friendlier.
	return c.VoteStatus()
}

// VoteStatus reports the live tally, or Running=false between votes.
func (c *Client) VoteStatus() (*VoteProgress, error) {
	var resp VoteProgress
	if err := c.get("/api/vote", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CastBallot injects a test ballot.
func (c *Client) CastBallot(uid int64, text string) (bool, int, error) {
	var resp struct {
		Counted bool `json:"counted"`
		Option  int  `json:"option"`
	}
	req := map[string]any{"uid": uid, "text": text}
	if err := c.post("/api/vote/ballot", req, &resp); err != nil {
		return false, 0, err
	}
	return resp.Counted, resp.Option, nil
}

// ExportVote writes the current or last vote result to a JSON file on the
// server and returns the path written.
func (c *Client) ExportVote(path string) (string, error) {
	var resp struct {
		Path string `json:"path"`
	}
	req := map[string]string{"path": path}
	if err := c.post("/api/vote/export", req, &resp); err != nil {
		return "", err
	}
	return resp.Path, nil
}

// VotePresets lists stored preset names.
func (c *Client) VotePresets() ([]string, error) {
	var resp struct {
		Presets []string `json:"presets"`
	}
	if err := c.get("/api/vote/presets", &resp); err != nil {
		return nil, err
	}
	return resp.Presets, nil
}

// SaveVotePreset stores a vote config under a name.
func (c *Client) SaveVotePreset(name, title string, options []string, autoEndSeconds int, overwrite bool) error {
	req := map[string]any{
		"name":             name,
		"title":            title,
		"options":          options,
		"auto_end_seconds": autoEndSeconds,
		"overwrite":        overwrite,
	}
	return c.post("/api/vote/presets", req, nil)
}

// DeleteVotePreset removes a stored preset.
func (c *Client) DeleteVotePreset(name string) error {
	_, err := c.doRequest("DELETE", "/api/vote/presets/"+url.PathEscape(name), nil, true)
	return err
}

// MonitorStatus is the room connection state.
type MonitorStatus struct {
	Status        string `json:"status"`
	Room          string `json:"room,omitempty"`
	RealRoomID    int64  `json:"real_room_id,omitempty"`
	Attempts      int    `json:"attempts"`
	Popularity    int    `json:"popularity"`
	Authenticated bool   `json:"authenticated"`
	TestMode      bool   `json:"test_mode"`
	Live          bool   `json:"live"`
}

// StartMonitor connects to a room: a numeric ID, a URL, or "test".
func (c *Client) StartMonitor(room string) (*MonitorStatus, error) {
	var resp MonitorStatus
	if err := c.post("/api/monitor/start", map[string]string{"room": room}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StopMonitor disconnects from the room.
func (c *Client) StopMonitor() (*MonitorStatus, error) {
	var resp MonitorStatus
	if err := c.post("/api/monitor/stop", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetMonitor reports the connection state.
func (c *Client) GetMonitor() (*MonitorStatus, error) {
	var resp MonitorStatus
	if err := c.get("/api/monitor", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LoginQR is a fresh login session.
type LoginQR struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"`
}

// UserInfo is the logged-in Bilibili account.
type UserInfo struct {
	Uname string `json:"uname"`
	UID   int64  `json:"uid"`
	Face  string `json:"face,omitempty"`
	Level int    `json:"level,omitempty"`
}

// LoginState is one poll of a login session.
type LoginState struct {
	State string    `json:"state"` // pending, scanned, confirmed, expired
	User  *UserInfo `json:"user,omitempty"`
}

// CreateLoginQR starts a QR login session.
func (c *Client) CreateLoginQR() (*LoginQR, error) {
	var resp LoginQR
	if err := c.post("/api/login/qr", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PollLoginQR checks a login session's state.
func (c *Client) PollLoginQR(sessionID string) (*LoginState, error) {
	var resp LoginState
	if err := c.get("/api/login/qr/"+url.PathEscape(sessionID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LoginSession reports the stored credential.
func (c *Client) LoginSession() (bool, *UserInfo, error) {
	var resp struct {
		LoggedIn bool      `json:"logged_in"`
		User     *UserInfo `json:"user,omitempty"`
	}
	if err := c.get("/api/login/session", &resp); err != nil {
		return false, nil, err
	}
	return resp.LoggedIn, resp.User, nil
}

// Logout clears the stored credential.
func (c *Client) Logout() error {
	return c.post("/api/login/logout", nil, nil)
}

// Event is one archived live-room event.
type Event struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	RoomID     int64     `json:"room_id"`
	UID        int64     `json:"uid,omitempty"`
	Username   string    `json:"username"`
	Body       string    `json:"body,omitempty"`
	GiftName   string    `json:"gift_name,omitempty"`
	Num        int       `json:"num,omitempty"`
	GuardLevel int       `json:"guard_level,omitempty"`
	Price      float64   `json:"price,omitempty"`
	Test       bool      `json:"test,omitempty"`
	Time       time.Time `json:"time"`
}

// EventQuery narrows an event history listing.
type EventQuery struct {
	Kind     string
	Room     int64
	User     string
	Contains string
	Limit    int
	Before   string
}

// HistoryEvents pages through archived events, newest first. The returned
// cursor is non-empty while more pages remain.
func (c *Client) HistoryEvents(q EventQuery) ([]Event, string, error) {
	params := url.Values{}
	if q.Kind != "" {
		params.Set("kind", q.Kind)
	}
	if q.Room > 0 {
		params.Set("room", strconv.FormatInt(q.Room, 10))
	}
	if q.User != "" {
		params.Set("user", q.User)
	}
	if q.Contains != "" {
		params.Set("q", q.Contains)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Before != "" {
		params.Set("before", q.Before)
	}

	var resp struct {
		Events []Event `json:"events"`
		Next   string  `json:"next"`
	}
	if err := c.get("/api/history/events?"+params.Encode(), &resp); err != nil {
		return nil, "", err
	}
	return resp.Events, resp.Next, nil
}

// Deduction is one play charge.
type Deduction struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Amount    int       `json:"amount"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryDeductions lists play deductions, optionally for one user.
func (c *Client) HistoryDeductions(user string, limit int) ([]Deduction, error) {
	params := url.Values{}
	if user != "" {
		params.Set("user", user)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Deductions []Deduction `json:"deductions"`
	}
	if err := c.get("/api/history/deductions?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Deductions, nil
}

// GuardPurchase is one archived guard purchase.
type GuardPurchase struct {
	ID         string    `json:"id"`
	RoomID     int64     `json:"room_id"`
	Username   string    `json:"username"`
	GuardLevel int       `json:"guard_level"`
	Months     int       `json:"months"`
	Reward     int       `json:"reward"`
	CreatedAt  time.Time `json:"created_at"`
}

// HistoryGuards lists guard purchases. since accepts RFC 3339 or a
// duration like "72h"; empty means all.
func (c *Client) HistoryGuards(since string, limit int) ([]GuardPurchase, error) {
	params := url.Values{}
	if since != "" {
		params.Set("since", since)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Purchases []GuardPurchase `json:"purchases"`
	}
	if err := c.get("/api/history/guards?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Purchases, nil
}

// Stats summarizes the session.
type Stats struct {
	TotalEvents  int64            `json:"total_events"`
	EventsByKind map[string]int64 `json:"events_by_kind"`
	LastActivity string           `json:"last_activity"`
	Queue        QueueStatus      `json:"queue"`
	Monitor      MonitorStatus    `json:"monitor"`
	VoteRunning  bool             `json:"vote_running"`
	Uptime       string           `json:"uptime"`
}

// GetStats retrieves archive totals and live counters.
func (c *Client) GetStats() (*Stats, error) {
	var resp Stats
	if err := c.get("/api/stats", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestMessage is a fabricated event for test mode.
type TestMessage struct {
	Kind       string  `json:"kind,omitempty"`
	UID        int64   `json:"uid,omitempty"`
	Username   string  `json:"username"`
	Body       string  `json:"body,omitempty"`
	GiftName   string  `json:"gift_name,omitempty"`
	Num        int     `json:"num,omitempty"`
	GuardLevel int     `json:"guard_level,omitempty"`
	Price      float64 `json:"price,omitempty"`
}

// InjectTestMessage feeds a fabricated event into the monitor. The server
// refuses unless the monitor is in test mode.
func (c *Client) InjectTestMessage(msg TestMessage) error {
	return c.post("/api/test/message", msg, nil)
}

// HealthResponse is the server health report.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Monitor   string                 `json:"monitor"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health. A degraded server answers 503 but the
// report is still decoded and returned.
func (c *Client) Health() (*HealthResponse, error) {
	req, err := http.NewRequest("GET", c.BaseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	httpResp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var resp HealthResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return &resp, nil
}
