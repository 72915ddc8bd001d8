// Package vote runs digit-danmaku votes: viewers vote by sending the
// option number, one ballot per account.
package vote

import (
	"encoding/json"
	"errors"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrRunning    = errors.New("a vote is already running")
	ErrNotRunning = errors.New("no vote is running")
	ErrNoOptions  = errors.New("a vote needs at least one option")
)

// Config describes a vote before it starts. AutoEndSeconds is the form
// presets persist; AutoEndAt is the resolved deadline once running.
type Config struct {
	Title          string   `json:"title"`
	Options        []string `json:"options"`
	PresetName     string   `json:"preset_name,omitempty"`
	AutoEndAt      int64    `json:"auto_end_timestamp,omitempty"`
	AutoEndSeconds int      `json:"auto_end_seconds,omitempty"`
}

// Result is a vote with its tally. Voters maps account UIDs so each
// account counts once; it never leaves the process.
type Result struct {
	ID        string             `json:"id"`
	Config    Config             `json:"config"`
	StartTime int64              `json:"start_time"`
	EndTime   int64              `json:"end_time,omitempty"`
	Counts    map[int]int        `json:"counts"`
	Voters    map[int64]struct{} `json:"-"`
}

// Progress is the live view clients poll and the event stream carries.
type Progress struct {
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

// Manager holds at most one current vote.
type Manager struct {
	mu         sync.Mutex
	logger     zerolog.Logger
	presetsDir string
	current    *Result

	onChange func()
}

// NewManager stores presets under presetsDir.
func NewManager(presetsDir string, logger zerolog.Logger) *Manager {
	return &Manager{
		logger:     logger.With().Str("component", "vote").Logger(),
		presetsDir: presetsDir,
	}
}

// SetOnChange registers a hook fired after ballots and state changes,
// outside the lock.
func (m *Manager) SetOnChange(fn func()) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

func (m *Manager) notifyChange() {
	m.mu.Lock()
	fn := m.onChange
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Start begins a vote. A configured AutoEndSeconds resolves to a deadline
// now; a vote already running or an empty option list is refused.
func (m *Manager) Start(cfg Config) error {
	m.mu.Lock()
	if m.current != nil && m.current.EndTime == 0 {
		m.mu.Unlock()
		return ErrRunning
	}
	if len(cfg.Options) == 0 {
		m.mu.Unlock()
		return ErrNoOptions
	}
	if cfg.AutoEndSeconds > 0 {
		cfg.AutoEndAt = time.Now().Unix() + int64(cfg.AutoEndSeconds)
	}
	counts := make(map[int]int, len(cfg.Options))
	for i := range cfg.Options {
		counts[i+1] = 0
	}
	m.current = &Result{
		ID:        uuid.NewString(),
		Config:    cfg,
		StartTime: time.Now().Unix(),
		Counts:    counts,
		Voters:    map[int64]struct{}{},
	}
	title := cfg.Title
	m.mu.Unlock()

	m.logger.Info().Str("title", title).Int("options", len(cfg.Options)).Msg("vote started")
	m.notifyChange()
	return nil
}

// Running reports whether a vote is accepting ballots.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.EndTime == 0
}

// HandleDanmaku counts a ballot when text is a valid option number and the
// account has not voted. Returns whether it counted and the option chosen.
func (m *Manager) HandleDanmaku(uid int64, text string) (bool, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.EndTime != 0 {
		return false, 0
	}
	opt, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || opt < 1 || opt > len(m.current.Config.Options) {
		return false, 0
	}
	if _, voted := m.current.Voters[uid]; voted {
		return false, 0
	}
	m.current.Voters[uid] = struct{}{}
	m.current.Counts[opt]++
	return true, opt
}

// End closes the current vote and returns its final result.
func (m *Manager) End() (*Result, error) {
	m.mu.Lock()
	if m.current == nil || m.current.EndTime != 0 {
		m.mu.Unlock()
		return nil, ErrNotRunning
	}
	m.current.EndTime = time.Now().Unix()
	result := m.snapshotLocked()
	title := m.current.Config.Title
	m.mu.Unlock()

	m.logger.Info().Str("title", title).Int("voters", len(result.Voters)).Msg("vote ended")
	m.notifyChange()
	return result, nil
}

// TickAutoEnd closes the vote when its deadline has passed. Returns the
// result when it just ended, nil otherwise. Driven by the server's ticker.
func (m *Manager) TickAutoEnd() *Result {
	m.mu.Lock()
	due := m.current != nil && m.current.EndTime == 0 &&
		m.current.Config.AutoEndAt > 0 && time.Now().Unix() >= m.current.Config.AutoEndAt
	m.mu.Unlock()
	if !due {
		return nil
	}
	result, err := m.End()
	if err != nil {
		return nil
	}
	return result
}

// Progress returns the live tally.
func (m *Manager) Progress() Progress {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return Progress{}
	}
	p := Progress{
		Running:    m.current.EndTime == 0,
		ID:         m.current.ID,
		Title:      m.current.Config.Title,
		Options:    append([]string(nil), m.current.Config.Options...),
		Counts:     make(map[int]int, len(m.current.Counts)),
		VoterCount: len(m.current.Voters),
		StartTime:  m.current.StartTime,
		EndTime:    m.current.EndTime,
		AutoEndAt:  m.current.Config.AutoEndAt,
	}
	for opt, n := range m.current.Counts {
		p.Counts[opt] = n
		p.TotalVotes += n
	}
	return p
}

// Result returns a copy of the current or last vote, nil when none ran.
func (m *Manager) Result() *Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	return m.snapshotLocked()
}

// ExportResult writes the current or last vote to path as indented JSON.
// Voter UIDs are included here, unlike API responses: the operator asked
// for a file on their own disk.
func (m *Manager) ExportResult(path string) error {
	r := m.Result()
	if r == nil {
		return ErrNotRunning
	}
	voters := make([]int64, 0, len(r.Voters))
	for uid := range r.Voters {
		voters = append(voters, uid)
	}
	sort.Slice(voters, func(i, j int) bool { return voters[i] < voters[j] })

	doc := struct {
		Config    Config      `json:"config"`
		StartTime int64       `json:"start_time"`
		EndTime   int64       `json:"end_time,omitempty"`
		Counts    map[int]int `json:"counts"`
		Voters    []int64     `json:"voters"`
	}{r.Config, r.StartTime, r.EndTime, r.Counts, voters}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	m.logger.Info().Str("path", path).Msg("vote result exported")
	return nil
}

func (m *Manager) snapshotLocked() *Result {
	r := &Result{
		ID:        m.current.ID,
		Config:    m.current.Config,
		StartTime: m.current.StartTime,
		EndTime:   m.current.EndTime,
		Counts:    make(map[int]int, len(m.current.Counts)),
		Voters:    make(map[int64]struct{}, len(m.current.Voters)),
	}
	r.Config.Options = append([]string(nil), m.current.Config.Options...)
	for opt, n := range m.current.Counts {
		r.Counts[opt] = n
	}
	for uid := range m.current.Voters {
		r.Voters[uid] = struct{}{}
	}
	return r
}
