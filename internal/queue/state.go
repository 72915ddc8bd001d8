package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bilibili-xiayun/bililive-queue/internal/models"
	"github.com/bilibili-xiayun/bililive-queue/internal/roster"
)

const stateFile = "queue_state.json"

type persistedItem struct {
	Name       string `json:"name"`
	Count      int    `json:"count"`
	Index      int    `json:"index"`
	IsCutline  bool   `json:"is_cutline"`
	InQueue    bool   `json:"in_queue"`
	InBoarding bool   `json:"in_boarding"`
}

// persistedState matches the historical queue_state.json layout. The
// cutline fields are newer and omitted keys load as empty, so old state
// files keep working.
type persistedState struct {
	QueueStarted    bool            `json:"queue_started"`
	BoardingStarted bool            `json:"boarding_started"`
	CutlineStarted  bool            `json:"cutline_started,omitempty"`
	UserQueued      []string        `json:"user_queued"`
	UserBoarded     []string        `json:"user_boarded"`
	UserCutline     []string        `json:"user_cutline,omitempty"`
	Queue           []persistedItem `json:"queue_list"`
	Cutline         []persistedItem `json:"cutline_list,omitempty"`
	Roster          []persistedItem `json:"name_list"`
}

func fromItem(it *models.RosterItem) persistedItem {
	return persistedItem{
		Name:       it.Name,
		Count:      it.Count,
		Index:      it.Index,
		IsCutline:  it.IsCutline,
		InQueue:    it.InQueue,
		InBoarding: it.InBoarding,
	}
}

func (p persistedItem) toItem() *models.RosterItem {
	return &models.RosterItem{
		Name:       p.Name,
		Count:      p.Count,
		Index:      p.Index,
		IsCutline:  p.IsCutline,
		InQueue:    p.InQueue,
		InBoarding: p.InBoarding,
	}
}

func (m *Manager) statePath() string {
	return filepath.Join(m.dataDir, stateFile)
}

// SaveState writes the full queue state to disk.
func (m *Manager) SaveState() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeStateLocked()
}

// saveStateLocked persists after a mutation; failures are logged rather
// than surfaced, the mutation itself already happened.
func (m *Manager) saveStateLocked() {
	if err := m.writeStateLocked(); err != nil {
		m.logger.Error().Err(err).Msg("state save failed")
	}
}

func (m *Manager) writeStateLocked() error {
	st := persistedState{
		QueueStarted:    m.queueStarted,
		BoardingStarted: m.boardingStarted,
		CutlineStarted:  m.cutlineStarted,
		UserQueued:      setToSlice(m.userQueued),
		UserBoarded:     setToSlice(m.userBoarded),
		UserCutline:     setToSlice(m.userCutline),
	}
	for _, it := range m.queue {
		st.Queue = append(st.Queue, fromItem(it))
	}
	for _, it := range m.cutline {
		st.Cutline = append(st.Cutline, fromItem(it))
	}
	for _, it := range m.roster {
		st.Roster = append(st.Roster, fromItem(it))
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.dataDir, 0o755); err != nil {
		return err
	}
	tmp := m.statePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.statePath())
}

// LoadState restores the previous session. A missing state file is a
// fresh start, not an error. Queue entries are re-pointed into the roster
// by Index and name so the reference identity survives the round trip.
func (m *Manager) LoadState() error {
	data, err := os.ReadFile(m.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parse state file: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.queueStarted = st.QueueStarted
	m.boardingStarted = st.BoardingStarted
	m.cutlineStarted = st.CutlineStarted
	m.userQueued = sliceToSet(st.UserQueued)
	m.userBoarded = sliceToSet(st.UserBoarded)
	m.userCutline = sliceToSet(st.UserCutline)

	if len(st.Roster) > 0 {
		m.roster = nil
		for _, p := range st.Roster {
			m.roster = append(m.roster, p.toItem())
		}
	}

	m.queue = nil
	for _, p := range st.Queue {
		if !p.IsCutline {
			if target := m.findByIndexLocked(p.Index); target != nil && target.Name == p.Name {
				target.InQueue = true
				m.queue = append(m.queue, target)
				continue
			}
		}
		m.queue = append(m.queue, p.toItem())
	}
	sortByIndex(m.queue)

	m.cutline = nil
	for _, p := range st.Cutline {
		m.cutline = append(m.cutline, p.toItem())
	}
	sortByIndex(m.cutline)

	m.logger.Info().
		Int("roster", len(m.roster)).
		Int("queue", len(m.queue)).
		Int("cutline", len(m.cutline)).
		Msg("state restored")
	return nil
}

// SetRosterPath points the manager at a roster file without loading it.
func (m *Manager) SetRosterPath(path string) {
	m.mu.Lock()
	m.rosterPath = path
	m.mu.Unlock()
}

// RosterPath returns the configured roster file, empty when none.
func (m *Manager) RosterPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rosterPath
}

// RosterLen returns the number of roster rows currently loaded.
func (m *Manager) RosterLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.roster)
}

// ReloadRoster re-reads the roster file. With preserve set, current queue
// entries and boarding marks are re-applied to the fresh rows by name;
// otherwise all queues reset.
func (m *Manager) ReloadRoster(preserve bool) error {
	m.mu.Lock()
	path := m.rosterPath
	m.mu.Unlock()
	if path == "" {
		return ErrNoRosterPath
	}
	items, err := roster.Load(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if preserve {
		m.remapQueuesLocked(items)
	} else {
		m.roster = items
		m.queue = nil
		m.cutline = nil
		m.userQueued = map[string]struct{}{}
		m.userBoarded = map[string]struct{}{}
		m.userCutline = map[string]struct{}{}
	}
	m.saveStateLocked()
	count := len(m.roster)
	m.mu.Unlock()

	m.logger.Info().Str("path", path).Int("names", count).Bool("preserve", preserve).Msg("roster reloaded")
	m.notifyChange()
	return nil
}

// remapQueuesLocked re-points queue entries into the freshly loaded roster.
// Entries whose name vanished from the file drop out of the queue. The
// cut-in queue holds synthetic items and is untouched.
func (m *Manager) remapQueuesLocked(items []*models.RosterItem) {
	old := m.queue
	m.roster = items
	m.queue = nil
	for _, entry := range old {
		if entry.IsCutline {
			m.queue = append(m.queue, entry)
			continue
		}
		var found *models.RosterItem
		for _, it := range items {
			if it.Name == entry.Name && !it.InQueue {
				found = it
				break
			}
		}
		if found == nil {
			delete(m.userQueued, entry.Name)
			continue
		}
		found.InQueue = true
		m.queue = append(m.queue, found)
	}
	sortByIndex(m.queue)

	for name := range m.userBoarded {
		for _, it := range items {
			if it.Name == name {
				it.InBoarding = true
				break
			}
		}
	}
}

// SaveRoster writes the roster file on demand, honoring the auto-backup
// setting.
func (m *Manager) SaveRoster() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rosterPath == "" {
		return ErrNoRosterPath
	}
	return roster.Save(m.rosterPath, m.roster, m.settings.AutoBackup())
}

// RosterItems returns a copy of the roster rows.
func (m *Manager) RosterItems() []models.RosterItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.RosterItem, 0, len(m.roster))
	for _, it := range m.roster {
		out = append(out, *it)
	}
	return out
}

// Snapshot is the full queue state the API and the event stream expose.
type Snapshot struct {
	QueueStarted    bool                `json:"queue_started"`
	BoardingStarted bool                `json:"boarding_started"`
	CutlineStarted  bool                `json:"cutline_started"`
	Queue           []models.RosterItem `json:"queue"`
	Cutline         []models.RosterItem `json:"cutline"`
	Boarding        []models.RosterItem `json:"boarding"`
	TotalNames      int                 `json:"total_names"`
	AvailableCount  int                 `json:"available_count"`
	QueuedUsers     []string            `json:"queued_users"`
	RecentWinners   []string            `json:"recent_winners"`
}

// Snapshot returns a copy of everything a client needs to render the
// queues.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		QueueStarted:    m.queueStarted,
		BoardingStarted: m.boardingStarted,
		CutlineStarted:  m.cutlineStarted,
		TotalNames:      len(m.roster),
		QueuedUsers:     setToSlice(m.userQueued),
		RecentWinners:   append([]string(nil), m.recentWinners...),
	}
	for _, it := range m.queue {
		snap.Queue = append(snap.Queue, *it)
	}
	for _, it := range m.cutline {
		snap.Cutline = append(snap.Cutline, *it)
	}
	for _, it := range m.roster {
		if it.Count > 0 {
			snap.AvailableCount++
		}
		if it.InBoarding {
			snap.Boarding = append(snap.Boarding, *it)
		}
	}
	return snap
}

// Status is the light counters view.
type Status struct {
	QueueStarted   bool     `json:"queue_started"`
	TotalNames     int      `json:"total_names"`
	QueueCount     int      `json:"queue_count"`
	CutlineCount   int      `json:"cutline_count"`
	BoardingCount  int      `json:"boarding_count"`
	AvailableCount int      `json:"available_count"`
	QueuedUsers    []string `json:"queued_users"`
}

// Status returns the queue counters.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		QueueStarted: m.queueStarted,
		TotalNames:   len(m.roster),
		QueueCount:   len(m.queue),
		CutlineCount: len(m.cutline),
		QueuedUsers:  setToSlice(m.userQueued),
	}
	for _, it := range m.roster {
		if it.Count > 0 {
			st.AvailableCount++
		}
		if it.InBoarding {
			st.BoardingCount++
		}
	}
	return st
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func sliceToSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}
