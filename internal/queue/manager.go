// Package queue implements the play-queue engine: the roster of names with
// remaining plays, the normal queue, the cut-in-line queue, boarding, guard
// rewards, and the lottery. One mutex guards all state; every operation is
// safe to call from the danmaku relay and the HTTP handlers concurrently.
package queue

import (
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bilibili-xiayun/bililive-queue/internal/models"
	"github.com/bilibili-xiayun/bililive-queue/internal/roster"
	"github.com/bilibili-xiayun/bililive-queue/internal/settings"
)

// Domain errors. Handlers map these to response codes; the relay maps them
// to rejection outcomes.
var (
	ErrNotStarted          = errors.New("not open")
	ErrAlreadyQueued       = errors.New("already queued")
	ErrNoEntry             = errors.New("no plays left")
	ErrInsufficientCount   = errors.New("not enough plays")
	ErrOutOfRange          = errors.New("position out of range")
	ErrNotFound            = errors.New("not found")
	ErrNotEnoughCandidates = errors.New("not enough candidates")
	ErrNoRosterPath        = errors.New("no roster file configured")
)

const recentWinnersCap = 10

// Options configures a Manager.
type Options struct {
	Settings *settings.Settings
	Ledger   *Ledger
	DataDir  string
	Logger   zerolog.Logger
}

// Manager owns all queue state.
type Manager struct {
	mu       sync.Mutex
	logger   zerolog.Logger
	settings *settings.Settings
	ledger   *Ledger

	dataDir    string
	rosterPath string

	roster  []*models.RosterItem
	queue   []*models.RosterItem // pointers into roster
	cutline []*models.RosterItem // synthetic items, not roster pointers

	userQueued  map[string]struct{}
	userBoarded map[string]struct{}
	userCutline map[string]struct{}

	queueStarted    bool
	boardingStarted bool
	cutlineStarted  bool

	recentWinners []string
	rng           *rand.Rand

	onChange func()
}

// NewManager builds an empty manager. State and roster are loaded
// separately so callers control restore order.
func NewManager(opts Options) *Manager {
	return &Manager{
		logger:      opts.Logger.With().Str("component", "queue").Logger(),
		settings:    opts.Settings,
		ledger:      opts.Ledger,
		dataDir:     opts.DataDir,
		userQueued:  map[string]struct{}{},
		userBoarded: map[string]struct{}{},
		userCutline: map[string]struct{}{},
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetOnChange registers a hook fired after every state mutation, outside
// the manager lock. The event hub subscribes here.
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

// Start/stop toggles. Starting a round of queueing or cutting forgets who
// already took part in the previous round; boarding keeps its history
// until the queues are cleared.

func (m *Manager) StartQueue() {
	m.mu.Lock()
	m.queueStarted = true
	m.userQueued = map[string]struct{}{}
	m.mu.Unlock()
	m.logger.Info().Msg("queue started")
	m.notifyChange()
}

func (m *Manager) StopQueue() {
	m.mu.Lock()
	m.queueStarted = false
	m.mu.Unlock()
	m.logger.Info().Msg("queue stopped")
	m.notifyChange()
}

func (m *Manager) StartBoarding() {
	m.mu.Lock()
	m.boardingStarted = true
	m.mu.Unlock()
	m.logger.Info().Msg("boarding started")
	m.notifyChange()
}

func (m *Manager) StopBoarding() {
	m.mu.Lock()
	m.boardingStarted = false
	m.mu.Unlock()
	m.logger.Info().Msg("boarding stopped")
	m.notifyChange()
}

func (m *Manager) StartCutline() {
	m.mu.Lock()
	m.cutlineStarted = true
	m.userCutline = map[string]struct{}{}
	m.mu.Unlock()
	m.logger.Info().Msg("cutline started")
	m.notifyChange()
}

func (m *Manager) StopCutline() {
	m.mu.Lock()
	m.cutlineStarted = false
	m.mu.Unlock()
	m.logger.Info().Msg("cutline stopped")
	m.notifyChange()
}

// ProcessQueueRequest handles a 排队 danmaku. The sender joins with their
// lowest-numbered roster row that still has plays and is not already
// queued. One join per round per name.
func (m *Manager) ProcessQueueRequest(username string) error {
	m.mu.Lock()
	if !m.queueStarted {
		m.mu.Unlock()
		return ErrNotStarted
	}
	err := m.enqueueLocked(username)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.logger.Info().Str("user", username).Msg("queue request accepted")
	m.notifyChange()
	return nil
}

// AddQueue joins a name manually, ignoring whether the queue is open.
func (m *Manager) AddQueue(username string) error {
	m.mu.Lock()
	err := m.enqueueLocked(username)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.logger.Info().Str("user", username).Msg("queue entry added")
	m.notifyChange()
	return nil
}

func (m *Manager) enqueueLocked(username string) error {
	if _, ok := m.userQueued[username]; ok {
		return ErrAlreadyQueued
	}
	item := m.findAvailableLocked(username)
	if item == nil {
		return ErrNoEntry
	}
	item.InQueue = true
	m.queue = append(m.queue, item)
	sortByIndex(m.queue)
	m.userQueued[username] = struct{}{}
	m.saveStateLocked()
	return nil
}

// findAvailableLocked returns the lowest-Index roster row for a name with
// plays left that is not already queued.
func (m *Manager) findAvailableLocked(username string) *models.RosterItem {
	var best *models.RosterItem
	for _, it := range m.roster {
		if it.Name != username || it.Count <= 0 || it.InQueue {
			continue
		}
		if best == nil || it.Index < best.Index {
			best = it
		}
	}
	return best
}

// ProcessCutlineRequest handles a 插队 danmaku. Cutting costs
// queue.cutline_cost plays, which may be spread over several rows of the
// same name; the rows are only charged when the cut is completed. The
// synthetic entry takes the highest Index among the contributing rows.
func (m *Manager) ProcessCutlineRequest(username string) error {
	m.mu.Lock()
	if !m.cutlineStarted {
		m.mu.Unlock()
		return ErrNotStarted
	}
	if _, ok := m.userCutline[username]; ok {
		m.mu.Unlock()
		return ErrAlreadyQueued
	}
	cost := m.settings.CutlineCost()
	candidates := m.cutlineCandidatesLocked(username)
	total := 0
	for _, it := range candidates {
		total += it.Count
	}
	if len(candidates) == 0 || total < cost {
		m.mu.Unlock()
		return ErrInsufficientCount
	}
	m.addCutlineLocked(username, cost, candidates[0].Index)
	m.mu.Unlock()

	m.logger.Info().Str("user", username).Msg("cutline request accepted")
	m.notifyChange()
	return nil
}

// cutlineCandidatesLocked returns the rows a cut can draw plays from,
// highest Index first.
func (m *Manager) cutlineCandidatesLocked(username string) []*models.RosterItem {
	var out []*models.RosterItem
	for _, it := range m.roster {
		if it.Name == username && it.Count > 0 && !it.InQueue {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index > out[j].Index })
	return out
}

func (m *Manager) addCutlineLocked(username string, cost, index int) {
	synthetic := &models.RosterItem{
		Name:      username,
		Count:     cost,
		Index:     index,
		IsCutline: true,
		InQueue:   true,
	}
	m.cutline = append(m.cutline, synthetic)
	sortByIndex(m.cutline)
	m.userCutline[username] = struct{}{}
	m.saveStateLocked()
}

// InsertCutline cuts the roster row with the given Index in manually. A
// row short of the full cost borrows the shortfall from another row of the
// same name; the transfer is written to the roster file immediately.
func (m *Manager) InsertCutline(rosterIndex int) error {
	m.mu.Lock()
	selected := m.findByIndexLocked(rosterIndex)
	if selected == nil {
		m.mu.Unlock()
		return ErrNotFound
	}
	cost := m.settings.CutlineCost()
	if selected.Count < cost {
		needed := cost - selected.Count
		var donor *models.RosterItem
		for _, it := range m.roster {
			if it.Name == selected.Name && it.Index != selected.Index && it.Count > 0 && !it.InQueue {
				donor = it
				break
			}
		}
		if donor == nil || donor.Count < needed {
			m.mu.Unlock()
			return ErrInsufficientCount
		}
		donorOld, selectedOld := donor.Count, selected.Count
		donor.Count -= needed
		selected.Count += needed
		m.ledger.CountChange(donor.Name, donorOld, donor.Count,
			fmt.Sprintf("为%s插队转移次数", selected.Name))
		m.ledger.CountChange(selected.Name, selectedOld, selected.Count,
			fmt.Sprintf("从%s接收插队次数", donor.Name))
		m.saveRosterLocked()
	}
	m.addCutlineLocked(selected.Name, cost, selected.Index)
	name := selected.Name
	m.mu.Unlock()

	m.logger.Info().Str("user", name).Int("index", rosterIndex).Msg("cutline inserted")
	m.notifyChange()
	return nil
}

// ProcessBoardingRequest handles a 上车 danmaku (or a manual add, which
// skips the open check). Boarding marks a roster row rather than queueing
// it; the play is charged on completion.
func (m *Manager) ProcessBoardingRequest(username string, manual bool) error {
	m.mu.Lock()
	if !manual && !m.boardingStarted {
		m.mu.Unlock()
		return ErrNotStarted
	}
	if _, ok := m.userBoarded[username]; ok {
		m.mu.Unlock()
		return ErrAlreadyQueued
	}
	var best *models.RosterItem
	for _, it := range m.roster {
		if it.Name != username || it.Count <= 0 || it.InBoarding {
			continue
		}
		if best == nil || it.Index < best.Index {
			best = it
		}
	}
	if best == nil {
		m.mu.Unlock()
		return ErrNoEntry
	}
	best.InBoarding = true
	m.userBoarded[username] = struct{}{}
	m.saveStateLocked()
	m.mu.Unlock()

	m.logger.Info().Str("user", username).Bool("manual", manual).Msg("boarding accepted")
	m.notifyChange()
	return nil
}

// CompleteQueueItem finishes the queue entry at pos, charging the plays
// and writing the roster out. The name stays on the round's joined set, so
// it cannot re-queue until a new round starts.
func (m *Manager) CompleteQueueItem(pos int) error {
	m.mu.Lock()
	if pos < 0 || pos >= len(m.queue) {
		m.mu.Unlock()
		return ErrOutOfRange
	}
	item := m.queue[pos]
	deduct := m.settings.NormalCost()
	reason := "完成排队（正常排队）"
	if item.IsCutline {
		deduct = m.settings.CutlineCost()
		reason = "完成排队（插队）"
	}
	if target := m.findByIndexLocked(item.Index); target != nil {
		old := target.Count
		target.Count -= deduct
		m.ledger.CountChange(target.Name, old, target.Count, reason)
		m.saveRosterLocked()
	}
	m.queue = append(m.queue[:pos], m.queue[pos+1:]...)
	item.InQueue = false
	name := item.Name
	m.saveStateLocked()
	m.mu.Unlock()

	m.ledger.Deduction(name, deduct, "完成排队")
	m.logger.Info().Str("user", name).Int("pos", pos).Msg("queue entry completed")
	m.notifyChange()
	return nil
}

// AbsentQueueItem removes the entry at pos without charging; the name may
// queue again this round.
func (m *Manager) AbsentQueueItem(pos int) error {
	return m.removeQueueItem(pos, "queue entry removed (absent)")
}

// CancelQueueItem removes the entry at pos without charging; the name may
// queue again this round.
func (m *Manager) CancelQueueItem(pos int) error {
	return m.removeQueueItem(pos, "queue entry cancelled")
}

func (m *Manager) removeQueueItem(pos int, logMsg string) error {
	m.mu.Lock()
	if pos < 0 || pos >= len(m.queue) {
		m.mu.Unlock()
		return ErrOutOfRange
	}
	item := m.queue[pos]
	m.queue = append(m.queue[:pos], m.queue[pos+1:]...)
	item.InQueue = false
	delete(m.userQueued, item.Name)
	name := item.Name
	m.saveStateLocked()
	m.mu.Unlock()

	m.logger.Info().Str("user", name).Int("pos", pos).Msg(logMsg)
	m.notifyChange()
	return nil
}

// CompleteCutlineItem finishes a cut, charging the full cost across the
// name's rows from the highest Index down. Rows touched leave the queue
// marking as a side effect.
func (m *Manager) CompleteCutlineItem(username string) error {
	m.mu.Lock()
	if _, ok := m.userCutline[username]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	cost := m.settings.CutlineCost()
	remaining := cost

	var targets []*models.RosterItem
	for _, it := range m.roster {
		if it.Name == username && it.Count > 0 {
			targets = append(targets, it)
		}
	}
	sort.SliceStable(targets, func(i, j int) bool { return targets[i].Index > targets[j].Index })

	for _, it := range targets {
		if remaining <= 0 {
			break
		}
		d := min(it.Count, remaining)
		old := it.Count
		it.Count -= d
		it.InQueue = false
		m.ledger.CountChange(it.Name, old, it.Count, "完成插队")
		remaining -= d
	}
	m.saveRosterLocked()

	kept := m.cutline[:0]
	for _, it := range m.cutline {
		if it.Name != username {
			kept = append(kept, it)
		}
	}
	m.cutline = kept
	delete(m.userCutline, username)
	m.saveStateLocked()
	m.mu.Unlock()

	m.ledger.Deduction(username, cost, "完成插队")
	m.logger.Info().Str("user", username).Msg("cutline completed")
	m.notifyChange()
	return nil
}

// DeleteCutlineItem drops a cut without charging.
func (m *Manager) DeleteCutlineItem(username string) error {
	m.mu.Lock()
	_, ok := m.userCutline[username]
	kept := m.cutline[:0]
	removed := false
	for _, it := range m.cutline {
		if it.Name == username {
			removed = true
			continue
		}
		kept = append(kept, it)
	}
	m.cutline = kept
	delete(m.userCutline, username)
	if ok || removed {
		m.saveStateLocked()
	}
	m.mu.Unlock()

	if !ok && !removed {
		return ErrNotFound
	}
	m.logger.Info().Str("user", username).Msg("cutline entry removed")
	m.notifyChange()
	return nil
}

// CompleteBoardingItem finishes a boarding, charging one normal play
// against the name's first roster row.
func (m *Manager) CompleteBoardingItem(username string) error {
	m.mu.Lock()
	if _, ok := m.userBoarded[username]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	var target *models.RosterItem
	for _, it := range m.roster {
		if it.Name == username {
			target = it
			break
		}
	}
	if target == nil {
		m.mu.Unlock()
		return ErrNoEntry
	}
	deduct := m.settings.NormalCost()
	old := target.Count
	target.Count -= deduct
	target.InBoarding = false
	m.ledger.CountChange(username, old, target.Count, "完成上车")
	m.saveRosterLocked()
	delete(m.userBoarded, username)
	m.saveStateLocked()
	m.mu.Unlock()

	m.ledger.Deduction(username, deduct, "完成上车")
	m.logger.Info().Str("user", username).Msg("boarding completed")
	m.notifyChange()
	return nil
}

// DeleteBoardingItem drops a boarding without charging.
func (m *Manager) DeleteBoardingItem(username string) error {
	m.mu.Lock()
	if _, ok := m.userBoarded[username]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	for _, it := range m.roster {
		if it.Name == username {
			it.InBoarding = false
		}
	}
	delete(m.userBoarded, username)
	m.saveStateLocked()
	m.mu.Unlock()

	m.logger.Info().Str("user", username).Msg("boarding entry removed")
	m.notifyChange()
	return nil
}

// ClearQueues empties the queue, the cut-in queue, and all boarding marks.
// Roster counts are untouched.
func (m *Manager) ClearQueues() {
	m.mu.Lock()
	for _, it := range m.queue {
		it.InQueue = false
	}
	for _, it := range m.roster {
		it.InBoarding = false
	}
	m.queue = nil
	m.cutline = nil
	m.userQueued = map[string]struct{}{}
	m.userBoarded = map[string]struct{}{}
	m.userCutline = map[string]struct{}{}
	m.saveStateLocked()
	m.mu.Unlock()

	m.logger.Info().Msg("queues cleared")
	m.notifyChange()
}

// ProcessGuardGift awards plays for a guard purchase: the configured
// reward for the guard title, times the months bought. Returns the total
// awarded, zero when no reward is configured for the title.
func (m *Manager) ProcessGuardGift(username string, level, months int) (int, error) {
	if months <= 0 {
		months = 1
	}
	guardName := models.GuardLevelName(level)
	base := m.settings.GuardRewards()[guardName]
	if base <= 0 {
		m.logger.Debug().Str("user", username).Str("guard", guardName).Msg("no reward configured")
		return 0, nil
	}
	total := base * months

	m.mu.Lock()
	item := &models.RosterItem{Name: username, Count: total, Index: m.nextIndexLocked()}
	m.roster = append(m.roster, item)
	if err := m.recordNewGuardLocked(username, total); err != nil {
		m.logger.Warn().Err(err).Msg("new guard csv write failed")
	}
	if m.settings.AutoSaveAfterAdd() {
		m.saveRosterLocked()
	}
	m.saveStateLocked()
	m.mu.Unlock()

	if m.settings.LogGiftEvents() {
		m.ledger.Deduction(username, total,
			fmt.Sprintf("开通%d个月%s获得奖励", months, guardName))
	}
	m.logger.Info().
		Str("user", username).
		Str("guard", guardName).
		Int("months", months).
		Int("reward", total).
		Msg("guard reward added")
	m.notifyChange()
	return total, nil
}

// nextIndexLocked returns one past the highest Index in use, so rows added
// at runtime never collide with rows loaded from a file with blank lines.
func (m *Manager) nextIndexLocked() int {
	max := 0
	for _, it := range m.roster {
		if it.Index > max {
			max = it.Index
		}
	}
	return max + 1
}

// recordNewGuardLocked appends the buyer to the day's 新舰长 CSV.
func (m *Manager) recordNewGuardLocked(username string, count int) error {
	path := filepath.Join(m.dataDir, time.Now().Format("2006-01-02")+"-新舰长.csv")
	return roster.AppendGuard(path, username, count)
}

// RandomSelect draws n distinct winners from the queue, excluding names
// that won one of the last ten draws or are currently boarded. A short
// pool draws nobody rather than a partial result.
func (m *Manager) RandomSelect(n int) ([]int, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n <= 0 {
		n = 2
	}
	var positions []int
	for i, it := range m.queue {
		if m.isRecentWinnerLocked(it.Name) {
			continue
		}
		if _, boarded := m.userBoarded[it.Name]; boarded {
			continue
		}
		positions = append(positions, i)
	}
	if len(positions) < n {
		return nil, nil, ErrNotEnoughCandidates
	}

	perm := m.rng.Perm(len(positions))
	picked := make([]int, 0, n)
	names := make([]string, 0, n)
	for _, pi := range perm[:n] {
		pos := positions[pi]
		picked = append(picked, pos)
		names = append(names, m.queue[pos].Name)
	}
	sort.Ints(picked)

	for _, name := range names {
		m.recentWinners = append(m.recentWinners, name)
	}
	if len(m.recentWinners) > recentWinnersCap {
		m.recentWinners = m.recentWinners[len(m.recentWinners)-recentWinnersCap:]
	}

	m.logger.Info().Strs("winners", names).Msg("lottery drawn")
	return picked, names, nil
}

func (m *Manager) isRecentWinnerLocked(name string) bool {
	for _, w := range m.recentWinners {
		if w == name {
			return true
		}
	}
	return false
}

// RecentWinners returns the names excluded from the next draw.
func (m *Manager) RecentWinners() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.recentWinners))
	copy(out, m.recentWinners)
	return out
}

func (m *Manager) findByIndexLocked(index int) *models.RosterItem {
	for _, it := range m.roster {
		if it.Index == index {
			return it
		}
	}
	return nil
}

func sortByIndex(items []*models.RosterItem) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Index < items[j].Index })
}

// saveRosterLocked writes the roster file right away. Deductions must hit
// disk before the operator sees the result.
func (m *Manager) saveRosterLocked() {
	if m.rosterPath == "" {
		return
	}
	if err := roster.Save(m.rosterPath, m.roster, false); err != nil {
		m.logger.Error().Err(err).Str("path", m.rosterPath).Msg("roster save failed")
	}
}
