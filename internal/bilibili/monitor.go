package bilibili

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bilibili-xiayun/bililive-queue/internal/models"
	"github.com/bilibili-xiayun/bililive-queue/internal/settings"
)

// MonitorStatus is the monitor's lifecycle state.
type MonitorStatus string

const (
	StatusIdle         MonitorStatus = "idle"
	StatusConnecting   MonitorStatus = "connecting"
	StatusConnected    MonitorStatus = "connected"
	StatusReconnecting MonitorStatus = "reconnecting"
	StatusStopped      MonitorStatus = "stopped"
	StatusFailed       MonitorStatus = "failed"
	StatusTest         MonitorStatus = "test"
)

var (
	ErrMonitorRunning = errors.New("monitor already running")
	ErrStopTimeout    = errors.New("monitor did not stop in time")
)

const stopTimeout = 5 * time.Second

// StatusInfo is the monitor state the API reports and the event stream
// carries.
type StatusInfo struct {
	Status        MonitorStatus `json:"status"`
	Room          string        `json:"room,omitempty"`
	RealRoomID    int64         `json:"real_room_id,omitempty"`
	Attempts      int           `json:"attempts"`
	Popularity    int           `json:"popularity"`
	Authenticated bool          `json:"authenticated"`
	TestMode      bool          `json:"test_mode"`
	Live          bool          `json:"live"`
}

// Monitor owns the room connection: it resolves the room, keeps a live
// client running with reconnects, and feeds normalized messages into one
// buffered channel. Entering test mode skips the connection entirely and
// the channel only carries injected messages.
type Monitor struct {
	api      *Client
	settings *settings.Settings
	logger   zerolog.Logger

	mu            sync.Mutex
	status        MonitorStatus
	roomInput     string
	realRoomID    int64
	attempts      int
	popularity    int
	authenticated bool
	testMode      bool
	live          bool
	cred          *Credential
	cancel        context.CancelFunc
	done          chan struct{}

	messages chan models.Message
	onStatus func(StatusInfo)
}

// NewMonitor builds an idle monitor. The message channel is created once,
// sized by danmaku.message_buffer_size, so consumers survive restarts.
func NewMonitor(api *Client, s *settings.Settings, logger zerolog.Logger) *Monitor {
	return &Monitor{
		api:      api,
		settings: s,
		logger:   logger.With().Str("component", "monitor").Logger(),
		status:   StatusIdle,
		messages: make(chan models.Message, s.MessageBufferSize()),
	}
}

// Messages is the stream of normalized room events. When the buffer fills
// the oldest message is dropped, never the newest.
func (m *Monitor) Messages() <-chan models.Message {
	return m.messages
}

// SetOnStatus registers a hook fired on every status change, outside the
// lock.
func (m *Monitor) SetOnStatus(fn func(StatusInfo)) {
	m.mu.Lock()
	m.onStatus = fn
	m.mu.Unlock()
}

// Start begins monitoring. roomInput may be a room number, a room URL, or
// a test-mode keyword. cred may be nil for a guest connection.
func (m *Monitor) Start(roomInput string, cred *Credential) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return ErrMonitorRunning
	}

	if IsTestModeInput(roomInput) {
		m.testMode = true
		m.roomInput = roomInput
		m.realRoomID = 0
		m.attempts = 0
		m.cancel = func() {}
		done := make(chan struct{})
		close(done)
		m.done = done
		m.mu.Unlock()

		m.setStatus(StatusTest)
		m.logger.Info().Msg("test mode, no room connection")
		return nil
	}
	m.mu.Unlock()

	roomID, err := ExtractRoomID(roomInput)
	if err != nil {
		return err
	}
	if cred.Valid() {
		m.api.SetCookies(cred.Cookies)
	}

	ctx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	info, err := m.api.RoomInit(ctx, roomID)
	cancelInit()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		cancel()
		return ErrMonitorRunning
	}
	m.testMode = false
	m.roomInput = roomInput
	m.realRoomID = info.RoomID
	m.attempts = 0
	m.cred = cred
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.logger.Info().Int64("room", roomID).Int64("real_room", info.RoomID).Msg("monitor starting")
	go m.run(runCtx, done)
	return nil
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		m.setStatus(StatusConnecting)

		handlers := LiveHandlers{
			OnMessage: m.push,
			OnPopularity: func(p int) {
				m.mu.Lock()
				m.popularity = p
				m.mu.Unlock()
			},
			OnLive: func(on bool) {
				m.mu.Lock()
				m.live = on
				m.mu.Unlock()
				m.notifyStatus()
			},
			OnAuthenticated: func() {
				m.mu.Lock()
				m.attempts = 0
				m.authenticated = true
				m.mu.Unlock()
				m.setStatus(StatusConnected)
			},
		}

		m.mu.Lock()
		cred, roomID := m.cred, m.realRoomID
		m.mu.Unlock()

		lc := NewLiveClient(m.api, cred, roomID, handlers, m.settings.DebugMode(), m.logger)
		err := lc.Run(ctx)

		m.mu.Lock()
		m.authenticated = false
		m.mu.Unlock()

		if ctx.Err() != nil {
			m.setStatus(StatusStopped)
			return
		}
		m.logger.Warn().Err(err).Msg("live connection lost")

		m.mu.Lock()
		m.attempts++
		attempts := m.attempts
		m.mu.Unlock()

		if max := m.settings.MaxReconnectAttempts(); attempts >= max {
			m.logger.Error().Int("attempts", attempts).Msg("giving up after max reconnect attempts")
			m.setStatus(StatusFailed)
			return
		}
		m.setStatus(StatusReconnecting)

		select {
		case <-ctx.Done():
			m.setStatus(StatusStopped)
			return
		case <-time.After(m.settings.ReconnectInterval()):
		}
	}
}

// push delivers a message, dropping the oldest buffered one when full.
func (m *Monitor) push(msg models.Message) {
	select {
	case m.messages <- msg:
		return
	default:
	}
	select {
	case <-m.messages:
	default:
	}
	select {
	case m.messages <- msg:
	default:
	}
}

// Inject feeds a synthetic message through the normal pipeline, marked as
// test traffic.
func (m *Monitor) Inject(msg models.Message) {
	msg.Test = true
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}
	m.push(msg)
}

// Stop shuts the connection down, waiting up to five seconds.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.done = nil
	m.testMode = false
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		return ErrStopTimeout
	}
	m.setStatus(StatusStopped)
	return nil
}

// Running reports whether the monitor is active (connected or in test
// mode).
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Status returns the current monitor state.
func (m *Monitor) Status() StatusInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return StatusInfo{
		Status:        m.status,
		Room:          m.roomInput,
		RealRoomID:    m.realRoomID,
		Attempts:      m.attempts,
		Popularity:    m.popularity,
		Authenticated: m.authenticated,
		TestMode:      m.testMode,
		Live:          m.live,
	}
}

func (m *Monitor) setStatus(st MonitorStatus) {
	m.mu.Lock()
	m.status = st
	m.mu.Unlock()
	m.logger.Debug().Str("status", string(st)).Msg("monitor status")
	m.notifyStatus()
}

// notifyStatus emits the current state to the status hook.
func (m *Monitor) notifyStatus() {
	m.mu.Lock()
	fn := m.onStatus
	info := StatusInfo{
		Status:        m.status,
		Room:          m.roomInput,
		RealRoomID:    m.realRoomID,
		Attempts:      m.attempts,
		Popularity:    m.popularity,
		Authenticated: m.authenticated,
		TestMode:      m.testMode,
		Live:          m.live,
	}
	m.mu.Unlock()

	if fn != nil {
		fn(info)
	}
}
