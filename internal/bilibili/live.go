package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"

	"github.com/bilibili-xiayun/bililive-queue/internal/models"
)

const (
	defaultDanmuHost  = "broadcastlv.chat.bilibili.com"
	defaultWSSPort    = 443
	wsOrigin          = "https://live.bilibili.com"
	heartbeatInterval = 30 * time.Second
	readTimeout       = 60 * time.Second
)

// LiveHandlers receives decoded room traffic. Handlers run on the read
// goroutine and must not block.
type LiveHandlers struct {
	OnMessage       func(models.Message)
	OnPopularity    func(int)
	OnLive          func(bool)
	OnAuthenticated func()
}

// LiveClient is one websocket connection to a room's danmaku server. It
// lives for a single session; the monitor builds a fresh one per attempt.
type LiveClient struct {
	api      *Client
	cred     *Credential
	roomID   int64 // real room id
	handlers LiveHandlers
	logger   zerolog.Logger
	debug    bool
}

// NewLiveClient prepares a connection to roomID (the real ID from
// RoomInit). cred may be nil for a guest session.
func NewLiveClient(api *Client, cred *Credential, roomID int64, handlers LiveHandlers, debug bool, logger zerolog.Logger) *LiveClient {
	return &LiveClient{
		api:      api,
		cred:     cred,
		roomID:   roomID,
		handlers: handlers,
		logger:   logger.With().Str("component", "live").Int64("room", roomID).Logger(),
		debug:    debug,
	}
}

// Run connects, authenticates, and pumps frames until the connection
// drops or ctx is canceled.
func (lc *LiveClient) Run(ctx context.Context) error {
	info, err := lc.api.DanmuInfo(ctx, lc.roomID)
	if err != nil {
		return err
	}
	host, port := defaultDanmuHost, defaultWSSPort
	if len(info.Hosts) > 0 {
		host = info.Hosts[0].Host
		if info.Hosts[0].WSSPort > 0 {
			port = info.Hosts[0].WSSPort
		}
	}

	wsURL := fmt.Sprintf("wss://%s:%d/sub", host, port)
	cfg, err := websocket.NewConfig(wsURL, wsOrigin)
	if err != nil {
		return fmt.Errorf("ws config: %w", err)
	}
	cfg.Header.Set("User-Agent", userAgent)

	conn, err := websocket.DialConfig(cfg)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	conn.PayloadType = websocket.BinaryFrame
	defer conn.Close()

	// Unblock the read loop when the context goes away.
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stopped:
		}
	}()

	auth := authBody{
		RoomID:   lc.roomID,
		ProtoVer: verBrotli,
		Platform: "web",
		Type:     2,
		Key:      info.Token,
	}
	if lc.cred.Valid() {
		auth.UID = lc.cred.UID()
		auth.Buvid = lc.cred.Buvid3()
	}
	authJSON, err := json.Marshal(auth)
	if err != nil {
		return err
	}
	if _, err := conn.Write(encodeFrame(verPopularity, opAuth, authJSON)); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	lc.logger.Debug().Str("host", host).Bool("authenticated", auth.UID != 0).Msg("connected, auth sent")

	// The auth write above is the last write from this goroutine; from
	// here only the heartbeat loop writes.
	go lc.heartbeats(conn, stopped)

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		var data []byte
		if err := websocket.Message.Receive(conn, &data); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		frames, err := decodeFrames(data)
		if err != nil {
			lc.logger.Warn().Err(err).Msg("bad frame, skipping")
			continue
		}
		for _, f := range frames {
			if err := lc.handleFrame(f); err != nil {
				return err
			}
		}
	}
}

func (lc *LiveClient) heartbeats(conn *websocket.Conn, stopped <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		if _, err := conn.Write(encodeFrame(verPopularity, opHeartbeat, heartbeatBody)); err != nil {
			return
		}
		select {
		case <-stopped:
			return
		case <-ticker.C:
		}
	}
}

func (lc *LiveClient) handleFrame(f frame) error {
	switch f.op {
	case opAuthReply:
		var reply struct {
			Code int `json:"code"`
		}
		if err := json.Unmarshal(f.body, &reply); err == nil && reply.Code != 0 {
			return fmt.Errorf("auth rejected: code %d", reply.Code)
		}
		lc.logger.Info().Msg("danmaku server accepted auth")
		if lc.handlers.OnAuthenticated != nil {
			lc.handlers.OnAuthenticated()
		}
	case opHeartbeatReply:
		if lc.handlers.OnPopularity != nil {
			lc.handlers.OnPopularity(popularity(f.body))
		}
	case opNotify:
		lc.handleNotify(f.body)
	}
	return nil
}

func (lc *LiveClient) handleNotify(body []byte) {
	msg, cmd, err := parseNotification(lc.roomID, body)
	if err != nil {
		lc.logger.Debug().Err(err).Str("cmd", cmd).Msg("notification parse failed")
		return
	}
	if msg != nil {
		if lc.debug {
			lc.logger.Debug().
				Str("kind", string(msg.Kind)).
				Str("user", msg.Username).
				Str("body", msg.Body).
				Msg("room message")
		}
		if lc.handlers.OnMessage != nil {
			lc.handlers.OnMessage(*msg)
		}
		return
	}

	switch cmd {
	case "LIVE":
		lc.logger.Info().Msg("stream went live")
		if lc.handlers.OnLive != nil {
			lc.handlers.OnLive(true)
		}
	case "PREPARING":
		lc.logger.Info().Msg("stream ended")
		if lc.handlers.OnLive != nil {
			lc.handlers.OnLive(false)
		}
	case "INTERACT_WORD":
		if uname, entered := parseInteract(body); entered && lc.debug {
			lc.logger.Debug().Str("user", uname).Msg("viewer entered room")
		}
	default:
		if lc.debug {
			lc.logger.Debug().Str("cmd", cmd).Msg("unhandled notification")
		}
	}
}
