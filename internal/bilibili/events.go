package bilibili

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/bilibili-xiayun/bililive-queue/internal/models"
)

// notification is the op-5 JSON envelope. DANMU_MSG rides in info, most
// other commands in data.
type notification struct {
	Cmd  string            `json:"cmd"`
	Info []json.RawMessage `json:"info"`
	Data json.RawMessage   `json:"data"`
}

// parseNotification turns an op-5 body into a normalized Message. The
// message is nil for commands that carry no queue-relevant payload; cmd is
// always returned so callers can react to LIVE and PREPARING.
func parseNotification(roomID int64, body []byte) (*models.Message, string, error) {
	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, "", fmt.Errorf("decode notification: %w", err)
	}

	switch {
	case strings.HasPrefix(n.Cmd, "DANMU_MSG"):
		msg, err := parseDanmaku(roomID, n.Info)
		return msg, n.Cmd, err
	case n.Cmd == "SEND_GIFT":
		msg, err := parseGift(roomID, n.Data)
		return msg, n.Cmd, err
	case n.Cmd == "GUARD_BUY":
		msg, err := parseGuard(roomID, n.Data)
		return msg, n.Cmd, err
	case n.Cmd == "SUPER_CHAT_MESSAGE":
		msg, err := parseSuperChat(roomID, n.Data)
		return msg, n.Cmd, err
	default:
		return nil, n.Cmd, nil
	}
}

// parseDanmaku reads the positional info array: info[1] is the text,
// info[2] is [uid, uname, ...].
func parseDanmaku(roomID int64, info []json.RawMessage) (*models.Message, error) {
	if len(info) < 3 {
		return nil, fmt.Errorf("danmaku info too short: %d", len(info))
	}
	var text string
	if err := json.Unmarshal(info[1], &text); err != nil {
		return nil, fmt.Errorf("danmaku text: %w", err)
	}
	var sender []json.RawMessage
	if err := json.Unmarshal(info[2], &sender); err != nil || len(sender) < 2 {
		return nil, fmt.Errorf("danmaku sender: %v", err)
	}
	var uid int64
	var uname string
	if err := json.Unmarshal(sender[0], &uid); err != nil {
		return nil, fmt.Errorf("danmaku uid: %w", err)
	}
	if err := json.Unmarshal(sender[1], &uname); err != nil {
		return nil, fmt.Errorf("danmaku uname: %w", err)
	}

	return newMessage(models.KindDanmaku, roomID, uid, uname, func(m *models.Message) {
		m.Body = text
	}), nil
}

func parseGift(roomID int64, data json.RawMessage) (*models.Message, error) {
	var d struct {
		Uname    string `json:"uname"`
		GiftName string `json:"giftName"`
		Num      int    `json:"num"`
		UID      int64  `json:"uid"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("gift data: %w", err)
	}
	return newMessage(models.KindGift, roomID, d.UID, d.Uname, func(m *models.Message) {
		m.GiftName = d.GiftName
		m.Num = d.Num
	}), nil
}

func parseGuard(roomID int64, data json.RawMessage) (*models.Message, error) {
	var d struct {
		Username   string `json:"username"`
		GuardLevel int    `json:"guard_level"`
		Num        int    `json:"num"`
		UID        int64  `json:"uid"`
		GiftName   string `json:"gift_name"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("guard data: %w", err)
	}
	giftName := d.GiftName
	if giftName == "" {
		giftName = models.GuardLevelName(d.GuardLevel)
	}
	return newMessage(models.KindGuard, roomID, d.UID, d.Username, func(m *models.Message) {
		m.GiftName = giftName
		m.Num = d.Num
		m.GuardLevel = d.GuardLevel
	}), nil
}

// parseInteract reads an INTERACT_WORD payload. msg_type 1 is a viewer
// entering the room; follows and shares ride the same command and are
// ignored.
func parseInteract(body []byte) (uname string, entered bool) {
	var n struct {
		Data struct {
			Uname   string `json:"uname"`
			MsgType int    `json:"msg_type"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &n); err != nil {
		return "", false
	}
	return n.Data.Uname, n.Data.MsgType == 1
}

func parseSuperChat(roomID int64, data json.RawMessage) (*models.Message, error) {
	var d struct {
		UID      int64   `json:"uid"`
		Message  string  `json:"message"`
		Price    float64 `json:"price"`
		UserInfo struct {
			Uname string `json:"uname"`
		} `json:"user_info"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("super chat data: %w", err)
	}
	return newMessage(models.KindSuperChat, roomID, d.UID, d.UserInfo.Uname, func(m *models.Message) {
		m.Body = d.Message
		m.Price = d.Price
	}), nil
}

func newMessage(kind models.MessageKind, roomID, uid int64, username string, fill func(*models.Message)) *models.Message {
	m := &models.Message{
		ID:       ulid.Make().String(),
		Kind:     kind,
		RoomID:   roomID,
		UID:      uid,
		Username: username,
		Time:     time.Now(),
	}
	if fill != nil {
		fill(m)
	}
	return m
}
