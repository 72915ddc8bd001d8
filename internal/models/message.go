package models

import "time"

// MessageKind classifies a normalized live-room event.
type MessageKind string

const (
	KindDanmaku   MessageKind = "danmaku"
	KindGift      MessageKind = "gift"
	KindGuard     MessageKind = "guard"
	KindSuperChat MessageKind = "super_chat"
)

// Message represents a single event received from a live room.
type Message struct {
	ID         string      `json:"id"` // ULID
	Kind       MessageKind `json:"kind"`
	RoomID     int64       `json:"room_id"`
	UID        int64       `json:"uid,omitempty"`
	Username   string      `json:"username"`
	Body       string      `json:"body,omitempty"`      // danmaku text, super chat message
	GiftName   string      `json:"gift_name,omitempty"` // gifts and guard purchases
	Num        int         `json:"num,omitempty"`       // gift count, guard months
	GuardLevel int         `json:"guard_level,omitempty"`
	Price      float64     `json:"price,omitempty"` // super chat CNY
	Test       bool        `json:"test,omitempty"`  // injected via test mode
	Time       time.Time   `json:"time"`
}

// Color returns the display color historically used for this kind of
// message.
func (k MessageKind) Color() string {
	switch k {
	case KindGift:
		return "#ff6600"
	case KindGuard:
		return "#9900ff"
	case KindSuperChat:
		return "#ff0000"
	default:
		return "#000000"
	}
}
