// Package events fans live updates out to websocket subscribers. Every
// state change in the server (incoming danmaku, queue edits, vote progress,
// monitor status) is published here as a typed frame so overlay pages and
// the CLI can follow along without polling.
package events

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/bilibili-xiayun/bililive-queue/internal/metrics"
)

// Type labels a frame so subscribers can filter.
type Type string

const (
	TypeMessage Type = "message" // normalized live-room event
	TypeQueue   Type = "queue"   // queue/cutline/boarding snapshot changed
	TypeVote    Type = "vote"    // vote started/progress/ended
	TypeMonitor Type = "monitor" // monitor status changed
	TypeLottery Type = "lottery" // lottery draw result
	TypeRoster  Type = "roster"  // roster file loaded/saved
)

// Frame is the wire unit delivered to subscribers.
type Frame struct {
	ID   string    `json:"id"` // ULID
	Type Type      `json:"type"`
	TS   time.Time `json:"ts"`
	Data any       `json:"data"`
}

// subscriberBuffer is per-peer. A stalled peer loses its oldest frames
// instead of stalling the publisher.
const subscriberBuffer = 64

// Subscriber receives frames from a Hub until unsubscribed.
type Subscriber struct {
	ch    chan Frame
	types map[Type]bool // empty means all types
}

// C returns the receive channel.
func (s *Subscriber) C() <-chan Frame {
	return s.ch
}

func (s *Subscriber) wants(t Type) bool {
	return len(s.types) == 0 || s.types[t]
}

// push delivers one frame, dropping the oldest buffered frame when full.
func (s *Subscriber) push(f Frame) {
	select {
	case s.ch <- f:
	default:
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- f:
		default:
		}
	}
}

// Hub is the in-process broadcast point for event frames.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	logger zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		subs:   make(map[*Subscriber]struct{}),
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a new subscriber. An empty types list receives
// everything.
func (h *Hub) Subscribe(types ...Type) *Subscriber {
	sub := &Subscriber{
		ch:    make(chan Frame, subscriberBuffer),
		types: make(map[Type]bool, len(types)),
	}
	for _, t := range types {
		sub.types[t] = true
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	metrics.WSClients.Set(float64(n))
	return sub
}

// Unsubscribe removes a subscriber. Its channel is not closed; readers
// should stop selecting on it after calling this.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	n := len(h.subs)
	h.mu.Unlock()

	metrics.WSClients.Set(float64(n))
}

// Publish delivers data to every subscriber interested in the type.
func (h *Hub) Publish(t Type, data any) {
	frame := Frame{
		ID:   ulid.Make().String(),
		Type: t,
		TS:   time.Now(),
		Data: data,
	}

	h.mu.RLock()
	for sub := range h.subs {
		if sub.wants(t) {
			sub.push(frame)
		}
	}
	h.mu.RUnlock()
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
