package handlers

import (
	"net/http"
	"time"

	"github.com/bilibili-xiayun/bililive-queue/internal/models"
)

// TestMessageRequest is a fabricated live-room event. Kind defaults to
// danmaku.
type TestMessageRequest struct {
	Kind       string  `json:"kind"`
	UID        int64   `json:"uid"`
	Username   string  `json:"username"`
	Body       string  `json:"body"`
	GiftName   string  `json:"gift_name"`
	Num        int     `json:"num"`
	GuardLevel int     `json:"guard_level"`
	Price      float64 `json:"price"`
}

// TestMessage injects a fabricated event into the message feed, as if the
// room had sent it. Only allowed while the monitor is in test mode, so a
// live session cannot be polluted.
func (h *Handler) TestMessage(w http.ResponseWriter, r *http.Request) {
	if !h.monitor.Status().TestMode {
		h.Error(w, http.StatusConflict, "monitor is not in test mode")
		return
	}

	var req TestMessageRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Username == "" {
		h.Error(w, http.StatusBadRequest, "username is required")
		return
	}

	kind := models.MessageKind(req.Kind)
	switch kind {
	case "":
		kind = models.KindDanmaku
	case models.KindDanmaku, models.KindGift, models.KindGuard, models.KindSuperChat:
	default:
		h.Error(w, http.StatusBadRequest, "unknown message kind")
		return
	}

	msg := models.Message{
		Kind:       kind,
		UID:        req.UID,
		Username:   sanitizeName(req.Username),
		Body:       req.Body,
		GiftName:   req.GiftName,
		Num:        req.Num,
		GuardLevel: req.GuardLevel,
		Price:      req.Price,
		Test:       true,
		Time:       time.Now(),
	}
	h.monitor.Inject(msg)

	h.JSON(w, http.StatusAccepted, map[string]string{"status": "injected"})
}
