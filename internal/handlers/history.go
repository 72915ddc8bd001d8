package handlers

import (
	"net/http"
	"time"

	"github.com/bilibili-xiayun/bililive-queue/internal/models"
	"github.com/bilibili-xiayun/bililive-queue/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func historyLimit(r *http.Request) int {
	limit := queryInt(r, "limit", defaultHistoryLimit)
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit
}

// HistoryEvents pages through the archived event stream, newest first.
// Filters combine: kind, room, user, a body substring q, and a before
// cursor (the id of the oldest event already seen).
func (h *Handler) HistoryEvents(w http.ResponseWriter, r *http.Request) {
	q := store.EventQuery{
		RoomID:   int64(queryInt(r, "room", 0)),
		Kind:     models.MessageKind(r.URL.Query().Get("kind")),
		Username: r.URL.Query().Get("user"),
		Contains: r.URL.Query().Get("q"),
		Limit:    historyLimit(r),
		BeforeID: r.URL.Query().Get("before"),
	}

	events, err := h.archive.ListEvents(r.Context(), q)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list events")
		h.Error(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []models.Message{}
	}

	next := ""
	if len(events) == q.Limit {
		next = events[len(events)-1].ID
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"events": events,
		"next":   next,
	})
}

// HistoryRecent returns the in-memory tail of a room's feed. It reads the
// Redis ring when one is configured and falls back to the archive.
func (h *Handler) HistoryRecent(w http.ResponseWriter, r *http.Request) {
	roomID := int64(queryInt(r, "room", 0))
	limit := historyLimit(r)

	if h.cache != nil {
		before := int64(queryInt(r, "before", 0))
		msgs, err := h.cache.RecentMessages(r.Context(), roomID, limit, before)
		if err == nil {
			if msgs == nil {
				msgs = []models.Message{}
			}
			h.JSON(w, http.StatusOK, map[string]any{"messages": msgs, "source": "cache"})
			return
		}
		h.logger.Warn().Err(err).Msg("Recent-message cache read failed, using archive")
	}

	msgs, err := h.archive.ListEvents(r.Context(), store.EventQuery{RoomID: roomID, Limit: limit})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list recent events")
		h.Error(w, http.StatusInternalServerError, "failed to list recent events")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	h.JSON(w, http.StatusOK, map[string]any{"messages": msgs, "source": "archive"})
}

// HistoryDeductions lists play deductions, optionally for one user.
func (h *Handler) HistoryDeductions(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	deductions, err := h.archive.ListDeductions(r.Context(), user, historyLimit(r))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list deductions")
		h.Error(w, http.StatusInternalServerError, "failed to list deductions")
		return
	}
	if deductions == nil {
		deductions = []models.Deduction{}
	}
	h.JSON(w, http.StatusOK, map[string]any{"deductions": deductions})
}

// HistoryGuards lists guard purchases. since accepts RFC 3339 or a
// duration looking back from now, e.g. since=72h.
func (h *Handler) HistoryGuards(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			since = t
		} else if d, err := time.ParseDuration(raw); err == nil {
			since = time.Now().Add(-d)
		} else {
			h.Error(w, http.StatusBadRequest, "since must be RFC 3339 or a duration")
			return
		}
	}

	purchases, err := h.archive.ListGuardPurchases(r.Context(), since, historyLimit(r))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list guard purchases")
		h.Error(w, http.StatusInternalServerError, "failed to list guard purchases")
		return
	}
	if purchases == nil {
		purchases = []models.GuardPurchase{}
	}
	h.JSON(w, http.StatusOK, map[string]any{"purchases": purchases})
}
