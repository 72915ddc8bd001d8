package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/bilibili-xiayun/bililive-queue/internal/events"
	"github.com/bilibili-xiayun/bililive-queue/internal/metrics"
	"github.com/bilibili-xiayun/bililive-queue/internal/models"
)

// LotteryDrawRequest asks for a number of winners; zero means the default
// of two.
type LotteryDrawRequest struct {
	Count int `json:"count"`
}

// LotteryDrawResponse is a completed draw.
type LotteryDrawResponse struct {
	Positions     []int    `json:"positions"`
	Winners       []string `json:"winners"`
	RecentWinners []string `json:"recent_winners"`
}

// LotteryDraw picks random winners from the queue. Names that won one of
// the last ten draws or are currently boarded are excluded; a pool smaller
// than the requested count refuses with 409.
func (h *Handler) LotteryDraw(w http.ResponseWriter, r *http.Request) {
	var req LotteryDrawRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	poolSize := h.queue.Status().QueueCount
	positions, winners, err := h.queue.RandomSelect(req.Count)
	if err != nil {
		h.queueError(w, err)
		return
	}

	metrics.LotteryDraws.Inc()

	draw := &models.LotteryDraw{Winners: winners, PoolSize: poolSize}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.archive.SaveLotteryDraw(ctx, draw); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to archive lottery draw")
	}

	if h.notifier != nil {
		h.notifier.LotteryResult(winners)
	}
	h.hub.Publish(events.TypeLottery, map[string]any{
		"positions": positions,
		"winners":   winners,
	})

	h.JSON(w, http.StatusOK, LotteryDrawResponse{
		Positions:     positions,
		Winners:       winners,
		RecentWinners: h.queue.RecentWinners(),
	})
}

// LotteryHistory lists past draws, newest first.
func (h *Handler) LotteryHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	draws, err := h.archive.ListLotteryDraws(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list lottery draws")
		h.Error(w, http.StatusInternalServerError, "failed to list draws")
		return
	}
	if draws == nil {
		draws = []models.LotteryDraw{}
	}
	h.JSON(w, http.StatusOK, map[string]any{"draws": draws})
}
