package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bilibili-xiayun/bililive-queue/internal/bilibili"
	"github.com/bilibili-xiayun/bililive-queue/internal/queue"
)

// StatsResponse summarizes the session for the dashboard header.
type StatsResponse struct {
	TotalEvents  int64               `json:"total_events"`
	EventsByKind map[string]int64    `json:"events_by_kind"`
	LastActivity string              `json:"last_activity"`
	Queue        queue.Status        `json:"queue"`
	Monitor      bilibili.StatusInfo `json:"monitor"`
	VoteRunning  bool                `json:"vote_running"`
	Uptime       string              `json:"uptime"`
}

// Stats returns archive totals and live counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totalEvents, err := h.archive.CountEvents(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count events")
		return
	}

	byKind, err := h.archive.CountEventsByKind(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count events by kind")
		return
	}
	kinds := make(map[string]int64, len(byKind))
	for kind, n := range byKind {
		kinds[string(kind)] = n
	}

	lastTime, err := h.archive.MostRecentEventTime(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to get last activity")
		return
	}
	lastActivity := "no activity yet"
	if lastTime != nil {
		lastActivity = formatTimeAgo(*lastTime)
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalEvents:  totalEvents,
		EventsByKind: kinds,
		LastActivity: lastActivity,
		Queue:        h.queue.Status(),
		Monitor:      h.monitor.Status(),
		VoteRunning:  h.votes.Running(),
		Uptime:       time.Since(h.started).Round(time.Second).String(),
	})
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return strconv.Itoa(mins) + " minutes ago"
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return strconv.Itoa(hours) + " hours ago"
	default:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return strconv.Itoa(days) + " days ago"
	}
}
