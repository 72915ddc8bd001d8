package handlers

import (
	"errors"
	"net/http"

	"github.com/bilibili-xiayun/bililive-queue/internal/bilibili"
)

// MonitorStartRequest names the room to watch. Room accepts a numeric ID,
// a live.bilibili.com URL, or the test-mode keyword.
type MonitorStartRequest struct {
	Room string `json:"room"`
}

// MonitorStart connects the monitor to a live room. A stored credential is
// attached when one exists so the danmaku feed carries real usernames.
func (h *Handler) MonitorStart(w http.ResponseWriter, r *http.Request) {
	var req MonitorStartRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Room == "" {
		req.Room = h.settings.AutoConnectRoom()
	}
	if req.Room == "" {
		h.Error(w, http.StatusBadRequest, "room is required")
		return
	}

	cred, err := h.creds.Load()
	if err != nil {
		h.logger.Warn().Err(err).Msg("Credential unavailable, connecting as guest")
		cred = nil
	}

	if err := h.monitor.Start(req.Room, cred); err != nil {
		if errors.Is(err, bilibili.ErrMonitorRunning) {
			h.Error(w, http.StatusConflict, "monitor already running")
			return
		}
		h.logger.Error().Err(err).Str("room", req.Room).Msg("Failed to start monitor")
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	h.JSON(w, http.StatusOK, h.monitor.Status())
}

// MonitorStop disconnects the monitor.
func (h *Handler) MonitorStop(w http.ResponseWriter, r *http.Request) {
	if err := h.monitor.Stop(); err != nil {
		h.logger.Error().Err(err).Msg("Failed to stop monitor")
		h.Error(w, http.StatusInternalServerError, "failed to stop monitor")
		return
	}
	h.JSON(w, http.StatusOK, h.monitor.Status())
}

// MonitorStatus reports the connection state.
func (h *Handler) MonitorStatus(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, h.monitor.Status())
}
