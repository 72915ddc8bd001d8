package handlers

import (
	"errors"
	"net/http"
	"os"

	"github.com/bilibili-xiayun/bililive-queue/internal/events"
	"github.com/bilibili-xiayun/bililive-queue/internal/models"
)

// RosterResponse is the roster file view: every row in file order.
type RosterResponse struct {
	Path      string              `json:"path"`
	Total     int                 `json:"total"`
	Available int                 `json:"available"`
	Items     []models.RosterItem `json:"items"`
}

// GetRoster returns the loaded roster rows.
func (h *Handler) GetRoster(w http.ResponseWriter, r *http.Request) {
	items := h.queue.RosterItems()
	available := 0
	for _, it := range items {
		if it.Count > 0 {
			available++
		}
	}
	h.JSON(w, http.StatusOK, RosterResponse{
		Path:      h.queue.RosterPath(),
		Total:     len(items),
		Available: available,
		Items:     items,
	})
}

// RosterReloadRequest controls whether queue membership survives the
// reload.
type RosterReloadRequest struct {
	Preserve bool `json:"preserve"`
}

// RosterReload re-reads the roster file. With preserve set, names already
// queued are matched back onto the fresh rows.
func (h *Handler) RosterReload(w http.ResponseWriter, r *http.Request) {
	var req RosterReloadRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.queue.ReloadRoster(req.Preserve); err != nil {
		h.rosterError(w, err)
		return
	}

	h.publishRoster()
	h.JSON(w, http.StatusOK, h.queue.Status())
}

// RosterSave writes the in-memory counts back to the roster file.
func (h *Handler) RosterSave(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.SaveRoster(); err != nil {
		h.rosterError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// RosterPathRequest points the manager at a different roster file.
type RosterPathRequest struct {
	Path string `json:"path"`
}

// RosterSetPath switches the roster file, loads it, and persists the
// choice in settings so it survives restarts.
func (h *Handler) RosterSetPath(w http.ResponseWriter, r *http.Request) {
	var req RosterPathRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Path == "" {
		h.Error(w, http.StatusBadRequest, "path is required")
		return
	}

	h.queue.SetRosterPath(req.Path)
	if err := h.queue.ReloadRoster(false); err != nil {
		h.rosterError(w, err)
		return
	}

	if err := h.settings.Set("queue.name_list_file", req.Path); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to persist roster path")
	}

	h.logger.Info().Str("path", req.Path).Msg("Roster file switched")
	h.publishRoster()
	h.JSON(w, http.StatusOK, h.queue.Status())
}

func (h *Handler) rosterError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, os.ErrNotExist):
		h.Error(w, http.StatusNotFound, "roster file not found")
	default:
		h.queueError(w, err)
	}
}

func (h *Handler) publishRoster() {
	h.hub.Publish(events.TypeRoster, map[string]any{
		"path":  h.queue.RosterPath(),
		"total": h.queue.RosterLen(),
	})
}
