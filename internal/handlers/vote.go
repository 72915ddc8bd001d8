package handlers

import (
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bilibili-xiayun/bililive-queue/internal/events"
	"github.com/bilibili-xiayun/bililive-queue/internal/metrics"
	"github.com/bilibili-xiayun/bililive-queue/internal/vote"
)

// VoteStartRequest begins a vote, either inline or from a stored preset.
// Preset wins when both are given.
type VoteStartRequest struct {
	Title          string   `json:"title"`
	Options        []string `json:"options"`
	AutoEndSeconds int      `json:"auto_end_seconds"`
	Preset         string   `json:"preset"`
}

func (h *Handler) voteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vote.ErrRunning), errors.Is(err, vote.ErrNotRunning),
		errors.Is(err, vote.ErrPresetExists):
		h.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, vote.ErrNoOptions):
		h.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, vote.ErrPresetNotFound):
		h.Error(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error().Err(err).Msg("Vote operation failed")
		h.Error(w, http.StatusInternalServerError, "vote operation failed")
	}
}

// VoteStart begins a vote. Viewers then vote by sending the option number
// as a danmaku.
func (h *Handler) VoteStart(w http.ResponseWriter, r *http.Request) {
	var req VoteStartRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cfg := vote.Config{
		Title:          req.Title,
		Options:        req.Options,
		AutoEndSeconds: req.AutoEndSeconds,
	}
	if req.Preset != "" {
		loaded, err := h.votes.LoadPreset(req.Preset)
		if err != nil {
			h.voteError(w, err)
			return
		}
		cfg = loaded
	}

	if err := h.votes.Start(cfg); err != nil {
		h.voteError(w, err)
		return
	}

	progress := h.votes.Progress()
	h.hub.Publish(events.TypeVote, progress)
	h.JSON(w, http.StatusCreated, progress)
}

// VoteEnd closes the running vote and returns the tally.
func (h *Handler) VoteEnd(w http.ResponseWriter, r *http.Request) {
	result, err := h.votes.End()
	if err != nil {
		h.voteError(w, err)
		return
	}
	h.hub.Publish(events.TypeVote, h.votes.Progress())
	h.JSON(w, http.StatusOK, result)
}

// VoteStatus reports the live tally, or running=false between votes.
func (h *Handler) VoteStatus(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, h.votes.Progress())
}

// VoteBallotRequest injects a ballot without a live room, for testing
// votes from the dashboard.
type VoteBallotRequest struct {
	UID  int64  `json:"uid"`
	Text string `json:"text"`
}

// VoteBallot casts a ballot as if the text arrived as a danmaku.
func (h *Handler) VoteBallot(w http.ResponseWriter, r *http.Request) {
	var req VoteBallotRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !h.votes.Running() {
		h.Error(w, http.StatusConflict, "no vote is running")
		return
	}

	counted, option := h.votes.HandleDanmaku(req.UID, req.Text)
	if counted {
		metrics.VoteBallots.WithLabelValues("counted").Inc()
	} else {
		metrics.VoteBallots.WithLabelValues("rejected").Inc()
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"counted": counted,
		"option":  option,
	})
}

// VoteExportRequest names the file the result is written to. A relative
// path lands under the data directory.
type VoteExportRequest struct {
	Path string `json:"path"`
}

// VoteExport writes the current or last vote result to a JSON file on the
// server's disk and returns the path.
func (h *Handler) VoteExport(w http.ResponseWriter, r *http.Request) {
	var req VoteExportRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	path := req.Path
	if path == "" {
		path = "vote_result_" + time.Now().Format("20060102_150405") + ".json"
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(h.dataDir, path)
	}

	if err := h.votes.ExportResult(path); err != nil {
		h.voteError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "exported", "path": path})
}

// VotePresets lists stored preset names.
func (h *Handler) VotePresets(w http.ResponseWriter, r *http.Request) {
	names, err := h.votes.ListPresets()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list vote presets")
		h.Error(w, http.StatusInternalServerError, "failed to list presets")
		return
	}
	if names == nil {
		names = []string{}
	}
	h.JSON(w, http.StatusOK, map[string]any{"presets": names})
}

// VotePresetSaveRequest stores a vote config under a name.
type VotePresetSaveRequest struct {
	Name           string   `json:"name"`
	Title          string   `json:"title"`
	Options        []string `json:"options"`
	AutoEndSeconds int      `json:"auto_end_seconds"`
	Overwrite      bool     `json:"overwrite"`
}

// VotePresetSave stores a preset for later reuse.
func (h *Handler) VotePresetSave(w http.ResponseWriter, r *http.Request) {
	var req VotePresetSaveRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(req.Options) == 0 {
		h.Error(w, http.StatusBadRequest, "options are required")
		return
	}

	cfg := vote.Config{
		Title:          req.Title,
		Options:        req.Options,
		AutoEndSeconds: req.AutoEndSeconds,
	}
	if err := h.votes.SavePreset(req.Name, cfg, req.Overwrite); err != nil {
		h.voteError(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, map[string]string{"status": "saved", "name": req.Name})
}

// VotePresetDelete removes a stored preset.
func (h *Handler) VotePresetDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.votes.DeletePreset(name); err != nil {
		h.voteError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "deleted", "name": name})
}
