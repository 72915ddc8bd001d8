package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bilibili-xiayun/bililive-queue/internal/metrics"
	"github.com/bilibili-xiayun/bililive-queue/internal/queue"
)

// queueError maps queue manager errors to response codes. State conflicts
// are 409, bad positions or unknown names are 404, everything about the
// viewer's roster standing is 422.
func (h *Handler) queueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrNotStarted):
		h.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, queue.ErrAlreadyQueued):
		h.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, queue.ErrOutOfRange), errors.Is(err, queue.ErrNotFound):
		h.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, queue.ErrNoEntry), errors.Is(err, queue.ErrInsufficientCount):
		h.Error(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, queue.ErrNotEnoughCandidates):
		h.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, queue.ErrNoRosterPath):
		h.Error(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error().Err(err).Msg("Queue operation failed")
		h.Error(w, http.StatusInternalServerError, "queue operation failed")
	}
}

// GetQueue returns the full queue snapshot: flags, the three lists, and
// the roster summary.
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, h.queue.Snapshot())
}

// QueueStart opens the normal queue for danmaku requests.
func (h *Handler) QueueStart(w http.ResponseWriter, r *http.Request) {
	h.queue.StartQueue()
	h.JSON(w, http.StatusOK, h.queue.Status())
}

// QueueStop closes the normal queue. Entries already in stay.
func (h *Handler) QueueStop(w http.ResponseWriter, r *http.Request) {
	h.queue.StopQueue()
	h.JSON(w, http.StatusOK, h.queue.Status())
}

// BoardingStart opens the boarding list.
func (h *Handler) BoardingStart(w http.ResponseWriter, r *http.Request) {
	h.queue.StartBoarding()
	h.JSON(w, http.StatusOK, h.queue.Status())
}

// BoardingStop closes the boarding list.
func (h *Handler) BoardingStop(w http.ResponseWriter, r *http.Request) {
	h.queue.StopBoarding()
	h.JSON(w, http.StatusOK, h.queue.Status())
}

// CutlineStart opens the cutline.
func (h *Handler) CutlineStart(w http.ResponseWriter, r *http.Request) {
	h.queue.StartCutline()
	h.JSON(w, http.StatusOK, h.queue.Status())
}

// CutlineStop closes the cutline.
func (h *Handler) CutlineStop(w http.ResponseWriter, r *http.Request) {
	h.queue.StopCutline()
	h.JSON(w, http.StatusOK, h.queue.Status())
}

// QueueAddRequest is a manual queue addition.
type QueueAddRequest struct {
	Name string `json:"name"`
}

// QueueAdd appends a roster name to the queue from the dashboard, subject
// to the same standing rules as a danmaku request.
func (h *Handler) QueueAdd(w http.ResponseWriter, r *http.Request) {
	var req QueueAddRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	name := sanitizeName(req.Name)
	if name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := h.queue.AddQueue(name); err != nil {
		metrics.QueueRequests.WithLabelValues("queue", "rejected").Inc()
		h.queueError(w, err)
		return
	}
	metrics.QueueRequests.WithLabelValues("queue", "ok").Inc()
	h.JSON(w, http.StatusCreated, h.queue.Status())
}

// queuePos parses the zero-based {pos} path parameter.
func queuePos(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "pos"))
}

// QueueItemComplete finishes the entry at {pos}, charging its plays.
func (h *Handler) QueueItemComplete(w http.ResponseWriter, r *http.Request) {
	pos, err := queuePos(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid position")
		return
	}
	if err := h.queue.CompleteQueueItem(pos); err != nil {
		h.queueError(w, err)
		return
	}
	metrics.QueueCompletions.WithLabelValues("queue").Inc()
	h.JSON(w, http.StatusOK, h.queue.Status())
}

// QueueItemAbsent removes the entry at {pos} without charging.
func (h *Handler) QueueItemAbsent(w http.ResponseWriter, r *http.Request) {
	pos, err := queuePos(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid position")
		return
	}
	if err := h.queue.AbsentQueueItem(pos); err != nil {
		h.queueError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, h.queue.Status())
}

// QueueItemCancel removes the entry at {pos} without charging.
func (h *Handler) QueueItemCancel(w http.ResponseWriter, r *http.Request) {
	pos, err := queuePos(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid position")
		return
	}
	if err := h.queue.CancelQueueItem(pos); err != nil {
		h.queueError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, h.queue.Status())
}

// CutlineInsertRequest manually inserts the roster row at Index into the
// cutline.
type CutlineInsertRequest struct {
	Index int `json:"index"`
}

// CutlineInsert adds a cut for the roster row with the given index.
func (h *Handler) CutlineInsert(w http.ResponseWriter, r *http.Request) {
	var req CutlineInsertRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.queue.InsertCutline(req.Index); err != nil {
		metrics.QueueRequests.WithLabelValues("cutline", "rejected").Inc()
		h.queueError(w, err)
		return
	}
	metrics.QueueRequests.WithLabelValues("cutline", "ok").Inc()
	h.JSON(w, http.StatusCreated, h.queue.Status())
}

// CutlineItemComplete finishes {name}'s cut, charging the cutline cost.
func (h *Handler) CutlineItemComplete(w http.ResponseWriter, r *http.Request) {
	name := sanitizeName(chi.URLParam(r, "name"))
	if err := h.queue.CompleteCutlineItem(name); err != nil {
		h.queueError(w, err)
		return
	}
	metrics.QueueCompletions.WithLabelValues("cutline").Inc()
	h.JSON(w, http.StatusOK, h.queue.Status())
}

// CutlineItemDelete removes {name}'s cut without charging.
func (h *Handler) CutlineItemDelete(w http.ResponseWriter, r *http.Request) {
	name := sanitizeName(chi.URLParam(r, "name"))
	if err := h.queue.DeleteCutlineItem(name); err != nil {
		h.queueError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, h.queue.Status())
}

// BoardingItemComplete finishes {name}'s boarding entry.
func (h *Handler) BoardingItemComplete(w http.ResponseWriter, r *http.Request) {
	name := sanitizeName(chi.URLParam(r, "name"))
	if err := h.queue.CompleteBoardingItem(name); err != nil {
		h.queueError(w, err)
		return
	}
	metrics.QueueCompletions.WithLabelValues("boarding").Inc()
	h.JSON(w, http.StatusOK, h.queue.Status())
}

// BoardingItemDelete removes {name}'s boarding entry without charging.
func (h *Handler) BoardingItemDelete(w http.ResponseWriter, r *http.Request) {
	name := sanitizeName(chi.URLParam(r, "name"))
	if err := h.queue.DeleteBoardingItem(name); err != nil {
		h.queueError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, h.queue.Status())
}

// QueueClear empties all three lists and resets the round.
func (h *Handler) QueueClear(w http.ResponseWriter, r *http.Request) {
	h.queue.ClearQueues()
	h.JSON(w, http.StatusOK, h.queue.Status())
}

// QueueSaveState writes the queue state file out immediately.
func (h *Handler) QueueSaveState(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.SaveState(); err != nil {
		h.logger.Error().Err(err).Msg("Failed to save state")
		h.Error(w, http.StatusInternalServerError, "failed to save state")
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "saved"})
}
