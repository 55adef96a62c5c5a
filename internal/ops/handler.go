// Package ops is the operator HTTP surface of the worker: manual sweep and
// submission triggers and read-only submission history.
package ops

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
	"github.com/odyssey-erp/fiscalbridge/internal/ledger"
)

// Enqueuer queues pipeline work.
type Enqueuer interface {
	EnqueueSubmit(ctx context.Context, class fiscal.Class, documentID string) (*asynq.TaskInfo, error)
	EnqueueSweep(ctx context.Context, trigger string) (*asynq.TaskInfo, error)
}

// HistoryReader reads the submission log.
type HistoryReader interface {
	History(ctx context.Context, class fiscal.Class, documentID string) ([]ledger.Entry, error)
	Reprint(ctx context.Context, class fiscal.Class, documentID string) (ledger.Entry, error)
}

// Handler serves the ops routes.
type Handler struct {
	queue   Enqueuer
	history HistoryReader
	logger  *slog.Logger
	// TriggerLimit caps manual triggers per client IP and minute.
	TriggerLimit int
}

// NewHandler constructs the handler.
func NewHandler(queue Enqueuer, history HistoryReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{queue: queue, history: history, logger: logger, TriggerLimit: 10}
}

// MountRoutes attaches the ops routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/submissions/{class}/{id}", h.getHistory)
	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(h.TriggerLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Post("/sweep", h.triggerSweep)
		r.Post("/submissions/{class}/{id}", h.triggerSubmit)
		r.Post("/submissions/{class}/{id}/reprint", h.reprint)
	})
}

type enqueueResponse struct {
	TaskID string `json:"task_id,omitempty"`
	Queue  string `json:"queue,omitempty"`
	// Duplicate is set when identical work was already waiting.
	Duplicate bool `json:"duplicate,omitempty"`
}

func (h *Handler) triggerSweep(w http.ResponseWriter, r *http.Request) {
	info, err := h.queue.EnqueueSweep(r.Context(), "ops")
	if err != nil {
		h.logger.Error("enqueue sweep", slog.Any("error", err))
		problem(w, http.StatusServiceUnavailable, "Queue Unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, toEnqueueResponse(info))
}

func (h *Handler) triggerSubmit(w http.ResponseWriter, r *http.Request) {
	class, id, ok := h.target(w, r)
	if !ok {
		return
	}
	info, err := h.queue.EnqueueSubmit(r.Context(), class, id)
	if err != nil {
		h.logger.Error("enqueue submit", slog.String("class", string(class)), slog.String("document", id), slog.Any("error", err))
		problem(w, http.StatusServiceUnavailable, "Queue Unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, toEnqueueResponse(info))
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	class, id, ok := h.target(w, r)
	if !ok {
		return
	}
	entries, err := h.history.History(r.Context(), class, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if len(entries) == 0 {
		problem(w, http.StatusNotFound, "Not Found", "no submissions for "+string(class)+" "+id)
		return
	}
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, newEntryView(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) reprint(w http.ResponseWriter, r *http.Request) {
	class, id, ok := h.target(w, r)
	if !ok {
		return
	}
	entry, err := h.history.Reprint(r.Context(), class, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newEntryView(entry))
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (fiscal.Class, string, bool) {
	class, err := fiscal.ParseClass(chi.URLParam(r, "class"))
	if err != nil {
		problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return "", "", false
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		problem(w, http.StatusBadRequest, "Validation Failed", "document id required")
		return "", "", false
	}
	return class, id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ledger.ErrAcknowledged):
		problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("ops request failed", slog.Any("error", err))
		problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func toEnqueueResponse(info *asynq.TaskInfo) enqueueResponse {
	if info == nil {
		return enqueueResponse{Duplicate: true}
	}
	return enqueueResponse{TaskID: info.ID, Queue: info.Queue}
}
