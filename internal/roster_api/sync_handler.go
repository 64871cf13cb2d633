package roster_api

import (
	"fmt"
	"ms-roster/internal/models"
	"ms-roster/internal/sse"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// StartSync runs a sync and streams its progress as server-sent events. Closing the stream cancels the run.
func (h *Handler) StartSync(w http.ResponseWriter, r *http.Request) {
	var req models.SyncRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	progress, err := h.Sync.Start(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Logger.Info("SYNC", fmt.Sprintf("Sync %s requested by %q", req.Mode, operator(r)))

	sse.SetupHeaders(w)
	w.WriteHeader(http.StatusOK)
	for p := range progress {
		if err := sse.WriteEvent(w, string(p.Status), p); err != nil {
			h.Logger.Debug("SSE", fmt.Sprintf("Sync stream write failed for run %s: %v", p.RunID, err))
		}
	}
}

// ObserveSync streams the progress of every run until the client disconnects.
func (h *Handler) ObserveSync(w http.ResponseWriter, r *http.Request) {
	h.observe(w, r, h.Emitter.Subscribe(r.Context()), "sync events", false)
}

// ObserveRun follows one run and ends after its terminal event.
func (h *Handler) ObserveRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	h.observe(w, r, h.Emitter.SubscribeRun(r.Context(), runID), "run "+runID, true)
}

func (h *Handler) observe(w http.ResponseWriter, r *http.Request, eventChan <-chan models.SyncProgress, what string, untilTerminal bool) {
	ctx := r.Context()

	sse.SetupHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := sse.WriteEvent(w, "connected", map[string]string{"status": "connected"}); err != nil {
		return
	}
	h.Logger.Info("SSE", fmt.Sprintf("Client connected to %s", what))

	for {
		select {
		case p, ok := <-eventChan:
			if !ok {
				return
			}
			if err := sse.WriteEvent(w, string(p.Status), p); err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to send sync event: %v", err))
				return
			}
			if untilTerminal && p.Terminal() {
				return
			}
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from %s", what))
			return
		}
	}
}
