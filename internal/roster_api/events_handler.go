package roster_api

import (
	"ms-roster/internal/apperr"
	"ms-roster/internal/manifest"
	"ms-roster/internal/models"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	idx, err := h.Events.Index(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "events", idx)
}

func (h *Handler) GetEventSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Events.Summary(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "event summary", summary)
}

func (h *Handler) UpdateEventMeta(w http.ResponseWriter, r *http.Request) {
	var patch models.EventMetaPatch
	if err := h.decode(r, &patch); err != nil {
		h.fail(w, r, err)
		return
	}
	ev, err := h.Events.UpdateMeta(r.Context(), chi.URLParam(r, "eventId"), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "event updated", ev)
}

type transitionRequest struct {
	Status models.EventStatus `json:"status" validate:"required"`
}

func (h *Handler) TransitionEvent(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ev, err := h.Events.Transition(r.Context(), chi.URLParam(r, "eventId"), req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "event status updated", ev)
}

func (h *Handler) GetManifest(w http.ResponseWriter, r *http.Request) {
	opts, err := manifestOptions(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.Manifest.Build(r.Context(), chi.URLParam(r, "eventId"), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "manifest", m)
}

func manifestOptions(q url.Values) (manifest.Options, error) {
	var opts manifest.Options
	for _, k := range strings.Split(q.Get("fields"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			opts.SelectedKeys = append(opts.SelectedKeys, k)
		}
	}

	mode, ok := manifest.ParseDisplayMode(q.Get("mode"))
	if !ok {
		return opts, apperr.NewValidation("invalid manifest options", map[string]string{"mode": "must be HEADERS or COMPACT"})
	}
	opts.DisplayMode = mode

	invalid := map[string]string{}
	opts.IncludeHidden, _ = flag(q, "includeHidden", invalid)
	opts.ExcludeUnconfirmed, _ = flag(q, "excludeUnconfirmed", invalid)
	if seats, set := flag(q, "seats", invalid); set {
		opts.SeatBreakdown = &seats
	}
	if len(invalid) > 0 {
		return opts, apperr.NewValidation("invalid manifest options", invalid)
	}
	return opts, nil
}

// flag reads a boolean query parameter. A bare "?name" counts as true.
func flag(q url.Values, name string, invalid map[string]string) (value, set bool) {
	vals, ok := q[name]
	if !ok {
		return false, false
	}
	raw := ""
	if len(vals) > 0 {
		raw = vals[0]
	}
	if raw == "" {
		return true, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		invalid[name] = "must be a boolean"
		return false, false
	}
	return v, true
}
