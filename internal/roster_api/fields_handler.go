package roster_api

import (
	"ms-roster/internal/apperr"
	"ms-roster/internal/models"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ListFields returns the catalog, or only the fields seen on one event when eventId is given.
func (h *Handler) ListFields(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	invalid := map[string]string{}
	includeHidden, _ := flag(q, "includeHidden", invalid)
	if len(invalid) > 0 {
		h.fail(w, r, apperr.NewValidation("invalid query", invalid))
		return
	}

	var (
		list []models.FieldDefinition
		err  error
	)
	if eventID := q.Get("eventId"); eventID != "" {
		list, err = h.Fields.ListFieldsForEvent(r.Context(), eventID, includeHidden)
	} else {
		list, err = h.Fields.ListFields(r.Context())
		if err == nil && !includeHidden {
			visible := list[:0]
			for _, f := range list {
				if !f.Hidden() {
					visible = append(visible, f)
				}
			}
			list = visible
		}
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []models.FieldDefinition{}
	}
	h.ok(w, http.StatusOK, "fields", list)
}

func (h *Handler) FieldUsage(w http.ResponseWriter, r *http.Request) {
	report, err := h.Fields.UsageReport(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "field usage", report)
}

func (h *Handler) GetField(w http.ResponseWriter, r *http.Request) {
	f, err := h.Fields.GetField(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "field", f)
}

func (h *Handler) UpdateField(w http.ResponseWriter, r *http.Request) {
	var patch models.FieldPatch
	if err := h.decode(r, &patch); err != nil {
		h.fail(w, r, err)
		return
	}
	f, err := h.Fields.SetFieldConfig(r.Context(), chi.URLParam(r, "key"), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "field updated", f)
}

func (h *Handler) DeleteField(w http.ResponseWriter, r *http.Request) {
	if err := h.Fields.DeleteField(r.Context(), chi.URLParam(r, "key")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
