package roster_api

import (
	"ms-roster/internal/models"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) ListManualBookings(w http.ResponseWriter, r *http.Request) {
	list, err := h.Bookings.ListManualBookings(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []models.ManualBooking{}
	}
	h.ok(w, http.StatusOK, "manual bookings", list)
}

func (h *Handler) CreateManualBooking(w http.ResponseWriter, r *http.Request) {
	var in models.ManualBookingInput
	if err := h.decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	mb, err := h.Bookings.CreateManualBooking(r.Context(), chi.URLParam(r, "eventId"), in, operator(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusCreated, "manual booking created", mb)
}

func (h *Handler) DeleteManualBooking(w http.ResponseWriter, r *http.Request) {
	if err := h.Bookings.DeleteManualBooking(r.Context(), chi.URLParam(r, "bookingId")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Bookings.GetOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "order", o)
}

// EditOrder applies an operator edit. Later syncs keep the edited fields.
func (h *Handler) EditOrder(w http.ResponseWriter, r *http.Request) {
	var patch models.OrderPatch
	if err := h.decode(r, &patch); err != nil {
		h.fail(w, r, err)
		return
	}
	o, err := h.Bookings.EditOrder(r.Context(), chi.URLParam(r, "orderId"), patch, operator(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, "order updated", o)
}
