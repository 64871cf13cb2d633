package roster_api

import (
	"context"
	"errors"
	"fmt"
	"ms-roster/internal/apperr"
	"ms-roster/internal/auth"
	"ms-roster/internal/bookings"
	"ms-roster/internal/events"
	"ms-roster/internal/fields"
	"ms-roster/internal/logger"
	"ms-roster/internal/manifest"
	"ms-roster/internal/models"
	"ms-roster/internal/sse"
	"ms-roster/internal/utils"
	"ms-roster/internal/validation"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validatorv10 "github.com/go-playground/validator/v10"
)

// Syncer starts sync runs and streams their progress.
type Syncer interface {
	Start(ctx context.Context, req models.SyncRequest) (<-chan models.SyncProgress, error)
}

type Handler struct {
	Events   *events.EventService
	Bookings *bookings.BookingService
	Fields   *fields.Registry
	Manifest *manifest.Builder
	Sync     Syncer
	Emitter  *sse.SyncEventEmitter
	Validate *validatorv10.Validate
	Logger   *logger.Logger
	// Ping checks backing services for /health. Nil reports healthy.
	Ping func(ctx context.Context) error
}

func NewHandler(
	eventService *events.EventService,
	bookingService *bookings.BookingService,
	registry *fields.Registry,
	builder *manifest.Builder,
	syncer Syncer,
	emitter *sse.SyncEventEmitter,
	log *logger.Logger,
) *Handler {
	return &Handler{
		Events:   eventService,
		Bookings: bookingService,
		Fields:   registry,
		Manifest: builder,
		Sync:     syncer,
		Emitter:  emitter,
		Validate: validation.New(),
		Logger:   log,
	}
}

// Router mounts every route. Everything under /api goes through authMW.
func (h *Handler) Router(authMW func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(h.requestLogger)

	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		if authMW != nil {
			r.Use(authMW)
		}
		r.Route("/api", func(r chi.Router) {
			r.Route("/sync", func(r chi.Router) {
				r.Post("/", h.StartSync)
				r.Get("/events", h.ObserveSync)
				r.Get("/{runId}/events", h.ObserveRun)
			})

			r.Route("/events", func(r chi.Router) {
				r.Get("/", h.ListEvents)
				r.Route("/{eventId}", func(r chi.Router) {
					r.Get("/", h.GetEventSummary)
					r.Patch("/", h.UpdateEventMeta)
					r.Post("/status", h.TransitionEvent)
					r.Get("/manifest", h.GetManifest)
					r.Get("/bookings", h.ListManualBookings)
					r.Post("/bookings", h.CreateManualBooking)
				})
			})

			r.Delete("/bookings/{bookingId}", h.DeleteManualBooking)

			r.Route("/orders/{orderId}", func(r chi.Router) {
				r.Get("/", h.GetOrder)
				r.Patch("/", h.EditOrder)
			})

			r.Route("/fields", func(r chi.Router) {
				r.Get("/", h.ListFields)
				r.Get("/usage", h.FieldUsage)
				r.Get("/{key}", h.GetField)
				r.Patch("/{key}", h.UpdateField)
				r.Delete("/{key}", h.DeleteField)
			})
		})
	})
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ping(ctx); err != nil {
			h.Logger.Warn("HTTP", fmt.Sprintf("Health check failed: %v", err))
			h.respond(w, http.StatusServiceUnavailable, utils.ErrorResponse("unhealthy", err.Error()))
			return
		}
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("ok", map[string]string{"status": "ok"}))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.Logger.LogAPI(r.Method, r.URL.Path, fmt.Sprintf("%d", rec.status), time.Since(start).String())
	})
}

func (h *Handler) ok(w http.ResponseWriter, status int, message string, data interface{}) {
	h.respond(w, status, utils.SuccessResponse(message, data))
}

func (h *Handler) respond(w http.ResponseWriter, status int, resp utils.APIResponse) {
	if err := utils.WriteJSON(w, status, resp); err != nil {
		h.Logger.Error("HTTP", fmt.Sprintf("Failed to encode response: %v", err))
	}
}

// fail maps domain errors to HTTP statuses and writes the error envelope.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := utils.ErrorResponse(http.StatusText(status), err.Error())

	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		resp.Message = ve.Message
		resp.Fields = ve.Fields
	}
	if status == http.StatusInternalServerError {
		h.Logger.Error("HTTP", fmt.Sprintf("%s %s failed: %v", r.Method, r.URL.Path, err))
		resp.Error = "internal server error"
	} else {
		h.Logger.Debug("HTTP", fmt.Sprintf("%s %s rejected: %v", r.Method, r.URL.Path, err))
	}
	h.respond(w, status, resp)
}

func statusFor(err error) int {
	var (
		ve  *apperr.ValidationError
		nf  *apperr.NotFoundError
		ce  *apperr.CycleError
		ite *apperr.InvalidTransitionError
	)
	switch {
	case errors.Is(err, apperr.ErrSyncInProgress):
		return http.StatusConflict
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &ce), errors.As(err, &ite):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) decode(r *http.Request, out interface{}) error {
	return validation.DecodeAndValidate(r, out, h.Validate)
}

func operator(r *http.Request) string {
	return auth.OperatorID(r.Context())
}
