// Package api provides the admin HTTP API for herald.
//
// Every tenant route lives under /companies/{companyID}; authenticating the
// caller and checking they may act for that company is left to middleware
// mounted in front of the handler.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/herald"
	"github.com/xraph/herald/webhook"
)

// DefaultLimit is the page size used when a list request has none.
const DefaultLimit = 50

// MaxLimit caps the page size of list requests.
const MaxLimit = 500

// Handler is the root HTTP handler for the herald admin API.
type Handler struct {
	herald *herald.Herald
	logger *slog.Logger
	router chi.Router
}

// NewHandler creates a new admin API handler.
func NewHandler(h *herald.Herald, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	api := &Handler{
		herald: h,
		logger: logger,
		router: chi.NewRouter(),
	}
	api.registerRoutes()
	return api
}

func (h *Handler) registerRoutes() {
	r := h.router
	r.Use(middleware.RequestID)
	r.Use(h.panicRecovery)
	r.Use(h.logging)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.health)
	r.Get("/event-types", h.listEventTypes)

	r.Route("/companies/{companyID}", func(r chi.Router) {
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/", h.createWebhook)
			r.Get("/", h.listWebhooks)

			r.Route("/{webhookID}", func(r chi.Router) {
				r.Get("/", h.getWebhook)
				r.Patch("/", h.updateWebhook)
				r.Delete("/", h.deleteWebhook)
				r.Put("/status", h.setWebhookStatus)
				r.Post("/rotate-secret", h.rotateSecret)
				r.Post("/test", h.sendTestEvent)
				r.Get("/stats", h.deliveryStats)
				r.Get("/deliveries", h.listWebhookDeliveries)
			})
		})

		r.Route("/events", func(r chi.Router) {
			r.Post("/", h.emitEvent)
			r.Get("/", h.listEvents)
			r.Get("/{eventID}", h.getEvent)
			r.Get("/{eventID}/deliveries", h.eventDeliveries)
		})

		r.Get("/deliveries", h.listDeliveries)
		r.Get("/deliveries/{deliveryID}", h.getDelivery)
	})
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.herald.Store().Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listEventTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.herald.Catalog().List())
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.InfoContext(r.Context(), "api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				h.logger.ErrorContext(r.Context(), "panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// fail maps a domain error to a response. Unexpected errors are logged
// and hidden behind a 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *webhook.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: ve.Message, Field: ve.Field})
	case errors.Is(err, herald.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, herald.ErrWebhookNotFound):
		writeError(w, http.StatusNotFound, "webhook not found")
	case errors.Is(err, herald.ErrEventNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, herald.ErrDeliveryNotFound):
		writeError(w, http.StatusNotFound, "delivery not found")
	default:
		h.logger.ErrorContext(r.Context(), "api request failed",
			"path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// page reads offset and limit, clamping limit to MaxLimit.
func page(r *http.Request) (offset, limit int) {
	offset = queryInt(r, "offset", 0)
	limit = queryInt(r, "limit", DefaultLimit)
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return offset, limit
}

// queryInt returns a non-negative query parameter or the default.
func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
