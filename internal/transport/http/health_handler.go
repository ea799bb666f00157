package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apierrors "cloudloader/internal/errors"
	"cloudloader/internal/services"
)

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	service *services.HealthService
	errors  *apierrors.ErrorHandler
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(service *services.HealthService, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{
		service: service,
		errors:  errorHandler,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	b, err := backendFrom(r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, h.service.Health(r.Context(), b))
}

// Detail handles GET /api/admin/health
func (h *HealthHandler) Detail(w http.ResponseWriter, r *http.Request) {
	b, err := backendFrom(r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, h.service.Detail(r.Context(), b))
}
