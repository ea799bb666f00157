package http

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "cloudloader/internal/errors"
	"cloudloader/internal/license"
	"cloudloader/internal/middleware"
	"cloudloader/internal/services"
	api "cloudloader/pkg/contracts/api/v1"
)

const handlerTracer = "cloudloader/http"

// LicenseHandler serves the client routes used by the loader
type LicenseHandler struct {
	service   services.LicenseService
	payload   services.PayloadService
	validator *middleware.Validator
	errors    *apierrors.ErrorHandler
	logger    *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service services.LicenseService, payload services.PayloadService, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseHandler{
		service:   service,
		payload:   payload,
		validator: validator,
		errors:    errorHandler,
		logger:    logger.With(slog.String("handler", "license")),
	}
}

// RegisterRoutes adds the client routes to r
func (h *LicenseHandler) RegisterRoutes(r chi.Router) {
	r.Post("/activate", h.Activate)
	r.Post("/validate", h.Validate)
	r.Get("/script", h.Script)
}

// Activate handles POST /api/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(handlerTracer).Start(r.Context(), "license_handler.activate",
		trace.WithAttributes(
			attribute.String("http.route", "/api/activate"),
			attribute.String("request_id", chimw.GetReqID(r.Context())),
		),
	)
	defer span.End()
	r = r.WithContext(ctx)

	var req api.ActivateRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if fp := middleware.Fingerprint(r); fp != "" {
		req.HWID = fp
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	b, err := backendFrom(r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("storage.backend", b.Name()))

	resp, err := h.service.Activate(ctx, b, req, middleware.ClientIP(r))
	if err != nil {
		span.RecordError(err)
		var blocked *services.BlockedError
		if errors.As(err, &blocked) {
			secs := int(math.Ceil(blocked.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			h.errors.HandleError(w, r, apierrors.TooManyAttempts(secs))
			return
		}
		h.errors.HandleError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.Bool("activation.accepted", resp.Accepted),
		attribute.String("activation.reason", string(resp.Reason)),
	)
	render.JSON(w, r, resp)
}

// Validate handles POST /api/validate
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(handlerTracer).Start(r.Context(), "license_handler.validate",
		trace.WithAttributes(attribute.String("http.route", "/api/validate")),
	)
	defer span.End()
	r = r.WithContext(ctx)

	var req api.ValidateRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if fp := middleware.Fingerprint(r); fp != "" {
		req.HWID = fp
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	b, err := backendFrom(r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	resp, err := h.service.Validate(ctx, b, req.HWID)
	if err != nil {
		span.RecordError(err)
		h.errors.HandleError(w, r, err)
		return
	}
	span.SetAttributes(attribute.Bool("validation.valid", resp.Valid))
	render.JSON(w, r, resp)
}

// Script handles GET /api/script
func (h *LicenseHandler) Script(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(handlerTracer).Start(r.Context(), "license_handler.script",
		trace.WithAttributes(attribute.String("http.route", "/api/script")),
	)
	defer span.End()
	r = r.WithContext(ctx)

	fp := middleware.Fingerprint(r)
	if fp == "" {
		h.errors.HandleError(w, r, apierrors.ErrValidation("hwid", api.FingerprintHeader+" header is required"))
		return
	}

	b, err := backendFrom(r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	resp, err := h.payload.Script(ctx, b, fp)
	switch {
	case errors.Is(err, services.ErrNotActivated), errors.Is(err, services.ErrRoleNotAllowed):
		h.logger.InfoContext(ctx, "payload refused",
			slog.String("device", license.HashFingerprint(fp)),
			slog.String("reason", err.Error()))
		h.errors.HandleError(w, r, apierrors.New(http.StatusForbidden, apierrors.CodeForbidden, err.Error()))
		return
	case err != nil:
		span.RecordError(err)
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}
