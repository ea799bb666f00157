package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "cloudloader/internal/errors"
	"cloudloader/internal/middleware"
	"cloudloader/internal/services"
	api "cloudloader/pkg/contracts/api/v1"
)

// AdminHandler serves the operator routes
type AdminHandler struct {
	service   services.AdminService
	auth      *services.AuthService
	payload   services.PayloadService
	health    *HealthHandler
	validator *middleware.Validator
	errors    *apierrors.ErrorHandler
	logger    *slog.Logger

	loginLimit  int
	loginWindow time.Duration
}

// AdminHandlerConfig groups the dependencies of the admin handler
type AdminHandlerConfig struct {
	Service     services.AdminService
	Auth        *services.AuthService
	Payload     services.PayloadService
	Health      *HealthHandler
	Validator   *middleware.Validator
	Errors      *apierrors.ErrorHandler
	Logger      *slog.Logger
	LoginLimit  int
	LoginWindow time.Duration
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(cfg AdminHandlerConfig) *AdminHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		service:     cfg.Service,
		auth:        cfg.Auth,
		payload:     cfg.Payload,
		health:      cfg.Health,
		validator:   cfg.Validator,
		errors:      cfg.Errors,
		logger:      logger.With(slog.String("handler", "admin")),
		loginLimit:  cfg.LoginLimit,
		loginWindow: cfg.LoginWindow,
	}
}

// Routes returns a chi router for the admin endpoints
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(middleware.LoginLimiter(h.loginLimit, h.loginWindow)).Post("/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(middleware.OperatorAuth(h.logger, h.auth))
		r.Use(middleware.AuditLog(h.logger))

		r.Get("/keys", h.ListKeys)
		r.Post("/keys", h.GenerateKeys)
		r.Post("/keys/{code}/reset", h.ResetKey)
		r.Get("/devices", h.ListDevices)
		r.Post("/devices/{fingerprint}/deactivate", h.setDeviceActive(false))
		r.Post("/devices/{fingerprint}/reactivate", h.setDeviceActive(true))
		r.Get("/stats", h.Stats)
		if h.health != nil {
			r.Get("/health", h.health.Detail)
		}
		if h.payload != nil {
			r.Post("/payload/reload", h.ReloadPayload)
		}
	})

	return r
}

// Login handles POST /api/admin/login
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	token, expires, err := h.auth.Login(r.Context(), req.Password)
	if err != nil {
		h.logger.WarnContext(r.Context(), "operator login failed",
			slog.String("remote_addr", middleware.ClientIP(r)),
			slog.String("error", err.Error()))
		h.respondError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "operator logged in",
		slog.String("remote_addr", middleware.ClientIP(r)),
		slog.Time("expires_at", expires))
	render.JSON(w, r, api.LoginResponse{Token: token, ExpiresAt: expires})
}

// ListKeys handles GET /api/admin/keys
func (h *AdminHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	b, err := backendFrom(r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	inv, err := h.service.ListKeys(r.Context(), b)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	render.JSON(w, r, inv)
}

// GenerateKeys handles POST /api/admin/keys
func (h *AdminHandler) GenerateKeys(w http.ResponseWriter, r *http.Request) {
	var req api.GenerateKeysRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
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
	resp, err := h.service.GenerateKeys(r.Context(), b, req.Role, req.Count)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

// ResetKey handles POST /api/admin/keys/{code}/reset
func (h *AdminHandler) ResetKey(w http.ResponseWriter, r *http.Request) {
	b, err := backendFrom(r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	resp, err := h.service.ResetKey(r.Context(), b, chi.URLParam(r, "code"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// ListDevices handles GET /api/admin/devices
func (h *AdminHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	b, err := backendFrom(r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	resp, err := h.service.ListDevices(r.Context(), b)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

func (h *AdminHandler) setDeviceActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := backendFrom(r)
		if err != nil {
			h.errors.HandleError(w, r, err)
			return
		}
		resp, err := h.service.SetDeviceActive(r.Context(), b, chi.URLParam(r, "fingerprint"), active)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		render.JSON(w, r, resp)
	}
}

// Stats handles GET /api/admin/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	b, err := backendFrom(r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	resp, err := h.service.Stats(r.Context(), b)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// ReloadPayload handles POST /api/admin/payload/reload
func (h *AdminHandler) ReloadPayload(w http.ResponseWriter, r *http.Request) {
	if err := h.payload.Reload(); err != nil {
		h.respondError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"status": "reloaded"})
}

// respondError maps service errors onto API errors
func (h *AdminHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrKeyNotFound):
		err = apierrors.NotFoundError("key")
	case errors.Is(err, services.ErrDeviceNotFound):
		err = apierrors.NotFoundError("device")
	case errors.Is(err, services.ErrUnknownRole):
		err = apierrors.ErrValidation("role", err.Error())
	case errors.Is(err, services.ErrInvalidCount):
		err = apierrors.ErrValidation("count", err.Error())
	case errors.Is(err, services.ErrInvalidPassword):
		err = apierrors.New(http.StatusUnauthorized, apierrors.CodeUnauthorized, "Invalid password")
	case errors.Is(err, services.ErrLoginDisabled):
		err = apierrors.New(http.StatusNotFound, apierrors.CodeNotFound, err.Error())
	}
	h.errors.HandleError(w, r, err)
}
