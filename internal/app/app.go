package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"cloudloader/internal/config"
	apierrors "cloudloader/internal/errors"
	"cloudloader/internal/infrastructure"
	"cloudloader/internal/license"
	"cloudloader/internal/middleware"
	"cloudloader/internal/services"
	"cloudloader/internal/storage"
	handlers "cloudloader/internal/transport/http"
	"cloudloader/pkg/contracts"
)

const (
	AppName = "Cloud Loader activation backend"

	sweepInterval = time.Minute
)

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Selector      *storage.Selector
	Volatile      *storage.MemoryBackend
	Engine        *license.Engine
	Guard         *license.AttemptGuard
	RateLimiter   *middleware.RateLimiter
	Services      *ServiceContainer
}

// ServiceContainer holds all application services
type ServiceContainer struct {
	License services.LicenseService
	Admin   services.AdminService
	Payload services.PayloadService
	Health  *services.HealthService
	Auth    *services.AuthService
}

// NewApplication loads configuration from configPath and builds the application.
// An empty path searches the usual locations.
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", contracts.Version),
		slog.String("storage_driver", cfg.Storage.Driver))

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	return New(cfg, logger, otelProviders)
}

// New builds the application from an already loaded configuration
func New(cfg *config.Config, logger *slog.Logger, otelProviders *infrastructure.OTelProviders) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := a.initializeStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := a.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	a.setupRouter()
	a.createServer()
	return a, nil
}

// initializeStorage opens the durable backend, seeds the volatile backend and
// builds the selector. The durable backend is seeded on first contact.
func (a *Application) initializeStorage() error {
	ctx := context.Background()

	keys, err := license.SeedKeys(a.Config.Seed.Keys, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to load seed keys: %w", err)
	}

	a.Volatile = storage.NewMemoryBackend()
	n, err := storage.Seed(ctx, a.Volatile.Keys(), keys)
	if err != nil {
		return fmt.Errorf("failed to seed volatile backend: %w", err)
	}
	a.Logger.InfoContext(ctx, "volatile backend seeded", slog.Int("inserted", n), slog.Int("keys", len(keys)))

	durable, err := storage.OpenDurable(a.Config.Storage)
	if err != nil {
		// Fall back to volatile-only serving
		a.Logger.ErrorContext(ctx, "durable backend unavailable, serving volatile only",
			slog.String("driver", a.Config.Storage.Driver),
			slog.String("error", err.Error()))
		durable = nil
	}

	ready := func(ctx context.Context, d storage.Durable) error {
		n, err := storage.Seed(ctx, d.Keys(), keys)
		if err != nil {
			return err
		}
		a.Logger.InfoContext(ctx, "durable backend seeded",
			slog.String("driver", d.Driver()),
			slog.Int("inserted", n))
		return nil
	}

	opts := []storage.SelectorOption{
		storage.WithReady(ready),
		storage.WithPrepareTimeout(a.Config.Storage.PrepareTimeout),
	}
	if a.OTelProviders != nil {
		opts = append(opts, storage.WithMeter(a.OTelProviders.Meter))
	}
	a.Selector = storage.NewSelector(durable, a.Volatile, a.Config.Storage.PingTimeout, a.Logger, opts...)
	return nil
}

// initializeServices builds the license engine and the services on top of it
func (a *Application) initializeServices() error {
	var metrics *license.Metrics
	if a.OTelProviders != nil {
		m, err := license.InitializeMetrics(a.OTelProviders.Meter)
		if err != nil {
			return fmt.Errorf("failed to initialize license metrics: %w", err)
		}
		metrics = m
	}

	a.Engine = license.NewEngine(
		license.WithNicknameMax(a.Config.License.NicknameMax),
		license.WithMetrics(metrics),
		license.WithLogger(a.Logger),
	)
	a.Guard = license.NewAttemptGuard(
		a.Config.License.MaxFailedAttempts,
		a.Config.License.AttemptWindow,
		a.Config.License.BlockDuration,
		a.Logger,
	)

	payload, err := services.NewPayloadService(a.Engine, a.Config.Payload, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize payload service: %w", err)
	}

	a.Services = &ServiceContainer{
		License: services.NewLicenseService(a.Engine, a.Guard, metrics, a.Logger),
		Admin:   services.NewAdminService(a.Engine.Locker(), a.Logger),
		Payload: payload,
		Health:  services.NewHealthService(a.Selector, a.Logger),
		Auth:    services.NewAuthService(a.Config.Security.Admin),
	}

	if rl := a.Config.Security.RateLimit; rl.Enabled {
		a.RateLimiter = middleware.NewRateLimiter(rl.RPS, rl.Burst, a.Logger)
	}
	return nil
}

// setupRouter configures middleware and routes.
// Order: RequestID → RealIP → OTel → Logger → Recoverer → Timeout → Backend
func (a *Application) setupRouter() {
	r := chi.NewRouter()
	errorHandler := apierrors.NewErrorHandler(a.Logger, a.Config.Telemetry.Environment == "development")
	validator := middleware.NewValidator(a.Logger)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// Prometheus metrics endpoint stays outside the request middleware
	if a.OTelProviders != nil && a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	r.Group(func(r chi.Router) {
		if a.OTelProviders != nil {
			otelMiddleware, err := middleware.NewOTelMiddleware(a.OTelProviders.Tracer, a.OTelProviders.Meter)
			if err != nil {
				a.Logger.Error("Failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
			} else {
				r.Use(otelMiddleware.Handler)
			}
		}
		r.Use(middleware.StructuredLogger(a.Logger))
		r.Use(apierrors.RecoveryMiddleware(errorHandler))
		r.Use(middleware.SecurityHeaders)
		if a.Config.Security.EnableCORS {
			r.Use(middleware.CORS(a.Config.Security.AllowedOrigins))
		}
		r.Use(middleware.Timeout(a.Config.Server.RequestTimeout))
		r.Use(middleware.Backend(a.Selector))

		health := handlers.NewHealthHandler(a.Services.Health, errorHandler, a.Logger)
		lic := handlers.NewLicenseHandler(a.Services.License, a.Services.Payload, validator, errorHandler, a.Logger)
		admin := handlers.NewAdminHandler(handlers.AdminHandlerConfig{
			Service:     a.Services.Admin,
			Auth:        a.Services.Auth,
			Payload:     a.Services.Payload,
			Health:      health,
			Validator:   validator,
			Errors:      errorHandler,
			Logger:      a.Logger,
			LoginLimit:  a.Config.Security.Admin.LoginLimit,
			LoginWindow: a.Config.Security.Admin.LoginWindow,
		})

		r.Route("/api", func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))

			r.Get("/health", health.HealthCheck)
			r.Group(func(r chi.Router) {
				if a.RateLimiter != nil {
					r.Use(a.RateLimiter.Handler)
				}
				lic.RegisterRoutes(r)
			})
			r.Mount("/admin", admin.Routes())
		})
	})

	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	a.Router = r
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Server.Addr(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Run serves until ctx is cancelled or the server fails, then shuts down
func (a *Application) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, listener)
}

// Serve runs the application on listener until ctx is cancelled
func (a *Application) Serve(ctx context.Context, listener net.Listener) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", AppName),
		slog.String("version", contracts.Version),
		slog.String("address", listener.Addr().String()),
		slog.String("level", a.Config.Logging.Level))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Guard.Run(gctx, sweepInterval)
		return nil
	})
	if a.RateLimiter != nil {
		g.Go(func() error {
			a.RateLimiter.Run(gctx, sweepInterval)
			return nil
		})
	}
	g.Go(func() error {
		b := a.Selector.Select(gctx)
		a.Logger.InfoContext(gctx, "initial storage backend selected",
			slog.String("backend", b.Name()),
			slog.String("driver", b.Driver()))
		return nil
	})
	g.Go(func() error {
		if err := a.Server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Stop(context.WithoutCancel(ctx))
	})

	return g.Wait()
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}

	if d := a.Selector.Durable(); d != nil {
		if err := d.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "Error closing durable backend", slog.String("error", err.Error()))
		}
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}
