// Package app wires configuration, infrastructure, the tenant store,
// the upstream licensing client and the HTTP router into a runnable
// server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"keybroker/internal/config"
	"keybroker/internal/identity"
	"keybroker/internal/infrastructure"
	"keybroker/internal/keygen"
	customMiddleware "keybroker/internal/middleware"
	"keybroker/internal/services"
	"keybroker/internal/tenant/pg"
	handlers "keybroker/internal/transport/http"
)

// Application is the dependency container for the checkout server.
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Store         *pg.Store
	Checkout      services.CheckoutService
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
}

// NewApplication loads configuration and constructs every component.
// Nothing starts listening until Run is called.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("service", infrastructure.ServiceName),
		slog.String("version", infrastructure.ServiceVersion))

	providers, err := infrastructure.InitializeOTel(nil, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	store, err := pg.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open tenant store: %w", err)
	}

	client := keygen.NewClient(
		cfg.Keygen.BaseURL,
		cfg.Keygen.AccountID,
		cfg.Keygen.ProductToken,
		cfg.Keygen.Timeout,
		logger,
	)

	metrics, err := infrastructure.NewCheckoutMetrics(providers.Meter)
	if err != nil {
		logger.Warn("checkout metrics unavailable", slog.String("error", err.Error()))
	}

	checkout := services.NewCheckoutService(
		store,
		client,
		identity.NewDeriver(cfg.Keygen.Secret),
		cfg.Keygen.PolicyID,
		logger,
		metrics,
	)

	app := &Application{
		Config:        cfg,
		Store:         store,
		Checkout:      checkout,
		Logger:        logger,
		OTelProviders: providers,
	}
	app.setupRouter()

	app.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      app.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return app, nil
}

// setupRouter configures the chi router with the full middleware chain
// and all routes.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	r.Group(func(r chi.Router) {
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.Timeout(a.Config.Server.WriteTimeout))
		r.Use(customMiddleware.SecurityHeaders)

		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		r.Route("/api", func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))
			r.Mount("/license-requests", handlers.NewCheckoutHandler(a.Checkout, a.Logger).Routes())
		})

		r.Mount("/healthz", handlers.NewHealthHandler(a.Store, infrastructure.ServiceVersion, a.Logger).Routes())
	})

	// Outside the middleware group so scrapes skip logging and limits.
	if a.OTelProviders != nil && a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

// Start begins serving in a background goroutine. Listen errors cancel
// the supplied context so Run can unwind.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "http server listening",
		slog.String("addr", a.Server.Addr))

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "http server failed",
				slog.String("error", err.Error()))
			cancel()
		}
	}()

	return nil
}

// Stop gracefully stops the application.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if err := a.Store.Close(); err != nil {
		a.Logger.ErrorContext(ctx, "error closing tenant store",
			slog.String("error", err.Error()))
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "error shutting down telemetry",
				slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "application shutdown complete")
	return nil
}

// Run runs the application until interrupted.
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "received interrupt signal")
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}
