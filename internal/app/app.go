package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"enrollment-service/internal/api"
	"enrollment-service/internal/config"
	"enrollment-service/internal/db"
	"enrollment-service/internal/enrollment"
	"enrollment-service/internal/health"
	"enrollment-service/internal/kafka"
	"enrollment-service/internal/logger"
	"enrollment-service/internal/messaging"
	"enrollment-service/internal/metrics"
	"enrollment-service/internal/middleware"
	"enrollment-service/internal/telemetry"
	"enrollment-service/internal/view"
	"enrollment-service/internal/web"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type App struct {
	config        *config.Config
	router        chi.Router
	server        *http.Server
	logger        *slog.Logger
	db            *bun.DB
	meterProvider *sdkmetric.MeterProvider
	closeProducer func() error
}

func New() (*App, error) {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slogLogger := logger.NewWithServiceContext(ServiceName, Version, cfg.Env)
	slog.SetDefault(slogLogger)
	slogLogger.Info("initializing application", "env", cfg.Env, "git_commit", GitCommit, "build_time", BuildTime)

	meterProvider, err := telemetry.InitMeterProvider(ctx, cfg.Telemetry, ServiceName, Version, slogLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}

	meter := otel.Meter(ServiceName)
	appMetrics, err := metrics.New(ctx, meter, slogLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}
	if err := appMetrics.Health.RegisterServiceInfo(meter, ServiceName, Version, cfg.Env); err != nil {
		slogLogger.Warn("failed to register service info metric", "error", err)
	}

	database, err := db.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.RunMigrations(ctx, database, enrollment.Models(), enrollment.Indexes()...); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := appMetrics.Database.RegisterDB(database.DB, meter); err != nil {
		slogLogger.Warn("failed to register db pool metrics", "error", err)
	}

	repo := enrollment.NewRepository(database, appMetrics)
	checks := map[string]health.Check{
		"postgres": repo.Ping,
	}

	producer, closeProducer, err := newProducer(cfg.Messaging, slogLogger, checks)
	if err != nil {
		database.Close()
		return nil, err
	}

	dependencies := make([]string, 0, len(checks))
	for name := range checks {
		dependencies = append(dependencies, name)
	}
	if err := appMetrics.Health.RegisterDependencies(meter, dependencies...); err != nil {
		slogLogger.Warn("failed to register dependency metrics", "error", err)
	}

	service := enrollment.NewService(repo, producer, appMetrics, slogLogger)

	renderer, err := view.NewHTMLRenderer()
	if err != nil {
		closeProducer()
		database.Close()
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	app := &App{
		config:        cfg,
		router:        chi.NewRouter(),
		logger:        slogLogger,
		db:            database,
		meterProvider: meterProvider,
		closeProducer: closeProducer,
	}

	app.router.Use(chimw.RequestID)
	app.router.Use(chimw.Recoverer)
	app.router.Use(middleware.RequestLogger(slogLogger))
	app.router.Use(middleware.RateLimit(cfg.Server.RateLimitPerMinute))

	health.NewHandler(checks, appMetrics.Health, slogLogger).RegisterRoutes(app.router)
	web.NewHandler(service, renderer, slogLogger).RegisterRoutes(app.router)

	app.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.Server.CORSOrigins))
		api.NewHandler(service, slogLogger).RegisterRoutes(r)
	})

	slogLogger.Info("application initialized successfully")

	return app, nil
}

// newProducer builds the event producer for the configured driver and
// registers its readiness check. A broker that cannot be reached at
// startup downgrades to no events rather than failing the service.
func newProducer(cfg config.MessagingConfig, logger *slog.Logger, checks map[string]health.Check) (enrollment.Producer, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case config.DriverNATS:
		p, err := messaging.NewProducer(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			logger.Warn("failed to initialize NATS producer, events disabled", "error", err)
			return enrollment.NopProducer{}, noop, nil
		}
		checks["nats"] = func(context.Context) error { return p.HealthCheck() }
		logger.Info("NATS producer initialized", "subject", cfg.NATS.Subject)
		return p, p.Close, nil

	case config.DriverKafka:
		p, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			logger.Warn("failed to initialize Kafka producer, events disabled", "error", err)
			return enrollment.NopProducer{}, noop, nil
		}
		logger.Info("Kafka producer initialized", "topic", cfg.Kafka.Topic)
		return p, p.Close, nil

	case config.DriverNone:
		return enrollment.NopProducer{}, noop, nil
	}

	return nil, nil, fmt.Errorf("unknown messaging driver %q", cfg.Driver)
}

func (a *App) Handler() http.Handler {
	return a.router
}

func (a *App) Run() error {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%s", a.config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  time.Duration(a.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(a.config.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(a.config.Server.IdleTimeout) * time.Second,
	}

	a.logger.Info("server starting", "port", a.config.Server.Port)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then releases the producer, the
// database pool and the meter provider in that order.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down server")

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	if err := a.closeProducer(); err != nil {
		errs = append(errs, fmt.Errorf("producer: %w", err))
	}
	db.Close(a.db)
	if err := telemetry.Shutdown(ctx, a.meterProvider, a.logger); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	return errors.Join(errs...)
}

// Exit logs err and terminates the process with a non-zero status.
func Exit(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
