package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/floreser/floreser/internal/booking"
	"github.com/floreser/floreser/internal/config"
	"github.com/floreser/floreser/internal/database"
	"github.com/floreser/floreser/internal/entitlement"
	"github.com/floreser/floreser/internal/handler"
	"github.com/floreser/floreser/internal/logger"
	"github.com/floreser/floreser/internal/metrics"
	"github.com/floreser/floreser/internal/middleware"
	"github.com/floreser/floreser/internal/notification"
	"github.com/floreser/floreser/internal/payment"
	"github.com/floreser/floreser/internal/repository"
	"github.com/floreser/floreser/internal/worker/cleanup"
)

// envFile is read at startup when present. Real environment variables win.
const envFile = ".env"

// Init loads the configuration and installs the global JSON logger writing
// to w. Until the configuration is read the logger runs at info level.
func Init(w io.Writer) (*config.Config, *zap.Logger, error) {
	// 1. Logger first so configuration errors are logged
	log := logger.SetupDefault(w, "info")

	// 2. Configuration
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. Re-level now that LOG_LEVEL is known
	if cfg.LogLevel != "info" {
		log = logger.SetupDefault(w, cfg.LogLevel)
	}
	return cfg, log, nil
}

// Run is the process entry point. args is os.Args[1:].
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck skips full initialization
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer log.Sync()

	log.Info("starting application",
		zap.String("command", string(cmd)),
		zap.String("port", cfg.ServerPort),
		zap.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg, log)
	case CommandMigrate:
		return runMigrate(cfg, log)
	default:
		return runServe(ctx, cfg, log)
	}
}

// openDatabase opens the pool and verifies the connection.
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// server is the wired API with the resources it owns.
type server struct {
	handler http.Handler
	closers []func() error
}

func (s *server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildServer wires repositories, engines and handlers on top of db.
// Metrics are registered on reg.
func buildServer(cfg *config.Config, db *sql.DB, log *zap.Logger, reg *prometheus.Registry) (*server, error) {
	srv := &server{}

	// 1. Metrics
	collector := metrics.NewCollector(reg)

	// 2. Repositories
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	practitionerRepo := repository.NewPostgresPractitionerRepo(db)
	reservationRepo := repository.NewPostgresReservationRepo(db)

	// 3. Entitlements: booking usage is counted per calendar month
	engine, err := entitlement.NewEngine(
		entitlement.DefaultPolicy(),
		userRepo,
		map[entitlement.Permission]entitlement.Meter{
			entitlement.PermBookSessions: {
				Counter:     entitlement.UsageCounterFunc(reservationRepo.CountByClientSince),
				WindowStart: entitlement.MonthStart,
			},
		},
		entitlement.WithDenialRecorder(collector),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build entitlement engine: %w", err)
	}

	// 4. Notifications: log always, Redis when configured
	var dispatcher notification.Dispatcher = notification.NewLogDispatcher(log)
	if cfg.RedisURL != "" {
		rdb, err := notification.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		srv.closers = append(srv.closers, rdb.Close)
		dispatcher = notification.Multi{dispatcher, notification.NewRedisDispatcher(rdb, cfg.NotificationQueue)}
		log.Info("notifications enabled", zap.String("queue", cfg.NotificationQueue))
	}

	// 5. Domain services
	bookingService := booking.NewService(
		reservationRepo, practitionerRepo, engine, dispatcher,
		booking.WithLogger(log),
		booking.WithRecorder(collector),
	)

	var intents payment.IntentAPI
	if cfg.PaymentsEnabled() {
		intents = payment.NewStripeAPI(cfg.StripeSecretKey)
	} else {
		log.Warn("STRIPE_SECRET_KEY is not set; payments are disabled")
	}
	paymentService := payment.NewService(intents, reservationRepo, cfg.StripeCurrency)

	// 6. Router
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     middleware.PerMinute(cfg.RateLimitGeneral),
		GeneralBurst:    cfg.RateLimitGeneral,
		BookingRate:     middleware.PerMinute(cfg.RateLimitBooking),
		BookingBurst:    cfg.RateLimitBooking,
		CleanupInterval: 5 * time.Minute,
	}, log)
	srv.closers = append(srv.closers, func() error { rateLimiter.Stop(); return nil })

	srv.handler = handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		RequestRecorder:   collector,
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),

		BookingService: bookingService,
		AccessService:  engine,
		PaymentService: paymentService,
		TrialDays:      cfg.TrialDays,
	})
	return srv, nil
}

// runServe starts the API server and shuts it down gracefully when ctx is
// cancelled.
func runServe(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// 1. Database
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("database connection established")

	// 2. Wiring
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := buildServer(cfg, db, log, reg)
	if err != nil {
		return err
	}
	defer srv.Close()

	// 3. HTTP server
	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen failed: %w", err)
	case <-ctx.Done():
	}
	log.Info("shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runWorker runs the scheduled jobs until ctx is cancelled. Its metrics are
// served on WorkerMetricsPort.
func runWorker(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// 1. Database
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("database connection established (worker)")

	// 2. Wiring
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	job, metricsHandler := buildWorker(repository.NewPostgresSessionRepo(db), log, reg)

	// 3. Metrics endpoint
	metricsServer := &http.Server{
		Addr:         ":" + cfg.WorkerMetricsPort,
		Handler:      metricsHandler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("worker metrics server starting", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("worker metrics server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("worker metrics server shutdown failed", zap.Error(err))
		}
	}()

	// 4. Jobs
	log.Info("worker starting", zap.String("session_cleanup_schedule", cfg.SessionCleanupSchedule))
	if err := job.Start(ctx, cfg.SessionCleanupSchedule); err != nil {
		return err
	}

	log.Info("worker stopped gracefully")
	return nil
}

// buildWorker wires the session cleanup job to a collector on reg and
// returns the handler exposing reg.
func buildWorker(sessions cleanup.SessionDeleter, log *zap.Logger, reg *prometheus.Registry) (*cleanup.Job, http.Handler) {
	collector := metrics.NewCollector(reg)
	job := cleanup.NewJob(sessions, log, cleanup.WithRecorder(collector))

	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler(reg))
	return job, r
}

// runMigrate applies every pending migration.
func runMigrate(cfg *config.Config, log *zap.Logger) error {
	log.Info("running database migrations",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck requests /health on the local server.
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL hides the credentials of a database URL for logging.
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("redacted")
	}
	u.RawQuery = ""
	return u.String()
}
