package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/triage/internal/config"
	"github.com/ehr/triage/internal/domain/triage"
	"github.com/ehr/triage/internal/platform/auth"
	"github.com/ehr/triage/internal/platform/cache"
	"github.com/ehr/triage/internal/platform/db"
	"github.com/ehr/triage/internal/platform/logging"
	"github.com/ehr/triage/internal/platform/messaging"
	"github.com/ehr/triage/internal/platform/metrics"
	"github.com/ehr/triage/internal/platform/middleware"
	"github.com/ehr/triage/internal/platform/mqtt"
	"github.com/ehr/triage/internal/platform/scoring"
	"github.com/ehr/triage/internal/platform/webhook"
	"github.com/ehr/triage/internal/platform/websocket"
	"github.com/ehr/triage/migrations"
)

const apiPrefix = "/api/v1/triage"

func main() {
	rootCmd := &cobra.Command{
		Use:   "triage-server",
		Short: "Emergency department triage queue server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the triage API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(ctx context.Context, fn func(context.Context, *db.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrations")
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2}, zerolog.Nop())
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, migrations.FS))
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel, "triage-server")
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsDev() {
		logger.Warn().Msg("running in development mode: unauthenticated requests act as admin")
	}
	serviceTimes, _ := cfg.ServiceTimes()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	hub := websocket.NewHub(logger)
	sink := triage.NewMultiSink(logger, hub, reg)

	// Database (optional)
	var pool *pgxpool.Pool
	repo := triage.Repository(triage.NopRepository{})
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		repo = triage.NewRepoPG(pool)
	} else {
		logger.Warn().Msg("DATABASE_URL not set: queue state is kept in memory only")
	}

	if cfg.RedisURL != "" {
		writer, err := cache.Connect(ctx, cfg.RedisURL, cfg.SnapshotCacheTTL, logger)
		if err != nil {
			logger.Error().Err(err).Msg("redis unavailable, snapshot cache disabled")
		} else {
			defer writer.Close()
			sink.Add(writer)
		}
	}

	if cfg.NATSURL != "" {
		pub, err := messaging.Connect(messaging.Config{
			URL:           cfg.NATSURL,
			Name:          "triage-server",
			SubjectPrefix: cfg.NATSSubjectPrefix,
		}, logger)
		if err != nil {
			logger.Error().Err(err).Msg("nats unavailable, event publishing disabled")
		} else {
			defer pub.Close()
			sink.Add(pub)
		}
	}

	if len(cfg.WebhookURLs) > 0 {
		hooks := webhook.NewSink(webhook.Config{
			URLs:    cfg.WebhookURLs,
			Secret:  cfg.WebhookSecret,
			Events:  cfg.WebhookEvents,
			Retries: 3,
		}, logger)
		go hooks.Run(ctx)
		sink.Add(hooks)
	}

	scorer := reg.InstrumentScorer(scoring.NewClient(scoring.Config{
		BaseURL: cfg.ScoringURL,
		Timeout: cfg.ScoringTimeout,
		Retries: cfg.ScoringRetries,
		APIKey:  cfg.ScoringAPIKey,
	}, logger))

	svc := triage.NewService(triage.ServiceConfig{
		Scorer:              scorer,
		Repo:                repo,
		Sink:                sink,
		ServiceTimes:        serviceTimes,
		CompactionThreshold: cfg.CompactionThreshold,
		Logger:              logger,
	})
	if n, err := svc.Restore(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to restore triage state")
	} else if n > 0 {
		logger.Info().Int("patients", n).Msg("restored queue from database")
	}
	reg.WatchQueue(svc.Summary)

	monitor := triage.NewAlertMonitor(svc, logger)
	monitor.Interval = cfg.AlertPollInterval
	monitor.Workers = cfg.AlertWorkers
	monitor.Retention = cfg.DepartedRetention
	monitor.OnPass = reg.ObservePass
	go monitor.Start(ctx)

	if cfg.MetricsEnabled && cfg.SystemMetricsInterval > 0 {
		go reg.StartSystemMetrics(ctx, cfg.SystemMetricsInterval, logger)
	}

	if cfg.MQTTBroker != "" {
		sub := mqtt.NewSubscriber(mqtt.Config{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
			QoS:      1,
		}, svc, logger)
		if err := sub.Start(); err != nil {
			logger.Error().Err(err).Msg("mqtt unavailable, vitals ingest disabled")
		} else {
			defer sub.Stop()
		}
	}

	var pinger db.Pinger
	var stats func() *db.PoolStats
	if pool != nil {
		pinger = pool
		stats = func() *db.PoolStats { return db.GetPoolStats(pool) }
	}

	e := newServer(cfg, logger, reg)
	registerRoutes(e, cfg, svc, hub, reg)
	e.GET("/health/db", db.HealthHandler(pinger, stats))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with the global middleware chain.
func newServer(cfg *config.Config, logger zerolog.Logger, reg *metrics.Registry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics(reg))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/ws"))
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(authMiddleware(cfg))
	e.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
	e.Use(middleware.Audit(logger, apiPrefix))
	return e
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	verify := auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	})
	if !cfg.IsDev() {
		return verify
	}
	if cfg.AuthIssuer == "" && cfg.AuthJWKSURL == "" && cfg.AuthSigningKey == "" {
		return auth.DevAuthMiddleware(nil)
	}
	return auth.DevAuthMiddleware(verify)
}

func registerRoutes(e *echo.Echo, cfg *config.Config, svc *triage.Service, hub *websocket.Hub, reg *metrics.Registry) {
	e.GET("/health", func(c echo.Context) error {
		s := svc.Summary()
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":       "ok",
			"queue_length": s.Length,
		})
	})
	if cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(reg.Handler()))
	}

	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(e.Group(""))
	triage.NewHandler(svc).RegisterRoutes(e.Group(apiPrefix))
}
