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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lalithlochan/zenpush/internal/api"
	"github.com/lalithlochan/zenpush/internal/circuitbreaker"
	"github.com/lalithlochan/zenpush/internal/config"
	"github.com/lalithlochan/zenpush/internal/db"
	"github.com/lalithlochan/zenpush/internal/metrics"
	"github.com/lalithlochan/zenpush/internal/observ"
	"github.com/lalithlochan/zenpush/internal/redis"
	"github.com/lalithlochan/zenpush/internal/sqs"
	"github.com/lalithlochan/zenpush/internal/trigger"
	"github.com/lalithlochan/zenpush/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real environments set variables directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("failed to load timezone: %w", err)
	}

	logger.Info("starting zenpush scheduler",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("timezone", loc.String()),
		zap.Int("window_minutes", cfg.WindowMinutes),
		zap.String("schedule", cfg.TickSchedule),
		zap.String("transport", cfg.PushTransport),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		MaxConns: db.PoolSize(cfg.DispatchConcurrency),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Redis is optional: without it there is no cross-replica tick lock and no rate limiting
	var (
		redisClient *redis.Client
		tickLock    trigger.Locker
		rateLimiter *redis.RateLimiter
	)
	if cfg.RedisHost != "" {
		redisClient, err = redis.New(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, tick lock and rate limiting disabled",
				zap.Error(err),
				zap.String("host", cfg.RedisHost),
			)
		} else {
			defer redisClient.Close()
			tickLock = redis.NewTickLock(redisClient, cfg.TickLockTTL, logger)
			rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
				Limit:  60,
				Window: time.Minute,
			})
		}
	}

	transport, breaker, err := newTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}

	w := worker.New(repo, repo, repo, transport, worker.Config{
		Location:        loc,
		WindowMinutes:   cfg.WindowMinutes,
		DeepLinkScheme:  cfg.DeepLinkScheme,
		Concurrency:     cfg.DispatchConcurrency,
		DispatchTimeout: cfg.DispatchTimeout,
		StaleJobAfter:   cfg.StaleJobAfter,
	}, logger)

	runner := trigger.NewRunner(w, tickLock, logger)

	cronTrigger := trigger.NewCronTrigger(runner, cfg.TickSchedule, loc, logger)
	if err := cronTrigger.Start(ctx); err != nil {
		return fmt.Errorf("failed to start cron trigger: %w", err)
	}
	defer cronTrigger.Stop()

	if cfg.SQSTriggerQueueURL != "" {
		consumer, err := sqs.NewConsumer(ctx, sqs.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSTriggerQueueURL,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create sqs consumer: %w", err)
		}
		go trigger.NewSQSTrigger(runner, consumer, logger).Run(ctx)
	}

	go reportPoolStats(ctx, database, redisClient)

	checks := map[string]api.HealthChecker{"database": database}
	if redisClient != nil {
		checks["redis"] = redisClient
	}
	handler := api.NewHandler(logger, repo, runner, checks, breaker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.OwnerKeyFunc))

		r.With(middleware.Timeout(cfg.DispatchTimeout*2)).Post("/ticks", handler.RunTick)
		r.With(middleware.Timeout(30*time.Second)).Get("/jobs", handler.ListJobs)
		r.With(middleware.Timeout(30*time.Second)).Get("/jobs/{id}", handler.GetJob)
	})

	r.Get("/health", handler.Health)
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.DispatchTimeout*2 + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// newTransport builds the configured push transport. Provider transports are
// wrapped in a circuit breaker; the log transport is not.
func newTransport(ctx context.Context, cfg *config.Config, logger *zap.Logger) (worker.Transport, *circuitbreaker.Breaker, error) {
	var inner worker.Transport

	switch cfg.PushTransport {
	case "sns":
		t, err := worker.NewSNSTransport(ctx, worker.SNSConfig{
			Region:                 cfg.SNSRegion,
			PlatformApplicationARN: cfg.SNSPlatformAppARN,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create SNS transport: %w", err)
		}
		inner = t
	case "fcm":
		t, err := worker.NewFCMTransport(ctx, worker.FCMConfig{
			ProjectID:       cfg.FCMProjectID,
			CredentialsFile: cfg.FCMCredentialsFile,
			Timeout:         cfg.DispatchTimeout,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create FCM transport: %w", err)
		}
		inner = t
	default:
		logger.Warn("using log transport, notifications will not be delivered")
		return worker.NewLogTransport(logger), nil, nil
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:            inner.Name(),
		MaxFailures:     cfg.BreakerMaxFailures,
		RecoveryTimeout: cfg.BreakerRecovery,
	}, logger)

	return circuitbreaker.NewProtectedTransport(inner, breaker, logger), breaker, nil
}

func reportPoolStats(ctx context.Context, database *db.DB, redisClient *redis.Client) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			database.ReportStats()
			if redisClient != nil {
				redisClient.ReportStats()
			}
		}
	}
}
