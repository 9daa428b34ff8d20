package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/shop-queue/internal/audit"
	"qms/shop-queue/internal/config"
	"qms/shop-queue/internal/httpapi"
	"qms/shop-queue/internal/hub"
	"qms/shop-queue/internal/notify"
	"qms/shop-queue/internal/promoter"
	"qms/shop-queue/internal/queue"
	"qms/shop-queue/internal/scheduler"
	"qms/shop-queue/internal/store"
	"qms/shop-queue/internal/store/memory"
	"qms/shop-queue/internal/store/postgres"
	"qms/shop-queue/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "queue-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Warn("tracing disabled")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("open store")
	}
	defer closeStore()

	displays := hub.New(logger)
	publishers := []queue.Publisher{displays}
	var latest httpapi.SnapshotSource
	if cfg.RedisURL != "" {
		client, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("redis")
		}
		defer client.Close()
		// Snapshots reach local displays through the relay like every
		// other instance's.
		redisPublisher := notify.NewRedisPublisher(client)
		publishers = []queue.Publisher{redisPublisher}
		latest = redisPublisher
		go func() {
			if err := notify.Relay(ctx, client, displays, logger); err != nil {
				logger.WithError(err).Error("queue relay stopped")
			}
		}()
	}

	manager := queue.NewManager(st, queue.Options{
		Recorder:   audit.NewRecorder(st, logger),
		Promoter:   promoter.New(cfg.PromotionFloor),
		Publishers: publishers,
		Logger:     logger,
	})

	sched := scheduler.New(scheduler.Config{
		Interval:    cfg.RecalcInterval,
		Concurrency: cfg.RecalcConcurrency,
		Timeout:     cfg.RecalcTimeout,
	}, manager, logger)
	if err := sched.Start(); err != nil {
		logger.WithError(err).Fatal("start scheduler")
	}

	handler := httpapi.NewHandler(manager, httpapi.Options{Hub: displays, Latest: latest, Logger: logger})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:   cfg.RateLimitPerMinute,
		IPBurst:       cfg.RateLimitBurst,
		ShopPerMinute: cfg.ShopRateLimitPerMinute,
		ShopBurst:     cfg.ShopRateLimitBurst,
	})
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, limiter.Middleware(handler.Routes())), serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("addr", server.Addr).Info("queue-service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("scheduler stop")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}
}

func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Warn("unknown LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func openStore(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (store.Store, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn("using in-memory store with demo data")
		return seedDemo(memory.New()), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return postgres.NewStore(pool), pool.Close, nil
}

func newRedisClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}
