package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appcashbox "github.com/delivery/backend/internal/application/cashbox"
	"github.com/delivery/backend/internal/infrastructure/cache"
	"github.com/delivery/backend/internal/infrastructure/config"
	"github.com/delivery/backend/internal/infrastructure/event"
	"github.com/delivery/backend/internal/infrastructure/logger"
	"github.com/delivery/backend/internal/infrastructure/persistence"
	"github.com/delivery/backend/internal/infrastructure/telemetry"
	"github.com/delivery/backend/internal/interfaces/http/handler"
	"github.com/delivery/backend/internal/interfaces/http/router"
	"github.com/delivery/backend/internal/interfaces/stream"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "cashbox: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		Service:    cfg.App.Name,
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	providers, err := telemetry.Setup(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	if providers.Logs.IsEnabled() {
		level, lerr := zapcore.ParseLevel(cfg.Log.Level)
		if lerr != nil {
			level = zapcore.InfoLevel
		}
		if log, err = logger.New(logCfg, logger.WithCore(providers.Logs.ZapCore(level))); err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
	}
	defer func() {
		_ = logger.Sync(log)
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Warn("Telemetry shutdown incomplete", zap.Error(err))
		}
	}()

	log.Info("Starting cashbox",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.HTTP.Port),
	)

	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, log, logger.MapGormLogLevel(cfg.Log.Level))
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := telemetry.DBTracing(cfg.Telemetry, db.IsPostgres(), log).Register(db.DB); err != nil {
		return fmt.Errorf("register database tracing: %w", err)
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	poolMetrics, err := telemetry.NewDBPoolMetrics(providers.Meter.Meter(telemetry.TracerName), func() sql.DBStats {
		return sqlDB.Stats()
	})
	if err != nil {
		return fmt.Errorf("register pool metrics: %w", err)
	}
	defer func() {
		_ = poolMetrics.Stop()
	}()
	log.Info("Database connected")

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		if redisClient, err = cache.NewRedisClient(ctx, cfg.Redis); err != nil {
			return err
		}
		defer func() {
			_ = redisClient.Close()
		}()
		log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
	}

	serializer := event.NewEventSerializer()
	event.RegisterAllEvents(serializer)
	bus := event.NewAsyncEventBus(log, cfg.Cashbox.NotificationBuffer,
		event.WithDropHook(providers.Metrics.RecordDroppedEvent))
	if redisClient != nil {
		relay := event.NewRedisRelay(redisClient, cfg.Cashbox.PubSubChannel, serializer, log)
		bus.Subscribe(relay, relay.EventTypes()...)
	}
	if err := bus.Start(ctx); err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}

	opts := []appcashbox.Option{
		appcashbox.WithEventPublisher(bus),
		appcashbox.WithLogger(log),
		appcashbox.WithMetrics(providers.Metrics),
		appcashbox.WithRetryPolicy(appcashbox.RetryPolicy{
			MaxRetries:      cfg.Cashbox.MaxRetries,
			InitialInterval: cfg.Cashbox.RetryInitialInterval,
			MaxInterval:     cfg.Cashbox.RetryMaxInterval,
		}),
		appcashbox.WithDefaultCreatedBy(cfg.Cashbox.DefaultCreatedBy),
	}
	if redisClient != nil {
		rates := cache.NewRateCache(redisClient, cfg.Cashbox.RateCacheTTL, log)
		opts = append(opts,
			appcashbox.WithRateDecorator(rates.Source),
			appcashbox.WithRateInvalidator(rates.Invalidate),
		)
	}
	uow := persistence.NewGormUnitOfWork(db)
	lifecycle := appcashbox.NewLifecycleService(uow, opts...)

	var consumer *stream.TransitionConsumer
	if cfg.Consumer.Enabled {
		if redisClient == nil {
			log.Warn("Transition consumer enabled but Redis is disabled; not consuming")
		} else {
			store := cache.NewIdempotencyStore(redisClient, log)
			defer func() {
				_ = store.Close()
			}()
			consumer = stream.NewTransitionConsumer(redisClient, lifecycle, store, stream.ConfigFrom(cfg.Consumer), log)
			if err := consumer.Start(ctx); err != nil {
				return fmt.Errorf("start transition consumer: %w", err)
			}
		}
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	health := handler.NewHealthHandler(2*time.Second).
		WithCheck("database", db.PingContext)
	if redisClient != nil {
		health.WithCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	engine := router.NewEngine(router.Options{
		Logger:         log,
		ServiceName:    cfg.Telemetry.ServiceName,
		Tracing:        providers.Tracer.IsEnabled(),
		Meter:          meterFor(providers),
		RequestTimeout: cfg.HTTP.ReadTimeout,
	}, health, handler.NewSystemHandler(cfg.App.Name, telemetry.ServiceVersion, cfg.App.Env))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("Ops server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err := <-serveErr:
		if err != nil {
			log.Error("Ops server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if consumer != nil {
		if err := consumer.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("consumer shutdown: %w", err))
		}
	}
	if err := bus.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("event bus shutdown: %w", err))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	log.Info("Cashbox exited gracefully")
	return nil
}

// meterFor returns the HTTP meter, or nil when metrics export is off
func meterFor(p *telemetry.Providers) metric.Meter {
	if !p.Meter.IsEnabled() {
		return nil
	}
	return p.Meter.Meter("http.server")
}
