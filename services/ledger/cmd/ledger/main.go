package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	baseconfig "github.com/VictorAbrao/swap-fintech-core-sub000/libs/config"
	"github.com/VictorAbrao/swap-fintech-core-sub000/libs/health"
	"github.com/VictorAbrao/swap-fintech-core-sub000/libs/httpmiddleware"
	"github.com/VictorAbrao/swap-fintech-core-sub000/libs/kafka"
	"github.com/VictorAbrao/swap-fintech-core-sub000/libs/logging"
	"github.com/VictorAbrao/swap-fintech-core-sub000/libs/metrics"
	"github.com/VictorAbrao/swap-fintech-core-sub000/libs/scheduler"
	"github.com/VictorAbrao/swap-fintech-core-sub000/libs/trace"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/config"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/consumer"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/handlers"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/memstore"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/publisher"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/rates"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/service"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/storage"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/store"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/usage"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/migrations"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// backend is what the ledger needs from a storage driver.
type backend interface {
	store.Store
	rates.MarkupSource
}

func main() {
	if err := baseconfig.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "dotenv error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(trace.Config{
		ServiceName: cfg.App.ServiceName,
		Env:         cfg.App.Env,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := metrics.NewRegistry()
	httpMetrics := metrics.NewHTTPMetrics(registry)
	ledgerMetrics := service.NewMetrics(registry)

	ready := health.NewManager(false)

	var st backend
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		if cfg.Storage.MigrateOnStart {
			if err := migrations.Up(cfg.DB.DSN()); err != nil {
				logger.Error("migrations failed", "error", err)
				os.Exit(1)
			}
		}
		pool, err := connectDB(cfg)
		if err != nil {
			logger.Error("db connection failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		pg := storage.New(pool, logger)
		ready.AddCheck("postgres", pg.Ping)
		st = pg
	default:
		logger.Warn("using in-memory storage, balances are lost on restart")
		st = memstore.New()
	}

	markups, closeCache := buildMarkupCache(cfg, st, ready, logger)
	defer closeCache()

	provider := rates.NewHTTPProvider(rates.HTTPProviderConfig{
		BaseURL: cfg.Rates.ProviderURL,
		APIKey:  cfg.Rates.ProviderAPIKey,
		Timeout: cfg.Rates.ProviderTimeout,
		RPS:     cfg.Rates.ProviderRPS,
	}, logger)
	composer := rates.NewComposer(provider, markups, rates.Config{
		HomeCurrency:    cfg.Ledger.HomeCurrency,
		ProviderTimeout: cfg.Rates.ProviderTimeout,
	}, logger, ledgerMetrics)

	tracker := usage.NewTracker(st, logger, usage.WithMetrics(ledgerMetrics))

	jobs := scheduler.New(logger, ledgerMetrics)
	if err := jobs.AddJob(cfg.Usage.RolloverSchedule, usage.RolloverJob{Tracker: tracker}); err != nil {
		logger.Error("scheduler setup failed", "error", err)
		os.Exit(1)
	}

	var (
		producer      kafka.Publisher
		consumerGroup *kafka.Consumer
	)
	if cfg.Kafka.Enabled {
		syncProducer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafka.NewProducerMetrics(registry))
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer syncProducer.Close()
		producer = syncProducer
		if cfg.Kafka.Topics.DeadLetter != "" {
			producer = kafka.NewDLQPublisher(syncProducer, syncProducer, cfg.Kafka.Topics.DeadLetter, logger)
		}

		consumerGroup, err = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger)
		if err != nil {
			logger.Error("kafka consumer init failed", "error", err)
			os.Exit(1)
		}
		consumerGroup.WithDLQ(syncProducer, cfg.Kafka.Topics.DeadLetter)
		defer consumerGroup.Close()
	}

	events := publisher.New(producer, publisher.Topics{
		Operations: cfg.Kafka.Topics.Operations,
		Balances:   cfg.Kafka.Topics.Balances,
	}, cfg.App.ServiceName, logger)

	ledgerService := service.NewLedgerService(st, composer, tracker, events, service.Config{
		DefaultAnnualLimit: cfg.Ledger.DefaultAnnualLimit,
	}, logger, ledgerMetrics)

	api := handlers.New(ledgerService, logger)
	httpServer := buildHTTPServer(cfg, api, ready, registry, httpMetrics, logger)

	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	ready.SetReady(true)
	jobs.Start()

	go func() {
		logger.Info("ledger http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	if consumerGroup != nil {
		settlements := consumer.NewSettlementConsumer(ledgerService, logger)
		go func() {
			logger.Info("ledger consumer starting", "topic", cfg.Kafka.Topics.Settlements)
			if err := consumerGroup.Consume(consumerCtx, []string{cfg.Kafka.Topics.Settlements}, settlements); err != nil {
				logger.Error("kafka consumer error", "error", err)
			}
		}()
	}

	waitForShutdown(httpServer, jobs, ready, consumerCancel, logger)
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// buildMarkupCache fronts the markup tables with the configured cache. The returned func
// releases whatever the cache holds open.
func buildMarkupCache(cfg *config.Config, source rates.MarkupSource, ready *health.Manager, logger *slog.Logger) (rates.MarkupSource, func()) {
	switch cfg.Rates.Cache {
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ready.AddCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		cache := rates.NewRedisMarkupCache(source, client, cfg.Rates.CacheTTL, "", logger)
		return cache, func() { _ = client.Close() }
	case config.CacheMemory:
		return rates.NewMemoryMarkupCache(source, cfg.Rates.CacheTTL), func() {}
	default:
		return source, func() {}
	}
}

func buildHTTPServer(cfg *config.Config, api *handlers.Handler, ready *health.Manager, registry *prometheus.Registry, httpMetrics *metrics.HTTPMetrics, logger *slog.Logger) *http.Server {
	router := gin.New()
	router.Use(httpmiddleware.RequestID(logger))
	router.Use(httpmiddleware.Logger(logger, httpMetrics))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))
	api.Register(router, []byte(cfg.Auth.JWTSecret))

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}
}

func waitForShutdown(httpServer *http.Server, jobs *scheduler.Scheduler, ready *health.Manager, cancel context.CancelFunc, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)
	cancel()
	jobs.Stop()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
