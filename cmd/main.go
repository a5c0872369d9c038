/**
 * @description
 * This is the main entry point for the wallet-service. It is responsible for
 * initializing all components of the service, including configuration, the account
 * store, the rate limiter, the event broker, the core application service, the
 * maintenance scheduler and the HTTP server. It wires everything together and starts
 * the service.
 *
 * @dependencies
 * - github.com/joho/godotenv: For local .env loading.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: For the shared rate limiter.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/rabbitmq, pkg/kafka: Event publishers and the collaborator consumer.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/wallet-service/internal/api"
	"github.com/transfa/wallet-service/internal/app"
	"github.com/transfa/wallet-service/internal/config"
	"github.com/transfa/wallet-service/internal/store"
	"github.com/transfa/wallet-service/pkg/kafka"
	rmrabbit "github.com/transfa/wallet-service/pkg/rabbitmq"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	bootLogger := logger.With("component", "bootstrap")

	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		bootLogger.Error("internal api key must be configured", "env", "INTERNAL_API_KEY")
		os.Exit(1)
	}
	bootLogger.Info("starting wallet-service", "port", cfg.ServerPort, "store", cfg.StoreDriver, "broker", cfg.EventBroker)

	ctx := context.Background()

	repository, closeStore, err := openStore(ctx, cfg, bootLogger)
	if err != nil {
		bootLogger.Error("store initialization failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	limiter, closeRedis := openRateLimiter(ctx, cfg, bootLogger)
	defer closeRedis()

	publisher := openPublisher(cfg, bootLogger)
	defer publisher.Close()

	feePolicy, err := app.NewFeePolicy(cfg.TransferFeeMode, cfg.TransferFeeKobo, cfg.TransferFeePercent, cfg.TransferFeeCapKobo)
	if err != nil {
		bootLogger.Error("invalid fee policy", "error", err)
		os.Exit(1)
	}

	numbers := app.NewAccountNumbers(repository, app.AccountNumberOptions{
		Prefix:      cfg.AccountNumberPrefix,
		Digits:      cfg.AccountNumberDigits,
		MaxAttempts: cfg.AccountNumberMaxAttempts,
	}, logger)
	pins := app.NewPINGate(repository, limiter, app.PINOptions{
		MaxAttempts:         cfg.PINMaxAttempts,
		Lockout:             cfg.PINLockout(),
		VerifyRatePerMinute: cfg.PINVerifyRateLimitPerMinute,
	}, logger)
	transfers := app.NewTransferEngine(repository, numbers, feePolicy, limiter, publisher, app.TransferOptions{
		PlatformAccountID: cfg.PlatformAccountID,
		MinAmount:         cfg.MinTransferAmountKobo,
		MaxAmount:         cfg.MaxTransferAmountKobo,
		MaxRetries:        cfg.TransferMaxRetries,
		RatePerMinute:     cfg.TransferRateLimitPerMinute,
		IdempotencyTTL:    cfg.IdempotencyTTL(),
		IdempotencyStale:  cfg.IdempotencyStale(),
		EventExchange:     cfg.EventExchange,
	}, logger)
	history := app.NewHistory(repository, numbers)
	adjustments := app.NewAdjustments(repository, publisher, cfg.EventExchange, cfg.TransferMaxRetries, logger)
	walletService := app.NewService(repository, numbers, pins, transfers, history, adjustments, logger)

	bootCtx, cancelBoot := context.WithTimeout(ctx, 10*time.Second)
	err = walletService.EnsurePlatformAccount(bootCtx, cfg.PlatformAccountID)
	cancelBoot()
	if err != nil {
		bootLogger.Error("platform account setup failed", "account_id", cfg.PlatformAccountID, "error", err)
		os.Exit(1)
	}

	scheduler := app.NewScheduler(repository, cfg.IdempotencyPurgeSchedule, logger)
	if err := scheduler.Start(); err != nil {
		bootLogger.Error("scheduler start failed", "error", err)
		os.Exit(1)
	}

	// Collaborator events only arrive over RabbitMQ; the internal HTTP routes cover
	// the other deployments.
	if cfg.EventBroker == config.EventBrokerRabbitMQ && strings.TrimSpace(cfg.RabbitMQURL) != "" {
		rabbitConsumer, err := rmrabbit.NewConsumer(rmrabbit.ConsumerConfig{
			URL:                cfg.RabbitMQURL,
			Exchange:           cfg.EventExchange,
			Queue:              cfg.CollaboratorEventQueue,
			DeadLetterExchange: cfg.DeadLetterExchange,
			Logger:             logger,
		})
		if err != nil {
			bootLogger.Warn("rabbitmq consumer unavailable; collaborator events disabled", "error", err)
		} else {
			defer rabbitConsumer.Close()
			collaborators := app.NewCollaboratorConsumer(adjustments, publisher, cfg.EventExchange, logger)
			if err := rabbitConsumer.Start(ctx, collaborators.Handlers()); err != nil {
				bootLogger.Error("collaborator consumer start failed", "error", err)
				os.Exit(1)
			}
		}
	}

	verifier, err := api.NewTokenVerifier(api.AuthOptions{
		JWKSURL:    cfg.JWTJWKSURL,
		HMACSecret: cfg.JWTHMACSecret,
		Audience:   cfg.JWTAudience,
		Issuer:     cfg.JWTIssuer,
	})
	if err != nil {
		bootLogger.Error("auth configuration invalid", "error", err)
		os.Exit(1)
	}

	handlers := api.NewWalletHandlers(walletService, logger)
	router := api.WalletRoutes(handlers, api.RouterOptions{
		Auth:           api.AuthMiddleware(verifier),
		InternalAPIKey: cfg.InternalAPIKey,
		AllowedOrigins: cfg.AllowedOrigins(),
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "component", "http", "addr", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "component", "http", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started", "component", "http")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "component", "http", "error", err)
	}
	<-scheduler.Stop().Done()

	logger.Info("shutdown complete", "component", "http")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// openStore returns the configured repository and a function releasing it.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Repository, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using in-memory store; balances are lost on restart")
		return store.NewMemoryRepository(), func() {}, nil
	}

	if cfg.AutoMigrate {
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("database migrations applied")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database url parse failed: %w", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, nil, fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("database connected")
	return store.NewPostgresRepository(dbpool), dbpool.Close, nil
}

// openRateLimiter connects to Redis when configured. Without it throttling is off.
func openRateLimiter(ctx context.Context, cfg config.Config, logger *slog.Logger) (app.RateLimiter, func()) {
	if cfg.RedisURL == "" {
		logger.Warn("redis url missing; rate limiting disabled", "env", "REDIS_URL")
		return nil, func() {}
	}
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("redis url parse failed; rate limiting disabled", "error", err)
		return nil, func() {}
	}
	redisClient := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; rate limiting disabled", "error", err)
		_ = redisClient.Close()
		return nil, func() {}
	}
	logger.Info("redis connected")
	return app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix), func() { _ = redisClient.Close() }
}

// openPublisher picks the event broker. Failures degrade to the no-op publisher so
// money movement never depends on the broker being up.
func openPublisher(cfg config.Config, logger *slog.Logger) rmrabbit.Publisher {
	switch cfg.EventBroker {
	case config.EventBrokerKafka:
		brokers := kafka.ParseBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			logger.Warn("kafka brokers missing; events disabled", "env", "KAFKA_BROKERS")
			return &rmrabbit.EventProducerFallback{}
		}
		logger.Info("kafka publisher configured", "brokers", brokers, "topic", cfg.KafkaTopic)
		return kafka.NewPublisher(brokers, cfg.KafkaTopic)
	case config.EventBrokerRabbitMQ:
		producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
			return &rmrabbit.EventProducerFallback{}
		}
		logger.Info("rabbitmq producer connected")
		return producer
	default:
		return &rmrabbit.EventProducerFallback{}
	}
}
