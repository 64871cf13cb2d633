package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"ms-roster/internal/auth"
	"ms-roster/internal/bookings"
	bookingsdb "ms-roster/internal/bookings/db"
	"ms-roster/internal/commerce"
	"ms-roster/internal/config"
	"ms-roster/internal/database/migrations"
	"ms-roster/internal/events"
	"ms-roster/internal/fields"
	fieldsdb "ms-roster/internal/fields/db"
	"ms-roster/internal/kafka"
	"ms-roster/internal/logger"
	"ms-roster/internal/manifest"
	"ms-roster/internal/roster_api"
	"ms-roster/internal/sse"
	"ms-roster/internal/syncer"
	"ms-roster/internal/syncer/lock"
	"ms-roster/internal/validation"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"golang.org/x/sync/errgroup"
)

func connectDatabase(cfg config.DatabaseConfig, logger *logger.Logger) *bun.DB {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			logger.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		sqldb.Close()
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	logger.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New())
}

// syncGuard uses a Redis lock when REDIS_ADDR is set so replicas share single-flight, else an in-process lock.
func syncGuard(ctx context.Context, cfg *config.Config, logger *logger.Logger) (lock.Guard, *redis.Client) {
	if cfg.Redis.Addr == "" {
		logger.Warn("REDIS", "REDIS_ADDR not set, sync single-flight is limited to this process")
		return lock.NewLocalGuard(), nil
	}
	client, err := lock.NewRedisClient(ctx, cfg.Redis.Addr, logger)
	if err != nil {
		logger.Fatal("REDIS", err.Error())
	}
	return lock.NewRedisGuard(client, cfg.Sync.LockTTL, logger), client
}

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	logger.Info("APP", "Starting roster service initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bunDB := connectDatabase(cfg.Database, logger)
	defer bunDB.Close()

	if cfg.Migrations.AutoMigrate {
		runner := migrations.NewRunner(bunDB, migrations.Options{Dir: cfg.Migrations.Dir, AutoMigrate: true}, logger)
		if err := runner.Run(); err != nil {
			logger.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
		}
		logger.Info("DATABASE", "Migrations applied")
	}

	guard, redisClient := syncGuard(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	var publisher kafka.Publisher = kafka.NopPublisher{}
	if cfg.Kafka.Enabled {
		logger.Info("KAFKA", fmt.Sprintf("Using Kafka brokers %v", cfg.Kafka.Brokers))
		requiredTopics := []string{cfg.Kafka.Topics.SyncCompleted, cfg.Kafka.Topics.OrdersUpserted, cfg.Kafka.Topics.OrderWebhooks}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, requiredTopics, logger); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		publisher = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, logger)
		logger.Info("KAFKA", "Kafka producer initialized successfully")
	}
	defer publisher.Close()

	store := bookingsdb.New(bunDB)
	registry := fields.NewRegistry(fieldsdb.New(bunDB), logger, fields.WithStaleYears(cfg.Fields.StaleYears))
	builder := manifest.NewBuilder(store, registry, logger,
		manifest.WithSeatBreakdown(cfg.Manifest.SeatBreakdown),
		manifest.WithDefaultColumns(cfg.Manifest.DefaultColumns),
	)
	emitter := sse.NewSyncEventEmitter()

	api := commerce.NewClient(cfg.Commerce, &http.Client{Timeout: cfg.Commerce.Timeout}, logger)
	orch := syncer.NewOrchestrator(syncer.Deps{
		Store:       store,
		Commerce:    api,
		Fields:      registry,
		Normalizer:  commerce.NewNormalizer(cfg.Commerce.UnconfirmedStatuses),
		Guard:       guard,
		Publisher:   publisher,
		Broadcaster: emitter,
		Logger:      logger,
	}, cfg.Sync, syncer.WithPageSize(api.PageSize()))

	verifier, err := auth.NewVerifier(ctx, cfg.Auth)
	if err != nil {
		logger.Fatal("AUTH", err.Error())
	}
	if verifier == nil {
		logger.Warn("AUTH", "No OIDC_ISSUER or AUTH_JWT_SECRET configured, API is open")
	}

	handler := roster_api.NewHandler(
		events.NewEventService(store, builder, logger),
		bookings.NewBookingService(store, registry, validation.New(), logger),
		registry,
		builder,
		orch,
		emitter,
		logger,
	)
	handler.Ping = bunDB.PingContext

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      handler.Router(auth.Middleware(verifier, logger)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP", fmt.Sprintf("Roster service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.Sync.ScheduleInterval > 0 {
		g.Go(func() error {
			scheduler, err := gocron.NewScheduler()
			if err != nil {
				return err
			}
			if _, err := orch.Schedule(gctx, scheduler, cfg.Sync.ScheduleInterval); err != nil {
				return err
			}
			scheduler.Start()
			logger.Info("SYNC", fmt.Sprintf("Incremental sync scheduled every %s", cfg.Sync.ScheduleInterval))

			<-gctx.Done()
			return scheduler.Shutdown()
		})
	}

	if cfg.Kafka.Enabled && cfg.Kafka.Topics.OrderWebhooks != "" {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topics.OrderWebhooks, logger)
		g.Go(func() error {
			defer consumer.Close()
			return consumer.ConsumeOrderWebhooks(gctx, func(ctx context.Context, wh kafka.OrderWebhook) error {
				_, err := orch.SyncOrder(ctx, wh.OrderID)
				return err
			})
		})
	}

	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	if err := g.Wait(); err != nil {
		logger.Error("APP", fmt.Sprintf("Service stopped with error: %v", err))
		return
	}
	logger.Info("APP", "Roster service shutdown complete")
}
