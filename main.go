package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-grouping/internal/auth"
	"ms-grouping/internal/booking"
	"ms-grouping/internal/booking/booking_api"
	booking_db "ms-grouping/internal/booking/db"
	"ms-grouping/internal/config"
	"ms-grouping/internal/grouplock"
	"ms-grouping/internal/identity"
	"ms-grouping/internal/invites"
	"ms-grouping/internal/kafka"
	"ms-grouping/internal/logger"
	"ms-grouping/internal/notify"
	"ms-grouping/internal/notify/notify_api"
	"ms-grouping/internal/rewards"
	"ms-grouping/internal/smartgroup"
	smartgroup_db "ms-grouping/internal/smartgroup/db"
	"ms-grouping/internal/smartgroup/smartgroup_api"
	"ms-grouping/internal/sweep"
)

func verifyConnections(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*bun.DB, *redis.Client) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Database.Username, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)

	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", dsn)
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
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	logger.Info("DATABASE", "✅ PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}

	logger.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s", cfg.Redis.Addr))
	return bunDB, redisClient
}

func bootstrapTables(ctx context.Context, bunDB *bun.DB, logger *logger.Logger) {
	// Dev convenience with CREATE TABLE IF NOT EXISTS semantics; production
	// schema changes go through the SQL migrations (cmd/migrate).
	if err := identity.CreateTables(ctx, bunDB); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to create users table: %v", err))
	}
	if err := booking_db.CreateTables(ctx, bunDB); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to create booking tables: %v", err))
	}
	if err := smartgroup_db.CreateTables(ctx, bunDB); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to create smart group tables: %v", err))
	}
	logger.Info("DATABASE", "Schema bootstrap complete")
}

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	logger.Info("APP", "Starting Grouping Service initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx := context.Background()

	logger.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, logger)
	defer bunDB.Close()
	defer redisClient.Close()

	bootstrapTables(ctx, bunDB, logger)

	logger.Info("KAFKA", fmt.Sprintf("Using Kafka brokers: %v", cfg.Kafka.Brokers))
	kafkaProducer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer kafkaProducer.Close()
	logger.Info("KAFKA", "Kafka producer initialized successfully")

	if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, kafka.GroupingTopics()); err != nil {
		logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	} else {
		logger.Info("KAFKA", "Required topics ensured successfully")
	}

	emitter := notify.NewGroupEventEmitter()
	broadcaster := notify.NewBroadcaster(kafkaProducer, emitter)
	rewardLedger := rewards.NewPublisher(kafkaProducer)
	users := &identity.DB{Bun: bunDB}
	lock := grouplock.New(redisClient, grouplock.Options{
		TTL:         cfg.Lock.TTL,
		AcquireWait: cfg.Lock.AcquireWait,
		RetryDelay:  cfg.Lock.RetryDelay,
	})
	qr := invites.NewQRGenerator(cfg.Share.BaseURL)

	bookingService := booking.NewBookingService(
		&booking_db.DB{Bun: bunDB}, lock, users, rewardLedger, broadcaster, logger)
	smartGroupService := smartgroup.NewSmartGroupService(
		&smartgroup_db.DB{Bun: bunDB}, lock, users, rewardLedger, broadcaster,
		smartgroup.Policy{
			MaxActiveGroupsPerCreator: cfg.SmartGroups.MaxActivePerCreator,
			CreationCooldown:          cfg.SmartGroups.CreationCooldown,
			GroupTTL:                  cfg.SmartGroups.GroupTTL,
		}, logger)

	bookingHandler := booking_api.NewHandler(bookingService, qr, logger)
	smartGroupHandler := smartgroup_api.NewHandler(smartGroupService, qr, logger)
	sseHandler := notify_api.NewSSEHandler(logger, emitter)

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	// --- Public Routes ---
	sseHandler.RegisterRoutes(r)
	logger.Info("ROUTER", "Event stream endpoints registered")

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth.Issuer))
		logger.Info("AUTH", "OIDC middleware applied to protected API routes")

		r.Route("/api", func(r chi.Router) {
			bookingHandler.RegisterRoutes(r)
			logger.Info("ROUTER", "Group booking routes registered under /api/group-bookings")

			smartGroupHandler.RegisterRoutes(r)
			logger.Info("ROUTER", "Smart group routes registered under /api/smart-groups")
		})
	})

	// No WriteTimeout: the event streams hold their response open.
	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	sweeper := sweep.NewSweeper(bookingService, smartGroupService, cfg.Sweeper.Interval, logger)
	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()

	logger.Info("SWEEP", fmt.Sprintf("Starting background sweep every %s", cfg.Sweeper.Interval))
	go sweeper.Run(sweepCtx)

	go func() {
		logger.Info("HTTP", fmt.Sprintf("🚀 Grouping Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	cancelSweep()

	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "✅ Grouping Service shutdown complete")
	}
}
