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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-grouping/internal/booking"
	booking_db "ms-grouping/internal/booking/db"
	"ms-grouping/internal/config"
	"ms-grouping/internal/logger"
	"ms-grouping/internal/smartgroup"
	smartgroup_db "ms-grouping/internal/smartgroup/db"
	"ms-grouping/internal/sweep"
	"ms-grouping/internal/sweep/sweep_api"
)

// Sweep worker entrypoint: flips expired smart groups and departed bookings
// on a ticker, with a small gin admin surface for health checks and manual
// triggers.
func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	logger.Info("APP", "Starting Group Sweeper initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	}

	cfg := config.Load()
	ctx := context.Background()

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Database.Username, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)

	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
	}
	defer sqldb.Close()

	if err := sqldb.Ping(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
	}
	logger.Info("DATABASE", "✅ PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()

	// The sweep legs only touch the database; the coordinator collaborators
	// (lock, identity, rewards, notify) are never reached from them.
	bookingService := booking.NewBookingService(
		&booking_db.DB{Bun: bunDB}, nil, nil, nil, nil, logger)
	smartGroupService := smartgroup.NewSmartGroupService(
		&smartgroup_db.DB{Bun: bunDB}, nil, nil, nil, nil, smartgroup.DefaultPolicy(), logger)

	sweeper := sweep.NewSweeper(bookingService, smartGroupService, cfg.Sweeper.Interval, logger)

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go sweeper.Run(sweepCtx)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	adminHandler := sweep_api.NewHandler(sweeper, logger)
	adminHandler.RegisterRoutes(engine)

	server := &http.Server{
		Addr:         cfg.Sweeper.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("🚀 Group Sweeper admin running on %s", cfg.Sweeper.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Sweeper started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	cancelSweep()

	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "✅ Group Sweeper shutdown complete")
	}
}
