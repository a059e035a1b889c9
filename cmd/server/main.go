package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soundledger/royaltystream/internal/config"
	"github.com/soundledger/royaltystream/internal/db"
	"github.com/soundledger/royaltystream/internal/export"
	"github.com/soundledger/royaltystream/internal/ingestion"
	"github.com/soundledger/royaltystream/internal/middleware"
	"github.com/soundledger/royaltystream/internal/reporting"
	"github.com/soundledger/royaltystream/internal/repository"
	"github.com/soundledger/royaltystream/internal/uploads"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

func main() {
	// Optional .env for local development; real deployments use env vars.
	_ = godotenv.Load()

	logger, err := config.NewLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(".")
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer conn.Close()

	if err := db.RunMigrations(cfg.Database); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Repositories
	uploadRepo := repository.NewUploadRepository(conn.Pool)
	transactionRepo := repository.NewTransactionRepository(conn.Pool)

	// Pipeline
	pipeline := ingestion.NewPipeline(
		uploadRepo,
		transactionRepo,
		ingestion.NewLoader(),
		ingestion.NewMapper(ingestion.CoercionLenient),
		logger,
		ingestion.Options{
			RunTimeout:       cfg.Pipeline.RunTimeout,
			CheckpointEvery:  cfg.Pipeline.CheckpointEvery,
			MaxErrorMessages: cfg.Pipeline.MaxErrorMessages,
		},
	)

	// Stalled upload detection
	sweeper := ingestion.NewSweeper(uploadRepo, logger, cfg.Sweeper.StaleAfter)
	if err := sweeper.Start(cfg.Sweeper.Schedule); err != nil {
		logger.Fatal("Failed to start sweeper", zap.Error(err))
	}
	defer sweeper.Stop()

	// Services and handlers
	uploadService := uploads.NewService(uploadRepo, transactionRepo, pipeline, cfg.Storage.Dir, logger)
	uploadHandler := uploads.NewHTTPHandler(uploadService)

	reportingService := reporting.NewService(transactionRepo)
	reportingHandler := reporting.NewHTTPHandler(reportingService)

	exportService := export.NewService(transactionRepo)
	exportHandler := export.NewHTTPHandler(exportService)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	mux := http.NewServeMux()
	mux.Handle("/uploads", corsHandler.Handler(middleware.LoggingMiddleware(logger, uploadHandler)))
	mux.Handle("/uploads/", corsHandler.Handler(middleware.LoggingMiddleware(logger, uploadHandler)))
	mux.Handle("/transactions", corsHandler.Handler(middleware.LoggingMiddleware(logger, reportingHandler)))
	mux.Handle("/transactions/", corsHandler.Handler(middleware.LoggingMiddleware(logger, reportingHandler)))
	mux.Handle("/transactions/export", corsHandler.Handler(middleware.LoggingMiddleware(logger, exportHandler)))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
