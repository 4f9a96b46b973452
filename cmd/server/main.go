package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/opencivic/srhistory/internal/config"
	"github.com/opencivic/srhistory/internal/db"
	"github.com/opencivic/srhistory/internal/domain"
	"github.com/opencivic/srhistory/internal/export"
	"github.com/opencivic/srhistory/internal/history"
	"github.com/opencivic/srhistory/internal/ingestion"
	"github.com/opencivic/srhistory/internal/logger"
	"github.com/opencivic/srhistory/internal/middleware"
	"github.com/opencivic/srhistory/internal/repository"
	"github.com/opencivic/srhistory/internal/tracker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(os.Getenv("SERVICE_ENVIRONMENT"))
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		zlog.Fatal("failed to connect to database", zap.Error(err))
	}
	defer conn.Close()

	if err := db.RunMigrations(cfg.Database, "./migrations"); err != nil {
		zlog.Fatal("failed to run migrations", zap.Error(err))
	}

	historyRepo := repository.NewHistoryRepository(conn.Pool)
	rejectionRepo := repository.NewRejectionRepository(conn.Pool)

	policy := domain.NewAttributePolicy(cfg.Ingestion.EntityType, cfg.Ingestion.TrackedAttributes)
	trackerService := tracker.NewService(historyRepo, rejectionRepo, policy, tracker.Options{
		StrictOutOfOrder: cfg.Tracker.StrictOutOfOrder,
		MaxRetries:       cfg.Tracker.MaxRetries,
		Workers:          cfg.Tracker.Workers,
	}, zlog)

	ingestionService := ingestion.NewService(trackerService, rejectionRepo, ingestion.Mapping{
		EntityType:      cfg.Ingestion.EntityType,
		KeyColumn:       cfg.Ingestion.KeyColumn,
		TimestampColumn: cfg.Ingestion.TimestampColumn,
		RetiredColumn:   cfg.Ingestion.RetiredColumn,
	}, zlog)

	exportService := export.NewService(historyRepo)

	historyHandler := history.NewHTTPHandler(historyRepo, rejectionRepo)

	mux := http.NewServeMux()
	mux.Handle("/ingest", ingestion.NewHTTPHandler(ingestionService))
	mux.Handle("/history", historyHandler)
	mux.Handle("/history/current", historyHandler)
	mux.Handle("/history/rejections", historyHandler)
	mux.Handle("/export", export.NewHTTPHandler(exportService))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      corsHandler.Handler(middleware.LoggingMiddleware(zlog, mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zlog.Info("starting history server", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal("server forced to shutdown", zap.Error(err))
	}

	zlog.Info("server exited")
}
