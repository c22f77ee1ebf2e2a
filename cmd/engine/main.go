package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Freeeeeet/class_scheduler/internal/app"
	"github.com/Freeeeeet/class_scheduler/internal/config"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := app.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting class scheduler",
		zap.String("environment", cfg.Environment),
		zap.String("store", cfg.Store),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.Bool("telegram", cfg.TelegramToken != ""))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil {
		logger.Error("Application stopped with error", zap.Error(err))
		return
	}

	logger.Info("Class scheduler stopped")
}
