package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"courier/config"
	"courier/internal/app"
	"courier/internal/domain/models"
	"courier/internal/lib/logger/sl"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

const _recheckPeriod = 30 * time.Second

func main() {
	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	log.Info("courier", "env", cfg.Env)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storageApp, initStorageErr := app.NewStorageApp(log, cfg.StoragePath, cfg.StorageSecret)
	if initStorageErr != nil {
		panic(initStorageErr)
	}
	defer func(storageApp *app.StorageApp) {
		if err := storageApp.Stop(); err != nil {
			log.Error("closing storage app", sl.Err(err))
		}
	}(storageApp)

	application, err := app.New(log, cfg, storageApp)
	if err != nil {
		panic(err)
	}
	defer func(application *app.App) {
		if err := application.Stop(); err != nil {
			log.Error("closing app", sl.Err(err))
		}
	}(application)

	route := application.Sessions.Check(rootCtx)
	log.Info("initial route", slog.String("route", route.String()))

	// Re-run the check while parked on a fallback screen, like the app does
	// when the user taps "retry".
	ticker := time.NewTicker(_recheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			stop()
			log.Info("Received shutdown signal, shutting down gracefully")
			return
		case <-ticker.C:
			switch application.Navigator.Current() {
			case models.RouteNetworkError, models.RouteError:
				application.Sessions.Check(rootCtx)
			}
		}
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
