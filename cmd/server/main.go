package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"enrollment-service/internal/app"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	application, err := app.New()
	if err != nil {
		app.Exit(slog.Default(), "failed to initialize application", err)
	}

	go func() {
		if err := application.Run(); err != nil {
			app.Exit(slog.Default(), "failed to start server", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		app.Exit(slog.Default(), "server forced to shutdown", err)
	}

	slog.Info("server exited gracefully")
}
