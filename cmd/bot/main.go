package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jun/drivebot/internal/app"
	"github.com/jun/drivebot/internal/bot/telegram"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	token := os.Getenv("BOT_TOKEN")
	if token == "" {
		logger.Error("BOT_TOKEN is not set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport, err := telegram.New(token, logger)
	if err != nil {
		logger.Error("failed to create telegram transport", "error", err)
		os.Exit(1)
	}

	application, err := app.New(ctx, transport, logger)
	if err != nil {
		logger.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	if err := application.Start(ctx); err != nil {
		logger.Error("failed to start application", "error", err)
		os.Exit(1)
	}

	logger.Info("bot started")
	transport.Listen(ctx, application.Handlers)

	logger.Info("shutting down")
	application.Shutdown()
}
