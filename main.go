package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	clts "hedgecore/clients"
	"hedgecore/config"
	"hedgecore/internal/app"
)

// loadTimeout bounds the initial Gist-settings fetch so a slow or
// unreachable Gist never blocks startup indefinitely.
const loadTimeout = 30 * time.Second

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	envConfig := config.Load()
	logger.Info("starting hedgecore", zap.Bool("isProd", envConfig.IsProd))

	liveConfig := config.NewLiveConfig(envConfig)

	logger.Info("instantiating clients")
	clients := clts.NewClients(logger, envConfig)

	settingsGistID := os.Getenv("SETTINGS_GIST_ID")
	settingsManager := config.NewSettingsManager(logger, clients.Gist, settingsGistID)

	if settingsManager.IsEnabled() {
		logger.Info("loading settings from gist", zap.String("gist_id", settingsGistID))
		loadCtx, loadCancel := context.WithTimeout(context.Background(), loadTimeout)
		cfg, err := settingsManager.LoadSettings(loadCtx, envConfig)
		loadCancel()
		if err != nil {
			logger.Warn("failed to load settings from gist, using env/defaults", zap.Error(err))
		} else if cfg != nil {
			if err := liveConfig.Update(cfg); err != nil {
				logger.Warn("failed to apply gist settings", zap.Error(err))
			} else {
				logger.Info("settings loaded from gist")
			}
		}
	} else {
		logger.Info("settings gist not configured, using env/defaults")
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	runner := app.NewRunner(clients, liveConfig, settingsManager)
	if err := runner.Run(ctx); err != nil {
		logger.Fatal("runner failed", zap.Error(err))
	}
}
