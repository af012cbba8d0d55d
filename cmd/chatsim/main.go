package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/vovakirdan/pollchat/internal/app"
	"github.com/vovakirdan/pollchat/internal/config"
	"github.com/vovakirdan/pollchat/internal/log"
)

func main() {
	var (
		configPath string
		addr       string
	)
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	flag.Parse()

	bootLogger := log.New("info", "console")
	cfg, resolved, err := config.Load(bootLogger, configPath)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if err := cfg.ValidateServer(); err != nil {
		bootLogger.Fatal().Err(err).Str("path", resolved).Msg("invalid server config")
	}

	logger := log.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg.Server, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize chatsim")
	}

	logger.Info().Str("addr", cfg.Server.Addr).Str("config", resolved).Msg("starting chatsim")
	if err := application.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("chatsim exited with error")
	}
	logger.Info().Msg("chatsim stopped")
}
