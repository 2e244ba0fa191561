package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/cyphera/wallet-relayer/internal/config"
	"github.com/cyphera/wallet-relayer/internal/logger"
	"github.com/cyphera/wallet-relayer/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	logger.Init(cfg.Stage)
	defer logger.Sync()

	srv, err := server.New(cfg)
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
