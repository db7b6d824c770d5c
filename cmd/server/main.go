package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zjregee/threadchat/internal/config"
	"github.com/zjregee/threadchat/internal/logging"
	"github.com/zjregee/threadchat/internal/server"
	"github.com/zjregee/threadchat/internal/service"
	"github.com/zjregee/threadchat/internal/service/storage"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "threadchat-server",
	Short:        "Serve the thread chat HTTP API",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := storage.Open(ctx, cfg.Database.URI, logger)
	if err != nil {
		logger.Error("Failed to open thread store", zap.Error(err))
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close thread store", zap.Error(err))
		}
	}()

	replier, err := service.NewReplier(ctx, cfg.Reply, logger.Named("reply"))
	if err != nil {
		logger.Error("Failed to create reply model", zap.Error(err))
		return err
	}
	logger.Info("Reply model ready",
		zap.String("provider", replier.Model().Provider),
		zap.String("model", replier.Model().ID),
	)

	threads := service.NewThreadService(store, replier, logger)
	httpServer := server.CreateServer(cfg.Server, server.SetupRoutes(threads, cfg.Server, logger))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, logger)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
		return err
	case <-ctx.Done():
	}

	if err := server.ShutdownServer(httpServer, cfg.Server.ShutdownTimeout, logger); err != nil {
		return err
	}
	return <-errCh
}
