package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/filevault-gateway/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "filevault",
		Short:         "Multi-user file vault gateway over S3-compatible storage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file (default: ./config.yaml if present)")

	root.AddCommand(newServeCmd(&configFile), newReindexCmd(&configFile))
	return root
}

func newServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, newLogger(cfg.Logging))
		},
	}
}

func newReindexCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the per-owner file index from a full storage scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Logging)
			if cfg.Cache.Type != "redis" {
				logger.Warn("cache.type is memory: the rebuilt index lives only as long as this command")
			}

			ctx := cmd.Context()
			srv, cleanup, err := newServer(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			owners, total, err := srv.files.Reindex(ctx)
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			logger.WithFields(logrus.Fields{
				"owners": owners,
				"files":  total,
			}).Info("owner index rebuilt")
			return nil
		},
	}
}

// newLogger 初始化日志
func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func runServer(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	gin.SetMode(cfg.GetGINMode())

	srv, cleanup, err := newServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	httpServer := &http.Server{
		Addr:           cfg.Server.Address,
		Handler:        srv.router(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting server on %s", cfg.Server.Address)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-quit:
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited")
	return nil
}
