package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/auto-dw/pkg/database"
	"github.com/ekaya-inc/auto-dw/pkg/handlers"
	"github.com/ekaya-inc/auto-dw/pkg/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("dw_schema", cfg.Warehouse.DWSchema),
		zap.Float64("confidence_threshold", cfg.Warehouse.ConfidenceThreshold))

	if cfg.Warehouse.MigrateOnStart {
		if err := migrate(ctx, cfg, logger); err != nil {
			return err
		}
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	mux := http.NewServeMux()
	scope := database.WithScopeContext(a.db, logger)

	handlers.NewHealthHandler(cfg, a.db, logger).RegisterRoutes(mux)
	handlers.NewBuildsHandler(a.builds, logger).RegisterRoutes(mux, scope)
	handlers.NewColumnsHandler(a.columnStatus, logger).RegisterRoutes(mux, scope)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.Recoverer(logger)(middleware.RequestLogger(logger)(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting auto-dw", zap.String("addr", server.Addr), zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
