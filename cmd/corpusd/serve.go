package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/universal-corpus/patterns/config"
	"github.com/universal-corpus/patterns/core/store"
	"github.com/universal-corpus/patterns/server"
	"github.com/universal-corpus/patterns/sqlite"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			emitter, err := store.NewEmitter()
			if err != nil {
				return fmt.Errorf("failed to create event bus: %w", err)
			}
			repo, err := sqlite.Open(cfg.Database.Path, logger, emitter)
			if err != nil {
				return err
			}
			defer repo.Close()

			srv := &http.Server{
				Addr:              cfg.Server.Addr(),
				Handler:           server.New(repo, logger).Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() {
				logger.Info("listening", zap.String("addr", srv.Addr))
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("shutdown failed: %w", err)
				}
			}
			return nil
		},
	}
}
