package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/chatrelay/internal/config"
	"github.com/xiaot623/chatrelay/internal/observability"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Long:  "Run the relay server. Configuration comes from the environment, an optional .env file and the file named by RELAY_CONFIG.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			observability.Init(cmd.OutOrStdout(), cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
}

// runServer serves until ctx is cancelled or the listener fails.
func runServer(ctx context.Context, cfg *config.Config) error {
	log := observability.WithFields("component", "server")

	srv, err := wireServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer srv.store.Close()

	log.Info("starting relay",
		"port", cfg.Port,
		"mode", cfg.Mode,
		"store", cfg.StoreBackend,
		"models", len(cfg.Models),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		srv.hub.Run()
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Port)
		log.Info("http server listening", "addr", addr)
		if err := srv.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down relay")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.echo.Shutdown(shutdownCtx)
		srv.hub.Stop()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("relay stopped")
	return nil
}
