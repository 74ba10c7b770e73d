package cli

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

	"github.com/JakeFAU/channel-discovery-crawler/internal/api"
	"github.com/JakeFAU/channel-discovery-crawler/internal/app"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the crawl workers",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	if err := rt.cfg.RequireSourceKeys(); err != nil {
		return err
	}
	logger := rt.logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, rt.cfg, logger)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}
	defer a.Close()
	if a.Crawler == nil {
		return app.ErrNoSource
	}

	apiServer := api.NewServer(a.Trigger, a.Store, a.Ready, rt.cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", rt.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	workersDone := make(chan error, 1)
	go func() {
		workersDone <- a.RunWorkers(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", rt.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := <-workersDone; err != nil {
		logger.Error("workers stopped with error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
