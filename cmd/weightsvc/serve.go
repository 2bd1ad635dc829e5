package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	adapthttp "weightsvc/internal/adapter/http"
	"weightsvc/internal/app"
	"weightsvc/internal/metrics"
)

func newServeCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), e)
		},
	}
	cmd.Flags().String("addr", "", "listen address")
	return cmd
}

func runServe(ctx context.Context, e *env) error {
	cfg, logger := e.cfg, e.logger

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	c, closeCache := openCache(ctx, cfg, logger)
	defer func() { _ = closeCache() }()

	sink, provider, err := newMetrics(logger)
	if err != nil {
		return err
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	ms := app.NewMeasurementService(store, store, c, logger)
	us := app.NewUserService(store, logger)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           adapthttp.New(ms, us, store, sink, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return sink.Run(gctx, cfg.MetricsInterval, metrics.Requests)
	})
	return g.Wait()
}
