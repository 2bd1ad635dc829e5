package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"weightsvc/internal/adapter/rabbitmq"
	"weightsvc/internal/app"
	"weightsvc/internal/metrics"
	"weightsvc/internal/worker"
)

func newWorkerCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume measurement events from RabbitMQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), e)
		},
	}
	cmd.Flags().String("queue", "", "queue to consume")
	cmd.Flags().Int("max-retries", 0, "attempts before a message is dead-lettered")
	return cmd
}

func runWorker(ctx context.Context, e *env) error {
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

	newIngestor := func() worker.Ingestor {
		return app.NewMeasurementService(store, store, c, logger)
	}
	handler := worker.NewHandler(newIngestor, logger, cfg.ProcessTimeout, sink)

	consumer := rabbitmq.NewConsumer(rabbitmq.Config{
		URL:             cfg.RabbitURL,
		Queue:           cfg.Queue,
		DeadLetterQueue: cfg.DeadLetterQueue,
		MaxRetries:      cfg.MaxRetries,
	}, handler, logger)
	defer func() { _ = consumer.Close() }()

	if err := consumer.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		return sink.Run(gctx, cfg.MetricsInterval, metrics.Messages)
	})
	return g.Wait()
}
