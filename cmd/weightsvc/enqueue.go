package main

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"weightsvc/internal/adapter/rabbitmq"
	"weightsvc/internal/domain"
)

func newEnqueueCmd(e *env) *cobra.Command {
	var (
		tgID   string
		weight float64
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Publish one measurement event to the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			msg := domain.Envelope{Weight: weight, TgID: tgID, MessageTimestamp: &domain.Timestamp{Time: now}}
			if err := msg.Validate(); err != nil {
				return err
			}

			p, err := rabbitmq.NewPublisher(e.cfg.RabbitURL, e.cfg.Queue)
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()

			if err := p.Publish(cmd.Context(), msg); err != nil {
				return errors.Wrap(err, "enqueue")
			}
			e.logger.Info("measurement enqueued", "queue", e.cfg.Queue, "tg_id", tgID, "weight", weight)
			return nil
		},
	}
	cmd.Flags().StringVar(&tgID, "tg-id", "", "correlation key of the user")
	cmd.Flags().Float64Var(&weight, "weight", 0, "weight to record")
	cmd.Flags().String("queue", "", "queue to publish to")
	return cmd
}
