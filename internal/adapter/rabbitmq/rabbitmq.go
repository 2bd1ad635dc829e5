// Package rabbitmq is the AMQP transport for inbound measurement events.
package rabbitmq

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"weightsvc/internal/domain"
	"weightsvc/internal/worker"
)

// RetryHeader carries the number of times a message has been retried.
const RetryHeader = "x-retry-count"

// Config describes the broker endpoint and queue topology.
type Config struct {
	URL             string
	Queue           string
	DeadLetterQueue string
	MaxRetries      int
	ConsumerTag     string
}

// MessageHandler decides the fate of one payload.
type MessageHandler interface {
	Handle(ctx context.Context, body []byte) worker.Disposition
}

// channel is what the consumer and publisher need once the topology exists.
// PublishConfirmed returns nil only after the broker has taken responsibility
// for msg.
type channel interface {
	PublishConfirmed(ctx context.Context, key string, msg amqp.Publishing) error
	Cancel(consumer string, noWait bool) error
	Close() error
}

// declareQueue declares a durable, non-exclusive, non-auto-delete queue with
// no extra arguments so that producers and consumers agree on its shape.
func declareQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(name, true, false, false, false, nil)
	return errors.Wrapf(err, "declare queue %s", name)
}

// Consumer pulls deliveries one at a time and settles each one according to
// the handler's Disposition.
type Consumer struct {
	cfg     Config
	handler MessageHandler
	logger  *slog.Logger

	conn       *amqp.Connection
	ch         channel
	deliveries <-chan amqp.Delivery
	connClosed <-chan *amqp.Error

	closeOnce sync.Once
	closeErr  error
}

// NewConsumer returns an unstarted Consumer.
func NewConsumer(cfg Config, handler MessageHandler, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "weightsvc-" + uuid.NewString()[:8]
	}
	return &Consumer{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "consumer", "queue", cfg.Queue),
	}
}

// Start connects, declares the queues, sets prefetch to one and registers the
// consumer with manual acknowledgement. Any failure leaves nothing open.
func (c *Consumer) Start(ctx context.Context) error {
	conn, err := amqp.DialConfig(c.cfg.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp.DefaultDial(30 * time.Second),
	})
	if err != nil {
		return errors.Wrap(err, "dial broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "open channel")
	}

	fail := func(err error) error {
		ch.Close()
		conn.Close()
		return err
	}

	if err := declareQueue(ch, c.cfg.Queue); err != nil {
		return fail(err)
	}
	if c.cfg.DeadLetterQueue != "" {
		if err := declareQueue(ch, c.cfg.DeadLetterQueue); err != nil {
			return fail(err)
		}
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fail(errors.Wrap(err, "set prefetch"))
	}
	confirmed, err := newConfirmChannel(ch)
	if err != nil {
		return fail(err)
	}
	deliveries, err := ch.Consume(c.cfg.Queue, c.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fail(errors.Wrap(err, "register consumer"))
	}

	c.conn = conn
	c.ch = confirmed
	c.deliveries = deliveries
	c.connClosed = conn.NotifyClose(make(chan *amqp.Error, 1))
	c.logger.InfoContext(ctx, "consumer started", "tag", c.cfg.ConsumerTag, "dead_letter_queue", c.cfg.DeadLetterQueue)
	return nil
}

// Run processes deliveries until ctx is cancelled or the broker goes away.
// On cancellation the consumer tag is cancelled first; a message already in
// progress is finished and settled before Run returns. Losing the broker
// returns an error.
func (c *Consumer) Run(ctx context.Context) error {
	if c.deliveries == nil {
		return errors.New("consumer not started")
	}
	for {
		if ctx.Err() != nil {
			return c.drain()
		}
		select {
		case <-ctx.Done():
			return c.drain()
		case amqpErr, ok := <-c.connClosed:
			if !ok || amqpErr == nil {
				return errors.New("broker connection closed")
			}
			return errors.Wrap(amqpErr, "broker connection lost")
		case d, ok := <-c.deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("delivery channel closed by broker")
			}
			// The in-flight message is never abandoned because of shutdown.
			if err := c.process(context.WithoutCancel(ctx), d); err != nil {
				return err
			}
		}
	}
}

func (c *Consumer) drain() error {
	c.logger.Info("stopping consumer", "tag", c.cfg.ConsumerTag)
	if err := c.ch.Cancel(c.cfg.ConsumerTag, false); err != nil {
		return errors.Wrap(err, "cancel consumer")
	}
	return nil
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery) error {
	disposition := c.handler.Handle(ctx, d.Body)
	log := c.logger.With("delivery_tag", d.DeliveryTag, "disposition", disposition.String())

	switch disposition {
	case worker.Accept:
		return errors.Wrap(d.Ack(false), "ack")
	case worker.RejectPermanent:
		return errors.Wrap(d.Nack(false, false), "nack")
	default:
		return c.retry(ctx, log, d)
	}
}

// retry republishes d with an incremented retry header, or moves it to the
// dead-letter queue once MaxRetries is exhausted. The original is acked only
// after the broker confirms the copy; otherwise it is requeued.
func (c *Consumer) retry(ctx context.Context, log *slog.Logger, d amqp.Delivery) error {
	attempts := retryCount(d.Headers)

	target := c.cfg.Queue
	if attempts >= c.cfg.MaxRetries {
		if c.cfg.DeadLetterQueue == "" {
			log.WarnContext(ctx, "retries exhausted, dropping message", "attempts", attempts)
			return errors.Wrap(d.Nack(false, false), "nack")
		}
		target = c.cfg.DeadLetterQueue
		log.WarnContext(ctx, "retries exhausted, dead-lettering message", "attempts", attempts)
	} else {
		attempts++
		log.InfoContext(ctx, "requeueing message", "attempt", attempts, "max_retries", c.cfg.MaxRetries)
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[RetryHeader] = int32(attempts)

	err := c.ch.PublishConfirmed(ctx, target, amqp.Publishing{
		Headers:      headers,
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Timestamp:    d.Timestamp,
		Body:         d.Body,
	})
	if err != nil {
		log.ErrorContext(ctx, "republish failed, requeueing original", "target", target, "error", err)
		return errors.Wrap(d.Nack(false, true), "nack with requeue")
	}
	return errors.Wrap(d.Ack(false), "ack")
}

// retryCount reads RetryHeader, tolerating any integer encoding.
func retryCount(h amqp.Table) int {
	switch v := h[RetryHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	default:
		return 0
	}
}

// Close releases the channel and connection. It is safe to call more than
// once and on a Consumer that never started.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		if c.ch != nil {
			if err := c.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
				c.closeErr = errors.Wrap(err, "close channel")
			}
		}
		if c.conn != nil {
			if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) && c.closeErr == nil {
				c.closeErr = errors.Wrap(err, "close connection")
			}
		}
		c.logger.Info("consumer closed")
	})
	return c.closeErr
}

// Publisher sends measurement events to the queue.
type Publisher struct {
	conn  *amqp.Connection
	ch    channel
	queue string
}

// NewPublisher connects to url and declares queue.
func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := declareQueue(ch, queue); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	confirmed, err := newConfirmChannel(ch)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: confirmed, queue: queue}, nil
}

// Publish sends env as a persistent JSON message and waits for the broker to
// confirm it.
func (p *Publisher) Publish(ctx context.Context, env domain.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	err = p.ch.PublishConfirmed(ctx, p.queue, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	return errors.Wrapf(err, "publish to %s", p.queue)
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
