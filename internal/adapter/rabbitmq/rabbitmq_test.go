package rabbitmq

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weightsvc/internal/domain"
	"weightsvc/internal/worker"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type settlement struct {
	tag     uint64
	ack     bool
	requeue bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	settled []settlement
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = append(a.settled, settlement{tag: tag, ack: true})
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = append(a.settled, settlement{tag: tag, requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) all() []settlement {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]settlement(nil), a.settled...)
}

type published struct {
	key string
	msg amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	publishErr error
	published  []published
	cancelled  []string
	closed     int
}

// PublishConfirmed records msg; publishErr stands in for a failed write, a
// broker nack or an unroutable return.
func (c *fakeChannel) PublishConfirmed(ctx context.Context, key string, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, published{key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Cancel(consumer string, noWait bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, consumer)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

type handlerFunc func(ctx context.Context, body []byte) worker.Disposition

func (f handlerFunc) Handle(ctx context.Context, body []byte) worker.Disposition { return f(ctx, body) }

func fixed(d worker.Disposition) MessageHandler {
	return handlerFunc(func(context.Context, []byte) worker.Disposition { return d })
}

func newTestConsumer(cfg Config, h MessageHandler) (*Consumer, *fakeChannel, chan amqp.Delivery) {
	if cfg.Queue == "" {
		cfg.Queue = "weights"
	}
	c := NewConsumer(cfg, h, discard)
	ch := &fakeChannel{}
	deliveries := make(chan amqp.Delivery, 4)
	c.ch = ch
	c.deliveries = deliveries
	return c, ch, deliveries
}

func delivery(ack amqp.Acknowledger, tag uint64, headers amqp.Table) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		Headers:      headers,
		ContentType:  "application/json",
		Body:         []byte(`{"weight":80,"tgId":"1"}`),
	}
}

func TestProcess_Settlement(t *testing.T) {
	tests := []struct {
		name        string
		disposition worker.Disposition
		want        settlement
	}{
		{"accept acks", worker.Accept, settlement{tag: 7, ack: true}},
		{"permanent nacks without requeue", worker.RejectPermanent, settlement{tag: 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ch, _ := newTestConsumer(Config{MaxRetries: 3}, fixed(tt.disposition))
			ack := &fakeAcknowledger{}

			require.NoError(t, c.process(context.Background(), delivery(ack, 7, nil)))
			assert.Equal(t, []settlement{tt.want}, ack.all())
			assert.Empty(t, ch.published)
		})
	}
}

func TestProcess_RetryRepublishesWithCounter(t *testing.T) {
	c, ch, _ := newTestConsumer(Config{MaxRetries: 3, DeadLetterQueue: "weights.dead-letter"}, fixed(worker.RejectRetryable))
	ack := &fakeAcknowledger{}

	require.NoError(t, c.process(context.Background(), delivery(ack, 1, amqp.Table{"trace": "abc"})))

	require.Len(t, ch.published, 1)
	p := ch.published[0]
	assert.Equal(t, "weights", p.key)
	assert.Equal(t, int32(1), p.msg.Headers[RetryHeader])
	assert.Equal(t, "abc", p.msg.Headers["trace"])
	assert.Equal(t, amqp.Persistent, p.msg.DeliveryMode)
	assert.Equal(t, []byte(`{"weight":80,"tgId":"1"}`), p.msg.Body)
	assert.Equal(t, []settlement{{tag: 1, ack: true}}, ack.all())
}

func TestProcess_RetryExhaustedGoesToDeadLetter(t *testing.T) {
	c, ch, _ := newTestConsumer(Config{MaxRetries: 3, DeadLetterQueue: "weights.dead-letter"}, fixed(worker.RejectRetryable))
	ack := &fakeAcknowledger{}

	require.NoError(t, c.process(context.Background(), delivery(ack, 2, amqp.Table{RetryHeader: int64(3)})))

	require.Len(t, ch.published, 1)
	assert.Equal(t, "weights.dead-letter", ch.published[0].key)
	assert.Equal(t, int32(3), ch.published[0].msg.Headers[RetryHeader])
	assert.Equal(t, []settlement{{tag: 2, ack: true}}, ack.all())
}

func TestProcess_RetryExhaustedWithoutDeadLetterDrops(t *testing.T) {
	c, ch, _ := newTestConsumer(Config{MaxRetries: 1}, fixed(worker.RejectRetryable))
	ack := &fakeAcknowledger{}

	require.NoError(t, c.process(context.Background(), delivery(ack, 3, amqp.Table{RetryHeader: int32(1)})))

	assert.Empty(t, ch.published)
	assert.Equal(t, []settlement{{tag: 3}}, ack.all())
}

func TestProcess_ZeroRetriesDeadLettersImmediately(t *testing.T) {
	c, ch, _ := newTestConsumer(Config{MaxRetries: 0, DeadLetterQueue: "dlq"}, fixed(worker.RejectRetryable))
	ack := &fakeAcknowledger{}

	require.NoError(t, c.process(context.Background(), delivery(ack, 4, nil)))
	require.Len(t, ch.published, 1)
	assert.Equal(t, "dlq", ch.published[0].key)
}

func TestProcess_RepublishFailureRequeuesOriginal(t *testing.T) {
	c, ch, _ := newTestConsumer(Config{MaxRetries: 3}, fixed(worker.RejectRetryable))
	ch.publishErr = errors.New("channel closed")
	ack := &fakeAcknowledger{}

	require.NoError(t, c.process(context.Background(), delivery(ack, 5, nil)))
	assert.Equal(t, []settlement{{tag: 5, requeue: true}}, ack.all())
}

func TestProcess_UnconfirmedCopyKeepsOriginal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		cfg  Config
		hdr  amqp.Table
	}{
		{"retry nacked by broker", errNotConfirmed, Config{MaxRetries: 3}, nil},
		{"dead letter unroutable", errors.Wrap(errReturned, "weights.dead-letter: 312 NO_ROUTE"),
			Config{MaxRetries: 1, DeadLetterQueue: "weights.dead-letter"}, amqp.Table{RetryHeader: int32(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ch, _ := newTestConsumer(tt.cfg, fixed(worker.RejectRetryable))
			ch.publishErr = tt.err
			ack := &fakeAcknowledger{}

			require.NoError(t, c.process(context.Background(), delivery(ack, 6, tt.hdr)))

			settled := ack.all()
			require.Len(t, settled, 1)
			assert.False(t, settled[0].ack)
			assert.True(t, settled[0].requeue)
		})
	}
}

func TestRun_ProcessesSequentially(t *testing.T) {
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	h := handlerFunc(func(ctx context.Context, body []byte) worker.Disposition {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return worker.Accept
	})
	c, _, deliveries := newTestConsumer(Config{}, h)
	ack := &fakeAcknowledger{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	for i := uint64(1); i <= 3; i++ {
		deliveries <- delivery(ack, i, nil)
	}
	require.Eventually(t, func() bool { return len(ack.all()) == 3 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1, maxInFlight)
}

func TestRun_GracefulDrainFinishesInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var handlerCtxErr error
	h := handlerFunc(func(ctx context.Context, body []byte) worker.Disposition {
		close(started)
		<-release
		handlerCtxErr = ctx.Err()
		return worker.Accept
	})
	c, ch, deliveries := newTestConsumer(Config{ConsumerTag: "tag-1"}, h)
	ack := &fakeAcknowledger{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deliveries <- delivery(ack, 9, nil)
	<-started
	cancel()
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after drain")
	}

	assert.NoError(t, handlerCtxErr)
	assert.Equal(t, []settlement{{tag: 9, ack: true}}, ack.all())
	assert.Equal(t, []string{"tag-1"}, ch.cancelled)
}

func TestRun_DeliveryChannelClosed(t *testing.T) {
	c, _, deliveries := newTestConsumer(Config{}, fixed(worker.Accept))
	close(deliveries)

	err := c.Run(context.Background())
	assert.Error(t, err)
}

func TestRun_ConnectionLost(t *testing.T) {
	c, _, _ := newTestConsumer(Config{}, fixed(worker.Accept))
	closed := make(chan *amqp.Error, 1)
	closed <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "broker shutdown"}
	c.connClosed = closed

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker shutdown")
}

func TestRun_NotStarted(t *testing.T) {
	c := NewConsumer(Config{Queue: "q"}, fixed(worker.Accept), discard)
	assert.Error(t, c.Run(context.Background()))
}

func TestClose_Idempotent(t *testing.T) {
	c := NewConsumer(Config{Queue: "q"}, fixed(worker.Accept), discard)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())

	c, ch, _ := newTestConsumer(Config{}, fixed(worker.Accept))
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	assert.Equal(t, 1, ch.closed)
}

func TestRetryCount(t *testing.T) {
	assert.Equal(t, 0, retryCount(nil))
	assert.Equal(t, 0, retryCount(amqp.Table{RetryHeader: "2"}))
	assert.Equal(t, 2, retryCount(amqp.Table{RetryHeader: int32(2)}))
	assert.Equal(t, 4, retryCount(amqp.Table{RetryHeader: int64(4)}))
	assert.Equal(t, 1, retryCount(amqp.Table{RetryHeader: int8(1)}))
}

func TestPublisherPublish(t *testing.T) {
	ch := &fakeChannel{}
	p := &Publisher{ch: ch, queue: "weights"}

	require.NoError(t, p.Publish(context.Background(), envelope(72.4, "77")))
	require.Len(t, ch.published, 1)
	msg := ch.published[0].msg
	assert.Equal(t, "weights", ch.published[0].key)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.JSONEq(t, `{"weight":72.4,"tgId":"77"}`, string(msg.Body))
	assert.NotEmpty(t, msg.MessageId)

	ch.publishErr = errors.New("closed")
	assert.Error(t, p.Publish(context.Background(), envelope(1, "1")))
}

func envelope(weight float64, tgID string) domain.Envelope {
	return domain.Envelope{Weight: weight, TgID: tgID}
}
