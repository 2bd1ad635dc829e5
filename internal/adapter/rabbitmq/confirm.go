package rabbitmq

import (
	"context"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// confirmTimeout bounds the wait for a publisher confirm.
const confirmTimeout = 30 * time.Second

var (
	errNotConfirmed = errors.New("publish not confirmed by broker")
	errReturned     = errors.New("publish returned as unroutable")
)

// confirmChannel publishes on a channel in confirm mode. A publish succeeds
// only when the broker acks it and did not return it as unroutable.
// Publishes must not overlap: a return is attributed to the publish that is
// being waited on.
type confirmChannel struct {
	*amqp.Channel
	returns <-chan amqp.Return
}

// newConfirmChannel puts ch into confirm mode and listens for returns.
func newConfirmChannel(ch *amqp.Channel) (*confirmChannel, error) {
	if err := ch.Confirm(false); err != nil {
		return nil, errors.Wrap(err, "enable publisher confirms")
	}
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))
	return &confirmChannel{Channel: ch, returns: returns}, nil
}

func (c *confirmChannel) PublishConfirmed(ctx context.Context, key string, msg amqp.Publishing) error {
	c.drainReturns()

	dc, err := c.PublishWithDeferredConfirmWithContext(ctx, "", key, true, false, msg)
	if err != nil {
		return errors.Wrap(err, "publish")
	}

	wctx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()
	acked, err := dc.WaitContext(wctx)
	if err != nil {
		return errors.Wrap(err, "wait for confirm")
	}
	if !acked {
		return errNotConfirmed
	}

	// The broker sends basic.return before the ack of the same message.
	select {
	case r := <-c.returns:
		return errors.Wrapf(errReturned, "%s: %d %s", key, r.ReplyCode, r.ReplyText)
	default:
		return nil
	}
}

func (c *confirmChannel) drainReturns() {
	for {
		select {
		case <-c.returns:
		default:
			return
		}
	}
}
