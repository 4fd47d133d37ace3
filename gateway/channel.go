package gateway

import (
	"chat-core/domain"
	"chat-core/errors"
	"context"
	"sync"
)

// wsChannel queues messages for one websocket connection. Deliver returns
// once the message is queued, the socket writer drains the queue. A full
// queue fails the delivery so the broker parks the message instead.
type wsChannel struct {
	queue  chan domain.Message
	closed chan struct{}
	once   sync.Once
}

func newChannel(buffer int) *wsChannel {
	return &wsChannel{
		queue:  make(chan domain.Message, buffer),
		closed: make(chan struct{}),
	}
}

func (c *wsChannel) Deliver(ctx context.Context, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-c.closed:
		return errors.ErrChannelClosed
	default:
	}

	select {
	case c.queue <- msg:
		return nil
	case <-c.closed:
		return errors.ErrChannelClosed
	default:
		// Full queue means a slow consumer. Failing here lets the broker
		// park the message for catch-up instead of blocking the sender.
		return errors.ErrChannelClosed
	}
}

func (c *wsChannel) Close() {
	c.once.Do(func() {
		close(c.closed)
	})
}
