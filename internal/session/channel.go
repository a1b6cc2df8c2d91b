package session

import (
	"context"
	"sync"

	"github.com/luciancaetano/canvasnet"
)

// DefaultQueueSize is the outbound queue capacity of a session.
const DefaultQueueSize = 100

// Channel is a handle for delivering messages to exactly one session.
// Copies share the same underlying queue, so a Channel can be handed out
// freely.
type Channel struct {
	queue chan<- canvasnet.Message
	gone  <-chan struct{}
}

// Inbox is the receiving side of a Channel. It has a single consumer, the
// session's outbound pump.
type Inbox struct {
	queue chan canvasnet.Message
	gone  chan struct{}
	once  sync.Once
}

// NewChannel creates a bounded queue and returns its sending handle and its
// receiving side.
func NewChannel(size int) (Channel, *Inbox) {
	if size <= 0 {
		size = DefaultQueueSize
	}
	in := &Inbox{
		queue: make(chan canvasnet.Message, size),
		gone:  make(chan struct{}),
	}
	return Channel{queue: in.queue, gone: in.gone}, in
}

// Send enqueues msg, blocking while the queue is full. It fails with
// canvasnet.ErrRecipientGone once the inbox has been closed.
func (c Channel) Send(ctx context.Context, msg canvasnet.Message) error {
	if c.queue == nil {
		return canvasnet.ErrRecipientGone
	}
	select {
	case <-c.gone:
		return canvasnet.ErrRecipientGone
	default:
	}

	// A free slot wins even when ctx has already ended.
	select {
	case c.queue <- msg:
		return nil
	default:
	}

	select {
	case c.queue <- msg:
		return nil
	case <-c.gone:
		return canvasnet.ErrRecipientGone
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues msg only if a slot is free right now.
func (c Channel) TrySend(msg canvasnet.Message) error {
	if c.queue == nil {
		return canvasnet.ErrRecipientGone
	}
	select {
	case <-c.gone:
		return canvasnet.ErrRecipientGone
	default:
	}

	select {
	case c.queue <- msg:
		return nil
	default:
		return canvasnet.ErrQueueFull
	}
}

// SendText enqueues a text frame.
func (c Channel) SendText(ctx context.Context, text string) error {
	return c.Send(ctx, canvasnet.TextMessage(text))
}

// SendBinary enqueues a binary frame.
func (c Channel) SendBinary(ctx context.Context, data []byte) error {
	return c.Send(ctx, canvasnet.BinaryMessage(data))
}

// Gone reports whether the receiving side has been closed.
func (c Channel) Gone() bool {
	if c.gone == nil {
		return true
	}
	select {
	case <-c.gone:
		return true
	default:
		return false
	}
}

// C returns the queue in enqueue order.
func (in *Inbox) C() <-chan canvasnet.Message {
	return in.queue
}

// Len returns the number of queued messages.
func (in *Inbox) Len() int {
	return len(in.queue)
}

// Close marks the recipient as gone. Messages still queued are dropped.
// Safe to call more than once.
func (in *Inbox) Close() {
	in.once.Do(func() {
		close(in.gone)
	})
}
