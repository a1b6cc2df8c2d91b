package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/luciancaetano/canvasnet"
)

var errWriteBroken = errors.New("write on broken transport")

// fakeTransport is an in-memory Transport. Frames pushed with deliver are
// returned by Recv; frames written by the session land in written.
type fakeTransport struct {
	inbound    chan canvasnet.Message
	written    chan canvasnet.Message
	closed     chan struct{}
	closeOnce  sync.Once
	failWrites atomic.Bool

	mu       sync.Mutex
	farewell canvasnet.Message
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan canvasnet.Message, 64),
		written: make(chan canvasnet.Message, 1024),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) Split() (Sender, Receiver) { return fakeSender{f}, fakeReceiver{f} }
func (f *fakeTransport) RemoteAddr() string        { return "pipe" }

func (f *fakeTransport) Close(farewell canvasnet.Message) error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.farewell = farewell
		f.mu.Unlock()
		close(f.closed)
	})
	return nil
}

func (f *fakeTransport) deliver(msg canvasnet.Message) {
	select {
	case f.inbound <- msg:
	case <-f.closed:
	}
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) farewellFrame() canvasnet.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.farewell
}

type fakeSender struct{ f *fakeTransport }

func (s fakeSender) Send(msg canvasnet.Message) error {
	if s.f.isClosed() {
		return io.ErrClosedPipe
	}
	if s.f.failWrites.Load() {
		return errWriteBroken
	}
	select {
	case s.f.written <- msg:
		return nil
	case <-s.f.closed:
		return io.ErrClosedPipe
	}
}

type fakeReceiver struct{ f *fakeTransport }

func (r fakeReceiver) Recv(ctx context.Context) (canvasnet.Message, error) {
	select {
	case msg := <-r.f.inbound:
		return msg, nil
	case <-r.f.closed:
		return canvasnet.Message{}, io.EOF
	case <-ctx.Done():
		return canvasnet.Message{}, ctx.Err()
	}
}
