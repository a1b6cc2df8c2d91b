package session

import (
	"context"

	"github.com/luciancaetano/canvasnet"
)

// Sender is the write half of a transport. A session has exactly one
// goroutine writing through it.
type Sender interface {
	Send(msg canvasnet.Message) error
}

// Receiver is the read half of a transport. Recv returns the next frame in
// arrival order, including control frames, or ctx's error once ctx is done.
type Receiver interface {
	Recv(ctx context.Context) (canvasnet.Message, error)
}

// Transport is a bidirectional frame connection that can be split into
// independent halves.
type Transport interface {
	Split() (Sender, Receiver)
	RemoteAddr() string

	// Close tears the connection down. When farewell is a close frame it is
	// sent first on a best-effort basis. Close must be safe to call more than
	// once and concurrently with Send and Recv.
	Close(farewell canvasnet.Message) error
}
