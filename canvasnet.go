package canvasnet

import "context"

// Hub defines the real-time session server shared by every part of the
// process that wants to reach connected clients.
//
// Example usage:
//
//	import "github.com/luciancaetano/canvasnet/ws"
//
//	hub := ws.New(ws.NewConfig(cfg, ws.AllOrigins()))
//
//	hub.Handle(func(peer canvasnet.Peer, msg canvasnet.Message) {
//	    if msg.Kind == canvasnet.Text {
//	        hub.BroadcastText(ctx, string(msg.Data))
//	    }
//	})
//
//	hub.Start(ctx)
type Hub interface {
	// Start starts listening for connections.
	//
	// Returns an error if the hub is already running or if there's a problem
	// binding to the network address.
	Start(ctx context.Context) error

	// Stop clears the running flag so that every open session winds down on
	// its next liveness tick, then shuts the listener down and waits for the
	// sessions. Sessions still open when ctx expires are cancelled.
	//
	// Returns ErrServerNotRunning if the hub was never started.
	Stop(ctx context.Context) error

	// Handle installs the function invoked for every inbound text and binary
	// frame. Each invocation runs on its own goroutine; there is no ordering
	// guarantee between invocations.
	Handle(fn HandlerFunc)

	// Broadcast delivers a copy of msg to every registered session.
	//
	// Per-recipient failures are swallowed: a recipient that is gone or
	// does not drain its queue before ctx ends simply misses the message.
	// Recipients are served in turn, so one full queue holds up the rest
	// until it drains or ctx ends; pass a context with a deadline.
	Broadcast(ctx context.Context, msg Message)

	// BroadcastText is Broadcast for a text frame.
	BroadcastText(ctx context.Context, text string)

	// BroadcastBinary is Broadcast for a binary frame.
	BroadcastBinary(ctx context.Context, data []byte)

	// SendTo delivers msg to a single session.
	//
	// Returns ErrSessionNotFound if no session has the given id, and
	// ErrRecipientGone if the session is tearing down.
	SendTo(ctx context.Context, id SessionID, msg Message) error

	// Count returns the number of registered sessions.
	Count() int

	// SessionIDs returns the ids of all registered sessions in ascending order.
	SessionIDs() []SessionID
}

// Peer is the view of a live session handed to frame handlers.
type Peer interface {
	// ID returns the session identifier assigned at registration.
	ID() SessionID

	// RemoteAddr returns the client's remote network address.
	RemoteAddr() string

	// Context is cancelled as soon as the session starts tearing down.
	//
	// Example:
	//
	//	go func() {
	//	    <-peer.Context().Done()
	//	    log.Printf("session %s closed", peer.ID())
	//	}()
	Context() context.Context

	// Send queues msg for delivery to this session. It blocks while the
	// outbound queue is full and fails with ErrRecipientGone once the session
	// has been torn down.
	Send(ctx context.Context, msg Message) error

	// SendText queues a text frame.
	SendText(ctx context.Context, text string) error

	// SendBinary queues a binary frame.
	SendBinary(ctx context.Context, data []byte) error
}

// HandlerFunc processes one inbound text or binary frame.
type HandlerFunc = func(peer Peer, msg Message)
