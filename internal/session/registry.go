package session

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/luciancaetano/canvasnet"
	"github.com/luciancaetano/canvasnet/internal/observability"
)

// Registry maps session ids to their outbound channels. It is created once
// per process and shared by the supervisor and anyone who wants to reach
// clients.
//
// The map and the id counter sit behind separate locks: allocating an id
// never blocks lookups, and no operation holds both.
type Registry struct {
	mu       sync.RWMutex
	channels map[canvasnet.SessionID]Channel

	idMu   sync.Mutex
	nextID canvasnet.SessionID
}

// NewRegistry returns an empty registry. The first id handed out is 1.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[canvasnet.SessionID]Channel),
		nextID:   canvasnet.NoSession + 1,
	}
}

// Register stores ch under a fresh id and returns that id.
func (r *Registry) Register(ch Channel) canvasnet.SessionID {
	r.idMu.Lock()
	id := r.nextID
	r.nextID++
	r.idMu.Unlock()

	r.mu.Lock()
	r.channels[id] = ch
	r.mu.Unlock()
	return id
}

// Unregister removes id and reports whether it was present.
func (r *Registry) Unregister(id canvasnet.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.channels[id]; !ok {
		return false
	}
	delete(r.channels, id)
	return true
}

// Lookup returns the channel registered under id.
func (r *Registry) Lookup(id canvasnet.SessionID) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[id]
	return ch, ok
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id canvasnet.SessionID) bool {
	_, ok := r.Lookup(id)
	return ok
}

// SendTo delivers msg to a single session.
func (r *Registry) SendTo(ctx context.Context, id canvasnet.SessionID, msg canvasnet.Message) error {
	ch, ok := r.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", canvasnet.ErrSessionNotFound, id)
	}
	if err := ch.Send(ctx, msg); err != nil {
		return fmt.Errorf("send to session %s: %w", id, err)
	}
	return nil
}

// Broadcast delivers a copy of msg to every session registered at the time
// of the call. The set of recipients is snapshotted first; sends happen
// without holding the registry lock. Failures are ignored.
//
// Recipients are served one after another, so a recipient with a full queue
// delays everyone behind it until its queue drains or ctx ends. Callers that
// cannot wait should pass a context with a deadline.
func (r *Registry) Broadcast(ctx context.Context, msg canvasnet.Message) {
	recipients := r.snapshot()
	observability.RecordBroadcast(msg.Kind.String(), len(recipients))

	for _, ch := range recipients {
		out := msg
		if msg.Data != nil {
			out.Data = slices.Clone(msg.Data)
		}
		_ = ch.Send(ctx, out)
	}
}

// BroadcastText broadcasts a text frame.
func (r *Registry) BroadcastText(ctx context.Context, text string) {
	r.Broadcast(ctx, canvasnet.TextMessage(text))
}

// BroadcastBinary broadcasts a binary frame.
func (r *Registry) BroadcastBinary(ctx context.Context, data []byte) {
	r.Broadcast(ctx, canvasnet.BinaryMessage(data))
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []canvasnet.SessionID {
	r.mu.RLock()
	ids := make([]canvasnet.SessionID, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

func (r *Registry) snapshot() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	return out
}
