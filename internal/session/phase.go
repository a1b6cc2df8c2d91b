package session

import (
	"sync/atomic"

	"github.com/luciancaetano/canvasnet"
)

// Phase is the lifecycle position of a session.
type Phase int32

const (
	PhaseAccepted Phase = iota
	PhaseRegistered
	PhaseRunning
	PhaseTerminating
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseAccepted:
		return "accepted"
	case PhaseRegistered:
		return "registered"
	case PhaseRunning:
		return "running"
	case PhaseTerminating:
		return "terminating"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handle tracks one supervised session.
type Handle struct {
	id    canvasnet.SessionID
	trace string
	phase atomic.Int32
	done  chan struct{}
	err   error
}

// ID returns the registry id of the session.
func (h *Handle) ID() canvasnet.SessionID { return h.id }

// Trace returns the per-connection key used in logs.
func (h *Handle) Trace() string { return h.trace }

func (h *Handle) Phase() Phase { return Phase(h.phase.Load()) }

// Done is closed once the session reached PhaseClosed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the session is closed and returns the reason its first
// task exited.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// advance moves the phase forward; it never goes back.
func (h *Handle) advance(p Phase) {
	for {
		cur := h.phase.Load()
		if Phase(cur) >= p {
			return
		}
		if h.phase.CompareAndSwap(cur, int32(p)) {
			return
		}
	}
}
