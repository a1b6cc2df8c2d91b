package websocket

import (
	"sync/atomic"

	"github.com/luciancaetano/canvasnet/internal/config"
	"github.com/luciancaetano/canvasnet/internal/protocol"
	"github.com/luciancaetano/canvasnet/internal/session"
)

// State is the process-wide state shared by the HTTP handlers and every
// session. It is built once and passed by pointer.
type State struct {
	// Running is true between Server.Start and Server.Stop. Liveness
	// monitors end their session on the first tick after it turns false.
	Running  atomic.Bool
	Sessions *session.Registry
	Config   config.Config
	// Corpus is nil when no descriptor set is configured.
	Corpus *protocol.Corpus
}

// NewState returns a stopped state with an empty registry.
func NewState(cfg config.Config, corpus *protocol.Corpus) *State {
	return &State{
		Sessions: session.NewRegistry(),
		Config:   cfg,
		Corpus:   corpus,
	}
}

// classifier returns the corpus as a session.Classifier, or nil when there
// is none so that sessions skip identification entirely.
func (st *State) classifier() session.Classifier {
	if st.Corpus == nil || st.Corpus.Len() == 0 {
		return nil
	}
	return st.Corpus
}
