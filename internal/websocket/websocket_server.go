package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/canvasnet"
	"github.com/luciancaetano/canvasnet/internal/config"
	"github.com/luciancaetano/canvasnet/internal/observability"
	"github.com/luciancaetano/canvasnet/internal/protocol"
	"github.com/luciancaetano/canvasnet/internal/session"
)

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
// Use this to implement CORS policies for your WebSocket server.
type CheckOriginFn = func(r *http.Request) bool

// OnConnectFn is called once a session is registered and before its tasks
// start. This is the place to send welcome messages or track connections.
//
// Note: This function is called synchronously during session setup.
// Avoid long-running operations that could delay the session.
type OnConnectFn = func(peer canvasnet.Peer)

// OnClientDisconnectFn is called after a session has been unregistered. The
// reason is the exit reason of the first session task to stop; it matches
// session.ErrPeerClosed when the client initiated the close.
type OnClientDisconnectFn = func(peer canvasnet.Peer, reason error)

type ServerConfig struct {
	// Settings supplies the listen address, liveness timing, queue size and
	// default rate limit.
	Settings config.Config
	// RateLimitConfig overrides Settings.Session.RateLimit when set.
	RateLimitConfig    *RateLimitConfig
	CheckOrigin        CheckOriginFn
	OnConnect          OnConnectFn
	OnClientDisconnect OnClientDisconnectFn
	// Corpus identifies binary payloads; nil disables identification.
	Corpus *protocol.Corpus
	Logger *zerolog.Logger
}

// RateLimitConfig defines rate limiting configuration for clients
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages a client can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 messages per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return rateLimitFromSettings(config.Default().Session.RateLimit)
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

func rateLimitFromSettings(rl config.RateLimit) *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: rate.Limit(rl.MessagesPerSecond),
		Burst:             rl.Burst,
		Enabled:           rl.Enabled,
	}
}

// withDefaults fills a non-positive rate or burst of an enabled limit from
// the built-in defaults. A zero token bucket would reject every frame.
func (rl RateLimitConfig) withDefaults() RateLimitConfig {
	if !rl.Enabled {
		return rl
	}
	def := DefaultRateLimitConfig()
	if rl.MessagesPerSecond <= 0 {
		rl.MessagesPerSecond = def.MessagesPerSecond
	}
	if rl.Burst <= 0 {
		rl.Burst = def.Burst
	}
	return rl
}

// shutdownGrace bounds Stop when the caller's context has no deadline.
const shutdownGrace = 5 * time.Second

// Server accepts WebSocket upgrades and runs one supervised session per
// connection.
type Server struct {
	state      *State
	supervisor *session.Supervisor
	upgrader   websocket.Upgrader
	router     *httprouter.Router
	log        zerolog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	stopping bool
	cancel   context.CancelFunc
	baseCtx  context.Context
	sessions sync.WaitGroup
}

var _ canvasnet.Hub = (*Server)(nil)

// New creates a new WebSocket server from cfg.
//
// The server uses the Gorilla WebSocket library with read/write buffer sizes
// of 1024 bytes. Rate limiting is applied per session using a token bucket.
//
// Example:
//
//	server := New(&ServerConfig{
//	    Settings:    config.Default(),
//	    CheckOrigin: func(r *http.Request) bool { return true },
//	    OnConnect: func(peer canvasnet.Peer) {
//	        peer.SendText(peer.Context(), "welcome")
//	    },
//	})
func New(cfg *ServerConfig) *Server {
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	logger = logger.With().Str("component", "websocket").Logger()

	override := cfg.RateLimitConfig
	if override == nil {
		override = rateLimitFromSettings(cfg.Settings.Session.RateLimit)
	}
	rl := override.withDefaults()
	if rl != *override {
		logger.Warn().
			Float64("messages_per_second", float64(rl.MessagesPerSecond)).
			Int("burst", rl.Burst).
			Msg("rate limit without rate or burst, using defaults")
	}

	state := NewState(cfg.Settings, cfg.Corpus)
	s := &Server{
		state: state,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
	s.supervisor = session.NewSupervisor(session.Config{
		Registry:   state.Sessions,
		Running:    &state.Running,
		Classifier: state.classifier(),
		Timing: session.Timing{
			PingInterval: cfg.Settings.Session.PingInterval,
			PeerTimeout:  cfg.Settings.Session.PeerTimeout,
		},
		QueueSize: cfg.Settings.Session.QueueSize,
		RateLimit: session.RateLimit{
			Enabled:           rl.Enabled,
			MessagesPerSecond: rl.MessagesPerSecond,
			Burst:             rl.Burst,
		},
		Logger:  &logger,
		OnOpen:  cfg.OnConnect,
		OnClose: cfg.OnClientDisconnect,
	})

	observability.RegisterMetrics()
	s.router = httprouter.New()
	s.router.GET("/ws", s.handleWebSocket)
	s.router.GET("/sessions", s.handleSessions)
	s.router.GET("/healthz", s.handleHealth)
	s.router.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	return s
}

// State returns the shared process state.
func (s *Server) State() *State {
	return s.state
}

// Handler returns the HTTP routes served by Start.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the bound listen address once started, or the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.state.Config.Addr()
}

// Start binds the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Running.Load() {
		s.mu.Unlock()
		return canvasnet.ErrServerAlreadyRunning
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.state.Config.Addr())
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", s.state.Config.Addr(), err)
	}

	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.listener = ln
	s.stopping = false
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.state.Running.Store(true)
	srv := s.server
	s.mu.Unlock()

	s.log.Info().Str("addr", s.state.Config.DisplayAddr()).Msg("websocket server listening")

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("websocket server stopped")
			s.state.Running.Store(false)
		}
	}()
	return nil
}

// Stop clears the running flag, stops accepting connections and waits for
// the open sessions to wind down on their next liveness tick. Sessions still
// open when ctx ends are cancelled. Stopping a server that was never started
// returns ErrServerNotRunning; stopping it again is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		return canvasnet.ErrServerNotRunning
	}
	if !s.state.Running.Load() && s.server == nil {
		s.mu.Unlock()
		return nil
	}
	s.state.Running.Store(false)
	s.stopping = true
	srv, cancel := s.server, s.cancel
	s.server = nil
	s.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, shutdownGrace)
		defer stop()
	}

	var shutdownErr error
	if srv != nil {
		shutdownErr = srv.Shutdown(ctx)
	}

	drained := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		s.log.Warn().Int("sessions", s.state.Sessions.Count()).Msg("cancelling sessions still open at shutdown")
		cancel()
		<-drained
	}
	cancel()

	s.log.Info().Msg("websocket server stopped")
	return shutdownErr
}

// Handle installs the function receiving inbound text and binary frames.
func (s *Server) Handle(fn canvasnet.HandlerFunc) {
	s.supervisor.SetHandler(fn)
}

// Broadcast sends a copy of msg to every registered session.
func (s *Server) Broadcast(ctx context.Context, msg canvasnet.Message) {
	s.state.Sessions.Broadcast(ctx, msg)
}

// BroadcastText sends a text frame to every registered session.
func (s *Server) BroadcastText(ctx context.Context, text string) {
	s.state.Sessions.BroadcastText(ctx, text)
}

// BroadcastBinary sends a binary frame to every registered session.
func (s *Server) BroadcastBinary(ctx context.Context, data []byte) {
	s.state.Sessions.BroadcastBinary(ctx, data)
}

// SendTo sends msg to a single session.
func (s *Server) SendTo(ctx context.Context, id canvasnet.SessionID, msg canvasnet.Message) error {
	return s.state.Sessions.SendTo(ctx, id, msg)
}

// Count returns the number of registered sessions.
func (s *Server) Count() int {
	return s.state.Sessions.Count()
}

// SessionIDs returns the registered session ids in ascending order.
func (s *Server) SessionIDs() []canvasnet.SessionID {
	return s.state.Sessions.IDs()
}

// handleWebSocket upgrades the request and hands the connection to the
// supervisor.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !s.state.Running.Load() {
		http.Error(w, canvasnet.ReasonShutdown, http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	client := NewClient(conn)

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		_ = client.Close(canvasnet.CloseMessage(session.CloseCodeGoingAway, canvasnet.ReasonShutdown))
		return
	}
	ctx := s.baseCtx
	s.sessions.Add(1)
	s.mu.Unlock()

	h := s.supervisor.Start(ctx, client)
	go func() {
		defer s.sessions.Done()
		_ = h.Wait()
	}()
}

type sessionsResponse struct {
	Count int                   `json:"count"`
	IDs   []canvasnet.SessionID `json:"ids"`
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	ids := s.state.Sessions.IDs()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(sessionsResponse{Count: len(ids), IDs: ids}); err != nil {
		s.log.Debug().Err(err).Msg("write sessions response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if !s.state.Running.Load() {
		http.Error(w, "stopping", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
