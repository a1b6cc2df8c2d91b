package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/canvasnet"
	"github.com/luciancaetano/canvasnet/internal/observability"
)

// Reasons a session's first task exits.
var (
	ErrTransportWrite = errors.New("transport write failed")
	ErrTransportRead  = errors.New("transport read failed")
	ErrShutdown       = errors.New("server shutting down")
	ErrDeregistered   = errors.New("session no longer registered")
	ErrProbeFailed    = errors.New("liveness probe failed")
	ErrPeerSilent     = errors.New("peer stopped acknowledging pings")
	ErrPeerClosed     = errors.New("peer closed the connection")
	ErrRateLimited    = errors.New("inbound rate limit exceeded")
	ErrTaskPanic      = errors.New("session task panicked")
)

const (
	DefaultPingInterval = 30 * time.Second
	// DefaultPeerTimeout is three ping intervals.
	DefaultPeerTimeout = 3 * DefaultPingInterval
)

// Timing holds the liveness periods of a session.
type Timing struct {
	PingInterval time.Duration
	PeerTimeout  time.Duration
}

func DefaultTiming() Timing {
	return Timing{PingInterval: DefaultPingInterval, PeerTimeout: DefaultPeerTimeout}
}

// RateLimit configures the per-session inbound token bucket.
type RateLimit struct {
	Enabled           bool
	MessagesPerSecond rate.Limit
	Burst             int
}

// Classifier names the schema of a binary payload, if it can.
type Classifier interface {
	Classify(data []byte) (string, bool)
}

// Config wires a Supervisor to its collaborators.
type Config struct {
	Registry *Registry
	// Running is the process-wide flag; sessions end on the next liveness
	// tick after it turns false. Nil means always running.
	Running    *atomic.Bool
	Classifier Classifier
	Timing     Timing
	QueueSize  int
	RateLimit  RateLimit
	Logger     *zerolog.Logger
	// OnOpen runs once the session is registered, before its tasks start.
	OnOpen func(p canvasnet.Peer)
	// OnClose runs after the session has been unregistered.
	OnClose func(p canvasnet.Peer, reason error)
}

// Supervisor starts and tears down sessions.
type Supervisor struct {
	registry   *Registry
	running    *atomic.Bool
	classifier Classifier
	timing     Timing
	queueSize  int
	rateLimit  RateLimit
	log        zerolog.Logger
	onOpen     func(canvasnet.Peer)
	onClose    func(canvasnet.Peer, error)
	handler    atomic.Pointer[canvasnet.HandlerFunc]
}

func NewSupervisor(cfg Config) *Supervisor {
	s := &Supervisor{
		registry:   cfg.Registry,
		running:    cfg.Running,
		classifier: cfg.Classifier,
		timing:     cfg.Timing,
		queueSize:  cfg.QueueSize,
		rateLimit:  cfg.RateLimit,
		log:        zerolog.Nop(),
		onOpen:     cfg.OnOpen,
		onClose:    cfg.OnClose,
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.timing.PingInterval <= 0 {
		s.timing.PingInterval = DefaultPingInterval
	}
	if s.timing.PeerTimeout <= 0 {
		s.timing.PeerTimeout = 3 * s.timing.PingInterval
	}
	if s.queueSize <= 0 {
		s.queueSize = DefaultQueueSize
	}
	if cfg.Logger != nil {
		s.log = *cfg.Logger
	}
	return s
}

// Registry returns the registry sessions are registered with.
func (s *Supervisor) Registry() *Registry {
	return s.registry
}

// SetHandler installs the function receiving inbound text and binary frames.
func (s *Supervisor) SetHandler(fn canvasnet.HandlerFunc) {
	s.handler.Store(&fn)
}

// Start registers a session for t and runs it in the background. The
// returned handle already carries the session id.
func (s *Supervisor) Start(ctx context.Context, t Transport) *Handle {
	h := &Handle{trace: uuid.NewString(), done: make(chan struct{})}
	log := s.log.With().Str("trace", h.trace).Str("remote", t.RemoteAddr()).Logger()
	log.Debug().Msg("connection accepted")

	ch, inbox := NewChannel(s.queueSize)
	h.id = s.registry.Register(ch)
	h.advance(PhaseRegistered)
	observability.RecordSessionOpened()

	log = log.With().Stringer("session", h.id).Logger()
	log.Info().Msg("session registered")

	go func() {
		defer close(h.done)
		h.err = s.run(ctx, h, t, ch, inbox, log)
	}()
	return h
}

// Serve runs a session for t and blocks until it is closed.
func (s *Supervisor) Serve(ctx context.Context, t Transport) error {
	return s.Start(ctx, t).Wait()
}

func (s *Supervisor) run(ctx context.Context, h *Handle, t Transport, ch Channel, inbox *Inbox, log zerolog.Logger) (err error) {
	g, gctx := errgroup.WithContext(ctx)
	p := &peer{id: h.id, remote: t.RemoteAddr(), ctx: gctx, ch: ch}

	defer func() {
		inbox.Close()
		s.registry.Unregister(h.id)
		h.advance(PhaseClosed)
		observability.RecordSessionClosed(exitReason(err))
		log.Info().AnErr("reason", err).Msg("session closed")
		if s.onClose != nil {
			s.closed(p, err, log)
		}
	}()

	// The first task to return cancels gctx. Closing the transport at that
	// point unblocks whichever loser is parked in a read or write.
	stop := context.AfterFunc(gctx, func() {
		h.advance(PhaseTerminating)
		_ = t.Close(farewell(context.Cause(gctx)))
	})
	defer stop()

	out, in := t.Split()

	h.advance(PhaseRunning)
	if s.onOpen != nil {
		err = guard("open", func() error { s.onOpen(p); return nil })()
		if err != nil {
			log.Error().Err(err).Msg("open hook panicked")
			_ = g.Wait()
			_ = t.Close(farewell(err))
			return err
		}
	}
	g.Go(guard("outbound", func() error { return s.pump(gctx, out, inbox, log) }))
	g.Go(guard("liveness", func() error { return s.monitor(gctx, h.id, log) }))
	g.Go(guard("inbound", func() error { return s.consume(gctx, p, in, log) }))

	err = g.Wait()
	_ = t.Close(farewell(err))
	return err
}

// pump writes queued messages to the transport in enqueue order.
func (s *Supervisor) pump(ctx context.Context, out Sender, inbox *Inbox, log zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-inbox.C():
			if err := out.Send(msg); err != nil {
				log.Debug().Err(err).Msg("outbound write failed")
				return fmt.Errorf("%w: %w", ErrTransportWrite, err)
			}
			observability.RecordFrame("outbound", msg.Kind.String())
		}
	}
}

// monitor probes the peer every ping interval for as long as the process is
// running and the session is still registered.
func (s *Supervisor) monitor(ctx context.Context, id canvasnet.SessionID, log zerolog.Logger) error {
	ticker := time.NewTicker(s.timing.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if s.running != nil && !s.running.Load() {
			log.Debug().Msg("liveness monitor observed shutdown")
			return ErrShutdown
		}
		ch, ok := s.registry.Lookup(id)
		if !ok {
			return ErrDeregistered
		}
		if err := ch.Send(ctx, canvasnet.PingMessage(nil)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", ErrProbeFailed, err)
		}
	}
}

// consume reads inbound frames until the peer closes, errors or goes quiet
// for longer than the peer timeout.
func (s *Supervisor) consume(ctx context.Context, p *peer, in Receiver, log zerolog.Logger) error {
	var limiter *rate.Limiter
	if s.rateLimit.Enabled {
		limiter = rate.NewLimiter(s.rateLimit.MessagesPerSecond, s.rateLimit.Burst)
	}
	lastAck := time.Now()

	for {
		remaining := s.timing.PeerTimeout - time.Since(lastAck)
		if remaining <= 0 {
			log.Debug().Msg("peer timed out")
			return ErrPeerSilent
		}

		recvCtx, cancel := context.WithTimeout(ctx, remaining)
		msg, err := in.Recv(recvCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				log.Debug().Msg("peer timed out")
				return ErrPeerSilent
			}
			log.Debug().Err(err).Msg("inbound read failed")
			return fmt.Errorf("%w: %w", ErrTransportRead, err)
		}
		observability.RecordFrame("inbound", msg.Kind.String())

		if limiter != nil && !msg.Kind.IsControl() && !limiter.Allow() {
			log.Warn().Msg("rate limit exceeded")
			return ErrRateLimited
		}

		switch msg.Kind {
		case canvasnet.Text:
			log.Trace().Int("len", len(msg.Data)).Msg("received text frame")
			s.dispatch(p, msg, log)
		case canvasnet.Binary:
			log.Trace().Int("len", len(msg.Data)).Hex("data", msg.Data).Msg("received binary frame")
			s.identify(msg.Data, log)
			s.dispatch(p, msg, log)
		case canvasnet.Ping:
			if err := p.ch.Send(ctx, canvasnet.PongMessage(msg.Data)); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: %w", ErrProbeFailed, err)
			}
		case canvasnet.Pong:
			lastAck = time.Now()
		case canvasnet.Close:
			log.Debug().Int("code", msg.CloseCode()).Msg("client initiated close")
			return ErrPeerClosed
		}
	}
}

// identify logs the schema a binary payload decodes as. It never affects
// delivery.
func (s *Supervisor) identify(data []byte, log zerolog.Logger) {
	if s.classifier == nil {
		return
	}
	name, ok := s.classifier.Classify(data)
	observability.RecordClassification(ok)
	if ok {
		log.Debug().Str("schema", name).Msg("detected protobuf message type")
		return
	}
	log.Debug().Msg("no message type could decode the payload")
}

func (s *Supervisor) dispatch(p *peer, msg canvasnet.Message, log zerolog.Logger) {
	fn := s.handler.Load()
	if fn == nil || *fn == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("frame handler panicked")
			}
		}()
		(*fn)(p, msg)
	}()
}

func (s *Supervisor) closed(p *peer, reason error, log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("close hook panicked")
		}
	}()
	s.onClose(p, reason)
}

// guard turns a panic inside a session task into an exit reason so that
// teardown still runs.
func guard(name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %s: %v", ErrTaskPanic, name, r)
			}
		}()
		return fn()
	}
}

// farewell picks the close frame sent to the peer for an exit reason.
func farewell(reason error) canvasnet.Message {
	switch {
	case errors.Is(reason, ErrRateLimited):
		return canvasnet.CloseMessage(CloseCodePolicyViolation, canvasnet.ReasonRateLimited)
	case errors.Is(reason, ErrShutdown):
		return canvasnet.CloseMessage(CloseCodeGoingAway, canvasnet.ReasonShutdown)
	case errors.Is(reason, ErrPeerClosed), errors.Is(reason, ErrDeregistered):
		return canvasnet.CloseMessage(CloseCodeNormal, "")
	default:
		return canvasnet.Message{}
	}
}

func exitReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrTransportWrite):
		return "transport_write"
	case errors.Is(err, ErrTransportRead):
		return "transport_read"
	case errors.Is(err, ErrShutdown):
		return "shutdown"
	case errors.Is(err, ErrDeregistered):
		return "deregistered"
	case errors.Is(err, ErrProbeFailed):
		return "probe_failed"
	case errors.Is(err, ErrPeerSilent):
		return "peer_silent"
	case errors.Is(err, ErrPeerClosed):
		return "peer_closed"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTaskPanic):
		return "panic"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}

// RFC 6455 status codes used for farewells.
const (
	CloseCodeNormal          = 1000
	CloseCodeGoingAway       = 1001
	CloseCodePolicyViolation = 1008
)

type peer struct {
	id     canvasnet.SessionID
	remote string
	ctx    context.Context
	ch     Channel
}

func (p *peer) ID() canvasnet.SessionID  { return p.id }
func (p *peer) RemoteAddr() string       { return p.remote }
func (p *peer) Context() context.Context { return p.ctx }

func (p *peer) Send(ctx context.Context, msg canvasnet.Message) error {
	return p.ch.Send(ctx, msg)
}

func (p *peer) SendText(ctx context.Context, text string) error {
	return p.ch.SendText(ctx, text)
}

func (p *peer) SendBinary(ctx context.Context, data []byte) error {
	return p.ch.SendBinary(ctx, data)
}
