package ws

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/luciancaetano/canvasnet/internal/config"
	"github.com/luciancaetano/canvasnet/internal/protocol"
	"github.com/luciancaetano/canvasnet/internal/websocket"
)

type Server = websocket.Server
type Settings = config.Config
type Corpus = protocol.Corpus
type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn
type OnConnectFn = websocket.OnConnectFn
type OnDisconnectFn = websocket.OnClientDisconnectFn
type ServerConfig = *websocket.ServerConfig

// Option adjusts a ServerConfig built by NewConfig.
type Option func(cfg ServerConfig)

// New creates a new WebSocket server. The returned server satisfies
// canvasnet.Hub.
//
// Example:
//
//	settings, _, err := ws.LoadConfig("config")
//	if err != nil {
//	    return err
//	}
//	server := ws.New(ws.NewConfig(settings, ws.AllOrigins(),
//	    ws.WithOnConnect(func(peer canvasnet.Peer) {
//	        log.Printf("session %s connected", peer.ID())
//	    }),
//	))
func New(cfg ServerConfig) *Server {
	return websocket.New(cfg)
}

// NewConfig builds a server configuration from file settings and an origin
// check. Use AllOrigins() to allow every origin (dev only).
func NewConfig(settings Settings, checkOrigin CheckOriginFn, opts ...Option) ServerConfig {
	cfg := &websocket.ServerConfig{
		Settings:    settings,
		CheckOrigin: checkOrigin,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithRateLimit overrides the rate limit from the settings.
func WithRateLimit(rl *RateLimitConfig) Option {
	return func(cfg ServerConfig) { cfg.RateLimitConfig = rl }
}

// WithOnConnect installs a callback run when a session starts.
func WithOnConnect(fn OnConnectFn) Option {
	return func(cfg ServerConfig) { cfg.OnConnect = fn }
}

// WithOnDisconnect installs a callback run after a session ends.
func WithOnDisconnect(fn OnDisconnectFn) Option {
	return func(cfg ServerConfig) { cfg.OnClientDisconnect = fn }
}

// WithCorpus enables identification of binary payloads.
func WithCorpus(c *Corpus) Option {
	return func(cfg ServerConfig) { cfg.Corpus = c }
}

// WithLogger replaces the global zerolog logger for the server.
func WithLogger(l zerolog.Logger) Option {
	return func(cfg ServerConfig) { cfg.Logger = &l }
}

// DefaultConfig returns the built-in settings: all interfaces on port 3250,
// 30s pings, a 90s peer timeout and a queue of 100 messages per session.
func DefaultConfig() Settings {
	return config.Default()
}

// LoadConfig reads base.json or base.toml, writing base.toml with the
// defaults when neither exists. It returns the path that was used.
func LoadConfig(base string) (Settings, string, error) {
	return config.Load(base)
}

// LoadCorpusFile loads a serialized protobuf FileDescriptorSet.
func LoadCorpusFile(path string) (*Corpus, error) {
	return protocol.LoadCorpusFile(path)
}

// AllOrigins returns the default checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}
