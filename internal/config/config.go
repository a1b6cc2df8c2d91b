// Package config loads the server configuration from a JSON or TOML file.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Format is the on-disk encoding of a config file.
type Format int

const (
	FormatNone Format = iota
	FormatJSON
	FormatTOML
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatTOML:
		return "toml"
	default:
		return "none"
	}
}

// ErrNoConfigFile is returned by Save when neither base.json nor base.toml
// exists.
var ErrNoConfigFile = errors.New("no config file found")

// Config is the complete server configuration.
type Config struct {
	Network Network
	// DatabasePath is carried for the drawing store; the session layer does
	// not open it.
	DatabasePath string
	// DescriptorSet is the path of a serialized FileDescriptorSet used to
	// identify binary payloads. Empty disables identification.
	DescriptorSet string
	Session       Session
}

// Network is the listening interface.
type Network struct {
	Interface string
	Port      uint16
}

// Session holds per-connection settings.
type Session struct {
	PingInterval time.Duration
	PeerTimeout  time.Duration
	QueueSize    int
	RateLimit    RateLimit
}

// RateLimit configures the per-session inbound token bucket.
type RateLimit struct {
	Enabled           bool
	MessagesPerSecond float64
	Burst             int
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Network: Network{
			Interface: "0.0.0.0",
			Port:      3250,
		},
		DatabasePath: "database.db",
		Session: Session{
			PingInterval: 30 * time.Second,
			PeerTimeout:  90 * time.Second,
			QueueSize:    100,
			RateLimit: RateLimit{
				Enabled:           true,
				MessagesPerSecond: 100,
				Burst:             200,
			},
		},
	}
}

// Addr returns the host:port to listen on.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Network.Interface, strconv.Itoa(int(c.Network.Port)))
}

// DisplayAddr returns the listening address for humans: the wildcard
// interface shows as "*" and the IPv4 loopback as "localhost".
func (c Config) DisplayAddr() string {
	host := c.Network.Interface
	switch host {
	case "0.0.0.0":
		host = "*"
	case "127.0.0.1":
		host = "localhost"
	}
	return net.JoinHostPort(host, strconv.Itoa(int(c.Network.Port)))
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Network.Interface) == "" {
		return errors.New("network.interface must not be empty")
	}
	s := c.Session
	if s.PingInterval <= 0 {
		return fmt.Errorf("session.ping_interval must be positive, got %s", s.PingInterval)
	}
	if s.PeerTimeout <= s.PingInterval {
		return fmt.Errorf("session.peer_timeout (%s) must exceed session.ping_interval (%s)", s.PeerTimeout, s.PingInterval)
	}
	if s.QueueSize <= 0 {
		return fmt.Errorf("session.queue_size must be positive, got %d", s.QueueSize)
	}
	if s.RateLimit.Enabled && (s.RateLimit.MessagesPerSecond <= 0 || s.RateLimit.Burst <= 0) {
		return errors.New("session.rate_limit needs positive messages_per_second and burst when enabled")
	}
	return nil
}

// fileConfig is the on-disk key layout shared by both formats.
type fileConfig struct {
	Network       fileNetwork `toml:"network" json:"network"`
	DatabasePath  string      `toml:"database_path" json:"database_path"`
	DescriptorSet string      `toml:"descriptor_set" json:"descriptor_set"`
	Session       fileSession `toml:"session" json:"session"`
}

type fileNetwork struct {
	Interface string `toml:"interface" json:"interface"`
	Port      uint16 `toml:"port" json:"port"`
}

type fileSession struct {
	PingInterval string        `toml:"ping_interval" json:"ping_interval"`
	PeerTimeout  string        `toml:"peer_timeout" json:"peer_timeout"`
	QueueSize    int           `toml:"queue_size" json:"queue_size"`
	RateLimit    fileRateLimit `toml:"rate_limit" json:"rate_limit"`
}

type fileRateLimit struct {
	Enabled           bool    `toml:"enabled" json:"enabled"`
	MessagesPerSecond float64 `toml:"messages_per_second" json:"messages_per_second"`
	Burst             int     `toml:"burst" json:"burst"`
}

func toFile(c Config) fileConfig {
	return fileConfig{
		Network:       fileNetwork{Interface: c.Network.Interface, Port: c.Network.Port},
		DatabasePath:  c.DatabasePath,
		DescriptorSet: c.DescriptorSet,
		Session: fileSession{
			PingInterval: c.Session.PingInterval.String(),
			PeerTimeout:  c.Session.PeerTimeout.String(),
			QueueSize:    c.Session.QueueSize,
			RateLimit: fileRateLimit{
				Enabled:           c.Session.RateLimit.Enabled,
				MessagesPerSecond: c.Session.RateLimit.MessagesPerSecond,
				Burst:             c.Session.RateLimit.Burst,
			},
		},
	}
}

// overlay copies every defined key of raw onto the defaults.
func overlay(raw fileConfig, defined func(key ...string) bool) (Config, error) {
	cfg := Default()

	if defined("network", "interface") {
		cfg.Network.Interface = strings.TrimSpace(raw.Network.Interface)
	}
	if defined("network", "port") {
		cfg.Network.Port = raw.Network.Port
	}
	if defined("database_path") {
		cfg.DatabasePath = strings.TrimSpace(raw.DatabasePath)
	}
	if defined("descriptor_set") {
		cfg.DescriptorSet = strings.TrimSpace(raw.DescriptorSet)
	}
	if defined("session", "ping_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Session.PingInterval))
		if err != nil {
			return Config{}, fmt.Errorf("session.ping_interval: %w", err)
		}
		cfg.Session.PingInterval = d
	}
	if defined("session", "peer_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Session.PeerTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("session.peer_timeout: %w", err)
		}
		cfg.Session.PeerTimeout = d
	}
	if defined("session", "queue_size") {
		cfg.Session.QueueSize = raw.Session.QueueSize
	}
	if defined("session", "rate_limit", "enabled") {
		cfg.Session.RateLimit.Enabled = raw.Session.RateLimit.Enabled
	}
	if defined("session", "rate_limit", "messages_per_second") {
		cfg.Session.RateLimit.MessagesPerSecond = raw.Session.RateLimit.MessagesPerSecond
	}
	if defined("session", "rate_limit", "burst") {
		cfg.Session.RateLimit.Burst = raw.Session.RateLimit.Burst
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeTOML(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg, err := overlay(raw, meta.IsDefined)
	if err != nil {
		return Config{}, fmt.Errorf("load config %q: %w", path, err)
	}
	return cfg, nil
}

func decodeJSON(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	// Keys absent from the document keep the default values already in raw.
	raw := toFile(Default())
	if err := json.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("load config %q: %w", path, err)
	}
	cfg, err := overlay(raw, func(...string) bool { return true })
	if err != nil {
		return Config{}, fmt.Errorf("load config %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFile loads a single config file, choosing the decoder by extension.
func LoadFile(path string) (Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return decodeJSON(path)
	case ".toml":
		return decodeTOML(path)
	default:
		return Config{}, fmt.Errorf("load config %q: unsupported extension", path)
	}
}

// Find reports which file base resolves to. base.json takes precedence over
// base.toml.
func Find(base string) (string, Format) {
	if p := base + ".json"; fileExists(p) {
		return p, FormatJSON
	}
	if p := base + ".toml"; fileExists(p) {
		return p, FormatTOML
	}
	return "", FormatNone
}

// Load resolves base to base.json or base.toml and loads it. When neither
// exists, the defaults are written to base.toml and returned. The path that
// was read or created is returned alongside.
func Load(base string) (Config, string, error) {
	path, format := Find(base)
	switch format {
	case FormatJSON:
		cfg, err := decodeJSON(path)
		return cfg, path, err
	case FormatTOML:
		cfg, err := decodeTOML(path)
		return cfg, path, err
	}

	cfg := Default()
	path = base + ".toml"
	if err := write(path, FormatTOML, cfg); err != nil {
		return Config{}, "", err
	}
	return cfg, path, nil
}

// Save writes cfg over whichever of base.json and base.toml Load would read.
func Save(base string, cfg Config) error {
	path, format := Find(base)
	if format == FormatNone {
		return fmt.Errorf("save config %q: %w", base, ErrNoConfigFile)
	}
	return write(path, format, cfg)
}

func write(path string, format Format, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var buf bytes.Buffer
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(toFile(cfg)); err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
	case FormatTOML:
		if err := toml.NewEncoder(&buf).Encode(toFile(cfg)); err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
	default:
		return fmt.Errorf("encode config: unsupported format %s", format)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write config %q: %w", path, err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
