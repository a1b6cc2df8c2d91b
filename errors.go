package canvasnet

import "errors"

// Delivery errors.
var (
	// ErrRecipientGone is returned when the receiving side of a session's
	// outbound queue has been torn down. It is terminal: retrying never helps.
	ErrRecipientGone = errors.New("recipient is gone")
	// ErrQueueFull is returned by non-blocking sends when the outbound queue
	// has no free slot.
	ErrQueueFull       = errors.New("outbound queue is full")
	ErrSessionNotFound = errors.New("session not found")
)

// Server errors.
var (
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerNotRunning     = errors.New("server not running")
)

// Close reasons sent to peers.
const (
	ReasonRateLimited = "Rate limit exceeded"
	ReasonShutdown    = "Server shutting down"
)
