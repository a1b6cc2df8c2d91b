package canvasnet

import (
	"encoding/binary"
	"strconv"
)

// SessionID identifies one live session. IDs grow monotonically and are
// never reused while the process runs.
type SessionID uint64

// NoSession is the reserved zero value; no session is ever assigned it.
const NoSession SessionID = 0

func (id SessionID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Kind is the payload kind carried by a Message.
type Kind uint8

const (
	Text Kind = iota + 1
	Binary
	Ping
	Pong
	Close
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Binary:
		return "binary"
	case Ping:
		return "ping"
	case Pong:
		return "pong"
	case Close:
		return "close"
	default:
		return "unknown"
	}
}

// IsControl reports whether the kind is a protocol control frame.
func (k Kind) IsControl() bool {
	return k == Ping || k == Pong || k == Close
}

// Message is a single frame travelling to or from a session. The queue that
// carries it does not care about the payload format.
type Message struct {
	Kind Kind
	Data []byte
}

// TextMessage builds a text frame.
func TextMessage(text string) Message {
	return Message{Kind: Text, Data: []byte(text)}
}

// BinaryMessage builds a binary frame. The slice is not copied.
func BinaryMessage(data []byte) Message {
	return Message{Kind: Binary, Data: data}
}

func PingMessage(data []byte) Message {
	return Message{Kind: Ping, Data: data}
}

func PongMessage(data []byte) Message {
	return Message{Kind: Pong, Data: data}
}

// CloseMessage builds a close frame with the RFC 6455 status code prefix.
func CloseMessage(code int, reason string) Message {
	data := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(data, uint16(code))
	copy(data[2:], reason)
	return Message{Kind: Close, Data: data}
}

// CloseCode extracts the status code of a close frame. It returns 0 for
// other kinds or for a close frame without a body.
func (m Message) CloseCode() int {
	if m.Kind != Close || len(m.Data) < 2 {
		return 0
	}
	return int(binary.BigEndian.Uint16(m.Data))
}
