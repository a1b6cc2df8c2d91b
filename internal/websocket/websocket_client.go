package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/canvasnet"
	"github.com/luciancaetano/canvasnet/internal/session"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// closeWait bounds the farewell close frame.
	closeWait = time.Second
	// inboundBacklog is how many decoded frames the read pump may run ahead
	// of the session's consumer.
	inboundBacklog = 16
)

// ErrClientClosed is returned by Recv after the read pump has stopped.
var ErrClientClosed = errors.New("websocket client closed")

type inbound struct {
	msg canvasnet.Message
	err error
}

// Client adapts a gorilla connection to session.Transport. A read pump
// goroutine owns every read; control frames are surfaced through the same
// ordered stream as data frames instead of being answered by gorilla.
type Client struct {
	conn       *websocket.Conn
	remoteAddr string

	in   chan inbound
	done chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var _ session.Transport = (*Client)(nil)

// NewClient wraps conn and starts its read pump.
func NewClient(conn *websocket.Conn) *Client {
	c := &Client{
		conn:       conn,
		remoteAddr: conn.RemoteAddr().String(),
		in:         make(chan inbound, inboundBacklog),
		done:       make(chan struct{}),
	}

	// Handlers run on the read pump goroutine, so frames keep wire order.
	conn.SetPingHandler(func(data string) error {
		c.push(inbound{msg: canvasnet.PingMessage([]byte(data))})
		return nil
	})
	conn.SetPongHandler(func(data string) error {
		c.push(inbound{msg: canvasnet.PongMessage([]byte(data))})
		return nil
	})
	conn.SetCloseHandler(func(code int, text string) error {
		c.push(inbound{msg: canvasnet.CloseMessage(code, text)})
		return nil
	})

	go c.readPump()
	return c
}

// Split returns the client as both halves. Send is only ever called from
// the session's outbound pump and Recv only from its consumer.
func (c *Client) Split() (session.Sender, session.Receiver) {
	return c, c
}

// RemoteAddr returns the client's remote network address.
func (c *Client) RemoteAddr() string {
	return c.remoteAddr
}

// Send writes one frame. Control frames go out with WriteControl.
func (c *Client) Send(msg canvasnet.Message) error {
	switch msg.Kind {
	case canvasnet.Ping:
		return c.conn.WriteControl(websocket.PingMessage, msg.Data, time.Now().Add(writeWait))
	case canvasnet.Pong:
		return c.conn.WriteControl(websocket.PongMessage, msg.Data, time.Now().Add(writeWait))
	case canvasnet.Close:
		return c.conn.WriteControl(websocket.CloseMessage, msg.Data, time.Now().Add(writeWait))
	case canvasnet.Text, canvasnet.Binary:
	default:
		return fmt.Errorf("unsupported message kind %d", msg.Kind)
	}

	frameType := websocket.TextMessage
	if msg.Kind == canvasnet.Binary {
		frameType = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(frameType, msg.Data)
}

// Recv returns the next inbound frame in arrival order.
func (c *Client) Recv(ctx context.Context) (canvasnet.Message, error) {
	select {
	case in, ok := <-c.in:
		if !ok {
			return canvasnet.Message{}, ErrClientClosed
		}
		return in.msg, in.err
	case <-ctx.Done():
		return canvasnet.Message{}, ctx.Err()
	}
}

// Close sends farewell when it is a close frame and closes the connection.
func (c *Client) Close(farewell canvasnet.Message) error {
	c.closeOnce.Do(func() {
		close(c.done)
		if farewell.Kind == canvasnet.Close {
			_ = c.conn.WriteControl(websocket.CloseMessage, farewell.Data, time.Now().Add(closeWait))
		}
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Client) push(in inbound) {
	select {
	case c.in <- in:
	case <-c.done:
	}
}

func (c *Client) readPump() {
	defer close(c.in)

	for {
		frameType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.push(inbound{err: err})
			return
		}

		switch frameType {
		case websocket.TextMessage:
			c.push(inbound{msg: canvasnet.Message{Kind: canvasnet.Text, Data: data}})
		case websocket.BinaryMessage:
			c.push(inbound{msg: canvasnet.Message{Kind: canvasnet.Binary, Data: data}})
		}
	}
}
