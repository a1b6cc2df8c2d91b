package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/canvasnet"
)

// pair returns a server-side Client and the dialled gorilla connection on the
// other end.
func pair(t *testing.T) (*Client, *websocket.Conn) {
	t.Helper()

	accepted := make(chan *Client, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- NewClient(conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { peer.Close() })

	select {
	case c := <-accepted:
		t.Cleanup(func() { c.Close(canvasnet.Message{}) })
		return c, peer
	case <-time.After(5 * time.Second):
		t.Fatal("server never accepted the connection")
		return nil, nil
	}
}

func recv(t *testing.T, c *Client) canvasnet.Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := c.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv() = %v", err)
	}
	return msg
}

// TestClientSurfacesFramesInOrder tests that control frames arrive interleaved
// with data frames in wire order
func TestClientSurfacesFramesInOrder(t *testing.T) {
	t.Parallel()

	c, peer := pair(t)
	deadline := time.Now().Add(time.Second)

	peer.WriteMessage(websocket.TextMessage, []byte("a"))
	peer.WriteControl(websocket.PingMessage, []byte("p"), deadline)
	peer.WriteMessage(websocket.BinaryMessage, []byte{1})
	peer.WriteControl(websocket.PongMessage, []byte("q"), deadline)
	peer.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), deadline)

	want := []struct {
		kind canvasnet.Kind
		data string
	}{
		{canvasnet.Text, "a"},
		{canvasnet.Ping, "p"},
		{canvasnet.Binary, "\x01"},
		{canvasnet.Pong, "q"},
	}

	for i, w := range want {
		msg := recv(t, c)
		if msg.Kind != w.kind || string(msg.Data) != w.data {
			t.Fatalf("frame %d = (%s, %q), want (%s, %q)", i, msg.Kind, msg.Data, w.kind, w.data)
		}
	}

	closeMsg := recv(t, c)
	if closeMsg.Kind != canvasnet.Close {
		t.Fatalf("last frame kind = %s, want close", closeMsg.Kind)
	}
	if closeMsg.CloseCode() != websocket.CloseNormalClosure {
		t.Errorf("close code = %d, want %d", closeMsg.CloseCode(), websocket.CloseNormalClosure)
	}
}

// TestClientSendWritesEveryKind tests data and control frame writes
func TestClientSendWritesEveryKind(t *testing.T) {
	t.Parallel()

	c, peer := pair(t)

	pinged := make(chan string, 1)
	peer.SetPingHandler(func(data string) error {
		pinged <- data
		return nil
	})

	out, _ := c.Split()
	if err := out.Send(canvasnet.PingMessage([]byte("probe"))); err != nil {
		t.Fatalf("Send(ping) = %v", err)
	}
	if err := out.Send(canvasnet.TextMessage("hello")); err != nil {
		t.Fatalf("Send(text) = %v", err)
	}
	if err := out.Send(canvasnet.BinaryMessage([]byte{0xCA, 0xFE})); err != nil {
		t.Fatalf("Send(binary) = %v", err)
	}

	peer.SetReadDeadline(time.Now().Add(5 * time.Second))

	frameType, data, err := peer.ReadMessage()
	if err != nil || frameType != websocket.TextMessage || string(data) != "hello" {
		t.Fatalf("first frame = (%d, %q, %v)", frameType, data, err)
	}
	frameType, data, err = peer.ReadMessage()
	if err != nil || frameType != websocket.BinaryMessage || string(data) != "\xCA\xFE" {
		t.Fatalf("second frame = (%d, %x, %v)", frameType, data, err)
	}

	select {
	case data := <-pinged:
		if data != "probe" {
			t.Errorf("ping payload = %q", data)
		}
	default:
		t.Error("ping was not delivered before the data frames")
	}
}

// TestClientSendRejectsUnknownKind tests that zero-value messages are not written
func TestClientSendRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	c, _ := pair(t)

	if err := c.Send(canvasnet.Message{}); err == nil {
		t.Error("expected error for a message without a kind")
	}
}

// TestClientCloseSendsFarewell tests that the farewell close frame reaches the peer
func TestClientCloseSendsFarewell(t *testing.T) {
	t.Parallel()

	c, peer := pair(t)

	if err := c.Close(canvasnet.CloseMessage(websocket.CloseGoingAway, canvasnet.ReasonShutdown)); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	first := c.closeErr
	if err := c.Close(canvasnet.CloseMessage(websocket.CloseNormalClosure, "")); err != first {
		t.Errorf("second Close() = %v, want %v", err, first)
	}

	peer.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := peer.ReadMessage()

	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close frame, got %v", err)
	}
	if closeErr.Code != websocket.CloseGoingAway || closeErr.Text != canvasnet.ReasonShutdown {
		t.Errorf("close = (%d, %q), want (%d, %q)", closeErr.Code, closeErr.Text, websocket.CloseGoingAway, canvasnet.ReasonShutdown)
	}
}

// TestClientRecvAfterClose tests that Recv fails once the connection is gone
func TestClientRecvAfterClose(t *testing.T) {
	t.Parallel()

	c, _ := pair(t)
	c.Close(canvasnet.Message{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Frames buffered before the close may still drain; the stream always
	// ends in an error.
	for {
		_, err := c.Recv(ctx)
		if err == nil {
			continue
		}
		if errors.Is(err, context.DeadlineExceeded) {
			t.Fatal("Recv blocked after Close")
		}
		return
	}
}

// TestClientRecvHonoursContext tests that an idle Recv returns the context error
func TestClientRecvHonoursContext(t *testing.T) {
	t.Parallel()

	c, _ := pair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.Recv(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Recv() = %v, want DeadlineExceeded", err)
	}
}

// TestClientRemoteAddr tests that the remote address is captured at construction
func TestClientRemoteAddr(t *testing.T) {
	t.Parallel()

	c, peer := pair(t)

	if c.RemoteAddr() != peer.LocalAddr().String() {
		t.Errorf("RemoteAddr() = %q, want %q", c.RemoteAddr(), peer.LocalAddr().String())
	}
}
