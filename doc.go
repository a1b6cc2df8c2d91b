// Package canvasnet provides the real-time session layer of a collaborative
// canvas server: a directory of concurrently connected WebSocket clients,
// per-connection supervision and best-effort identification of binary
// protobuf payloads.
//
// # Architecture
//
// Every accepted connection becomes a session. The session gets a bounded
// outbound queue, is registered under a fresh SessionID and then runs three
// cooperating goroutines:
//
//   - an outbound pump that writes queued frames in order,
//   - a liveness monitor that pings the peer every 30 seconds and stops when
//     the process is shutting down or the session was deregistered,
//   - an inbound consumer that answers pings, tracks pongs and hands text and
//     binary frames to the installed handler.
//
// The first goroutine to exit, for any reason, ends the session: the other
// two are cancelled, the connection is closed and the SessionID is released.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/canvasnet"
//	    "github.com/luciancaetano/canvasnet/ws"
//	)
//
//	hub := ws.New(ws.NewConfig(ws.DefaultConfig(), ws.AllOrigins()))
//
//	hub.Handle(func(peer canvasnet.Peer, msg canvasnet.Message) {
//	    // Relay every text frame to every client.
//	    hub.BroadcastText(ctx, string(msg.Data))
//	})
//
//	hub.Start(ctx)
//
// # Delivery
//
// Outbound frames reach a client only through the hub: point-to-point with
// SendTo or to everyone with Broadcast. Broadcasts are best-effort; a client
// that has gone away or cannot drain its queue misses the message and the
// caller is never told.
//
// # Binary payload identification
//
// When a protobuf descriptor set is configured, binary frames are trial
// decoded against every message schema in it and the first schema that
// consumes the whole buffer is logged. This is diagnostic only. Two schemas
// with wire-compatible layouts cannot be told apart, and the one declared
// first wins.
//
// # Liveness
//
//   - Ping every 30 seconds from the server
//   - A peer that has not answered with a pong for 90 seconds is dropped
//   - Optional per-session inbound rate limit (close code 1008 on overflow)
//
// # Important
//
//   - Handlers execute in goroutines (no execution order guarantee)
//   - Configure the origin check in production (never use ws.AllOrigins() in production)
package canvasnet
