// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

package realtime

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaydesk/relaydesk/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	readWait       = 120 * time.Second
	maxMessageSize = 32 * 1024 // 32 KB; dashboard frames are small
)

// clientIDCounter generates unique, monotonically increasing IDs so the hub
// can iterate clients in a consistent order.
var clientIDCounter atomic.Uint64

// Client is the middleman between one websocket connection and the hub. It
// is tagged with the tenant it belongs to; the hub only routes that tenant's
// broadcasts here.
type Client struct {
	id       uint64
	tenantID string
	hub      *Hub
	conn     *websocket.Conn
	send     chan Frame

	// pingReq asks the write pump to emit a control ping. Signaled by the
	// hub's heartbeat scheduler, never by per-client timers.
	pingReq chan struct{}

	// awaitingPong is set when a heartbeat ping goes out and cleared by
	// the pong handler. Still set at the next tick means the peer is gone.
	awaitingPong atomic.Bool
}

// NewClient creates a client for an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, tenantID string) *Client {
	return &Client{
		id:       clientIDCounter.Add(1),
		tenantID: tenantID,
		hub:      hub,
		conn:     conn,
		send:     make(chan Frame, 64),
		pingReq:  make(chan struct{}, 1),
	}
}

// TenantID returns the tenant this connection is scoped to.
func (c *Client) TenantID() string {
	return c.tenantID
}

// Start begins the read and write pumps and sends the hello frame.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()

	select {
	case c.send <- NewFrame(FrameHello):
	default:
	}
}

// readPump pumps frames from the connection to the hub until the connection
// dies.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		c.awaitingPong.Store(false)
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Msg("unexpected websocket close")
			}
			break
		}

		// Any inbound frame proves the peer is alive.
		c.awaitingPong.Store(false)
		if err := c.conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
			break
		}

		// Client-initiated liveness check, separate from the hub heartbeat.
		if frame.Type == FramePing {
			select {
			case c.send <- NewFrame(FramePong):
			default:
			}
		}
	}
}

// writePump pumps frames from the hub to the connection. Control pings are
// requested by the hub's heartbeat scheduler through pingReq.
func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				logging.Debug().Err(err).Msg("failed to write frame")
				return
			}

		case <-c.pingReq:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
