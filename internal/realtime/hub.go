// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

// Package realtime fans completed-message notifications out to dashboard
// websocket connections. Every connection is tagged with a tenant; a
// broadcast for one tenant is invisible to every other tenant's connections.
package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/relaydesk/relaydesk/internal/logging"
	"github.com/relaydesk/relaydesk/internal/metrics"
)

// tenantFrame pairs a frame with the tenant whose connections receive it.
// An empty tenantID addresses all connections (heartbeats, shutdown notice).
type tenantFrame struct {
	tenantID string
	frame    Frame
}

// Hub maintains the registry of active clients, routes tenant-scoped
// broadcasts, and runs the central heartbeat scheduler. One heartbeat ticker
// serves every connection; there are no per-connection timers.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan tenantFrame
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	heartbeatInterval time.Duration
}

// NewHub creates a hub with the given heartbeat interval.
func NewHub(heartbeatInterval time.Duration) *Hub {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	return &Hub{
		clients:           make(map[*Client]bool),
		broadcast:         make(chan tenantFrame, 256),
		Register:          make(chan *Client),
		Unregister:        make(chan *Client),
		heartbeatInterval: heartbeatInterval,
	}
}

// RunWithContext runs the hub until the context is canceled. Designed for
// suture supervision: on cancellation every open connection gets a
// best-effort reconnect notice before its socket closes, then the method
// returns ctx.Err().
func (h *Hub) RunWithContext(ctx context.Context) error {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		// Lifecycle events take priority over broadcasts so the client
		// registry is consistent before frames are routed.
		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()

		case client := <-h.Register:
			h.addClient(client)

		case client := <-h.Unregister:
			h.removeClient(client)

		case tf := <-h.broadcast:
			h.broadcastToClients(tf)

		case <-ticker.C:
			h.heartbeat()
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Inc()
	logging.Info().
		Str("tenant_id", c.tenantID).
		Int("total_clients", total).
		Msg("websocket client connected")
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if ok {
		metrics.WSConnections.Dec()
		logging.Info().
			Str("tenant_id", c.tenantID).
			Int("total_clients", total).
			Msg("websocket client disconnected")
	}
}

// Broadcast queues a frame for every connection of the tenant. Non-blocking;
// a full hub channel drops the frame with a warning rather than stalling the
// caller.
func (h *Hub) Broadcast(tenantID string, frame Frame) {
	select {
	case h.broadcast <- tenantFrame{tenantID: tenantID, frame: frame}:
	default:
		logging.Warn().
			Str("tenant_id", tenantID).
			Str("frame_type", frame.Type).
			Msg("broadcast channel full, dropping frame")
	}
}

// BroadcastNewMessage announces a completed message to the tenant's
// dashboard connections.
func (h *Hub) BroadcastNewMessage(tenantID, messageID, preview string) {
	frame := NewFrame(FrameNewMessage)
	frame.Message = &MessageNotice{
		TenantID:  tenantID,
		MessageID: messageID,
		Preview:   preview,
	}
	h.Broadcast(tenantID, frame)
}

// broadcastToClients delivers one frame to the matching clients in id order.
// Clients whose send buffer is full are disconnected; a stuck consumer must
// not hold frames for the rest of the tenant.
func (h *Hub) broadcastToClients(tf tenantFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var toRemove []*Client
	for _, client := range h.sortedClientsLocked() {
		if tf.tenantID != "" && client.tenantID != tf.tenantID {
			continue
		}
		select {
		case client.send <- tf.frame:
			metrics.WSBroadcasts.Inc()
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		metrics.WSConnections.Dec()
	}
}

// heartbeat is the central liveness pass. A client still awaiting the pong
// from the previous tick is terminated; everyone else gets a heartbeat frame
// plus a control ping and must answer before the next tick.
func (h *Hub) heartbeat() {
	h.mu.Lock()
	defer h.mu.Unlock()

	frame := NewFrame(FrameHeartbeat)

	var toRemove []*Client
	for _, client := range h.sortedClientsLocked() {
		if client.awaitingPong.Load() {
			toRemove = append(toRemove, client)
			continue
		}

		client.awaitingPong.Store(true)
		select {
		case client.pingReq <- struct{}{}:
		default:
		}
		select {
		case client.send <- frame:
		default:
		}
	}

	for _, client := range toRemove {
		logging.Warn().
			Str("tenant_id", client.tenantID).
			Msg("dropping websocket client, heartbeat missed")
		metrics.WSHeartbeatDrops.Inc()
		metrics.WSConnections.Dec()
		close(client.send)
		delete(h.clients, client)
		if client.conn != nil {
			_ = client.conn.Close()
		}
	}
}

// shutdown sends the reconnect notice to every client, then closes them all.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	frame := NewFrame(FrameReconnect)
	clients := h.sortedClientsLocked()

	for _, client := range clients {
		select {
		case client.send <- frame:
		default:
		}
	}

	// Give the write pumps a moment to flush the notice.
	time.Sleep(100 * time.Millisecond)

	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
		metrics.WSConnections.Dec()
	}

	logging.Info().
		Str("component", "realtime-hub").
		Int("clients_closed", len(clients)).
		Msg("realtime hub stopped")
}

// sortedClientsLocked returns clients in id order for deterministic
// iteration. Callers must hold h.mu.
func (h *Hub) sortedClientsLocked() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	return clients
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
