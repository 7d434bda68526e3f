// Package events is the optional, observational websocket broadcast of
// membership and replication activity described in SPEC_FULL.md's
// [Events] module. It is grounded line-for-line on
// internal/websocket/monitor.go's MonitorHub: the same register/
// unregister/broadcast channel loop, repurposed from monitoring-UI
// events to peer and container lifecycle events. No operation in
// spec.md §4 depends on this package; a nil *Hub disables broadcast
// entirely.
package events

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Kind identifies one of the broadcastable event types.
type Kind string

const (
	PeerJoined         Kind = "peer_joined"
	PeerEvicted        Kind = "peer_evicted"
	ContainerStored    Kind = "container_stored"
	RebalanceCompleted Kind = "rebalance_completed"
)

// Event is one broadcastable occurrence.
type Event struct {
	Kind      Kind        `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Hub fans events out to every connected websocket client.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.RWMutex
}

// NewHub creates an idle Hub; call Run to start its event loop.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run starts the hub's event loop; it runs until the process exits.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			log.Printf("naughtd: events client connected, total: %d", len(h.clients))

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.mutex.Unlock()
			log.Printf("naughtd: events client disconnected, total: %d", len(h.clients))

		case event := <-h.broadcast:
			// Use Lock (not RLock): a failed write deletes the client.
			h.mutex.Lock()
			for client := range h.clients {
				if err := client.WriteJSON(event); err != nil {
					log.Printf("naughtd: events write error: %v", err)
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Register adds a new client connection.
func (h *Hub) Register(conn *websocket.Conn) {
	h.register <- conn
}

// Unregister removes a client connection.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// Broadcast enqueues an event for every connected client. The send is
// non-blocking: a full channel drops the event rather than stalling the
// caller, since events are diagnostic, never load-bearing.
func (h *Hub) Broadcast(kind Kind, data interface{}) {
	event := Event{Kind: kind, Timestamp: time.Now(), Data: data}
	select {
	case h.broadcast <- event:
	default:
		log.Printf("naughtd: events broadcast channel full, event dropped")
	}
}
