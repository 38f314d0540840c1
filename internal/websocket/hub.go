package websocket

import (
	"encoding/json"
	"log"
	"sync"
)

// Event names pushed to connected devices
const (
	EventPackageReady     = "PACKAGE_READY"
	EventPackageOutdated  = "PACKAGE_OUTDATED"
	EventConflictResolved = "CONFLICT_RESOLVED"
)

// Event is the envelope for every hub message
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Hub maintains the set of connected devices and pushes events to them
type Hub struct {
	// DeviceID -> Client
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[string]*Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if client.DeviceID != "" {
				// A reconnecting device replaces its old connection
				if old, ok := h.clients[client.DeviceID]; ok {
					close(old.send)
				}
				h.clients[client.DeviceID] = client
				log.Printf("📱 Device connected: %s", client.DeviceID)
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.DeviceID]; ok && current == client {
				delete(h.clients, client.DeviceID)
				close(client.send)
				log.Printf("📴 Device disconnected: %s", client.DeviceID)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// slow consumer, drop
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends an event to every connected device
func (h *Hub) Broadcast(eventType string, payload interface{}) {
	msg, err := json.Marshal(Event{Type: eventType, Payload: payload})
	if err != nil {
		log.Printf("Error marshaling event: %v", err)
		return
	}
	h.broadcast <- msg
}

// SendToDevice sends an event to one device, reporting delivery
func (h *Hub) SendToDevice(deviceID, eventType string, payload interface{}) bool {
	h.mu.RLock()
	client, ok := h.clients[deviceID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	msg, err := json.Marshal(Event{Type: eventType, Payload: payload})
	if err != nil {
		log.Printf("Error marshaling event: %v", err)
		return false
	}

	select {
	case client.send <- msg:
		return true
	default:
		return false
	}
}
