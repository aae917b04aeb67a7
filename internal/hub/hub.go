// Package hub fans queue events out to connected realtime clients.
// Clients subscribe to topics ("queue/{counter}" for display boards,
// "student/{requesterId}" for personal alerts) and change their topic
// set at any time.
package hub

import (
	"encoding/json"
	"log"
	"sync"
)

type Client struct {
	ID     string
	Send   chan []byte
	topics map[string]struct{}
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.topics == nil {
		client.topics = make(map[string]struct{})
	}
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client.ID)
	close(client.Send)
}

// Subscribe replaces the client's topic set.
func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.topics = make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		client.topics[topic] = struct{}{}
	}
}

// Broadcast delivers the payload to every client subscribed to the
// topic. Slow clients lose messages instead of blocking the sender.
func (h *Hub) Broadcast(topic string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if _, ok := client.topics[topic]; !ok {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			log.Printf("drop message for client %s topic=%s", client.ID, topic)
		}
	}
}

// ClientCount reports connected clients, for metrics.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
