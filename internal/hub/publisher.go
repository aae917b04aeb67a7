package hub

import (
	"encoding/json"

	"qms/token-service/internal/notify"
)

// Publisher adapts the hub to the notify transport contract.
type Publisher struct {
	hub *Hub
}

func NewPublisher(h *Hub) *Publisher {
	return &Publisher{hub: h}
}

func (p *Publisher) Publish(topic string, event notify.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.hub.Broadcast(topic, payload)
	return nil
}
