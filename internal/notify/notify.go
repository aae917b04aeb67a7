// Package notify turns queue state transitions into events on broadcast
// and personal topics. Delivery is advisory: a failed publish is logged
// and never surfaced to the operation that triggered it.
package notify

import (
	"log"
	"time"

	"qms/token-service/internal/models"
)

type Kind string

const (
	KindQueueUpdate    Kind = "QUEUE_UPDATE"
	KindYourTurn       Kind = "YOUR_TURN"
	KindPositionAlert  Kind = "POSITION_ALERT"
	KindTokenAheadDone Kind = "TOKEN_AHEAD_DONE"
	KindCounterBreak   Kind = "COUNTER_BREAK"
	KindCounterResume  Kind = "COUNTER_RESUME"
)

type Event struct {
	Kind             Kind               `json:"kind"`
	TokenCode        string             `json:"token_code,omitempty"`
	Counter          string             `json:"counter"`
	Status           models.TokenStatus `json:"status,omitempty"`
	WaitingCount     int                `json:"waiting_count"`
	CurrentlyServing string             `json:"currently_serving,omitempty"`
	Position         int                `json:"position"`
	Message          string             `json:"message"`
	Timestamp        time.Time          `json:"timestamp"`
}

// Publisher is the transport capability the fanout writes to. Topics
// are "queue/{counter}" and "student/{requesterId}".
type Publisher interface {
	Publish(topic string, event Event) error
}

type Fanout struct {
	publisher Publisher
}

func NewFanout(publisher Publisher) *Fanout {
	return &Fanout{publisher: publisher}
}

// QueueUpdate broadcasts to everyone watching the counter's queue.
func (f *Fanout) QueueUpdate(counter string, event Event) {
	event.Kind = KindQueueUpdate
	event.Counter = counter
	f.publish("queue/"+counter, event)
}

// Personal delivers a positional or break alert to one requester.
func (f *Fanout) Personal(requesterID string, event Event) {
	f.publish("student/"+requesterID, event)
}

func (f *Fanout) publish(topic string, event Event) {
	if f == nil || f.publisher == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := f.publisher.Publish(topic, event); err != nil {
		log.Printf("notify publish error topic=%s kind=%s: %v", topic, event.Kind, err)
	}
}

// LogPublisher writes events to the process log; the default transport
// when no realtime hub is attached.
type LogPublisher struct{}

func (LogPublisher) Publish(topic string, event Event) error {
	log.Printf("event topic=%s kind=%s token=%s message=%q", topic, event.Kind, event.TokenCode, event.Message)
	return nil
}
