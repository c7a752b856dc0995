package events

import (
	"context"
	"time"
)

type Type string

const (
	MessageCreated      Type = "message.created"
	MessageRead         Type = "message.read"
	ConversationReadAll Type = "conversation.read_all"
	ConversationCreated Type = "conversation.created"
)

// Event is a domain fact published for downstream consumers such as
// notifications and analytics.
type Event struct {
	Type           Type      `json:"type"`
	ConversationID string    `json:"conversation_id"`
	ActorID        string    `json:"actor_id"`
	MessageID      string    `json:"message_id,omitempty"`
	Count          int       `json:"count,omitempty"`
	At             time.Time `json:"at"`
}

// Publisher never blocks the caller and never fails it: delivery problems
// are the publisher's to log and count.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
