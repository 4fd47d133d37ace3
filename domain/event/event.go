package event

import (
	"chat-core/domain"
	"time"

	"github.com/google/uuid"
)

type DomainEvent interface {
	ConversationID() domain.ConversationID
}

// MessageStored is emitted exactly once per durable append, after the
// sequence number has been assigned. Consumed by observational sinks
// (search index, stats, subscriptions), never by the delivery path itself.
type MessageStored struct {
	ID           uuid.UUID
	Conversation domain.ConversationID
	Seq          uint64
	Sender       domain.UserID
	Body         string
	At           time.Time
}

func (m MessageStored) ConversationID() domain.ConversationID {
	return m.Conversation
}

// DeliveryFallback signals that a live push did not complete and the
// message was parked as a DeliveryRecord for catch-up replay.
type DeliveryFallback struct {
	Conversation domain.ConversationID
	Seq          uint64
	Recipient    domain.UserID
	At           time.Time
}

func (d DeliveryFallback) ConversationID() domain.ConversationID {
	return d.Conversation
}
