package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message represents an immutable chat event. The sequence number is
// assigned by the store and is strictly increasing and gapless within
// a conversation.
type Message struct {
	ID           uuid.UUID
	Conversation ConversationID
	Seq          uint64
	Sender       UserID
	Body         string
	Lang         string // ISO 639-1 code detected at ingestion, may be empty
	AttachmentID string
	CreatedAt    time.Time
}

// DeliveryRecord marks a (message, recipient) pair whose delivery has not
// been acknowledged yet. It is created when a push fails or the recipient
// is offline, and deleted on acknowledgment.
type DeliveryRecord struct {
	MessageID    uuid.UUID
	Conversation ConversationID
	Seq          uint64
	Recipient    UserID
	CreatedAt    time.Time
}
