// Package domain contains core concepts of the delivery core.
// No runtime, network, or UI logic should be added here.
package domain

import "strings"

type UserID string

// ConversationID identifies a direct conversation. It is derived from the
// unordered participant pair, so both participants compute the same ID.
type ConversationID string

// NewConversationID canonicalizes the pair by sorting the two user IDs.
func NewConversationID(a, b UserID) ConversationID {
	if b < a {
		a, b = b, a
	}
	return ConversationID(string(a) + "|" + string(b))
}

// Conversation is an unordered set of exactly two participants.
// Message ordering is guaranteed within a single conversation only.
type Conversation struct {
	ID           ConversationID
	Participants [2]UserID
}

func NewConversation(a, b UserID) Conversation {
	if b < a {
		a, b = b, a
	}
	return Conversation{
		ID:           NewConversationID(a, b),
		Participants: [2]UserID{a, b},
	}
}

func (c Conversation) HasParticipant(id UserID) bool {
	return c.Participants[0] == id || c.Participants[1] == id
}

// Other returns the participant opposite to the given one.
func (c Conversation) Other(id UserID) UserID {
	if c.Participants[0] == id {
		return c.Participants[1]
	}
	return c.Participants[0]
}

// Valid reports whether the ID has the canonical "a|b" shape.
func (id ConversationID) Valid() bool {
	parts := strings.SplitN(string(id), "|", 2)
	return len(parts) == 2 && parts[0] != "" && parts[1] != "" && parts[0] <= parts[1]
}

// Members recovers the participant pair from a canonical ID. The second
// return value is false when the ID is malformed.
func (id ConversationID) Members() ([2]UserID, bool) {
	if !id.Valid() {
		return [2]UserID{}, false
	}
	parts := strings.SplitN(string(id), "|", 2)
	return [2]UserID{UserID(parts[0]), UserID(parts[1])}, true
}
