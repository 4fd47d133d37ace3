package runtime

import (
	"chat-core/contract"
	"chat-core/domain"
	"chat-core/domain/event"
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var _ contract.EventSink = (*SubscriptionHub)(nil)

// SubscriptionHub exposes stored-message events as explicit, cancellable
// subscriptions. It replaces implicit framework-driven store subscriptions
// with subscribe/unsubscribe calls and deterministic cleanup: Cancel closes
// the event channel and removes the subscriber.
type SubscriptionHub struct {
	log        *slog.Logger
	bufferSize int

	mu          sync.Mutex
	subscribers map[string]*Subscription
}

// Subscription is one live event stream. Events arrive on C; Cancel is
// idempotent and closes C.
type Subscription struct {
	C chan event.DomainEvent

	id     string
	userID domain.UserID
	hub    *SubscriptionHub
	once   sync.Once
}

func NewSubscriptionHub(log *slog.Logger, bufferSize int) *SubscriptionHub {
	return &SubscriptionHub{
		log:         log,
		bufferSize:  bufferSize,
		subscribers: make(map[string]*Subscription),
	}
}

// Subscribe registers an event stream for the user. Only events of
// conversations the user participates in are delivered.
func (h *SubscriptionHub) Subscribe(userID domain.UserID) *Subscription {
	sub := &Subscription{
		C:      make(chan event.DomainEvent, h.bufferSize),
		id:     uuid.NewString(),
		userID: userID,
		hub:    h,
	}
	h.mu.Lock()
	h.subscribers[sub.id] = sub
	h.mu.Unlock()
	return sub
}

func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subscribers, s.id)
		s.hub.mu.Unlock()
		close(s.C)
	})
}

// Consume is called by the fanout worker. Slow subscribers lose events
// instead of stalling the pipeline; durability comes from the message log,
// not from this stream.
func (h *SubscriptionHub) Consume(_ context.Context, e event.DomainEvent) error {
	members, ok := e.ConversationID().Members()
	if !ok {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subscribers {
		if sub.userID != members[0] && sub.userID != members[1] {
			continue
		}
		select {
		case sub.C <- e:
		default:
			h.log.Debug("Subscriber buffer full, dropping event", "user", sub.userID)
		}
	}
	return nil
}
