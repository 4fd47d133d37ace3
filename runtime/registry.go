// Package runtime hosts the presence registry, the delivery broker and the
// supervised workers. It coordinates delivery without containing domain rules.
package runtime

import (
	"chat-core/contract"
	"chat-core/domain"
	"sync"
)

// Registry is the presence registry: it maps users to their single live
// delivery channel. A user is online exactly while a channel is bound.
type Registry struct {
	mu       sync.RWMutex
	channels map[domain.UserID]contract.Channel
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[domain.UserID]contract.Channel)}
}

// Bind registers the channel as the user's current one. Any previously
// bound channel is closed so the old connection releases its resources.
func (r *Registry) Bind(userID domain.UserID, ch contract.Channel) {
	r.mu.Lock()
	previous := r.channels[userID]
	r.channels[userID] = ch
	r.mu.Unlock()

	if previous != nil && previous != ch {
		previous.Close()
	}
}

// Unbind removes the binding only if ch is still the current channel.
// A stale unbind (the user already reconnected with a fresh channel)
// is a no-op, not an error.
func (r *Registry) Unbind(userID domain.UserID, ch contract.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.channels[userID]; ok && current == ch {
		delete(r.channels, userID)
	}
}

func (r *Registry) IsOnline(userID domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[userID]
	return ok
}

func (r *Registry) CurrentChannel(userID domain.UserID) (contract.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[userID]
	return ch, ok
}
