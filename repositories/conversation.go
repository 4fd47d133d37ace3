//go:generate go run go.uber.org/mock/mockgen -source=conversation.go -destination=../mocks/mock_conversation_repository.go -package=mocks
package repositories

import (
	"chat-core/domain"
	"chat-core/errors"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

type IConversationRepository interface {
	// Ensure creates the direct conversation between the two users if it
	// does not exist yet. Idempotent: the ID is derived from the pair.
	Ensure(a, b domain.UserID) (domain.Conversation, error)
	Get(id domain.ConversationID) (domain.Conversation, error)
}

type ConversationRepository struct {
	db *badger.DB
}

func NewConversationRepository(db *badger.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

type diskConversation struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"`
}

func conversationKey(id domain.ConversationID) []byte {
	return []byte("conv:" + string(id))
}

func (c *ConversationRepository) Ensure(a, b domain.UserID) (domain.Conversation, error) {
	conv := domain.NewConversation(a, b)
	err := c.db.Update(func(txn *badger.Txn) error {
		key := conversationKey(conv.ID)
		if _, err := txn.Get(key); err == nil {
			return nil
		}
		bytes, err := json.Marshal(diskConversation{
			ID:           string(conv.ID),
			Participants: [2]string{string(conv.Participants[0]), string(conv.Participants[1])},
		})
		if err != nil {
			return err
		}
		return txn.Set(key, bytes)
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: %v", errors.ErrUnavailable, err)
	}
	return conv, nil
}

func (c *ConversationRepository) Get(id domain.ConversationID) (domain.Conversation, error) {
	var dc diskConversation
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(conversationKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &dc)
		})
	})
	if err == badger.ErrKeyNotFound {
		return domain.Conversation{}, errors.ErrConversationNotFound
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: %v", errors.ErrUnavailable, err)
	}
	return domain.Conversation{
		ID:           domain.ConversationID(dc.ID),
		Participants: [2]domain.UserID{domain.UserID(dc.Participants[0]), domain.UserID(dc.Participants[1])},
	}, nil
}
