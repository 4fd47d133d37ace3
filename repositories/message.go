//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"chat-core/domain"
	"chat-core/errors"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type IMessageRepository interface {
	Append(req AppendRequest) (msg domain.Message, replayed bool, err error)
	ReadRange(conversation domain.ConversationID, fromSeq uint64, limit int) ([]domain.Message, error)
	GetByID(id uuid.UUID) (domain.Message, error)
}

// AppendRequest carries everything needed for one durable append.
// DedupToken is optional: retrying a failed Append with the same token
// returns the originally stored message instead of storing a duplicate.
type AppendRequest struct {
	Conversation domain.ConversationID
	Sender       domain.UserID
	Body         string
	Lang         string
	AttachmentID string
	DedupToken   string
	CreatedAt    time.Time
}

type MessageRepository struct {
	db            *badger.DB
	conversations IConversationRepository
	log           *slog.Logger

	// mu guards writers. Sequence assignment is single-writer per
	// conversation: two appends to the same conversation never run
	// concurrently, appends to different conversations do.
	mu      sync.Mutex
	writers map[domain.ConversationID]*sync.Mutex
}

func NewMessageRepository(db *badger.DB, conversations IConversationRepository, log *slog.Logger) *MessageRepository {
	return &MessageRepository{
		db:            db,
		conversations: conversations,
		log:           log,
		writers:       make(map[domain.ConversationID]*sync.Mutex),
	}
}

// diskMessage is the persisted shape of a domain.Message.
type diskMessage struct {
	ID           string `json:"id"`
	Conversation string `json:"conversation"`
	Seq          uint64 `json:"seq"`
	Sender       string `json:"sender"`
	Body         string `json:"body"`
	Lang         string `json:"lang,omitempty"`
	AttachmentID string `json:"attachment_id,omitempty"`
	At           int64  `json:"at"`
}

// messageKey formats keys as "msg:{conversation}:{seq_padded}" so that a
// prefix scan yields messages in ascending sequence order. 19-digit zero
// padding keeps lexicographic order aligned with numeric order.
func messageKey(conversation domain.ConversationID, seq uint64) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d", conversation, seq))
}

func seqKey(conversation domain.ConversationID) []byte {
	return []byte(fmt.Sprintf("seq:%s", conversation))
}

func messageIDKey(id uuid.UUID) []byte {
	return []byte("msgid:" + id.String())
}

func dedupKey(conversation domain.ConversationID, token string) []byte {
	return []byte(fmt.Sprintf("dedup:%s:%s", conversation, token))
}

// Append validates the sender, assigns the next sequence number and persists
// the message, the counter, the message-id index and the dedup marker in a
// single transaction. The whole operation runs under the conversation's
// writer lock, which is what guarantees gapless, strictly increasing
// sequence numbers.
//
// The replayed return tells the caller whether the dedup token matched an
// earlier append. A replayed message was not stored again and must not be
// handed to the broker a second time.
func (m *MessageRepository) Append(req AppendRequest) (domain.Message, bool, error) {
	conv, err := m.conversations.Get(req.Conversation)
	if err != nil {
		return domain.Message{}, false, err
	}
	if !conv.HasParticipant(req.Sender) {
		return domain.Message{}, false, errors.ErrNotParticipant
	}

	writer := m.writerFor(req.Conversation)
	writer.Lock()
	defer writer.Unlock()

	if req.DedupToken != "" {
		if stored, ok, err := m.findByDedupToken(req.Conversation, req.DedupToken); err != nil {
			return domain.Message{}, false, fmt.Errorf("%w: %v", errors.ErrUnavailable, err)
		} else if ok {
			m.log.Debug("Append replayed through dedup token",
				"conversation", req.Conversation, "seq", stored.Seq)
			return stored, true, nil
		}
	}

	msg := domain.Message{
		ID:           uuid.New(),
		Conversation: req.Conversation,
		Sender:       req.Sender,
		Body:         req.Body,
		Lang:         req.Lang,
		AttachmentID: req.AttachmentID,
		CreatedAt:    req.CreatedAt,
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		last, err := readSeq(txn, seqKey(req.Conversation))
		if err != nil {
			return err
		}
		msg.Seq = last + 1

		key := messageKey(req.Conversation, msg.Seq)
		bytes, err := json.Marshal(fromDomainMessage(msg))
		if err != nil {
			return err
		}
		if err = txn.Set(key, bytes); err != nil {
			return err
		}
		if err = txn.Set(seqKey(req.Conversation), encodeSeq(msg.Seq)); err != nil {
			return err
		}
		if err = txn.Set(messageIDKey(msg.ID), key); err != nil {
			return err
		}
		if req.DedupToken != "" {
			return txn.Set(dedupKey(req.Conversation, req.DedupToken), key)
		}
		return nil
	})
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("%w: %v", errors.ErrUnavailable, err)
	}
	return msg, false, nil
}

// ReadRange returns messages with seq >= fromSeq in ascending order.
// limit <= 0 means no limit. The result never skips or reorders: the key
// layout makes Badger's iterator walk the log in sequence order.
func (m *MessageRepository) ReadRange(conversation domain.ConversationID, fromSeq uint64, limit int) ([]domain.Message, error) {
	var disk []diskMessage
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("msg:%s:", conversation))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(messageKey(conversation, fromSeq)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(disk) == limit {
				break
			}
			var dm diskMessage
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &dm)
			})
			if err != nil {
				return err
			}
			disk = append(disk, dm)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrUnavailable, err)
	}
	return toDomainMessages(disk)
}

// GetByID resolves a message through the "msgid:" index.
func (m *MessageRepository) GetByID(id uuid.UUID) (domain.Message, error) {
	var dm diskMessage
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(messageIDKey(id))
		if err != nil {
			return err
		}
		var key []byte
		if key, err = item.ValueCopy(nil); err != nil {
			return err
		}
		item, err = txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &dm)
		})
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrUnavailable, err)
	}
	return toDomainMessage(dm)
}

func (m *MessageRepository) findByDedupToken(conversation domain.ConversationID, token string) (domain.Message, bool, error) {
	var dm diskMessage
	found := false
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dedupKey(conversation, token))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var key []byte
		if key, err = item.ValueCopy(nil); err != nil {
			return err
		}
		item, err = txn.Get(key)
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &dm)
		})
	})
	if err != nil || !found {
		return domain.Message{}, false, err
	}
	msg, err := toDomainMessage(dm)
	return msg, err == nil, err
}

func (m *MessageRepository) writerFor(conversation domain.ConversationID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	writer, ok := m.writers[conversation]
	if !ok {
		writer = &sync.Mutex{}
		m.writers[conversation] = writer
	}
	return writer
}

func readSeq(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var last uint64
	err = item.Value(func(value []byte) error {
		if len(value) != 8 {
			return fmt.Errorf("corrupt sequence counter: %d bytes", len(value))
		}
		last = binary.BigEndian.Uint64(value)
		return nil
	})
	return last, err
}

func encodeSeq(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

func fromDomainMessage(msg domain.Message) diskMessage {
	return diskMessage{
		ID:           msg.ID.String(),
		Conversation: string(msg.Conversation),
		Seq:          msg.Seq,
		Sender:       string(msg.Sender),
		Body:         msg.Body,
		Lang:         msg.Lang,
		AttachmentID: msg.AttachmentID,
		At:           msg.CreatedAt.UnixNano(),
	}
}

func toDomainMessage(dm diskMessage) (domain.Message, error) {
	parsedID, err := uuid.Parse(dm.ID)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:           parsedID,
		Conversation: domain.ConversationID(dm.Conversation),
		Seq:          dm.Seq,
		Sender:       domain.UserID(dm.Sender),
		Body:         dm.Body,
		Lang:         dm.Lang,
		AttachmentID: dm.AttachmentID,
		CreatedAt:    time.Unix(0, dm.At).UTC(),
	}, nil
}

func toDomainMessages(disk []diskMessage) ([]domain.Message, error) {
	var firstErr error
	messages := lo.FilterMap(disk, func(dm diskMessage, _ int) (domain.Message, bool) {
		msg, err := toDomainMessage(dm)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return msg, err == nil
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return messages, nil
}
