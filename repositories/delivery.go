//go:generate go run go.uber.org/mock/mockgen -source=delivery.go -destination=../mocks/mock_delivery_repository.go -package=mocks
package repositories

import (
	"chat-core/domain"
	"chat-core/errors"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IDeliveryRepository interface {
	Create(rec domain.DeliveryRecord) error
	// Delete removes the record for (recipient, conversation, seq).
	// Deleting an already-cleared record is a no-op.
	Delete(recipient domain.UserID, conversation domain.ConversationID, seq uint64) error
	// ListForUser returns all outstanding records for a user. Within one
	// conversation the records come back in ascending sequence order;
	// no ordering is guaranteed across conversations.
	ListForUser(userID domain.UserID) ([]domain.DeliveryRecord, error)
}

type DeliveryRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewDeliveryRepository(db *badger.DB, log *slog.Logger) *DeliveryRepository {
	return &DeliveryRepository{db: db, log: log}
}

type diskDeliveryRecord struct {
	MessageID    string `json:"message_id"`
	Conversation string `json:"conversation"`
	Seq          uint64 `json:"seq"`
	Recipient    string `json:"recipient"`
	At           int64  `json:"at"`
}

// deliveryKey keeps records grouped by recipient, then conversation, then
// padded sequence, so a prefix scan over "dlv:{user}:" yields the oldest
// undelivered message of each conversation first.
func deliveryKey(recipient domain.UserID, conversation domain.ConversationID, seq uint64) []byte {
	return []byte(fmt.Sprintf("dlv:%s:%s:%019d", recipient, conversation, seq))
}

func (d *DeliveryRepository) Create(rec domain.DeliveryRecord) error {
	bytes, err := json.Marshal(diskDeliveryRecord{
		MessageID:    rec.MessageID.String(),
		Conversation: string(rec.Conversation),
		Seq:          rec.Seq,
		Recipient:    string(rec.Recipient),
		At:           rec.CreatedAt.UnixNano(),
	})
	if err != nil {
		return err
	}
	err = d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(deliveryKey(rec.Recipient, rec.Conversation, rec.Seq), bytes)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrUnavailable, err)
	}
	return nil
}

func (d *DeliveryRepository) Delete(recipient domain.UserID, conversation domain.ConversationID, seq uint64) error {
	err := d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(deliveryKey(recipient, conversation, seq))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrUnavailable, err)
	}
	return nil
}

func (d *DeliveryRepository) ListForUser(userID domain.UserID) ([]domain.DeliveryRecord, error) {
	var records []domain.DeliveryRecord
	err := d.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("dlv:%s:", userID))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var disk diskDeliveryRecord
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &disk)
			})
			if err != nil {
				return err
			}
			rec, err := toDeliveryRecord(disk)
			if err != nil {
				d.log.Warn("Skipping corrupt delivery record", "key", string(it.Item().Key()), "err", err)
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrUnavailable, err)
	}
	return records, nil
}

func toDeliveryRecord(disk diskDeliveryRecord) (domain.DeliveryRecord, error) {
	messageID, err := uuid.Parse(disk.MessageID)
	if err != nil {
		return domain.DeliveryRecord{}, err
	}
	return domain.DeliveryRecord{
		MessageID:    messageID,
		Conversation: domain.ConversationID(disk.Conversation),
		Seq:          disk.Seq,
		Recipient:    domain.UserID(disk.Recipient),
		CreatedAt:    time.Unix(0, disk.At).UTC(),
	}, nil
}
