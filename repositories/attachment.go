//go:generate go run go.uber.org/mock/mockgen -source=attachment.go -destination=../mocks/mock_attachment_repository.go -package=mocks
package repositories

import (
	"chat-core/errors"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

type IAttachmentRepository interface {
	// Store sniffs the content type, rejects anything that is not an image
	// and persists the blob. Returns the reference to embed in a message.
	Store(data []byte) (Attachment, error)
	Get(id string) ([]byte, Attachment, error)
}

type Attachment struct {
	ID        string
	Mime      string
	Size      int
	CreatedAt time.Time
}

type AttachmentRepository struct {
	db *badger.DB
}

func NewAttachmentRepository(db *badger.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

type diskAttachment struct {
	ID   string `json:"id"`
	Mime string `json:"mime"`
	Size int    `json:"size"`
	At   int64  `json:"at"`
}

func blobKey(id string) []byte     { return []byte("blob:" + id) }
func blobMetaKey(id string) []byte { return []byte("blobmeta:" + id) }

func (a *AttachmentRepository) Store(data []byte) (Attachment, error) {
	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return Attachment{}, fmt.Errorf("%w: %s", errors.ErrAttachmentType, detected.String())
	}

	att := Attachment{
		ID:        uuid.New().String(),
		Mime:      detected.String(),
		Size:      len(data),
		CreatedAt: time.Now().UTC(),
	}
	meta, err := json.Marshal(diskAttachment{
		ID:   att.ID,
		Mime: att.Mime,
		Size: att.Size,
		At:   att.CreatedAt.UnixNano(),
	})
	if err != nil {
		return Attachment{}, err
	}

	err = a.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(blobKey(att.ID), data); err != nil {
			return err
		}
		return txn.Set(blobMetaKey(att.ID), meta)
	})
	if err != nil {
		return Attachment{}, fmt.Errorf("%w: %v", errors.ErrUnavailable, err)
	}
	return att, nil
}

func (a *AttachmentRepository) Get(id string) ([]byte, Attachment, error) {
	var data []byte
	var disk diskAttachment
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(id))
		if err != nil {
			return err
		}
		if data, err = item.ValueCopy(nil); err != nil {
			return err
		}
		item, err = txn.Get(blobMetaKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &disk)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, Attachment{}, errors.ErrAttachmentNotFound
	}
	if err != nil {
		return nil, Attachment{}, fmt.Errorf("%w: %v", errors.ErrUnavailable, err)
	}
	return data, Attachment{
		ID:        disk.ID,
		Mime:      disk.Mime,
		Size:      disk.Size,
		CreatedAt: time.Unix(0, disk.At).UTC(),
	}, nil
}
