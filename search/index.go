//go:generate go run go.uber.org/mock/mockgen -source=index.go -destination=../mocks/mock_index.go -package=mocks
package search

import (
	"chat-core/domain"
	"chat-core/domain/event"
	"context"
	"fmt"
	"log/slog"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"
)

type IMessageIndex interface {
	Index(evt event.MessageStored) error
	Search(ctx context.Context, conversation domain.ConversationID, query string, limit int) ([]uuid.UUID, error)
}

// MessageIndex maintains a full text index over stored message bodies.
// Results are message identifiers, the caller resolves them against the log.
type MessageIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewMessageIndex(writer *bluge.Writer, log *slog.Logger) *MessageIndex {
	return &MessageIndex{writer: writer, log: log}
}

func (m *MessageIndex) Index(evt event.MessageStored) error {
	doc := bluge.NewDocument(evt.ID.String())
	doc.AddField(bluge.NewKeywordField("conversation", string(evt.Conversation)).StoreValue())
	doc.AddField(bluge.NewKeywordField("sender", string(evt.Sender)))
	doc.AddField(bluge.NewTextField("body", evt.Body))
	doc.AddField(bluge.NewDateTimeField("at", evt.At))

	if err := m.writer.Update(doc.ID(), doc); err != nil {
		return fmt.Errorf("failed to index message %s: %w", evt.ID, err)
	}
	return nil
}

func (m *MessageIndex) Search(ctx context.Context, conversation domain.ConversationID, query string, limit int) ([]uuid.UUID, error) {
	reader, err := m.writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open index reader: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	q := bluge.NewBooleanQuery().
		AddMust(bluge.NewMatchQuery(query).SetField("body")).
		AddMust(bluge.NewTermQuery(string(conversation)).SetField("conversation"))

	iterator, err := reader.Search(ctx, bluge.NewTopNSearch(limit, q))
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	var ids []uuid.UUID
	for {
		match, err := iterator.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate search results: %w", err)
		}
		if match == nil {
			break
		}
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field != "_id" {
				return true
			}
			id, parseErr := uuid.Parse(string(value))
			if parseErr != nil {
				m.log.Warn("Skipping unparseable document id", slog.String("id", string(value)))
				return true
			}
			ids = append(ids, id)
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}
