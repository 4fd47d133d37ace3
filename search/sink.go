package search

import (
	"chat-core/domain/event"
	"context"
	"fmt"
	"log/slog"
)

// IndexSink feeds stored messages into the full text index.
type IndexSink struct {
	index IMessageIndex
	log   *slog.Logger
}

func NewIndexSink(index IMessageIndex, log *slog.Logger) IndexSink {
	return IndexSink{index: index, log: log}
}

func (s IndexSink) Consume(_ context.Context, e event.DomainEvent) error {
	switch evt := e.(type) {
	case event.MessageStored:
		return s.index.Index(evt)
	default:
		s.log.Debug(fmt.Sprintf("Not an indexable event : %v", evt))
		return nil
	}
}
