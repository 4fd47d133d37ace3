//go:generate go run go.uber.org/mock/mockgen -source=chat_service.go -destination=../mocks/mock_chat_service.go -package=mocks
package services

import (
	"chat-core/contract"
	"chat-core/domain"
	"chat-core/errors"
	"chat-core/moderation"
	"chat-core/repositories"
	"chat-core/search"
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

type SendCommand struct {
	Sender       domain.UserID
	Recipient    domain.UserID
	Body         string
	AttachmentID string
	// DedupToken lets clients retry a failed send without duplicating it.
	DedupToken string
}

type IChatService interface {
	Send(ctx context.Context, cmd SendCommand) (domain.Message, error)
	History(userID domain.UserID, conversation domain.ConversationID, fromSeq uint64, limit int) ([]domain.Message, error)
	Search(ctx context.Context, userID domain.UserID, conversation domain.ConversationID, query string, limit int) ([]domain.Message, error)
}

type ChatService struct {
	messages         repositories.IMessageRepository
	conversations    repositories.IConversationRepository
	broker           contract.IBroker
	moderator        *moderation.Moderator
	index            search.IMessageIndex
	maxContentLength int
	log              *slog.Logger
}

func NewChatService(
	messages repositories.IMessageRepository,
	conversations repositories.IConversationRepository,
	broker contract.IBroker,
	moderator *moderation.Moderator,
	index search.IMessageIndex,
	maxContentLength int,
	log *slog.Logger,
) *ChatService {
	return &ChatService{
		messages:         messages,
		conversations:    conversations,
		broker:           broker,
		moderator:        moderator,
		index:            index,
		maxContentLength: maxContentLength,
		log:              log,
	}
}

// Send stores the message durably and hands it to the broker. The returned
// message carries the assigned sequence number, so the caller has its
// durable position before any recipient sees it.
func (s *ChatService) Send(ctx context.Context, cmd SendCommand) (domain.Message, error) {
	// A message needs text, an attachment, or both. Attachment-only
	// messages carry an empty body.
	if strings.TrimSpace(cmd.Body) == "" && cmd.AttachmentID == "" {
		return domain.Message{}, errors.ErrInvalidMessage
	}
	if utf8.RuneCountInString(cmd.Body) > s.maxContentLength {
		return domain.Message{}, errors.ErrInvalidMessage
	}

	conversation, err := s.conversations.Ensure(cmd.Sender, cmd.Recipient)
	if err != nil {
		return domain.Message{}, err
	}

	censored, found := s.moderator.Censor(cmd.Body)
	if len(found) > 0 {
		s.log.Info("Censored outgoing message",
			slog.String("sender", string(cmd.Sender)),
			slog.Int("words", len(found)))
	}

	msg, replayed, err := s.messages.Append(repositories.AppendRequest{
		Conversation: conversation.ID,
		Sender:       cmd.Sender,
		Body:         censored,
		Lang:         moderation.DetectLang(cmd.Body),
		AttachmentID: cmd.AttachmentID,
		DedupToken:   cmd.DedupToken,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return domain.Message{}, err
	}

	// A dedup replay did not store anything new. Notifying again would
	// park a fresh delivery record for a message the recipient may have
	// already acknowledged.
	if !replayed {
		s.broker.Notify(ctx, msg)
	}
	return msg, nil
}

// History replays messages with seq >= fromSeq in conversation order.
func (s *ChatService) History(userID domain.UserID, conversation domain.ConversationID, fromSeq uint64, limit int) ([]domain.Message, error) {
	if err := s.requireParticipant(userID, conversation); err != nil {
		return nil, err
	}
	return s.messages.ReadRange(conversation, fromSeq, limit)
}

// Search resolves full text hits back to stored messages. Index entries
// whose message disappeared from the log are skipped.
func (s *ChatService) Search(ctx context.Context, userID domain.UserID, conversation domain.ConversationID, query string, limit int) ([]domain.Message, error) {
	if err := s.requireParticipant(userID, conversation); err != nil {
		return nil, err
	}

	ids, err := s.index.Search(ctx, conversation, query, limit)
	if err != nil {
		return nil, err
	}

	results := make([]domain.Message, 0, len(ids))
	for _, id := range ids {
		msg, err := s.messages.GetByID(id)
		if err != nil {
			s.log.Warn("Dropping stale index hit", slog.String("id", id.String()))
			continue
		}
		results = append(results, msg)
	}
	return results, nil
}

func (s *ChatService) requireParticipant(userID domain.UserID, conversation domain.ConversationID) error {
	conv, err := s.conversations.Get(conversation)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return errors.ErrNotParticipant
	}
	return nil
}
