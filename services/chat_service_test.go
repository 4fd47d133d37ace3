package services

import (
	"chat-core/domain"
	"chat-core/domain/event"
	"chat-core/errors"
	"chat-core/mocks"
	"chat-core/moderation"
	"chat-core/repositories"
	"chat-core/search"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func toStoredEvent(m domain.Message) event.MessageStored {
	return event.MessageStored{
		ID:           m.ID,
		Conversation: m.Conversation,
		Seq:          m.Seq,
		Sender:       m.Sender,
		Body:         m.Body,
		At:           m.CreatedAt,
	}
}

type chatFixture struct {
	service *ChatService
	broker  *mocks.MockIBroker
}

func newChatFixture(t *testing.T) chatFixture {
	t.Helper()
	log := slog.Default()

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	writer, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = writer.Close()
	})

	moderator, err := moderation.NewModerator([]string{"idiot"}, '*')
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	broker := mocks.NewMockIBroker(ctrl)

	conversations := repositories.NewConversationRepository(db)
	messages := repositories.NewMessageRepository(db, conversations, log)
	index := search.NewMessageIndex(writer, log)

	service := NewChatService(messages, conversations, broker, &moderator, index, 2000, log)
	return chatFixture{service: service, broker: broker}
}

func TestChatService_Send_Stores_And_Notifies(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)

	f.broker.EXPECT().Notify(gomock.Any(), gomock.Any()).Times(1)

	msg, err := f.service.Send(context.Background(), SendCommand{
		Sender:    "alice",
		Recipient: "bob",
		Body:      "hello there",
	})
	req.NoError(err)
	req.Equal(uint64(1), msg.Seq)
	req.Equal(domain.NewConversationID("alice", "bob"), msg.Conversation)

	history, err := f.service.History("bob", msg.Conversation, 1, 10)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal("hello there", history[0].Body)
}

func TestChatService_Send_Censors_Body(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)

	f.broker.EXPECT().Notify(gomock.Any(), gomock.Any()).Times(1)

	msg, err := f.service.Send(context.Background(), SendCommand{
		Sender:    "alice",
		Recipient: "bob",
		Body:      "you idiot",
	})
	req.NoError(err)
	req.Equal("you *****", msg.Body)
}

func TestChatService_Send_Accepts_Attachment_Only(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)

	f.broker.EXPECT().Notify(gomock.Any(), gomock.Any()).Times(1)

	// An image without a caption has an empty body.
	msg, err := f.service.Send(context.Background(), SendCommand{
		Sender:       "alice",
		Recipient:    "bob",
		AttachmentID: "att-1234",
	})
	req.NoError(err)
	req.Equal(uint64(1), msg.Seq)
	req.Equal("att-1234", msg.AttachmentID)
	req.Empty(msg.Body)

	history, err := f.service.History("bob", msg.Conversation, 1, 10)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal("att-1234", history[0].AttachmentID)
}

func TestChatService_Send_Dedup_Retry_Notifies_Once(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)
	ctx := context.Background()

	// The retry replays the stored message, the broker must not hear
	// about it again.
	f.broker.EXPECT().Notify(gomock.Any(), gomock.Any()).Times(1)

	cmd := SendCommand{Sender: "alice", Recipient: "bob", Body: "hi", DedupToken: "retry-7"}
	first, err := f.service.Send(ctx, cmd)
	req.NoError(err)

	second, err := f.service.Send(ctx, cmd)
	req.NoError(err)
	req.Equal(first.ID, second.ID)
	req.Equal(first.Seq, second.Seq)

	history, err := f.service.History("bob", first.Conversation, 1, 10)
	req.NoError(err)
	req.Len(history, 1)
}

func TestChatService_Send_Rejects_Empty_Body(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)

	_, err := f.service.Send(context.Background(), SendCommand{
		Sender:    "alice",
		Recipient: "bob",
		Body:      "   ",
	})
	req.ErrorIs(err, errors.ErrInvalidMessage)
}

func TestChatService_Send_Rejects_Oversized_Body(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)

	_, err := f.service.Send(context.Background(), SendCommand{
		Sender:    "alice",
		Recipient: "bob",
		Body:      strings.Repeat("a", 2001),
	})
	req.ErrorIs(err, errors.ErrInvalidMessage)
}

func TestChatService_History_Requires_Participant(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)

	f.broker.EXPECT().Notify(gomock.Any(), gomock.Any()).Times(1)

	msg, err := f.service.Send(context.Background(), SendCommand{
		Sender:    "alice",
		Recipient: "bob",
		Body:      "private",
	})
	req.NoError(err)

	_, err = f.service.History("eve", msg.Conversation, 1, 10)
	req.ErrorIs(err, errors.ErrNotParticipant)
}

func TestChatService_History_Unknown_Conversation(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)

	_, err := f.service.History("alice", domain.NewConversationID("alice", "nobody"), 1, 10)
	req.ErrorIs(err, errors.ErrConversationNotFound)
}

func TestChatService_Search_Resolves_Messages(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)
	ctx := context.Background()

	var notified []domain.Message
	f.broker.EXPECT().Notify(gomock.Any(), gomock.Any()).Do(func(_ context.Context, m domain.Message) {
		notified = append(notified, m)
	}).Times(2)

	first, err := f.service.Send(ctx, SendCommand{Sender: "alice", Recipient: "bob", Body: "deploy is scheduled tonight"})
	req.NoError(err)
	_, err = f.service.Send(ctx, SendCommand{Sender: "bob", Recipient: "alice", Body: "see you tomorrow"})
	req.NoError(err)
	req.Len(notified, 2)

	// The fanout worker indexes in production, the test feeds the index directly.
	index := f.service.index
	for _, m := range notified {
		req.NoError(index.Index(toStoredEvent(m)))
	}

	results, err := f.service.Search(ctx, "bob", first.Conversation, "deploy", 10)
	req.NoError(err)
	req.Len(results, 1)
	req.Equal(first.ID, results[0].ID)
}

func TestChatService_Search_Requires_Participant(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)

	f.broker.EXPECT().Notify(gomock.Any(), gomock.Any()).Times(1)

	msg, err := f.service.Send(context.Background(), SendCommand{Sender: "alice", Recipient: "bob", Body: "secret plans"})
	req.NoError(err)

	_, err = f.service.Search(context.Background(), "eve", msg.Conversation, "secret", 10)
	req.ErrorIs(err, errors.ErrNotParticipant)
}
