package repositories

import (
	"chat-core/domain"
	"chat-core/errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestStore(t *testing.T) (*MessageRepository, *ConversationRepository) {
	t.Helper()
	db := openTestDB(t)
	conversations := NewConversationRepository(db)
	return NewMessageRepository(db, conversations, slog.Default()), conversations
}

func Test_Append_Assigns_Gapless_Increasing_Sequences(t *testing.T) {
	req := require.New(t)
	repo, conversations := newTestStore(t)

	conv, err := conversations.Ensure("alice", "bob")
	req.NoError(err)

	for i := 1; i <= 5; i++ {
		msg, _, err := repo.Append(AppendRequest{
			Conversation: conv.ID,
			Sender:       "alice",
			Body:         fmt.Sprintf("message %d", i),
			CreatedAt:    time.Now().UTC(),
		})
		req.NoError(err)
		req.Equal(uint64(i), msg.Seq)
	}

	fetched, err := repo.ReadRange(conv.ID, 0, 0)
	req.NoError(err)
	req.Len(fetched, 5)
	for i, msg := range fetched {
		req.Equal(uint64(i+1), msg.Seq)
		req.Equal(fmt.Sprintf("message %d", i+1), msg.Body)
	}
}

func Test_Append_Rejects_Non_Participant(t *testing.T) {
	req := require.New(t)
	repo, conversations := newTestStore(t)

	conv, err := conversations.Ensure("alice", "bob")
	req.NoError(err)

	_, _, err = repo.Append(AppendRequest{
		Conversation: conv.ID,
		Sender:       "mallory",
		Body:         "hi there",
		CreatedAt:    time.Now().UTC(),
	})
	req.ErrorIs(err, errors.ErrNotParticipant)

	// Nothing must have been stored
	fetched, err := repo.ReadRange(conv.ID, 0, 0)
	req.NoError(err)
	req.Empty(fetched)
}

func Test_Append_Unknown_Conversation(t *testing.T) {
	req := require.New(t)
	repo, _ := newTestStore(t)

	_, _, err := repo.Append(AppendRequest{
		Conversation: domain.NewConversationID("x", "y"),
		Sender:       "x",
		Body:         "ghost",
		CreatedAt:    time.Now().UTC(),
	})
	req.ErrorIs(err, errors.ErrConversationNotFound)
}

func Test_Append_Dedup_Token_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	repo, conversations := newTestStore(t)

	conv, err := conversations.Ensure("alice", "bob")
	req.NoError(err)

	first, replayed, err := repo.Append(AppendRequest{
		Conversation: conv.ID,
		Sender:       "alice",
		Body:         "only once",
		DedupToken:   "token-42",
		CreatedAt:    time.Now().UTC(),
	})
	req.NoError(err)
	req.False(replayed)

	// A client retrying after a lost response sends the same token
	retried, replayed, err := repo.Append(AppendRequest{
		Conversation: conv.ID,
		Sender:       "alice",
		Body:         "only once",
		DedupToken:   "token-42",
		CreatedAt:    time.Now().UTC(),
	})
	req.NoError(err)
	req.True(replayed)
	req.Equal(first.ID, retried.ID)
	req.Equal(first.Seq, retried.Seq)

	fetched, err := repo.ReadRange(conv.ID, 0, 0)
	req.NoError(err)
	req.Len(fetched, 1)
}

func Test_ReadRange_From_Seq_And_Limit(t *testing.T) {
	req := require.New(t)
	repo, conversations := newTestStore(t)

	conv, err := conversations.Ensure("alice", "bob")
	req.NoError(err)
	for i := 1; i <= 10; i++ {
		_, _, err = repo.Append(AppendRequest{
			Conversation: conv.ID,
			Sender:       "bob",
			Body:         fmt.Sprintf("m%d", i),
			CreatedAt:    time.Now().UTC(),
		})
		req.NoError(err)
	}

	page, err := repo.ReadRange(conv.ID, 4, 3)
	req.NoError(err)
	req.Len(page, 3)
	req.Equal(uint64(4), page[0].Seq)
	req.Equal(uint64(6), page[2].Seq)

	// Restartable: resuming from the last seen sequence + 1
	rest, err := repo.ReadRange(conv.ID, page[2].Seq+1, 0)
	req.NoError(err)
	req.Len(rest, 4)
	req.Equal(uint64(7), rest[0].Seq)
}

func Test_Concurrent_Appends_Stay_Gapless(t *testing.T) {
	req := require.New(t)
	repo, conversations := newTestStore(t)

	conv, err := conversations.Ensure("alice", "bob")
	req.NoError(err)

	const total = 40
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := domain.UserID("alice")
			if i%2 == 0 {
				sender = "bob"
			}
			_, _, err := repo.Append(AppendRequest{
				Conversation: conv.ID,
				Sender:       sender,
				Body:         fmt.Sprintf("racy %d", i),
				CreatedAt:    time.Now().UTC(),
			})
			req.NoError(err)
		}(i)
	}
	wg.Wait()

	fetched, err := repo.ReadRange(conv.ID, 0, 0)
	req.NoError(err)
	req.Len(fetched, total)
	for i, msg := range fetched {
		req.Equal(uint64(i+1), msg.Seq)
	}
}

func Test_GetByID_Resolves_Index(t *testing.T) {
	req := require.New(t)
	repo, conversations := newTestStore(t)

	conv, err := conversations.Ensure("alice", "bob")
	req.NoError(err)
	stored, _, err := repo.Append(AppendRequest{
		Conversation: conv.ID,
		Sender:       "alice",
		Body:         "find me",
		CreatedAt:    time.Now().UTC(),
	})
	req.NoError(err)

	fetched, err := repo.GetByID(stored.ID)
	req.NoError(err)
	req.Equal(stored, fetched)
}
