package repositories

import (
	"chat-core/domain"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func Test_Delivery_Records_Listed_In_Sequence_Order(t *testing.T) {
	req := require.New(t)
	repo := NewDeliveryRepository(openTestDB(t), slog.Default())

	conv := domain.NewConversationID("alice", "bob")
	now := time.Now().UTC()

	// Insert out of order on purpose
	for _, seq := range []uint64{3, 1, 2} {
		err := repo.Create(domain.DeliveryRecord{
			MessageID:    uuid.New(),
			Conversation: conv,
			Seq:          seq,
			Recipient:    "bob",
			CreatedAt:    now,
		})
		req.NoError(err)
	}

	records, err := repo.ListForUser("bob")
	req.NoError(err)
	req.Len(records, 3)
	req.Equal(uint64(1), records[0].Seq)
	req.Equal(uint64(2), records[1].Seq)
	req.Equal(uint64(3), records[2].Seq)
}

func Test_Delivery_Delete_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	repo := NewDeliveryRepository(openTestDB(t), slog.Default())

	conv := domain.NewConversationID("alice", "bob")
	err := repo.Create(domain.DeliveryRecord{
		MessageID:    uuid.New(),
		Conversation: conv,
		Seq:          1,
		Recipient:    "bob",
		CreatedAt:    time.Now().UTC(),
	})
	req.NoError(err)

	req.NoError(repo.Delete("bob", conv, 1))
	// Late acknowledgment for an already-cleared record is a no-op
	req.NoError(repo.Delete("bob", conv, 1))

	records, err := repo.ListForUser("bob")
	req.NoError(err)
	req.Empty(records)
}

func Test_Delivery_Records_Scoped_Per_Recipient(t *testing.T) {
	req := require.New(t)
	repo := NewDeliveryRepository(openTestDB(t), slog.Default())

	conv := domain.NewConversationID("alice", "bob")
	req.NoError(repo.Create(domain.DeliveryRecord{
		MessageID: uuid.New(), Conversation: conv, Seq: 1, Recipient: "bob", CreatedAt: time.Now().UTC(),
	}))
	req.NoError(repo.Create(domain.DeliveryRecord{
		MessageID: uuid.New(), Conversation: conv, Seq: 2, Recipient: "alice", CreatedAt: time.Now().UTC(),
	}))

	bobRecords, err := repo.ListForUser("bob")
	req.NoError(err)
	req.Len(bobRecords, 1)
	req.Equal(domain.UserID("bob"), bobRecords[0].Recipient)
}
