package runtime

import (
	"chat-core/contract"
	"chat-core/domain"
	"chat-core/domain/event"
	"chat-core/errors"
	"chat-core/observability"
	"chat-core/repositories"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ contract.IBroker = (*Broker)(nil)

// Broker routes newly stored messages to connected recipients. A push is
// considered delivered only once the recipient acknowledges it within the
// configured timeout; anything else (offline recipient, push failure,
// timeout, disconnect mid-push) falls back to a DeliveryRecord so the
// message is replayed on the recipient's next connect.
//
// Delivery failures never reach the sender: once the append is durable,
// the send has succeeded.
type Broker struct {
	log        *slog.Logger
	registry   contract.IRegistry
	messages   repositories.IMessageRepository
	deliveries repositories.IDeliveryRepository
	stats      *observability.Stats
	events     chan event.DomainEvent
	ackTimeout time.Duration

	mu      sync.Mutex
	pending map[pendingKey]chan struct{}
}

type pendingKey struct {
	recipient domain.UserID
	messageID string
}

func NewBroker(
	log *slog.Logger,
	registry contract.IRegistry,
	messages repositories.IMessageRepository,
	deliveries repositories.IDeliveryRepository,
	stats *observability.Stats,
	events chan event.DomainEvent,
	ackTimeout time.Duration,
) *Broker {
	return &Broker{
		log:        log,
		registry:   registry,
		messages:   messages,
		deliveries: deliveries,
		stats:      stats,
		events:     events,
		ackTimeout: ackTimeout,
		pending:    make(map[pendingKey]chan struct{}),
	}
}

// Notify is invoked exactly once per stored message, after durable append.
func (b *Broker) Notify(ctx context.Context, msg domain.Message) {
	b.stats.Stored.Add(1)
	b.emit(event.MessageStored{
		ID:           msg.ID,
		Conversation: msg.Conversation,
		Seq:          msg.Seq,
		Sender:       msg.Sender,
		Body:         msg.Body,
		At:           msg.CreatedAt,
	})

	members, ok := msg.Conversation.Members()
	if !ok {
		b.log.Error("Stored message carries a malformed conversation id",
			"conversation", msg.Conversation, "seq", msg.Seq)
		return
	}

	for _, recipient := range members {
		if recipient == msg.Sender {
			continue
		}
		b.push(ctx, recipient, msg)
	}
}

// push attempts a live delivery and arms the ack timer. The wait happens in
// its own goroutine: the sender's request must not block on the recipient.
func (b *Broker) push(ctx context.Context, recipient domain.UserID, msg domain.Message) {
	ch, online := b.registry.CurrentChannel(recipient)
	if !online {
		b.fallback(recipient, msg)
		return
	}

	acked := b.trackPending(recipient, msg.ID)
	if err := ch.Deliver(ctx, msg); err != nil {
		b.log.Debug("Live push failed, falling back to catch-up",
			"recipient", recipient, "seq", msg.Seq, "err", err)
		b.clearPending(recipient, msg.ID)
		b.fallback(recipient, msg)
		return
	}

	go b.awaitAck(recipient, msg, acked)
}

func (b *Broker) awaitAck(recipient domain.UserID, msg domain.Message, acked chan struct{}) {
	timer := time.NewTimer(b.ackTimeout)
	defer timer.Stop()

	select {
	case <-acked:
		b.stats.DeliveredLive.Add(1)
	case <-timer.C:
		b.clearPending(recipient, msg.ID)
		b.log.Debug(fmt.Sprintf("%v", errors.ErrDeliveryTimeout),
			"recipient", recipient, "conversation", msg.Conversation, "seq", msg.Seq)
		b.fallback(recipient, msg)
	}
}

// fallback parks the message for catch-up replay. A storage failure here is
// logged and contained: it must never crash the broker or reach the sender.
func (b *Broker) fallback(recipient domain.UserID, msg domain.Message) {
	err := b.deliveries.Create(domain.DeliveryRecord{
		MessageID:    msg.ID,
		Conversation: msg.Conversation,
		Seq:          msg.Seq,
		Recipient:    recipient,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		b.log.Error("Failed to persist delivery record",
			"recipient", recipient, "seq", msg.Seq, "err", err)
		return
	}
	b.stats.Fallbacks.Add(1)
	b.emit(event.DeliveryFallback{
		Conversation: msg.Conversation,
		Seq:          msg.Seq,
		Recipient:    recipient,
		At:           time.Now().UTC(),
	})
}

// Acknowledge resolves an in-flight push or clears the delivery record.
// Acknowledgments that arrive after the record was already cleared are no-ops.
func (b *Broker) Acknowledge(recipient domain.UserID, messageID string) {
	b.stats.Acked.Add(1)

	if acked, ok := b.takePending(recipient, messageID); ok {
		close(acked)
		return
	}

	parsed, err := uuid.Parse(messageID)
	if err != nil {
		b.log.Debug("Ignoring acknowledgment with malformed message id",
			"recipient", recipient, "message_id", messageID)
		return
	}
	msg, err := b.messages.GetByID(parsed)
	if err != nil {
		// Unknown message: nothing to clear
		b.log.Debug("Acknowledgment for unknown message",
			"recipient", recipient, "message_id", messageID)
		return
	}
	if err := b.deliveries.Delete(recipient, msg.Conversation, msg.Seq); err != nil {
		b.log.Warn("Failed to clear delivery record",
			"recipient", recipient, "seq", msg.Seq, "err", err)
	}
}

// CatchUp returns every message with an outstanding delivery record for the
// user, oldest first within each conversation. The gateway replays these
// before live traffic resumes.
func (b *Broker) CatchUp(userID domain.UserID) ([]domain.Message, error) {
	records, err := b.deliveries.ListForUser(userID)
	if err != nil {
		return nil, err
	}

	var messages []domain.Message
	for _, rec := range records {
		msg, err := b.messages.GetByID(rec.MessageID)
		if err != nil {
			b.log.Warn("Delivery record points at unreadable message, dropping it",
				"recipient", userID, "conversation", rec.Conversation, "seq", rec.Seq, "err", err)
			_ = b.deliveries.Delete(userID, rec.Conversation, rec.Seq)
			continue
		}
		messages = append(messages, msg)
	}
	b.stats.Replayed.Add(uint64(len(messages)))
	return messages, nil
}

func (b *Broker) trackPending(recipient domain.UserID, messageID uuid.UUID) chan struct{} {
	acked := make(chan struct{})
	b.mu.Lock()
	b.pending[pendingKey{recipient, messageID.String()}] = acked
	b.mu.Unlock()
	return acked
}

func (b *Broker) takePending(recipient domain.UserID, messageID string) (chan struct{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := pendingKey{recipient, messageID}
	acked, ok := b.pending[key]
	if ok {
		delete(b.pending, key)
	}
	return acked, ok
}

func (b *Broker) clearPending(recipient domain.UserID, messageID uuid.UUID) {
	b.mu.Lock()
	delete(b.pending, pendingKey{recipient, messageID.String()})
	b.mu.Unlock()
}

// emit hands the event to the fanout pipeline. Observational consumers are
// best effort: a full buffer drops the event rather than stalling delivery.
func (b *Broker) emit(evt event.DomainEvent) {
	select {
	case b.events <- evt:
	default:
		b.log.Debug("Event buffer full, dropping observational event",
			"conversation", evt.ConversationID())
	}
}
