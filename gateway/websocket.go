package gateway

import (
	"chat-core/auth"
	"chat-core/contract"
	"chat-core/domain"
	"chat-core/errors"
	"chat-core/repositories"
	"chat-core/services"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// wsWriter serializes frame writes. The delivery loop and the send
// responses share one socket.
type wsWriter struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (w *wsWriter) write(ctx context.Context, frame Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return wsjson.Write(ctx, w.ws, frame)
}

// Frame is the wire format on the websocket, both directions.
// Client to server: type "send" or "ack". Server to client: "message",
// "sent" or "error".
type Frame struct {
	Type         string    `json:"type"`
	MessageID    string    `json:"message_id,omitempty"`
	Conversation string    `json:"conversation,omitempty"`
	Seq          uint64    `json:"seq,omitempty"`
	Sender       string    `json:"sender,omitempty"`
	To           string    `json:"to,omitempty"`
	Body         string    `json:"body,omitempty"`
	AttachmentID string    `json:"attachment_id,omitempty"`
	DedupToken   string    `json:"dedup_token,omitempty"`
	At           time.Time `json:"at,omitempty"`
	Error        string    `json:"error,omitempty"`
}

const (
	FrameMessage = "message"
	FrameSend    = "send"
	FrameAck     = "ack"
	FrameSent    = "sent"
	FrameError   = "error"
)

// WebSocketHandler upgrades authenticated requests and runs the delivery
// loop: catch-up replay first, then live pushes, while reading send and
// ack frames from the client.
type WebSocketHandler struct {
	registry contract.IRegistry
	broker   contract.IBroker
	chat     services.IChatService
	users    repositories.IUserRepository
	buffer   int
	log      *slog.Logger
}

func NewWebSocketHandler(registry contract.IRegistry, broker contract.IBroker, chat services.IChatService, users repositories.IUserRepository, buffer int, log *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		registry: registry,
		broker:   broker,
		chat:     chat,
		users:    users,
		buffer:   buffer,
		log:      log,
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rawUser, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	userID := domain.UserID(rawUser)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Error("Failed to accept websocket", slog.String("user", rawUser), slog.Any("error", err))
		return
	}
	defer func() {
		_ = ws.Close(websocket.StatusNormalClosure, "session ended")
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Bind before the catch-up read so messages stored in between queue up
	// on the channel instead of racing the snapshot.
	ch := newChannel(h.buffer)
	h.registry.Bind(userID, ch)
	defer func() {
		h.registry.Unbind(userID, ch)
		ch.Close()
	}()

	h.log.Info("User connected", slog.String("user", rawUser))

	writer := &wsWriter{ws: ws}

	if err := h.replayCatchUp(ctx, writer, userID); err != nil {
		h.log.Warn("Catch-up replay aborted", slog.String("user", rawUser), slog.Any("error", err))
		return
	}

	go h.writeLoop(ctx, cancel, writer, ch, userID)

	h.readLoop(ctx, ws, writer, userID)
	h.log.Info("User disconnected", slog.String("user", rawUser))
}

func (h *WebSocketHandler) replayCatchUp(ctx context.Context, writer *wsWriter, userID domain.UserID) error {
	msgs, err := h.broker.CatchUp(userID)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if err := writer.write(ctx, toMessageFrame(msg)); err != nil {
			return err
		}
	}
	return nil
}

func (h *WebSocketHandler) writeLoop(ctx context.Context, cancel context.CancelFunc, writer *wsWriter, ch *wsChannel, userID domain.UserID) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch.closed:
			return
		case msg := <-ch.queue:
			if err := writer.write(ctx, toMessageFrame(msg)); err != nil {
				h.log.Debug("Write failed, closing channel",
					slog.String("user", string(userID)), slog.Any("error", err))
				return
			}
		}
	}
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, writer *wsWriter, userID domain.UserID) {
	for {
		var frame Frame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			return
		}

		switch frame.Type {
		case FrameAck:
			h.broker.Acknowledge(userID, frame.MessageID)
		case FrameSend:
			h.handleSend(ctx, writer, userID, frame)
		default:
			h.log.Debug("Ignoring unknown frame type", slog.String("type", frame.Type))
		}
	}
}

func (h *WebSocketHandler) handleSend(ctx context.Context, writer *wsWriter, userID domain.UserID, frame Frame) {
	recipient, err := resolveRecipient(userID, frame)
	if err != nil {
		_ = writer.write(ctx, Frame{Type: FrameError, DedupToken: frame.DedupToken, Error: err.Error()})
		return
	}

	// A typo'd recipient would otherwise create a conversation and park
	// messages for someone who can never connect.
	if _, err := h.users.GetUserByID(string(recipient)); err != nil {
		_ = writer.write(ctx, Frame{Type: FrameError, DedupToken: frame.DedupToken, Error: errors.ErrUserNotFound.Error()})
		return
	}

	msg, err := h.chat.Send(ctx, services.SendCommand{
		Sender:       userID,
		Recipient:    recipient,
		Body:         frame.Body,
		AttachmentID: frame.AttachmentID,
		DedupToken:   frame.DedupToken,
	})
	if err != nil {
		_ = writer.write(ctx, Frame{Type: FrameError, DedupToken: frame.DedupToken, Error: err.Error()})
		return
	}
	// The sender learns the durable position of its message.
	_ = writer.write(ctx, Frame{
		Type:         FrameSent,
		MessageID:    msg.ID.String(),
		Conversation: string(msg.Conversation),
		Seq:          msg.Seq,
		DedupToken:   frame.DedupToken,
		At:           msg.CreatedAt,
	})
}

// resolveRecipient accepts either an explicit recipient or a conversation
// id the sender belongs to.
func resolveRecipient(sender domain.UserID, frame Frame) (domain.UserID, error) {
	if frame.To != "" {
		return domain.UserID(frame.To), nil
	}

	members, ok := domain.ConversationID(frame.Conversation).Members()
	if !ok {
		return "", errors.ErrConversationNotFound
	}
	conv := domain.Conversation{ID: domain.ConversationID(frame.Conversation), Participants: members}
	if !conv.HasParticipant(sender) {
		return "", errors.ErrNotParticipant
	}
	return conv.Other(sender), nil
}

func toMessageFrame(msg domain.Message) Frame {
	return Frame{
		Type:         FrameMessage,
		MessageID:    msg.ID.String(),
		Conversation: string(msg.Conversation),
		Seq:          msg.Seq,
		Sender:       string(msg.Sender),
		Body:         msg.Body,
		At:           msg.CreatedAt,
	}
}
