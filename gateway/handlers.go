package gateway

import (
	"chat-core/auth"
	"chat-core/domain"
	"chat-core/errors"
	"chat-core/observability"
	"chat-core/repositories"
	"chat-core/services"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

const defaultHistoryLimit = 100

type Handlers struct {
	authService services.IAuthService
	chat        services.IChatService
	attachments repositories.IAttachmentRepository
	stats       *observability.Stats
	maxBlobSize int64
	log         *slog.Logger
}

func NewHandlers(
	authService services.IAuthService,
	chat services.IChatService,
	attachments repositories.IAttachmentRepository,
	stats *observability.Stats,
	maxBlobSize int64,
	log *slog.Logger,
) *Handlers {
	return &Handlers{
		authService: authService,
		chat:        chat,
		attachments: attachments,
		stats:       stats,
		maxBlobSize: maxBlobSize,
		log:         log,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type messageResponse struct {
	ID           string    `json:"id"`
	Conversation string    `json:"conversation"`
	Seq          uint64    `json:"seq"`
	Sender       string    `json:"sender"`
	Body         string    `json:"body"`
	Lang         string    `json:"lang,omitempty"`
	AttachmentID string    `json:"attachment_id,omitempty"`
	At           time.Time `json:"at"`
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var creds credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	token, err := h.authService.Register(creds.Email, creds.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tokenResponse{Token: string(token)})
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var creds credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	token, err := h.authService.Login(creds.Email, creds.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tokenResponse{Token: string(token)})
}

func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	conversation := domain.ConversationID(chi.URLParam(r, "conversation"))
	fromSeq := parseUint(r.URL.Query().Get("from_seq"), 1)
	limit := int(parseUint(r.URL.Query().Get("limit"), defaultHistoryLimit))

	msgs, err := h.chat.History(domain.UserID(userID), conversation, fromSeq, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toMessageResponses(msgs))
}

func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "missing q parameter", http.StatusBadRequest)
		return
	}
	conversation := domain.ConversationID(chi.URLParam(r, "conversation"))
	limit := int(parseUint(r.URL.Query().Get("limit"), defaultHistoryLimit))

	msgs, err := h.chat.Search(r.Context(), domain.UserID(userID), conversation, query, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toMessageResponses(msgs))
}

func (h *Handlers) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, h.maxBlobSize+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if int64(len(data)) > h.maxBlobSize {
		http.Error(w, "attachment too large", http.StatusRequestEntityTooLarge)
		return
	}

	att, err := h.attachments.Store(data)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, att)
}

func (h *Handlers) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	data, meta, err := h.attachments.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", meta.Mime)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.stats.Snapshot())
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Debug("Failed to encode response", slog.Any("error", err))
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case stderrors.Is(err, errors.ErrInvalidCredentials), stderrors.Is(err, errors.ErrUnauthenticated):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case stderrors.Is(err, errors.ErrNotParticipant):
		http.Error(w, err.Error(), http.StatusForbidden)
	case stderrors.Is(err, errors.ErrConversationNotFound), stderrors.Is(err, errors.ErrAttachmentNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case stderrors.Is(err, errors.ErrUserAlreadyExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case stderrors.Is(err, errors.ErrInvalidPassword), stderrors.Is(err, errors.ErrInvalidMessage), stderrors.Is(err, errors.ErrAttachmentType):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.log.Error("Internal error", slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func toMessageResponses(msgs []domain.Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse{
			ID:           m.ID.String(),
			Conversation: string(m.Conversation),
			Seq:          m.Seq,
			Sender:       string(m.Sender),
			Body:         m.Body,
			Lang:         m.Lang,
			AttachmentID: m.AttachmentID,
			At:           m.CreatedAt,
		})
	}
	return out
}

func parseUint(raw string, fallback uint64) uint64 {
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}
