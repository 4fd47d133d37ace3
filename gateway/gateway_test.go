package gateway

import (
	"bytes"
	"chat-core/auth"
	"chat-core/domain"
	"chat-core/domain/event"
	"chat-core/errors"
	"chat-core/moderation"
	"chat-core/observability"
	"chat-core/repositories"
	"chat-core/runtime"
	"chat-core/search"
	"chat-core/services"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/dgraph-io/badger/v4"
	"github.com/kelseyhightower/envconfig"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	ChannelBuffer   int           `envconfig:"TEST_CHANNEL_BUFFER" default:"16"`
	EventBuffer     int           `envconfig:"TEST_EVENT_BUFFER" default:"64"`
	DeliveryTimeout time.Duration `envconfig:"TEST_DELIVERY_TIMEOUT" default:"200ms"`
	MaxBlobSize     int64         `envconfig:"TEST_MAX_BLOB_SIZE" default:"1048576"`
}

type testGateway struct {
	server *httptest.Server
	tokens auth.TokenManager
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	req := require.New(t)
	log := slog.Default()

	var cfg testConfig
	req.NoError(envconfig.Process("", &cfg))

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	writer, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	req.NoError(err)
	t.Cleanup(func() {
		_ = writer.Close()
	})

	conversations := repositories.NewConversationRepository(db)
	messages := repositories.NewMessageRepository(db, conversations, log)
	deliveries := repositories.NewDeliveryRepository(db, log)
	users := repositories.NewUserRepository(db)
	attachments := repositories.NewAttachmentRepository(db)

	stats := observability.NewStats()
	registry := runtime.NewRegistry()
	eventChan := make(chan event.DomainEvent, cfg.EventBuffer)
	broker := runtime.NewBroker(log, registry, messages, deliveries, stats, eventChan, cfg.DeliveryTimeout)

	moderator, err := moderation.NewModerator([]string{"idiot"}, '*')
	req.NoError(err)
	index := search.NewMessageIndex(writer, log)

	tokens := auth.NewTokenManager("gateway_test_secret_key", time.Hour)
	authService := services.NewAuthService(users, tokens)
	chatService := services.NewChatService(messages, conversations, broker, &moderator, index, 2000, log)

	handlers := NewHandlers(authService, chatService, attachments, stats, cfg.MaxBlobSize, log)
	wsHandler := NewWebSocketHandler(registry, broker, chatService, users, cfg.ChannelBuffer, log)

	server := httptest.NewServer(NewRouter(handlers, wsHandler, tokens))
	t.Cleanup(server.Close)

	return &testGateway{server: server, tokens: tokens}
}

// register creates an account and returns the session token plus the user
// id embedded in it.
func (g *testGateway) register(t *testing.T, email string) (string, string) {
	t.Helper()
	req := require.New(t)

	body, _ := json.Marshal(map[string]string{"email": email, "password": "ComplexPass123!"})
	resp, err := http.Post(g.server.URL+"/register", "application/json", bytes.NewReader(body))
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusCreated, resp.StatusCode)

	var token tokenResponse
	req.NoError(json.NewDecoder(resp.Body).Decode(&token))

	claims, err := g.tokens.Validate(token.Token)
	req.NoError(err)
	return token.Token, claims.UserID
}

func (g *testGateway) dial(t *testing.T, ctx context.Context, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws?token=" + token
	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ws.Close(websocket.StatusNormalClosure, "test done")
	})
	return ws
}

func readFrame(t *testing.T, ctx context.Context, ws *websocket.Conn) Frame {
	t.Helper()
	var frame Frame
	require.NoError(t, wsjson.Read(ctx, ws, &frame))
	return frame
}

func TestGateway_Register_Login_Duplicate(t *testing.T) {
	req := require.New(t)
	g := newTestGateway(t)

	_, _ = g.register(t, "alice@example.com")

	// Same email again conflicts
	body, _ := json.Marshal(map[string]string{"email": "alice@example.com", "password": "ComplexPass123!"})
	resp, err := http.Post(g.server.URL+"/register", "application/json", bytes.NewReader(body))
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusConflict, resp.StatusCode)

	// Login with the right password works
	resp, err = http.Post(g.server.URL+"/login", "application/json", bytes.NewReader(body))
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
}

func TestGateway_History_Requires_Token(t *testing.T) {
	req := require.New(t)
	g := newTestGateway(t)

	resp, err := http.Get(g.server.URL + "/conversations/x/messages")
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

// Offline messages replay in order on connect, live messages follow.
func TestGateway_CatchUp_Then_Live_Order(t *testing.T) {
	req := require.New(t)
	g := newTestGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	aliceToken, _ := g.register(t, "alice@example.com")
	_, bobID := g.register(t, "bob@example.com")

	aliceWS := g.dial(t, ctx, aliceToken)

	// Bob is offline, the message parks as a delivery record.
	req.NoError(wsjson.Write(ctx, aliceWS, Frame{Type: FrameSend, To: bobID, Body: "hi"}))
	sent := readFrame(t, ctx, aliceWS)
	req.Equal(FrameSent, sent.Type)
	req.Equal(uint64(1), sent.Seq)

	// Bob connects and replays the backlog first.
	bobToken, err := g.tokens.Generate(bobID, []string{"user"})
	req.NoError(err)
	bobWS := g.dial(t, ctx, bobToken)

	first := readFrame(t, ctx, bobWS)
	req.Equal(FrameMessage, first.Type)
	req.Equal(uint64(1), first.Seq)
	req.Equal("hi", first.Body)
	req.NoError(wsjson.Write(ctx, bobWS, Frame{Type: FrameAck, MessageID: first.MessageID}))

	// Now a live push lands after the backlog.
	req.NoError(wsjson.Write(ctx, aliceWS, Frame{Type: FrameSend, To: bobID, Body: "there"}))
	sent = readFrame(t, ctx, aliceWS)
	req.Equal(uint64(2), sent.Seq)

	second := readFrame(t, ctx, bobWS)
	req.Equal(FrameMessage, second.Type)
	req.Equal(uint64(2), second.Seq)
	req.Equal("there", second.Body)
	req.NoError(wsjson.Write(ctx, bobWS, Frame{Type: FrameAck, MessageID: second.MessageID}))

	// Bob replies addressing the conversation id directly.
	req.NoError(wsjson.Write(ctx, bobWS, Frame{Type: FrameSend, Conversation: first.Conversation, Body: "hey"}))
	reply := readFrame(t, ctx, bobWS)
	req.Equal(FrameSent, reply.Type)
	req.Equal(uint64(3), reply.Seq)

	toAlice := readFrame(t, ctx, aliceWS)
	req.Equal(FrameMessage, toAlice.Type)
	req.Equal("hey", toAlice.Body)
	req.NoError(wsjson.Write(ctx, aliceWS, Frame{Type: FrameAck, MessageID: toAlice.MessageID}))
}

// A send to an id that never registered is rejected instead of parking
// messages nobody will ever collect.
func TestGateway_Send_Unknown_Recipient(t *testing.T) {
	req := require.New(t)
	g := newTestGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	aliceToken, _ := g.register(t, "alice@example.com")
	aliceWS := g.dial(t, ctx, aliceToken)

	req.NoError(wsjson.Write(ctx, aliceWS, Frame{Type: FrameSend, To: "ghost-user", Body: "anyone there?"}))
	reply := readFrame(t, ctx, aliceWS)
	req.Equal(FrameError, reply.Type)
	req.Equal(errors.ErrUserNotFound.Error(), reply.Error)
}

func TestGateway_History_Endpoint(t *testing.T) {
	req := require.New(t)
	g := newTestGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	aliceToken, aliceID := g.register(t, "alice@example.com")
	_, bobID := g.register(t, "bob@example.com")

	aliceWS := g.dial(t, ctx, aliceToken)
	req.NoError(wsjson.Write(ctx, aliceWS, Frame{Type: FrameSend, To: bobID, Body: "first"}))
	_ = readFrame(t, ctx, aliceWS)
	req.NoError(wsjson.Write(ctx, aliceWS, Frame{Type: FrameSend, To: bobID, Body: "second"}))
	_ = readFrame(t, ctx, aliceWS)

	conversation := domain.NewConversationID(domain.UserID(aliceID), domain.UserID(bobID))
	url := fmt.Sprintf("%s/conversations/%s/messages", g.server.URL, conversation)
	httpReq, _ := http.NewRequest(http.MethodGet, url, nil)
	httpReq.Header.Set("Authorization", "Bearer "+aliceToken)

	resp, err := http.DefaultClient.Do(httpReq)
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)

	var msgs []messageResponse
	req.NoError(json.NewDecoder(resp.Body).Decode(&msgs))
	req.Len(msgs, 2)
	req.Equal(uint64(1), msgs[0].Seq)
	req.Equal("first", msgs[0].Body)
	req.Equal(uint64(2), msgs[1].Seq)
}

func TestGateway_Attachment_Roundtrip(t *testing.T) {
	req := require.New(t)
	g := newTestGateway(t)

	aliceToken, _ := g.register(t, "alice@example.com")

	upload, _ := http.NewRequest(http.MethodPost, g.server.URL+"/attachments", bytes.NewReader(pngBytes))
	upload.Header.Set("Authorization", "Bearer "+aliceToken)
	resp, err := http.DefaultClient.Do(upload)
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusCreated, resp.StatusCode)

	var att repositories.Attachment
	req.NoError(json.NewDecoder(resp.Body).Decode(&att))
	req.Equal("image/png", att.Mime)

	download, _ := http.NewRequest(http.MethodGet, g.server.URL+"/attachments/"+att.ID, nil)
	download.Header.Set("Authorization", "Bearer "+aliceToken)
	resp2, err := http.DefaultClient.Do(download)
	req.NoError(err)
	defer resp2.Body.Close()
	req.Equal(http.StatusOK, resp2.StatusCode)
	req.Equal("image/png", resp2.Header.Get("Content-Type"))
}

var pngBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}
