package ginserver

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"messaging-core/auth"
	"messaging-core/contract"
	"messaging-core/domain"
	"messaging-core/infrastructure/storage"
	"messaging-core/infrastructure/ws"
	"messaging-core/mocks"
	"messaging-core/observability"
	"messaging-core/runtime"
	"messaging-core/services"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type nameBook struct {
	mu    sync.Mutex
	names map[string]string
}

func (b *nameBook) Remember(ref domain.ParticipantRef) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names[ref.ID] = ref.DisplayName
}

func (b *nameBook) Lookup(_ context.Context, userID string) (domain.ParticipantRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.ParticipantRef{ID: userID, DisplayName: b.names[userID]}, nil
}

type apiFixture struct {
	router *gin.Engine
	tokens *auth.Tokens
	index  *mocks.MockSearchIndex
	ready  bool
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.Default()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := storage.NewBadgerStore(db, log)
	metrics := observability.NewMetrics()
	registry := runtime.NewRegistry(log)
	names := &nameBook{names: map[string]string{}}
	index := mocks.NewMockSearchIndex(gomock.NewController(t))
	dispatcher := services.NewDispatcher(log, store, registry, nil, nil, metrics, nil, 0)
	receipts := services.NewReceiptTracker(log, store, registry, metrics, nil)
	backfill := services.NewBackfill(log, store, metrics, 0)
	conversations := services.NewConversationService(log, store, names, index, backfill, nil)

	f := &apiFixture{tokens: auth.NewTokens("test-secret"), index: index}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	wsHandler := NewWSHandler(ctx, ws.Services{
		Registry:      registry,
		Dispatcher:    dispatcher,
		Receipts:      receipts,
		Typing:        services.NewTypingManager(log, registry, metrics, nil, 0),
		Backfill:      backfill,
		Conversations: conversations,
		Metrics:       metrics,
	}, ws.Options{BufferSize: 32}, nil, log)

	f.router = NewRouter(Config{}, log, Handlers{
		Conversations:  ConversationHandler{Conversations: conversations, Dispatcher: dispatcher, Receipts: receipts, Logger: log},
		WS:             wsHandler,
		Health:         HealthHandlers{Ready: func() (bool, []string) { return f.ready, []string{"store"} }},
		Metrics:        promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		AuthMiddleware: AuthMiddleware{Tokens: f.tokens, Names: names, Logger: log}.Handle,
	})
	return f
}

func (f *apiFixture) token(t *testing.T, userID, name string) string {
	t.Helper()
	token, err := f.tokens.Generate(userID, name, nil, time.Hour)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	r := httptest.NewRequest(method, path, reader)
	r.Header.Set("Content-Type", "application/json")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, r)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAPI_Requires_A_Valid_Token(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)

	req.Equal(http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/conversations", "", nil).Code)
	req.Equal(http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/conversations", "forged", nil).Code)
	req.Equal(http.StatusOK, f.do(t, http.MethodGet, "/api/conversations", f.token(t, "alice", ""), nil).Code)
}

func TestAPI_Conversation_Lifecycle(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)
	alice, bob := f.token(t, "alice", "Alice"), f.token(t, "bob", "Bob")

	// Given alice opens a conversation about an item
	rec := f.do(t, http.MethodPost, "/api/conversations", alice, map[string]string{"recipientId": "bob", "contextId": "item-7"})
	req.Equal(http.StatusCreated, rec.Code)
	conv := decode[conversationDTO](t, rec)
	req.Equal("item-7", conv.ContextID)
	req.Equal("bob", conv.Peer.ID)

	// And opening it again from bob's side finds the same one
	rec = f.do(t, http.MethodPost, "/api/conversations", bob, map[string]string{"recipientId": "alice", "contextId": "item-7"})
	req.Equal(http.StatusOK, rec.Code)
	req.Equal(conv.ID, decode[conversationDTO](t, rec).ID)

	// When alice sends two messages
	base := "/api/conversations/" + conv.ID
	for _, content := range []string{"Hello", "How are you?"} {
		rec = f.do(t, http.MethodPost, base+"/messages", alice, map[string]string{"content": content, "clientId": "c-" + content})
		req.Equal(http.StatusCreated, rec.Code)
	}

	// Then bob sees them as unread, with alice's name from her token
	rec = f.do(t, http.MethodGet, "/api/conversations", bob, nil)
	req.Equal(http.StatusOK, rec.Code)
	list := decode[struct{ Items []conversationDTO }](t, rec)
	req.Len(list.Items, 1)
	req.Equal(2, list.Items[0].UnreadCount)
	req.Equal("Alice", list.Items[0].Peer.Name)
	req.Equal("How are you?", list.Items[0].LastMessagePreview)

	// And can page through history after seq 1
	rec = f.do(t, http.MethodGet, base+"/messages?since=1", bob, nil)
	req.Equal(http.StatusOK, rec.Code)
	page := decode[messagePageDTO](t, rec)
	req.Len(page.Messages, 1)
	req.Equal(uint64(2), page.Messages[0].Seq)

	// When bob reads everything
	rec = f.do(t, http.MethodPost, base+"/read", bob, nil)
	req.Equal(http.StatusOK, rec.Code)
	receipt := decode[receiptDTO](t, rec)
	req.Equal(domain.AllMessages, receipt.MessageID)
	req.Equal(2, receipt.Changed)
	req.Zero(receipt.UnreadCount)

	// And archives it
	req.Equal(http.StatusNoContent, f.do(t, http.MethodPost, base+"/archive", bob, nil).Code)
	rec = f.do(t, http.MethodGet, "/api/conversations", bob, nil)
	req.Empty(decode[struct{ Items []conversationDTO }](t, rec).Items)

	// Then a stranger can't see any of it
	eve := f.token(t, "eve", "")
	rec = f.do(t, http.MethodGet, base+"/messages", eve, nil)
	req.Equal(http.StatusForbidden, rec.Code)
	req.Equal("authorization_error", decode[map[string]any](t, rec)["error"])
}

func TestAPI_MarkRead_Message_Must_Belong_To_The_Path_Conversation(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)
	alice, bob, carol := f.token(t, "alice", ""), f.token(t, "bob", ""), f.token(t, "carol", "")

	// Given bob has a message from alice and a conversation with carol
	withAlice := decode[conversationDTO](t, f.do(t, http.MethodPost, "/api/conversations", alice, map[string]string{"recipientId": "bob"}))
	sent := decode[domain.MessagePayload](t, f.do(t, http.MethodPost, "/api/conversations/"+withAlice.ID+"/messages", alice, map[string]string{"content": "secret"}))
	withCarol := decode[conversationDTO](t, f.do(t, http.MethodPost, "/api/conversations", carol, map[string]string{"recipientId": "bob"}))

	// When bob marks alice's message through the conversation with carol
	rec := f.do(t, http.MethodPost, "/api/conversations/"+withCarol.ID+"/read", bob, map[string]string{"messageId": sent.ID})

	// Then it is not found there and stays unread
	req.Equal(http.StatusNotFound, rec.Code)
	list := decode[struct{ Items []conversationDTO }](t, f.do(t, http.MethodGet, "/api/conversations", bob, nil))
	for _, item := range list.Items {
		if item.ID == withAlice.ID {
			req.Equal(1, item.UnreadCount)
		}
	}

	// And through its own conversation it is marked
	rec = f.do(t, http.MethodPost, "/api/conversations/"+withAlice.ID+"/read", bob, map[string]string{"messageId": sent.ID})
	req.Equal(http.StatusOK, rec.Code)
	receipt := decode[receiptDTO](t, rec)
	req.Equal(sent.ID, receipt.MessageID)
	req.Equal(1, receipt.Changed)
	req.Zero(receipt.UnreadCount)
}

func TestAPI_Validation_Errors(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)
	alice := f.token(t, "alice", "")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{name: "missing recipient", method: http.MethodPost, path: "/api/conversations", body: map[string]string{}, status: http.StatusBadRequest},
		{name: "self conversation", method: http.MethodPost, path: "/api/conversations", body: map[string]string{"recipientId": "alice"}, status: http.StatusBadRequest},
		{name: "unknown conversation", method: http.MethodGet, path: "/api/conversations/nope", status: http.StatusNotFound},
		{name: "bad since", method: http.MethodGet, path: "/api/conversations/nope/messages?since=-1", status: http.StatusBadRequest},
		{name: "attachment without url", method: http.MethodPost, path: "/api/conversations/nope/messages", body: map[string]string{"content": "hi", "attachmentType": "image"}, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := f.do(t, tt.method, tt.path, alice, tt.body)
		req.Equal(tt.status, rec.Code, tt.name)
	}
}

func TestAPI_Search(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)
	alice := f.token(t, "alice", "")
	conv := decode[conversationDTO](t, f.do(t, http.MethodPost, "/api/conversations", alice, map[string]string{"recipientId": "bob"}))
	sent := decode[domain.MessagePayload](t, f.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", alice, map[string]string{"content": "red bike"}))

	f.index.EXPECT().Search(gomock.Any(), conv.ID, "bike", 5).Return([]contract.SearchHit{{MessageID: sent.ID, Seq: sent.Seq}}, nil)

	rec := f.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/search?q=bike&limit=5", alice, nil)
	req.Equal(http.StatusOK, rec.Code)
	found := decode[struct{ Items []domain.MessagePayload }](t, rec)
	req.Len(found.Items, 1)
	req.Equal("red bike", found.Items[0].Content)
}

func TestAPI_Health_And_Metrics(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)

	req.Equal(http.StatusOK, f.do(t, http.MethodGet, "/healthz", "", nil).Code)
	req.Equal(http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/readyz", "", nil).Code)
	f.ready = true
	req.Equal(http.StatusOK, f.do(t, http.MethodGet, "/readyz", "", nil).Code)

	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	req.Equal(http.StatusOK, rec.Code)
	req.Contains(rec.Body.String(), "messaging_")
}

func TestAPI_WebSocket_Session(t *testing.T) {
	req := require.New(t)
	f := newAPIFixture(t)
	server := httptest.NewServer(f.router)
	defer server.Close()
	base := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?access_token="

	// Without a token the upgrade is refused
	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	req.Error(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(base+f.token(t, "alice", ""), nil)
	req.NoError(err)
	defer conn.Close()

	read := func(eventType domain.EventType) json.RawMessage {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			var frame struct {
				Type    domain.EventType `json:"type"`
				Payload json.RawMessage  `json:"payload"`
			}
			req.NoError(conn.ReadJSON(&frame))
			if frame.Type == eventType {
				return frame.Payload
			}
		}
	}
	read(domain.EventConnectionReady)

	// When alice sends over the socket
	req.NoError(conn.WriteJSON(map[string]any{
		"type":    domain.EventSendMessage,
		"payload": domain.SendMessagePayload{RecipientID: "bob", Content: "hi bob", ClientID: "tmp-1"},
	}))

	// Then she gets the ack carrying her client id
	var ack domain.MessagePayload
	req.NoError(json.Unmarshal(read(domain.EventMessageAck), &ack))
	req.Equal("tmp-1", ack.ClientID)
	req.Equal(uint64(1), ack.Seq)

	// And the message is visible over REST
	rec := f.do(t, http.MethodGet, "/api/conversations/"+ack.ConversationID+"/messages", f.token(t, "bob", ""), nil)
	req.Equal(http.StatusOK, rec.Code)
	req.Len(decode[messagePageDTO](t, rec).Messages, 1)
}
