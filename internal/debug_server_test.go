package internal

import (
	"context"
	"log/slog"
	"messaging-core/domain"
	"messaging-core/infrastructure/storage"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func TestDebugHandler_Renders_Raw_Keys(t *testing.T) {
	req := require.New(t)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	defer db.Close()
	store := storage.NewBadgerStore(db, slog.Default())

	// Given one conversation with one message
	ctx := context.Background()
	conv, _, err := store.FindOrCreateConversation(ctx, "alice", "bob", "", time.Now())
	req.NoError(err)
	_, err = store.Append(ctx, domain.Message{ID: "m-1", ConversationID: conv.ID, SenderID: "alice", RecipientID: "bob", Content: "hello", CreatedAt: time.Now()})
	req.NoError(err)
	handler := NewDebugHandler(store, "/inspect", func() map[string]any { return map[string]any{"connections": 2} })

	// When the messages are inspected
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inspect?prefix=msg:", nil))

	// Then the table shows the decoded message and the stats
	req.Equal(http.StatusOK, rec.Code)
	body := rec.Body.String()
	req.Contains(body, "#1 alice -> bob read=false: hello")
	req.Contains(body, "connections")
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		StoreDriver: StoreBadger, MaxContentLength: 1000, ConnectionBufferSize: 1, BackfillPageSize: 1,
		NotificationBufferSize: 1, TypingExpiry: time.Second, TypingSweepInterval: time.Second, ModerationReplacement: "*",
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.StoreDriver = "sqlite" }, wantErr: true},
		{name: "no content length", mutate: func(c *Config) { c.MaxContentLength = 0 }, wantErr: true},
		{name: "no typing expiry", mutate: func(c *Config) { c.TypingExpiry = 0 }, wantErr: true},
		{name: "long replacement", mutate: func(c *Config) { c.ModerationReplacement = "**" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, SplitList(" a, b,,c "))
	require.Empty(t, SplitList(""))
}
