package storage

import (
	"context"
	"fmt"
	"log/slog"
	"messaging-core/domain"
	"messaging-core/errors"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerStore(db, slog.Default())
}

func appendMessage(t *testing.T, s *BadgerStore, conv domain.Conversation, sender, content string) domain.Message {
	t.Helper()
	m, err := s.Append(context.Background(), domain.Message{
		ConversationID: conv.ID,
		SenderID:       sender,
		RecipientID:    conv.Peer(sender),
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)
	return m
}

func Test_FindOrCreateConversation_Reuses_Unordered_Pair(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	first, created, err := s.FindOrCreateConversation(ctx, "alice", "bob", "item-1", now)
	req.NoError(err)
	req.True(created)

	second, created, err := s.FindOrCreateConversation(ctx, "bob", "alice", "item-1", now)
	req.NoError(err)
	req.False(created)
	req.Equal(first.ID, second.ID)

	other, created, err := s.FindOrCreateConversation(ctx, "alice", "bob", "item-2", now)
	req.NoError(err)
	req.True(created)
	req.NotEqual(first.ID, other.ID)
}

func Test_FindOrCreateConversation_Concurrent_First_Contact(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	// Given both sides opening the conversation at the same time
	var wg sync.WaitGroup
	ids := make(chan string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 0 {
				a, b = b, a
			}
			conv, _, err := s.FindOrCreateConversation(ctx, a, b, "", time.Now())
			if err == nil {
				ids <- conv.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	// Then a single conversation exists
	seen := map[string]struct{}{}
	for id := range ids {
		seen[id] = struct{}{}
	}
	req.Len(seen, 1)
	conversations, err := s.ListConversations(ctx, "alice", false)
	req.NoError(err)
	req.Len(conversations, 1)
}

func Test_Append_Assigns_Gapless_Sequence(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	conv, _, err := s.FindOrCreateConversation(context.Background(), "alice", "bob", "", time.Now())
	req.NoError(err)

	// When appending concurrently from both participants
	var wg sync.WaitGroup
	errs := make(chan error, 30)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := "alice"
			if i%3 == 0 {
				sender = "bob"
			}
			_, err := s.Append(context.Background(), domain.Message{
				ConversationID: conv.ID,
				SenderID:       sender,
				RecipientID:    conv.Peer(sender),
				Content:        fmt.Sprintf("message %d", i),
				CreatedAt:      time.Now().UTC(),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	// Then sequences are 1..30 without gaps
	messages, err := s.ListSince(context.Background(), conv.ID, 0, 0)
	req.NoError(err)
	req.Len(messages, 30)
	for i, m := range messages {
		req.Equal(uint64(i+1), m.Seq)
	}
	got, err := s.GetConversation(context.Background(), conv.ID)
	req.NoError(err)
	req.Equal(uint64(30), got.LastMessageSeq)
	req.Equal(messages[29].ID, got.LastMessageID)
}

func Test_ListSince_Pages_Ascending(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	conv, _, err := s.FindOrCreateConversation(context.Background(), "alice", "bob", "", time.Now())
	req.NoError(err)
	for i := 0; i < 12; i++ {
		appendMessage(t, s, conv, "alice", fmt.Sprintf("m%d", i))
	}

	page, err := s.ListSince(context.Background(), conv.ID, 4, 5)
	req.NoError(err)
	req.Len(page, 5)
	req.Equal(uint64(5), page[0].Seq)
	req.Equal(uint64(9), page[4].Seq)

	rest, err := s.ListSince(context.Background(), conv.ID, 9, 5)
	req.NoError(err)
	req.Len(rest, 3)
	req.Equal(uint64(12), rest[2].Seq)
}

func Test_Unread_Counter_Follows_Read_Flags(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()
	conv, _, err := s.FindOrCreateConversation(ctx, "alice", "bob", "", time.Now())
	req.NoError(err)

	// Given three messages for bob and one for alice
	m1 := appendMessage(t, s, conv, "alice", "hello")
	appendMessage(t, s, conv, "alice", "are you there?")
	appendMessage(t, s, conv, "alice", "?")
	appendMessage(t, s, conv, "bob", "yes")

	unread, err := s.CountUnread(ctx, conv.ID, "bob")
	req.NoError(err)
	req.Equal(3, unread)

	// When the sender tries to mark its own message
	changed, _, err := s.MarkRead(ctx, m1.ID, "alice", time.Now())
	req.NoError(err)
	req.False(changed)

	// When bob reads the first message
	changed, read, err := s.MarkRead(ctx, m1.ID, "bob", time.Now())
	req.NoError(err)
	req.True(changed)
	req.True(read.Read)
	req.NotNil(read.ReadAt)

	unread, err = s.CountUnread(ctx, conv.ID, "bob")
	req.NoError(err)
	req.Equal(2, unread)

	// When bob reads the whole conversation
	n, err := s.MarkConversationRead(ctx, conv.ID, "bob", time.Now())
	req.NoError(err)
	req.Equal(2, n)

	unread, err = s.CountUnread(ctx, conv.ID, "bob")
	req.NoError(err)
	req.Zero(unread)
	unread, err = s.CountUnread(ctx, conv.ID, "alice")
	req.NoError(err)
	req.Equal(1, unread)

	// Then every message addressed to bob is flagged
	messages, err := s.ListSince(ctx, conv.ID, 0, 0)
	req.NoError(err)
	for _, m := range messages {
		if m.RecipientID == "bob" {
			req.True(m.Read)
		}
	}

	// And a second pass is idempotent
	n, err = s.MarkConversationRead(ctx, conv.ID, "bob", time.Now())
	req.NoError(err)
	req.Zero(n)
}

func Test_Archive_Hides_Conversation_From_Default_Listing(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()
	conv, _, err := s.FindOrCreateConversation(ctx, "alice", "bob", "", time.Now())
	req.NoError(err)

	req.NoError(s.ArchiveConversation(ctx, conv.ID, true))

	active, err := s.ListConversations(ctx, "bob", false)
	req.NoError(err)
	req.Empty(active)
	all, err := s.ListConversations(ctx, "bob", true)
	req.NoError(err)
	req.Len(all, 1)
	req.True(all[0].Archived)
}

func Test_Unknown_Ids_Are_Not_Found(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetConversation(ctx, "nope")
	req.ErrorIs(err, errors.ErrConversationNotFound)

	_, err = s.GetMessage(ctx, "nope")
	req.ErrorIs(err, errors.ErrMessageNotFound)

	_, err = s.Append(ctx, domain.Message{ConversationID: "nope", SenderID: "a", RecipientID: "b", Content: "x"})
	req.ErrorIs(err, errors.ErrConversationNotFound)
}

func Test_Closed_Database_Is_A_Persistence_Error(t *testing.T) {
	req := require.New(t)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	s := NewBadgerStore(db, slog.Default())
	conv, _, err := s.FindOrCreateConversation(context.Background(), "alice", "bob", "", time.Now())
	req.NoError(err)
	req.NoError(db.Close())

	_, err = s.Append(context.Background(), domain.Message{ConversationID: conv.ID, SenderID: "alice", RecipientID: "bob", Content: "x"})
	req.Error(err)
	req.True(errors.Retryable(err))
}
