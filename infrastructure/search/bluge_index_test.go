package search

import (
	"context"
	"log/slog"
	"messaging-core/domain"
	"testing"

	"github.com/stretchr/testify/require"
)

func newIndex(t *testing.T) *BlugeIndex {
	t.Helper()
	index, err := OpenBlugeIndex(t.TempDir(), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })
	return index
}

func TestBlugeIndex_Search_Is_Scoped_To_Conversation(t *testing.T) {
	req := require.New(t)
	index := newIndex(t)
	ctx := context.Background()

	// Given messages about bikes in two conversations
	for _, m := range []domain.Message{
		{ID: "m1", ConversationID: "c1", Seq: 1, Content: "Is the bike still available?"},
		{ID: "m2", ConversationID: "c1", Seq: 2, Content: "Yes, come tomorrow"},
		{ID: "m3", ConversationID: "c2", Seq: 1, Content: "I sold my bike yesterday"},
	} {
		req.NoError(index.Index(ctx, m))
	}

	// When searching c1
	hits, err := index.Search(ctx, "c1", "bike", 10)

	// Then only the c1 message matches
	req.NoError(err)
	req.Len(hits, 1)
	req.Equal("m1", hits[0].MessageID)
	req.Equal(uint64(1), hits[0].Seq)
	req.Greater(hits[0].Score, float64(0))
}

func TestBlugeIndex_Index_Is_An_Upsert(t *testing.T) {
	req := require.New(t)
	index := newIndex(t)
	ctx := context.Background()
	m := domain.Message{ID: "m1", ConversationID: "c1", Seq: 1, Content: "see you at noon"}

	req.NoError(index.Index(ctx, m))
	req.NoError(index.Index(ctx, m))

	hits, err := index.Search(ctx, "c1", "noon", 10)
	req.NoError(err)
	req.Len(hits, 1)

	hits, err = index.Search(ctx, "c1", "midnight", 10)
	req.NoError(err)
	req.Empty(hits)
}
