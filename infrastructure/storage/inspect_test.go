package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBadgerStore_Inspect(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)

	// Given a conversation with two messages
	conv, _, err := s.FindOrCreateConversation(context.Background(), "alice", "bob", "", time.Now())
	req.NoError(err)
	first := appendMessage(t, s, conv, "alice", "hello")
	appendMessage(t, s, conv, "bob", "hi")

	// When the message keys are listed
	rows, err := s.Inspect("msg:"+conv.ID+":", 0)
	req.NoError(err)

	// Then each message is decoded in sequence order
	req.Len(rows, 2)
	req.Equal("MSG", rows[0].Type)
	req.Equal(first.ID, rows[0].EntityID)
	req.True(strings.HasPrefix(rows[0].Detail, "#1 alice -> bob"), rows[0].Detail)

	// And the limit caps the scan
	rows, err = s.Inspect("", 1)
	req.NoError(err)
	req.Len(rows, 1)

	// And counters and indexes are readable too
	rows, err = s.Inspect("seq:"+conv.ID, 0)
	req.NoError(err)
	req.Len(rows, 1)
	req.Equal("last seq 2", rows[0].Detail)

	rows, err = s.Inspect("msgid:"+first.ID, 0)
	req.NoError(err)
	req.Len(rows, 1)
	req.True(strings.HasPrefix(rows[0].Detail, "-> msg:"), rows[0].Detail)
}

func TestMapRow_Undecodable_Value(t *testing.T) {
	req := require.New(t)

	row := MapRow("conv:broken", []byte("not json"))

	req.Equal("CONV", row.Type)
	req.Equal("broken", row.EntityID)
	req.Equal("Size: 8 bytes", row.Detail)
}
