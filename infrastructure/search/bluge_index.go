package search

import (
	"context"
	"fmt"
	"log/slog"
	"messaging-core/contract"
	"messaging-core/domain"

	"github.com/blugelabs/bluge"
)

const (
	fieldID           = "_id"
	fieldConversation = "conversation_id"
	fieldContent      = "content"
	fieldSeq          = "seq"
)

// BlugeIndex is a full-text index over message bodies, one document per message.
// It is secondary data: losing the directory only loses search, never messages.
type BlugeIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

var _ contract.SearchIndex = (*BlugeIndex)(nil)

func NewBlugeIndex(writer *bluge.Writer, log *slog.Logger) *BlugeIndex {
	return &BlugeIndex{writer: writer, log: log}
}

func OpenBlugeIndex(path string, log *slog.Logger) (*BlugeIndex, error) {
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	return NewBlugeIndex(writer, log), nil
}

// Index is an upsert keyed by message id, so replaying a message is harmless.
func (b *BlugeIndex) Index(_ context.Context, m domain.Message) error {
	doc := bluge.NewDocument(m.ID).
		AddField(bluge.NewKeywordField(fieldConversation, m.ConversationID)).
		AddField(bluge.NewTextField(fieldContent, m.Content)).
		AddField(bluge.NewNumericField(fieldSeq, float64(m.Seq)).StoreValue())
	if err := b.writer.Update(doc.ID(), doc); err != nil {
		return fmt.Errorf("index message %s: %w", m.ID, err)
	}
	return nil
}

func (b *BlugeIndex) Search(ctx context.Context, conversationID, query string, limit int) ([]contract.SearchHit, error) {
	reader, err := b.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	q := bluge.NewBooleanQuery().
		AddMust(bluge.NewTermQuery(conversationID).SetField(fieldConversation)).
		AddMust(bluge.NewMatchQuery(query).SetField(fieldContent))
	it, err := reader.Search(ctx, bluge.NewTopNSearch(limit, q))
	if err != nil {
		return nil, err
	}

	var hits []contract.SearchHit
	match, err := it.Next()
	for err == nil && match != nil {
		hit := contract.SearchHit{Score: match.Score}
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case fieldID:
				hit.MessageID = string(value)
			case fieldSeq:
				seq, decodeErr := bluge.DecodeNumericFloat64(value)
				if decodeErr == nil {
					hit.Seq = uint64(seq)
				}
			}
			return true
		})
		if err != nil {
			break
		}
		hits = append(hits, hit)
		match, err = it.Next()
	}
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func (b *BlugeIndex) Close() error {
	return b.writer.Close()
}
