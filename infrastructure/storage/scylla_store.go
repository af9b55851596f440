package storage

import (
	"context"
	"fmt"
	"log/slog"
	"messaging-core/contract"
	"messaging-core/domain"
	"messaging-core/errors"
	"sort"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ScyllaStore is the clustered MessageStore. Sequence numbers are claimed
// with a lightweight transaction on the (conversation_id, seq) primary key,
// so two writers racing for the same slot can't both win and a lost race
// never leaves a hole.
type ScyllaStore struct {
	session *gocql.Session
	log     *slog.Logger
}

var _ contract.MessageStore = (*ScyllaStore)(nil)

// serialRead makes a plain read observe every committed lightweight transaction.
const serialRead = gocql.Consistency(gocql.Serial)

// releaseTimeout bounds the cleanup of a claimed slot, which runs even when
// the request context is gone.
const releaseTimeout = 5 * time.Second

func NewScyllaStore(session *gocql.Session, log *slog.Logger) *ScyllaStore {
	return &ScyllaStore{session: session, log: log}
}

func (s *ScyllaStore) Close() error {
	s.session.Close()
	return nil
}

// Ping runs the cheapest query the cluster can answer.
func (s *ScyllaStore) Ping(ctx context.Context) error {
	if err := s.session.Query(`SELECT now() FROM system.local`).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
	return nil
}

const conversationColumns = `id, participant_a, participant_b, context_id, created_at, last_message_at,
	last_message_id, last_message_seq, last_sender_id, last_message_preview, archived`

const messageColumns = `conversation_id, seq, id, sender_id, recipient_id, content,
	attachment_url, attachment_kind, attachment_name, created_at, read, read_at`

func (s *ScyllaStore) FindOrCreateConversation(ctx context.Context, a, b, contextID string, now time.Time) (domain.Conversation, bool, error) {
	pair := domain.NormalizePair(a, b)
	key := domain.PairKey(a, b, contextID)

	if existing, err := s.conversationByPair(ctx, key); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, errors.ErrConversationNotFound) {
		return domain.Conversation{}, false, err
	}

	// The row goes in first so whoever wins the pair claim below always
	// points at a readable conversation.
	conv := domain.Conversation{ID: uuid.NewString(), Participants: pair, ContextID: contextID, CreatedAt: now.UTC()}
	if err := s.session.Query(`INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, pair[0], pair[1], contextID, conv.CreatedAt, nil, "", int64(0), "", "", false).
		WithContext(ctx).Exec(); err != nil {
		return domain.Conversation{}, false, storeErr(err)
	}

	existing := map[string]interface{}{}
	applied, err := s.session.Query(`INSERT INTO conversation_pairs (pair_key, conversation_id) VALUES (?, ?) IF NOT EXISTS`, key, conv.ID).
		WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return domain.Conversation{}, false, storeErr(err)
	}
	if !applied {
		if err = s.session.Query(`DELETE FROM conversations WHERE id = ?`, conv.ID).WithContext(ctx).Exec(); err != nil {
			s.log.Warn("Failed to remove orphan conversation", "conversation_id", conv.ID, "error", err)
		}
		winner, _ := existing["conversation_id"].(string)
		found, err := s.GetConversation(ctx, winner)
		return found, false, err
	}

	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, p := range pair {
		batch.Query(`INSERT INTO user_conversations (user_id, conversation_id) VALUES (?, ?)`, p, conv.ID)
	}
	if err = s.session.ExecuteBatch(batch); err != nil {
		return domain.Conversation{}, false, storeErr(err)
	}
	s.log.Debug("Conversation created", "conversation_id", conv.ID, "context_id", contextID)
	return conv, true, nil
}

func (s *ScyllaStore) conversationByPair(ctx context.Context, key string) (domain.Conversation, error) {
	var id string
	err := s.session.Query(`SELECT conversation_id FROM conversation_pairs WHERE pair_key = ?`, key).
		WithContext(ctx).Consistency(serialRead).Scan(&id)
	if errors.Is(err, gocql.ErrNotFound) {
		return domain.Conversation{}, errors.ErrConversationNotFound
	}
	if err != nil {
		return domain.Conversation{}, storeErr(err)
	}
	return s.GetConversation(ctx, id)
}

func (s *ScyllaStore) GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error) {
	var (
		conv    domain.Conversation
		lastAt  time.Time
		lastSeq int64
	)
	err := s.session.Query(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, conversationID).
		WithContext(ctx).
		Scan(&conv.ID, &conv.Participants[0], &conv.Participants[1], &conv.ContextID, &conv.CreatedAt, &lastAt,
			&conv.LastMessageID, &lastSeq, &conv.LastSenderID, &conv.LastMessagePreview, &conv.Archived)
	if errors.Is(err, gocql.ErrNotFound) {
		return domain.Conversation{}, errors.ErrConversationNotFound
	}
	if err != nil {
		return domain.Conversation{}, storeErr(err)
	}
	conv.CreatedAt = conv.CreatedAt.UTC()
	conv.LastMessageAt = lastAt.UTC()
	conv.LastMessageSeq = uint64(lastSeq)
	return conv, nil
}

func (s *ScyllaStore) ListConversations(ctx context.Context, userID string, includeArchived bool) ([]domain.Conversation, error) {
	iter := s.session.Query(`SELECT conversation_id FROM user_conversations WHERE user_id = ?`, userID).
		WithContext(ctx).Iter()
	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, storeErr(err)
	}

	conversations := make([]domain.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.GetConversation(ctx, id)
		if errors.Is(err, errors.ErrConversationNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if conv.Archived && !includeArchived {
			continue
		}
		conversations = append(conversations, conv)
	}
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].LastActivity().After(conversations[j].LastActivity())
	})
	return conversations, nil
}

func (s *ScyllaStore) ArchiveConversation(ctx context.Context, conversationID string, archived bool) error {
	applied, err := s.session.Query(`UPDATE conversations SET archived = ? WHERE id = ? IF EXISTS`, archived, conversationID).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return storeErr(err)
	}
	if !applied {
		return errors.ErrConversationNotFound
	}
	return nil
}

// Append claims seq = last+1 with INSERT ... IF NOT EXISTS and retries on a lost claim.
// Secondary rows follow in a logged batch; the last-message pointer only ever moves forward.
func (s *ScyllaStore) Append(ctx context.Context, message domain.Message) (domain.Message, error) {
	if _, err := s.GetConversation(ctx, message.ConversationID); err != nil {
		return domain.Message{}, err
	}
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	var attachmentURL, attachmentKind, attachmentName string
	if message.Attachment != nil {
		attachmentURL, attachmentKind, attachmentName = message.Attachment.URL, string(message.Attachment.Kind), message.Attachment.Name
	}

	claimed := false
	for attempt := 0; attempt < maxTxnAttempts && !claimed; attempt++ {
		last, err := s.lastSeq(ctx, message.ConversationID)
		if err != nil {
			return domain.Message{}, err
		}
		message.Seq = last + 1
		claimed, err = s.session.Query(`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
			message.ConversationID, int64(message.Seq), message.ID, message.SenderID, message.RecipientID, message.Content,
			attachmentURL, attachmentKind, attachmentName, message.CreatedAt.UTC(), false, nil).
			WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			return domain.Message{}, storeErr(err)
		}
	}
	if !claimed {
		return domain.Message{}, errors.ErrSequenceConflict
	}

	err := commitClaim(
		func() error {
			batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
			batch.Query(`INSERT INTO messages_by_id (id, conversation_id, seq) VALUES (?, ?, ?)`, message.ID, message.ConversationID, int64(message.Seq))
			batch.Query(`INSERT INTO unread_messages (conversation_id, recipient_id, seq) VALUES (?, ?, ?)`, message.ConversationID, message.RecipientID, int64(message.Seq))
			return s.session.ExecuteBatch(batch)
		},
		func() error { return s.releaseClaim(ctx, message) },
	)
	if err != nil {
		s.log.Warn("Append rolled back", "conversation_id", message.ConversationID, "seq", message.Seq, "error", err)
		return domain.Message{}, err
	}

	if _, err := s.session.Query(`UPDATE conversations SET last_message_at = ?, last_message_id = ?, last_message_seq = ?, last_sender_id = ?, last_message_preview = ?
		WHERE id = ? IF last_message_seq < ?`,
		message.CreatedAt.UTC(), message.ID, int64(message.Seq), message.SenderID, domain.Preview(message.Content, domain.DefaultPreviewLength),
		message.ConversationID, int64(message.Seq)).
		WithContext(ctx).MapScanCAS(map[string]interface{}{}); err != nil {
		s.log.Warn("Failed to move last message pointer", "conversation_id", message.ConversationID, "seq", message.Seq, "error", err)
	}
	return message, nil
}

// commitClaim runs the writes that follow a sequence claim. When they fail
// the claim is released, so the caller's retry doesn't leave a first copy
// behind that no index points to.
func commitClaim(write, release func() error) error {
	err := write()
	if err == nil {
		return nil
	}
	if releaseErr := release(); releaseErr != nil {
		return storeErr(errors.Join(err, fmt.Errorf("release failed: %w", releaseErr)))
	}
	return storeErr(err)
}

// releaseClaim removes a claimed message row, only if it is still ours, and
// whatever secondary rows made it in.
func (s *ScyllaStore) releaseClaim(ctx context.Context, message domain.Message) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if _, err := s.session.Query(`DELETE FROM messages WHERE conversation_id = ? AND seq = ? IF id = ?`,
		message.ConversationID, int64(message.Seq), message.ID).
		WithContext(ctx).MapScanCAS(map[string]interface{}{}); err != nil {
		return err
	}
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`DELETE FROM messages_by_id WHERE id = ?`, message.ID)
	batch.Query(`DELETE FROM unread_messages WHERE conversation_id = ? AND recipient_id = ? AND seq = ?`, message.ConversationID, message.RecipientID, int64(message.Seq))
	return s.session.ExecuteBatch(batch)
}

func (s *ScyllaStore) lastSeq(ctx context.Context, conversationID string) (uint64, error) {
	var seq int64
	err := s.session.Query(`SELECT seq FROM messages WHERE conversation_id = ? ORDER BY seq DESC LIMIT 1`, conversationID).
		WithContext(ctx).Consistency(serialRead).Scan(&seq)
	if errors.Is(err, gocql.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr(err)
	}
	return uint64(seq), nil
}

func (s *ScyllaStore) ListSince(ctx context.Context, conversationID string, sinceSeq uint64, limit int) ([]domain.Message, error) {
	stmt := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ? AND seq > ? ORDER BY seq ASC`
	args := []interface{}{conversationID, int64(sinceSeq)}
	if limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, limit)
	}
	iter := s.session.Query(stmt, args...).WithContext(ctx).Iter()
	var messages []domain.Message
	for {
		var row scyllaMessage
		if !iter.Scan(row.dest()...) {
			break
		}
		messages = append(messages, row.toDomain())
	}
	if err := iter.Close(); err != nil {
		return nil, storeErr(err)
	}
	return messages, nil
}

func (s *ScyllaStore) GetMessage(ctx context.Context, messageID string) (domain.Message, error) {
	var conversationID string
	var seq int64
	err := s.session.Query(`SELECT conversation_id, seq FROM messages_by_id WHERE id = ?`, messageID).
		WithContext(ctx).Scan(&conversationID, &seq)
	if errors.Is(err, gocql.ErrNotFound) {
		return domain.Message{}, errors.ErrMessageNotFound
	}
	if err != nil {
		return domain.Message{}, storeErr(err)
	}
	return s.messageAt(ctx, conversationID, seq)
}

func (s *ScyllaStore) messageAt(ctx context.Context, conversationID string, seq int64) (domain.Message, error) {
	var row scyllaMessage
	err := s.session.Query(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND seq = ?`, conversationID, seq).
		WithContext(ctx).Scan(row.dest()...)
	if errors.Is(err, gocql.ErrNotFound) {
		return domain.Message{}, errors.ErrMessageNotFound
	}
	if err != nil {
		return domain.Message{}, storeErr(err)
	}
	return row.toDomain(), nil
}

func (s *ScyllaStore) MarkRead(ctx context.Context, messageID, readerID string, at time.Time) (bool, domain.Message, error) {
	m, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return false, domain.Message{}, err
	}
	if m.RecipientID != readerID || m.Read {
		return false, m, nil
	}
	applied, err := s.session.Query(`UPDATE messages SET read = true, read_at = ? WHERE conversation_id = ? AND seq = ? IF read = false`,
		at.UTC(), m.ConversationID, int64(m.Seq)).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, domain.Message{}, storeErr(err)
	}
	if !applied {
		current, err := s.messageAt(ctx, m.ConversationID, int64(m.Seq))
		return false, current, err
	}
	if err = s.session.Query(`DELETE FROM unread_messages WHERE conversation_id = ? AND recipient_id = ? AND seq = ?`,
		m.ConversationID, readerID, int64(m.Seq)).WithContext(ctx).Exec(); err != nil {
		return false, domain.Message{}, storeErr(err)
	}
	m.Read = true
	m.ReadAt = lo.ToPtr(at.UTC())
	return true, m, nil
}

// MarkConversationRead flips every unread entry of the reader in one logged batch.
func (s *ScyllaStore) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return 0, err
	}
	iter := s.session.Query(`SELECT seq FROM unread_messages WHERE conversation_id = ? AND recipient_id = ?`, conversationID, readerID).
		WithContext(ctx).Iter()
	var seqs []int64
	var seq int64
	for iter.Scan(&seq) {
		seqs = append(seqs, seq)
	}
	if err := iter.Close(); err != nil {
		return 0, storeErr(err)
	}
	if len(seqs) == 0 {
		return 0, nil
	}

	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, seq := range seqs {
		batch.Query(`UPDATE messages SET read = true, read_at = ? WHERE conversation_id = ? AND seq = ?`, at.UTC(), conversationID, seq)
		batch.Query(`DELETE FROM unread_messages WHERE conversation_id = ? AND recipient_id = ? AND seq = ?`, conversationID, readerID, seq)
	}
	if err := s.session.ExecuteBatch(batch); err != nil {
		return 0, storeErr(err)
	}
	return len(seqs), nil
}

func (s *ScyllaStore) CountUnread(ctx context.Context, conversationID, participantID string) (int, error) {
	var count int64
	if err := s.session.Query(`SELECT COUNT(*) FROM unread_messages WHERE conversation_id = ? AND recipient_id = ?`, conversationID, participantID).
		WithContext(ctx).Scan(&count); err != nil {
		return 0, storeErr(err)
	}
	return int(count), nil
}

type scyllaMessage struct {
	ConversationID string
	Seq            int64
	ID             string
	SenderID       string
	RecipientID    string
	Content        string
	AttachmentURL  string
	AttachmentKind string
	AttachmentName string
	CreatedAt      time.Time
	Read           bool
	ReadAt         time.Time
}

// dest follows the order of messageColumns.
func (r *scyllaMessage) dest() []interface{} {
	return []interface{}{&r.ConversationID, &r.Seq, &r.ID, &r.SenderID, &r.RecipientID, &r.Content,
		&r.AttachmentURL, &r.AttachmentKind, &r.AttachmentName, &r.CreatedAt, &r.Read, &r.ReadAt}
}

func (r scyllaMessage) toDomain() domain.Message {
	m := domain.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		RecipientID:    r.RecipientID,
		Content:        r.Content,
		Seq:            uint64(r.Seq),
		CreatedAt:      r.CreatedAt.UTC(),
		Read:           r.Read,
	}
	if !r.ReadAt.IsZero() {
		m.ReadAt = lo.ToPtr(r.ReadAt.UTC())
	}
	if r.AttachmentURL != "" {
		m.Attachment = &domain.Attachment{URL: r.AttachmentURL, Kind: domain.AttachmentKind(r.AttachmentKind), Name: r.AttachmentName}
	}
	return m
}
