package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"messaging-core/contract"
	"messaging-core/domain"
	"messaging-core/errors"
	"sort"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const maxTxnAttempts = 64

// BadgerStore is the embedded MessageStore.
//
// Key layout:
//
//	conv:{id}                          conversation record
//	pair:{a}|{b}|{context}             conversation id, uniqueness of the pair
//	member:{user}:{conversation}       membership index for listings
//	seq:{conversation}                 last assigned sequence (uint64, big endian)
//	msg:{conversation}:{seq padded}    message record
//	msgid:{id}                         message key
//	unread:{conversation}:{user}:{seq} one entry per unread message addressed to user
//
// Every write touching a counter happens in the same transaction as the
// record it counts, so the unread index can't drift from the read flags.
type BadgerStore struct {
	db  *badger.DB
	log *slog.Logger
}

var _ contract.MessageStore = (*BadgerStore)(nil)

func NewBadgerStore(db *badger.DB, log *slog.Logger) *BadgerStore {
	return &BadgerStore{db: db, log: log}
}

// OpenBadgerStore opens (or creates) the database under path.
func OpenBadgerStore(path string, log *slog.Logger) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
	return NewBadgerStore(db, log), nil
}

func (s *BadgerStore) DB() *badger.DB { return s.db }

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database still accepts transactions.
func (s *BadgerStore) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.ErrStoreUnavailable
	}
	return storeErr(s.db.View(func(*badger.Txn) error { return nil }))
}

type diskConversation struct {
	ID                 string    `json:"id"`
	Participants       [2]string `json:"participants"`
	ContextID          string    `json:"contextId,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	LastMessageAt      time.Time `json:"lastMessageAt,omitempty"`
	LastMessageID      string    `json:"lastMessageId,omitempty"`
	LastMessageSeq     uint64    `json:"lastMessageSeq,omitempty"`
	LastSenderID       string    `json:"lastSenderId,omitempty"`
	LastMessagePreview string    `json:"lastMessagePreview,omitempty"`
	Archived           bool      `json:"archived,omitempty"`
}

type diskMessage struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	SenderID       string          `json:"senderId"`
	RecipientID    string          `json:"recipientId"`
	Content        string          `json:"content"`
	Attachment     *diskAttachment `json:"attachment,omitempty"`
	Seq            uint64          `json:"seq"`
	CreatedAt      time.Time       `json:"createdAt"`
	Read           bool            `json:"read,omitempty"`
	ReadAt         *time.Time      `json:"readAt,omitempty"`
}

type diskAttachment struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
	Name string `json:"name,omitempty"`
}

func conversationKey(id string) []byte { return []byte("conv:" + id) }

func pairKey(a, b, contextID string) []byte { return []byte("pair:" + domain.PairKey(a, b, contextID)) }

func memberKey(userID, conversationID string) []byte {
	return []byte("member:" + userID + ":" + conversationID)
}

func memberPrefix(userID string) []byte { return []byte("member:" + userID + ":") }

func seqKey(conversationID string) []byte { return []byte("seq:" + conversationID) }

func messagePrefix(conversationID string) []byte { return []byte("msg:" + conversationID + ":") }

// messageKey pads the sequence to 20 digits so lexicographic order is numeric order.
func messageKey(conversationID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("msg:%s:%020d", conversationID, seq))
}

func messageIDKey(id string) []byte { return []byte("msgid:" + id) }

func unreadPrefix(conversationID, userID string) []byte {
	return []byte("unread:" + conversationID + ":" + userID + ":")
}

func unreadKey(conversationID, userID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("unread:%s:%s:%020d", conversationID, userID, seq))
}

func (s *BadgerStore) FindOrCreateConversation(ctx context.Context, a, b, contextID string, now time.Time) (domain.Conversation, bool, error) {
	pair := domain.NormalizePair(a, b)
	var conv domain.Conversation
	var created bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		created = false
		item, err := txn.Get(pairKey(a, b, contextID))
		switch {
		case err == nil:
			var id []byte
			if id, err = item.ValueCopy(nil); err != nil {
				return err
			}
			conv, err = getConversation(txn, string(id))
			return err
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		conv = domain.Conversation{
			ID:           uuid.NewString(),
			Participants: pair,
			ContextID:    contextID,
			CreatedAt:    now.UTC(),
		}
		if err = putConversation(txn, conv); err != nil {
			return err
		}
		if err = txn.Set(pairKey(a, b, contextID), []byte(conv.ID)); err != nil {
			return err
		}
		for _, p := range pair {
			if err = txn.Set(memberKey(p, conv.ID), nil); err != nil {
				return err
			}
		}
		created = true
		return nil
	})
	if err != nil {
		return domain.Conversation{}, false, storeErr(err)
	}
	if created {
		s.log.Debug("Conversation created", "conversation_id", conv.ID, "context_id", contextID)
	}
	return conv, created, nil
}

func (s *BadgerStore) GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error) {
	var conv domain.Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		conv, err = getConversation(txn, conversationID)
		return err
	})
	return conv, storeErr(err)
}

// ListConversations returns the user's conversations, most recent activity first.
func (s *BadgerStore) ListConversations(ctx context.Context, userID string, includeArchived bool) ([]domain.Conversation, error) {
	var conversations []domain.Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := memberPrefix(userID)
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		var ids []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		for _, id := range ids {
			conv, err := getConversation(txn, id)
			if err != nil {
				return err
			}
			if conv.Archived && !includeArchived {
				continue
			}
			conversations = append(conversations, conv)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].LastActivity().After(conversations[j].LastActivity())
	})
	return conversations, nil
}

func (s *BadgerStore) ArchiveConversation(ctx context.Context, conversationID string, archived bool) error {
	return storeErr(s.update(ctx, func(txn *badger.Txn) error {
		conv, err := getConversation(txn, conversationID)
		if err != nil {
			return err
		}
		conv.Archived = archived
		return putConversation(txn, conv)
	}))
}

// Append assigns the next sequence number and persists the message, its id
// index, its unread entry and the conversation's last-message pointer in one
// transaction. A conflicting concurrent append makes the commit fail with
// badger.ErrConflict, in which case the whole transaction is replayed.
func (s *BadgerStore) Append(ctx context.Context, message domain.Message) (domain.Message, error) {
	var stored domain.Message
	err := s.update(ctx, func(txn *badger.Txn) error {
		conv, err := getConversation(txn, message.ConversationID)
		if err != nil {
			return err
		}
		last, err := getSeq(txn, conv.ID)
		if err != nil {
			return err
		}
		stored = message
		stored.Seq = last + 1
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		if err = putMessage(txn, stored); err != nil {
			return err
		}
		if err = txn.Set(messageIDKey(stored.ID), messageKey(conv.ID, stored.Seq)); err != nil {
			return err
		}
		if !stored.Read {
			if err = txn.Set(unreadKey(conv.ID, stored.RecipientID, stored.Seq), nil); err != nil {
				return err
			}
		}
		if err = txn.Set(seqKey(conv.ID), encodeSeq(stored.Seq)); err != nil {
			return err
		}
		conv.ApplyMessage(stored, domain.DefaultPreviewLength)
		return putConversation(txn, conv)
	})
	if err != nil {
		return domain.Message{}, storeErr(err)
	}
	return stored, nil
}

// ListSince returns at most limit messages with seq > sinceSeq, ascending.
func (s *BadgerStore) ListSince(ctx context.Context, conversationID string, sinceSeq uint64, limit int) ([]domain.Message, error) {
	var messages []domain.Message
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := messagePrefix(conversationID)
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		if limit > 0 && limit < options.PrefetchSize {
			options.PrefetchSize = limit
		}
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(messageKey(conversationID, sinceSeq+1)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(messages) == limit {
				break
			}
			var m domain.Message
			err := it.Item().Value(func(value []byte) error {
				var err error
				m, err = decodeMessage(value)
				return err
			})
			if err != nil {
				return err
			}
			messages = append(messages, m)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return messages, nil
}

func (s *BadgerStore) GetMessage(ctx context.Context, messageID string) (domain.Message, error) {
	var m domain.Message
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		m, _, err = getMessageByID(txn, messageID)
		return err
	})
	return m, storeErr(err)
}

// MarkRead flips the read flag when readerID is the recipient. Anything else,
// including an already-read message, is reported as unchanged.
func (s *BadgerStore) MarkRead(ctx context.Context, messageID, readerID string, at time.Time) (bool, domain.Message, error) {
	var m domain.Message
	var changed bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		changed = false
		var err error
		m, _, err = getMessageByID(txn, messageID)
		if err != nil {
			return err
		}
		if m.RecipientID != readerID || m.Read {
			return nil
		}
		m = markRead(m, at)
		if err = putMessage(txn, m); err != nil {
			return err
		}
		changed = true
		return txn.Delete(unreadKey(m.ConversationID, readerID, m.Seq))
	})
	if err != nil {
		return false, domain.Message{}, storeErr(err)
	}
	return changed, m, nil
}

// MarkConversationRead walks the reader's unread index for the conversation
// and flips every entry in one transaction.
func (s *BadgerStore) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error) {
	var changed int
	err := s.update(ctx, func(txn *badger.Txn) error {
		changed = 0
		if _, err := getConversation(txn, conversationID); err != nil {
			return err
		}
		prefix := unreadPrefix(conversationID, readerID)
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		options.Prefix = prefix
		it := txn.NewIterator(options)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range keys {
			seq, err := strconv.ParseUint(string(key[len(prefix):]), 10, 64)
			if err != nil {
				return err
			}
			m, err := getMessage(txn, messageKey(conversationID, seq))
			if err != nil {
				return err
			}
			if err = putMessage(txn, markRead(m, at)); err != nil {
				return err
			}
			if err = txn.Delete(key); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, storeErr(err)
	}
	return changed, nil
}

func (s *BadgerStore) CountUnread(ctx context.Context, conversationID, participantID string) (int, error) {
	var count int
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := unreadPrefix(conversationID, participantID)
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, storeErr(err)
}

// update replays fn while the commit keeps losing against concurrent writers.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debug("Transaction conflict, retrying", "attempt", attempt+1)
	}
	return fmt.Errorf("%w: %v", errors.ErrSequenceConflict, err)
}

// storeErr keeps domain errors as they are and classifies everything else as a persistence failure.
func storeErr(err error) error {
	if err == nil || errors.KindOf(err) != errors.KindUnknown {
		return err
	}
	return fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
}

func markRead(m domain.Message, at time.Time) domain.Message {
	m.Read = true
	m.ReadAt = lo.ToPtr(at.UTC())
	return m
}

func getConversation(txn *badger.Txn, id string) (domain.Conversation, error) {
	item, err := txn.Get(conversationKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Conversation{}, errors.ErrConversationNotFound
	}
	if err != nil {
		return domain.Conversation{}, err
	}
	var dc diskConversation
	if err = item.Value(func(value []byte) error {
		return json.Unmarshal(value, &dc)
	}); err != nil {
		return domain.Conversation{}, err
	}
	return toConversation(dc), nil
}

func putConversation(txn *badger.Txn, conv domain.Conversation) error {
	bytes, err := json.Marshal(fromConversation(conv))
	if err != nil {
		return err
	}
	return txn.Set(conversationKey(conv.ID), bytes)
}

func getSeq(txn *badger.Txn, conversationID string) (uint64, error) {
	item, err := txn.Get(seqKey(conversationID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var seq uint64
	err = item.Value(func(value []byte) error {
		seq = binary.BigEndian.Uint64(value)
		return nil
	})
	return seq, err
}

func encodeSeq(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

func getMessageByID(txn *badger.Txn, messageID string) (domain.Message, []byte, error) {
	item, err := txn.Get(messageIDKey(messageID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, nil, errors.ErrMessageNotFound
	}
	if err != nil {
		return domain.Message{}, nil, err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return domain.Message{}, nil, err
	}
	m, err := getMessage(txn, key)
	return m, key, err
}

func getMessage(txn *badger.Txn, key []byte) (domain.Message, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, errors.ErrMessageNotFound
	}
	if err != nil {
		return domain.Message{}, err
	}
	var m domain.Message
	err = item.Value(func(value []byte) error {
		m, err = decodeMessage(value)
		return err
	})
	return m, err
}

func putMessage(txn *badger.Txn, m domain.Message) error {
	bytes, err := json.Marshal(fromMessage(m))
	if err != nil {
		return err
	}
	return txn.Set(messageKey(m.ConversationID, m.Seq), bytes)
}

func decodeMessage(value []byte) (domain.Message, error) {
	var dm diskMessage
	if err := json.Unmarshal(value, &dm); err != nil {
		return domain.Message{}, err
	}
	return toMessage(dm), nil
}

func fromConversation(c domain.Conversation) diskConversation {
	return diskConversation{
		ID:                 c.ID,
		Participants:       c.Participants,
		ContextID:          c.ContextID,
		CreatedAt:          c.CreatedAt,
		LastMessageAt:      c.LastMessageAt,
		LastMessageID:      c.LastMessageID,
		LastMessageSeq:     c.LastMessageSeq,
		LastSenderID:       c.LastSenderID,
		LastMessagePreview: c.LastMessagePreview,
		Archived:           c.Archived,
	}
}

func toConversation(dc diskConversation) domain.Conversation {
	return domain.Conversation{
		ID:                 dc.ID,
		Participants:       dc.Participants,
		ContextID:          dc.ContextID,
		CreatedAt:          dc.CreatedAt.UTC(),
		LastMessageAt:      dc.LastMessageAt.UTC(),
		LastMessageID:      dc.LastMessageID,
		LastMessageSeq:     dc.LastMessageSeq,
		LastSenderID:       dc.LastSenderID,
		LastMessagePreview: dc.LastMessagePreview,
		Archived:           dc.Archived,
	}
}

func fromMessage(m domain.Message) diskMessage {
	dm := diskMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		Content:        m.Content,
		Seq:            m.Seq,
		CreatedAt:      m.CreatedAt,
		Read:           m.Read,
		ReadAt:         m.ReadAt,
	}
	if m.Attachment != nil {
		dm.Attachment = &diskAttachment{URL: m.Attachment.URL, Kind: string(m.Attachment.Kind), Name: m.Attachment.Name}
	}
	return dm
}

func toMessage(dm diskMessage) domain.Message {
	m := domain.Message{
		ID:             dm.ID,
		ConversationID: dm.ConversationID,
		SenderID:       dm.SenderID,
		RecipientID:    dm.RecipientID,
		Content:        dm.Content,
		Seq:            dm.Seq,
		CreatedAt:      dm.CreatedAt.UTC(),
		Read:           dm.Read,
		ReadAt:         dm.ReadAt,
	}
	if dm.Attachment != nil {
		m.Attachment = &domain.Attachment{URL: dm.Attachment.URL, Kind: domain.AttachmentKind(dm.Attachment.Kind), Name: dm.Attachment.Name}
	}
	return m
}
