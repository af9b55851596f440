package profile

import (
	"context"
	"log/slog"
	"messaging-core/contract"
	"messaging-core/domain"
	"messaging-core/errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const DefaultCacheTTL = 24 * time.Hour

// Cache keeps display names next to the messages, under their own key prefix,
// with a TTL so renamed users catch up eventually.
type Cache struct {
	db  *badger.DB
	ttl time.Duration
	log *slog.Logger
}

var _ contract.ProfileDirectory = (*Cache)(nil)

func NewCache(db *badger.DB, ttl time.Duration, log *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{db: db, ttl: ttl, log: log}
}

func profileKey(userID string) []byte { return []byte("profile:" + userID) }

func (c *Cache) Lookup(_ context.Context, userID string) (domain.ParticipantRef, error) {
	var name string
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(profileKey(userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			name = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.ParticipantRef{}, errors.ErrProfileNotFound
	}
	if err != nil {
		return domain.ParticipantRef{}, err
	}
	return domain.ParticipantRef{ID: userID, DisplayName: name}, nil
}

// Remember stores a display name. Empty names are ignored.
func (c *Cache) Remember(ref domain.ParticipantRef) error {
	if ref.ID == "" || ref.DisplayName == "" {
		return nil
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(profileKey(ref.ID), []byte(ref.DisplayName)).WithTTL(c.ttl))
	})
}
