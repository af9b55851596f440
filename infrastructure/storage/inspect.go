package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const defaultInspectLimit = 100

// InspectRow is one raw key of the store, decoded for humans.
type InspectRow struct {
	Key       string
	Type      string
	Timestamp string
	EntityID  string
	Detail    string
}

// Inspect lists at most limit keys under prefix ("" for every key).
// It reads the raw layout, so it also shows index entries.
func (s *BadgerStore) Inspect(prefix string, limit int) ([]InspectRow, error) {
	if limit <= 0 {
		limit = defaultInspectLimit
	}
	rows := make([]InspectRow, 0, limit)
	err := s.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = []byte(prefix)
		it := txn.NewIterator(options)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)) && len(rows) < limit; it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil))
			if err := item.Value(func(value []byte) error {
				rows = append(rows, MapRow(key, value))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return rows, storeErr(err)
}

// MapRow decodes one key/value pair of the BadgerStore layout.
func MapRow(key string, value []byte) InspectRow {
	namespace, rest, _ := strings.Cut(key, ":")
	row := InspectRow{
		Key:       key,
		Type:      strings.ToUpper(namespace),
		Timestamp: "--:--:--",
		EntityID:  rest,
		Detail:    "Size: " + strconv.Itoa(len(value)) + " bytes",
	}
	switch namespace {
	case "conv":
		var dc diskConversation
		if json.Unmarshal(value, &dc) != nil {
			return row
		}
		row.Timestamp = dc.CreatedAt.Format("2006-01-02 15:04:05")
		row.Detail = fmt.Sprintf("%s <> %s, last seq %d, archived=%t", dc.Participants[0], dc.Participants[1], dc.LastMessageSeq, dc.Archived)
	case "msg":
		var dm diskMessage
		if json.Unmarshal(value, &dm) != nil {
			return row
		}
		row.EntityID = dm.ID
		row.Timestamp = dm.CreatedAt.Format("2006-01-02 15:04:05")
		row.Detail = fmt.Sprintf("#%d %s -> %s read=%t: %s", dm.Seq, dm.SenderID, dm.RecipientID, dm.Read, dm.Content)
	case "seq":
		if len(value) == 8 {
			row.Detail = "last seq " + strconv.FormatUint(binary.BigEndian.Uint64(value), 10)
		}
	case "pair", "msgid":
		row.Detail = "-> " + string(value)
	}
	return row
}
