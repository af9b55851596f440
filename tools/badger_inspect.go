package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"messaging-core/infrastructure/storage"
	"messaging-core/internal"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Dumps the raw message store while the server may still hold the lock:
//
//	go run ./tools -db ./data/badger -prefix msg:{conversation}: -limit 50
func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	prefix := flag.String("prefix", "conv:", "Prefix to scan (conv:, msg:, msgid:, pair:, seq:)")
	limit := flag.Int("limit", 200, "Maximum rows")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer func() { _ = db.Close() }()

	rows, err := storage.NewBadgerStore(db, slog.Default()).Inspect(*prefix, *limit)
	if err != nil {
		log.Fatal(err)
	}
	internal.RenderRows(os.Stdout, rows)
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)

	db, err := badger.Open(opts)
	if err != nil && strings.Contains(err.Error(), "Log truncate required") {
		// A crashed writer leaves the value log untruncated; one write-mode open repairs it.
		repaired, repairErr := badger.Open(badger.DefaultOptions(path).WithLogger(nil).WithBypassLockGuard(true))
		if repairErr != nil {
			return nil, fmt.Errorf("repair failed: %w", repairErr)
		}
		_ = repaired.Close()
		return badger.Open(opts)
	}
	return db, err
}
