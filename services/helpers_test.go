package services

import (
	"log/slog"
	"messaging-core/domain"
	"messaging-core/infrastructure/storage"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type recordingActor struct {
	id     string
	userID string

	mu     sync.Mutex
	frames []domain.Frame
}

func newRecordingActor(userID string) *recordingActor {
	return &recordingActor{id: uuid.NewString(), userID: userID}
}

func (a *recordingActor) ID() string     { return a.id }
func (a *recordingActor) UserID() string { return a.userID }
func (a *recordingActor) Close()         {}

func (a *recordingActor) Deliver(frame domain.Frame) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frames = append(a.frames, frame)
	return nil
}

func (a *recordingActor) Frames(t domain.EventType) []domain.Frame {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.Frame
	for _, f := range a.frames {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

func newBadgerStore(t *testing.T) *storage.BadgerStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewBadgerStore(db, slog.Default())
}
