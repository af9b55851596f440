package profile

import (
	"context"
	"fmt"
	"log/slog"
	"messaging-core/domain"
	"messaging-core/errors"
	"messaging-core/mocks"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"go.uber.org/mock/gomock"
)

func newCache(t *testing.T) *Cache {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewCache(db, time.Hour, slog.Default())
}

func TestMongoDirectory_Lookup(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("display name", func(mt *mtest.T) {
		req := require.New(mt)
		dir := NewMongoDirectory(mt.DB, "", slog.Default())
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mt.DB.Name()+"."+DefaultCollection, mtest.FirstBatch,
			bson.D{{Key: "_id", Value: "alice"}, {Key: "display_name", Value: "Alice"}}))

		ref, err := dir.Lookup(context.Background(), "alice")

		req.NoError(err)
		req.Equal(domain.ParticipantRef{ID: "alice", DisplayName: "Alice"}, ref)
	})

	mt.Run("first and last name", func(mt *mtest.T) {
		req := require.New(mt)
		dir := NewMongoDirectory(mt.DB, "", slog.Default())
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mt.DB.Name()+"."+DefaultCollection, mtest.FirstBatch,
			bson.D{{Key: "_id", Value: "bob"}, {Key: "first_name", Value: "Bob"}, {Key: "last_name", Value: "Martin"}}))

		ref, err := dir.Lookup(context.Background(), "bob")

		req.NoError(err)
		req.Equal("Bob Martin", ref.Name())
	})

	mt.Run("unknown user", func(mt *mtest.T) {
		req := require.New(mt)
		dir := NewMongoDirectory(mt.DB, "", slog.Default())
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mt.DB.Name()+"."+DefaultCollection, mtest.FirstBatch))

		_, err := dir.Lookup(context.Background(), "ghost")

		req.ErrorIs(err, errors.ErrProfileNotFound)
	})

	mt.Run("server error", func(mt *mtest.T) {
		req := require.New(mt)
		dir := NewMongoDirectory(mt.DB, "", slog.Default())
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 11600, Message: "interrupted at shutdown"}))

		_, err := dir.Lookup(context.Background(), "alice")

		req.Error(err)
		req.NotErrorIs(err, errors.ErrProfileNotFound)
	})
}

func TestCache_Remember_And_Lookup(t *testing.T) {
	req := require.New(t)
	cache := newCache(t)
	ctx := context.Background()

	_, err := cache.Lookup(ctx, "alice")
	req.ErrorIs(err, errors.ErrProfileNotFound)

	req.NoError(cache.Remember(domain.ParticipantRef{ID: "alice", DisplayName: "Alice"}))
	req.NoError(cache.Remember(domain.ParticipantRef{ID: "bob"}))

	ref, err := cache.Lookup(ctx, "alice")
	req.NoError(err)
	req.Equal("Alice", ref.DisplayName)

	_, err = cache.Lookup(ctx, "bob")
	req.ErrorIs(err, errors.ErrProfileNotFound)
}

func TestChain_Lookup(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	cache := newCache(t)
	first, second := mocks.NewMockProfileDirectory(ctrl), mocks.NewMockProfileDirectory(ctrl)
	chain := NewChain(cache, slog.Default(), first, second)
	ctx := context.Background()

	// Given the first source doesn't know alice and the second does, once
	first.EXPECT().Lookup(gomock.Any(), "alice").Return(domain.ParticipantRef{}, errors.ErrProfileNotFound).Times(1)
	second.EXPECT().Lookup(gomock.Any(), "alice").Return(domain.ParticipantRef{ID: "alice", DisplayName: "Alice"}, nil).Times(1)

	// When alice is looked up twice
	ref, err := chain.Lookup(ctx, "alice")
	req.NoError(err)
	req.Equal("Alice", ref.Name())
	ref, err = chain.Lookup(ctx, "alice")

	// Then the second answer comes from the cache
	req.NoError(err)
	req.Equal("Alice", ref.Name())
}

func TestChain_Lookup_Reports_Source_Failures(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	source := mocks.NewMockProfileDirectory(ctrl)
	chain := NewChain(nil, slog.Default(), source)
	boom := fmt.Errorf("mongo unreachable")

	source.EXPECT().Lookup(gomock.Any(), "alice").Return(domain.ParticipantRef{}, boom)

	_, err := chain.Lookup(context.Background(), "alice")
	req.ErrorIs(err, boom)

	// And a token claim can still feed an empty chain without panicking
	chain.Remember(domain.ParticipantRef{ID: "alice", DisplayName: "Alice"})
}
