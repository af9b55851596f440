package profile

import (
	"context"
	"fmt"
	"log/slog"
	"messaging-core/contract"
	"messaging-core/domain"
	"messaging-core/errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const DefaultCollection = "profiles"

// Connect opens a client and returns the database, pinging it first so a
// wrong URI fails at startup rather than on the first lookup.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetRetryReads(true))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client.Database(database), nil
}

// MongoDirectory reads display names from the platform's profile collection.
// It never writes: profiles belong to the account service.
type MongoDirectory struct {
	col *mongo.Collection
	log *slog.Logger
}

var _ contract.ProfileDirectory = (*MongoDirectory)(nil)

func NewMongoDirectory(db *mongo.Database, collection string, log *slog.Logger) *MongoDirectory {
	if collection == "" {
		collection = DefaultCollection
	}
	return &MongoDirectory{col: db.Collection(collection), log: log}
}

type profileDocument struct {
	ID          string `bson:"_id"`
	DisplayName string `bson:"display_name"`
	FirstName   string `bson:"first_name"`
	LastName    string `bson:"last_name"`
}

func (d profileDocument) toRef() domain.ParticipantRef {
	name := strings.TrimSpace(d.DisplayName)
	if name == "" {
		name = strings.TrimSpace(d.FirstName + " " + d.LastName)
	}
	return domain.ParticipantRef{ID: d.ID, DisplayName: name}
}

func (m *MongoDirectory) Lookup(ctx context.Context, userID string) (domain.ParticipantRef, error) {
	var doc profileDocument
	opts := options.FindOne().SetProjection(bson.M{"display_name": 1, "first_name": 1, "last_name": 1})
	if err := m.col.FindOne(ctx, bson.M{"_id": userID}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.ParticipantRef{}, errors.ErrProfileNotFound
		}
		return domain.ParticipantRef{}, fmt.Errorf("profile %s: %w", userID, err)
	}
	return doc.toRef(), nil
}
