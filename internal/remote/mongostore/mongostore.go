// Package mongostore implements remote.Store on MongoDB.
//
// Every collection maps to a MongoDB collection of the same name; the
// document id is stored in _id as a string. ServerTime placeholders are
// written with $currentDate so the timestamp comes from the server clock.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roach88/tablesync/internal/model"
	"github.com/roach88/tablesync/internal/remote"
)

// Store is a remote.Store backed by a MongoDB database.
type Store struct {
	db  *mongo.Database
	ids model.IDGenerator
}

// New wraps an open database handle.
func New(db *mongo.Database) *Store {
	return &Store{db: db, ids: model.UUIDv7Generator{}}
}

// Connect dials uri, verifies the connection and returns a Store for
// database along with a function that disconnects the client.
func Connect(ctx context.Context, uri, database string) (*Store, func(context.Context) error, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}
	return New(client.Database(database)), client.Disconnect, nil
}

// Create implements remote.Store. The insert is an upsert on a fresh id so
// that $currentDate can stamp server timestamps on the new document.
func (s *Store) Create(ctx context.Context, collection string, fields model.Fields) (string, error) {
	id := s.ids.Generate()
	coll := s.db.Collection(collection)

	update := buildUpdate(fields)
	if len(update) == 0 {
		if _, err := coll.InsertOne(ctx, bson.M{"_id": id}); err != nil {
			return "", fmt.Errorf("create %s: %w", collection, err)
		}
		return id, nil
	}

	_, err := coll.UpdateOne(ctx, bson.M{"_id": id}, update, options.Update().SetUpsert(true))
	if err != nil {
		return "", fmt.Errorf("create %s: %w", collection, err)
	}
	return id, nil
}

// Update implements remote.Store.
func (s *Store) Update(ctx context.Context, collection, id string, fields model.Fields) error {
	update := buildUpdate(fields)
	if len(update) == 0 {
		return nil
	}
	res, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update %s/%s: %w", collection, id, remote.ErrNotFound)
	}
	return nil
}

// GetAll implements remote.Store.
func (s *Store) GetAll(ctx context.Context, collection string, filters ...remote.Filter) ([]model.Document, error) {
	filter := bson.M{}
	for _, f := range filters {
		filter[f.Field] = f.Value
	}

	cursor, err := s.db.Collection(collection).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("get all %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("get all %s: %w", collection, err)
	}

	docs := make([]model.Document, 0, len(raw))
	for _, m := range raw {
		docs = append(docs, toDocument(m))
	}
	return docs, nil
}

// EnsureIndexes creates the indexes the audit log is queried by.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(model.CollectionSyncLogs).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "accountId", Value: 1}, {Key: "deviceId", Value: 1}, {Key: "syncedAt", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}
	return nil
}

func buildUpdate(fields model.Fields) bson.M {
	plain, server := remote.SplitServerTime(fields)
	update := bson.M{}
	if len(plain) > 0 {
		update["$set"] = bson.M(plain)
	}
	if len(server) > 0 {
		cur := bson.M{}
		for _, k := range server {
			cur[k] = true
		}
		update["$currentDate"] = cur
	}
	return update
}

func toDocument(m bson.M) model.Document {
	var id string
	switch v := m["_id"].(type) {
	case string:
		id = v
	case primitive.ObjectID:
		id = v.Hex()
	default:
		id = fmt.Sprint(v)
	}
	fields := make(model.Fields, len(m))
	for k, v := range m {
		if k == "_id" {
			continue
		}
		fields[k] = normalize(v)
	}
	return model.Document{ID: id, Fields: fields}
}

// normalize converts BSON decoding types to the plain Go values the rest
// of the engine works with.
func normalize(v any) any {
	switch val := v.(type) {
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(val.T), 0).UTC()
	case primitive.ObjectID:
		return val.Hex()
	case int32:
		return int64(val)
	case primitive.A:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalize(e)
		}
		return out
	case primitive.M:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = normalize(e)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = normalize(e.Value)
		}
		return out
	default:
		return v
	}
}
