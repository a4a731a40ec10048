package setu

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoCollection     = "setus"
	mongoConnectTimeout = 10 * time.Second
)

// MongoStore keeps SETU entries in a MongoDB collection.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// ConnectMongo dials uri, verifies the connection and returns a store over database.setus.
func ConnectMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("setu: mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("setu: mongo ping: %w", err)
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(mongoCollection),
	}, nil
}

// NewMongoStore wraps an existing collection.
func NewMongoStore(collection *mongo.Collection) (*MongoStore, error) {
	if collection == nil {
		return nil, errMissingStore
	}
	return &MongoStore{collection: collection}, nil
}

// Close disconnects the client opened by ConnectMongo.
func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Upsert(ctx context.Context, entry Entry) error {
	normalized, err := entry.Normalize()
	if err != nil {
		return err
	}
	normalized.UpdatedAt = time.Now().UTC()
	filter := entryKey(normalized.UnitCode, normalized.Year, normalized.Period)
	update := bson.M{"$set": normalized}
	_, err = s.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (s *MongoStore) ListByUnit(ctx context.Context, unitCode string, limit int) ([]Entry, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "year", Value: -1}, {Key: "period", Value: -1}})
	if limit > 0 {
		findOptions.SetLimit(int64(limit))
	}
	cursor, err := s.collection.Find(ctx, bson.M{"unit_code": strings.ToLower(strings.TrimSpace(unitCode))}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func entryKey(unitCode string, year int, period string) bson.M {
	return bson.M{"unit_code": unitCode, "year": year, "period": period}
}
