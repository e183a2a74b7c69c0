package deadletter

import (
	"context"
	"fmt"
	"time"

	"github.com/BartekS5/esync/pkg/logger"
	"github.com/BartekS5/esync/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoSink inserts rejected documents into a MongoDB collection. The raw
// source is stored as a nested document when it parses as extended JSON and
// as a string otherwise.
type MongoSink struct {
	Collection *mongo.Collection
	Timeout    time.Duration
}

func NewMongoSink(client *mongo.Client, database, collection string) *MongoSink {
	return &MongoSink{
		Collection: client.Database(database).Collection(collection),
		Timeout:    30 * time.Second,
	}
}

func (s *MongoSink) Send(ctx context.Context, letters []models.DeadLetter) error {
	if len(letters) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(letters))
	for _, l := range letters {
		docs = append(docs, toBSON(l))
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	res, err := s.Collection.InsertMany(ctx, docs)
	if err != nil {
		return fmt.Errorf("failed to insert %d dead letters: %w", len(letters), err)
	}
	logger.Debugf("Mongo InsertMany: %d dead letters", len(res.InsertedIDs))
	return nil
}

func toBSON(l models.DeadLetter) bson.M {
	doc := bson.M{
		"run_id":       l.RunID,
		"index":        l.Index,
		"doc_id":       l.ID,
		"ordering_key": l.OrderingKey,
		"reason":       l.Reason,
		"failed_at":    l.FailedAt,
	}
	if l.Status != 0 {
		doc["status"] = l.Status
	}
	if len(l.Source) > 0 {
		var src bson.M
		if err := bson.UnmarshalExtJSON(l.Source, false, &src); err == nil {
			doc["source"] = src
		} else {
			doc["source"] = string(l.Source)
		}
	}
	return doc
}
