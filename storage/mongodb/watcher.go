package mongodb

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/content"
)

type changeEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument *content.Document `bson:"fullDocument"`
}

// WatchChanges relays the change stream of the documents collection to pub until ctx is done.
// It requires a replica set. Deletions carry no document, so every collection is announced with an empty key.
func WatchChanges(ctx context.Context, database *mongo.Database, pub core.Publisher, logger core.Logger) error {
	stream, err := database.Collection(documentsCollection).Watch(
		ctx,
		mongo.Pipeline{},
		options.ChangeStream().SetFullDocument(options.UpdateLookup),
	)
	if err != nil {
		return errors.Wrap(err, "error opening documents change stream")
	}
	defer func() { _ = stream.Close(context.Background()) }()

	for stream.Next(ctx) {
		var ev changeEvent
		if err := stream.Decode(&ev); err != nil {
			logger.Warn("decoding content change", errors.Wrap(err, "decoding change event"))
			continue
		}
		if ev.FullDocument != nil {
			pub.Publish(ev.FullDocument.Collection.Topic(), ev.DocumentKey.ID)
			continue
		}
		for _, coll := range content.AllCollections {
			pub.Publish(coll.Topic(), "")
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "error reading documents change stream")
	}
	return nil
}
