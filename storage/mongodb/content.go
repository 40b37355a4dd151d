package mongodb

import (
	"context"
	"regexp"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/content"
)

const (
	documentsCollection = "documents"
	createIndexTimeout  = 30 * time.Second
)

type contentRepository struct {
	collection *mongo.Collection
	pub        core.Publisher
}

var _ content.Repository = (*contentRepository)(nil)

// NewContentRepository returns a content.Repository storing every collection in one MongoDB collection.
// When pub is not nil, writes are announced on it; leave it nil when a ChangeWatcher relays the change stream.
func NewContentRepository(database *mongo.Database, pub core.Publisher) (content.Repository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), createIndexTimeout)
	defer cancel()

	unique := true
	collection := database.Collection(documentsCollection)
	if _, err := collection.Indexes().CreateMany(
		ctx,
		[]mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "collection", Value: 1}, {Key: "slug", Value: 1}},
				Options: &options.IndexOptions{Unique: &unique},
			},
			{
				Keys: bson.D{{Key: "collection", Value: 1}, {Key: "order", Value: 1}, {Key: "date", Value: -1}},
			},
		},
	); err != nil {
		return nil, errors.Wrap(err, "error adding indexes to documents collection")
	}
	return &contentRepository{collection: collection, pub: pub}, nil
}

func (repo *contentRepository) publish(d content.Document) {
	if repo.pub != nil {
		repo.pub.Publish(d.Collection.Topic(), d.ID)
	}
}

func isDuplicateKey(err error) bool {
	if writeException, ok := err.(mongo.WriteException); ok {
		return len(writeException.WriteErrors) == 1 && writeException.WriteErrors[0].Code == 11000
	}
	return false
}

func (repo *contentRepository) CreateDocument(ctx context.Context, d content.Document) (content.Document, error) {
	if _, err := repo.collection.InsertOne(ctx, d); err != nil {
		if isDuplicateKey(err) {
			return content.Document{}, content.ErrSlugExists
		}
		return content.Document{}, errors.Wrapf(err, "error inserting document %q", d.ID)
	}
	repo.publish(d)
	return d, nil
}

func (repo *contentRepository) findOne(ctx context.Context, criteria bson.M) (content.Document, error) {
	d := content.Document{}
	res := repo.collection.FindOne(ctx, criteria)
	if res.Err() == mongo.ErrNoDocuments {
		return d, content.ErrNotFound
	}
	if res.Err() != nil {
		return d, errors.Wrap(res.Err(), "error finding document")
	}
	if err := res.Decode(&d); err != nil {
		return d, errors.Wrap(err, "error decoding document")
	}
	return d, nil
}

func (repo *contentRepository) GetDocument(ctx context.Context, coll content.Collection, id string) (content.Document, error) {
	return repo.findOne(ctx, bson.M{"_id": id, "collection": coll})
}

func (repo *contentRepository) GetDocumentBySlug(ctx context.Context, coll content.Collection, slug string) (content.Document, error) {
	return repo.findOne(ctx, bson.M{"collection": coll, "slug": slug})
}

func (repo *contentRepository) QueryDocuments(
	ctx context.Context,
	coll content.Collection,
	filter content.QueryFilter,
	ordering []core.DBOrdering,
) ([]content.Document, error) {
	criteria := bson.M{"collection": coll}
	if filter.Search != "" {
		rx := primitive.Regex{Pattern: regexp.QuoteMeta(filter.Search), Options: "i"}
		criteria["$or"] = bson.A{bson.M{"title": rx}, bson.M{"summary": rx}}
	}
	if filter.Published != nil {
		criteria["published"] = *filter.Published
	}
	dates := bson.M{}
	if !filter.DateFrom.IsZero() {
		dates["$gte"] = filter.DateFrom
	}
	if !filter.DateTo.IsZero() {
		dates["$lte"] = filter.DateTo
	}
	if len(dates) > 0 {
		criteria["date"] = dates
	}

	sort := bson.D{}
	for _, ord := range ordering {
		dir := -1
		if ord.Ascending {
			dir = 1
		}
		sort = append(sort, bson.E{Key: ord.Field, Value: dir})
	}
	sort = append(sort, bson.E{Key: "_id", Value: 1})

	findOptions := options.Find().SetSort(sort)
	if filter.Limit > 0 {
		findOptions.SetLimit(int64(filter.Limit))
	}
	cur, err := repo.collection.Find(ctx, criteria, findOptions)
	if err != nil {
		return nil, errors.Wrapf(err, "error finding %s documents", coll)
	}
	docs := []content.Document{}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrapf(err, "error decoding %s documents", coll)
	}
	return docs, nil
}

func (repo *contentRepository) UpdateDocument(ctx context.Context, d content.Document) (content.Document, error) {
	res, err := repo.collection.ReplaceOne(ctx, bson.M{"_id": d.ID, "collection": d.Collection}, d)
	if err != nil {
		if isDuplicateKey(err) {
			return content.Document{}, content.ErrSlugExists
		}
		return content.Document{}, errors.Wrapf(err, "error replacing document %q", d.ID)
	}
	if res.MatchedCount == 0 {
		return content.Document{}, content.ErrNotFound
	}
	repo.publish(d)
	return d, nil
}

func (repo *contentRepository) DeleteDocument(ctx context.Context, coll content.Collection, id string) error {
	res, err := repo.collection.DeleteOne(ctx, bson.M{"_id": id, "collection": coll})
	if err != nil {
		return errors.Wrapf(err, "error deleting document %q", id)
	}
	if res.DeletedCount == 0 {
		return content.ErrNotFound
	}
	repo.publish(content.Document{ID: id, Collection: coll})
	return nil
}
