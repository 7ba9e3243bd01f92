package document

import (
	"context"
	"fmt"

	mongostore "github.com/doclayer/doclayer/pkg/store/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// FindOptions carries sort, pagination, and projection for Find.
type FindOptions struct {
	Sort       bson.D
	Skip       int64
	Limit      int64
	Projection bson.M
}

// Executor defines the minimal collection execution contract the service
// consumes. Absent documents are signaled with mongo.ErrNoDocuments.
// FindOneAndUpdate returns the post-update state of the matched document.
type Executor interface {
	InsertOne(ctx context.Context, doc bson.M) (any, error)
	FindOne(ctx context.Context, filter, projection bson.M) (bson.M, error)
	Find(ctx context.Context, filter bson.M, opts FindOptions) ([]bson.M, error)
	CountDocuments(ctx context.Context, filter bson.M) (int64, error)
	FindOneAndUpdate(ctx context.Context, filter, update bson.M) (bson.M, error)
	FindOneAndDelete(ctx context.Context, filter bson.M) (bson.M, error)
	Aggregate(ctx context.Context, pipeline []bson.M) ([]bson.M, error)
	WithTransaction(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error)
}

// MongoExecutor adapts a store/mongodb adapter to the Executor contract for a
// single collection.
type MongoExecutor struct {
	adapter    *mongostore.Adapter
	collection string
}

// NewMongoExecutor creates a collection-scoped executor backed by the adapter.
func NewMongoExecutor(adapter *mongostore.Adapter, collection string) (*MongoExecutor, error) {
	if adapter == nil {
		return nil, fmt.Errorf("mongodb adapter is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	return &MongoExecutor{adapter: adapter, collection: collection}, nil
}

// Collection returns the name of the collection this executor operates on.
func (e *MongoExecutor) Collection() string {
	return e.collection
}

func (e *MongoExecutor) InsertOne(ctx context.Context, doc bson.M) (any, error) {
	result, err := e.adapter.InsertOne(ctx, e.collection, doc)
	if err != nil {
		return nil, err
	}
	return result.InsertedID, nil
}

func (e *MongoExecutor) FindOne(ctx context.Context, filter, projection bson.M) (bson.M, error) {
	out := bson.M{}
	if err := e.adapter.FindOne(ctx, e.collection, filter, projection, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *MongoExecutor) Find(ctx context.Context, filter bson.M, opts FindOptions) ([]bson.M, error) {
	var out []bson.M
	err := e.adapter.Find(ctx, e.collection, filter, mongostore.FindOptions{
		Sort:       opts.Sort,
		Skip:       opts.Skip,
		Limit:      opts.Limit,
		Projection: opts.Projection,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *MongoExecutor) CountDocuments(ctx context.Context, filter bson.M) (int64, error) {
	return e.adapter.CountDocuments(ctx, e.collection, filter)
}

func (e *MongoExecutor) FindOneAndUpdate(ctx context.Context, filter, update bson.M) (bson.M, error) {
	out := bson.M{}
	if err := e.adapter.FindOneAndUpdate(ctx, e.collection, filter, update, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *MongoExecutor) FindOneAndDelete(ctx context.Context, filter bson.M) (bson.M, error) {
	out := bson.M{}
	if err := e.adapter.FindOneAndDelete(ctx, e.collection, filter, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *MongoExecutor) Aggregate(ctx context.Context, pipeline []bson.M) ([]bson.M, error) {
	var out []bson.M
	if err := e.adapter.Aggregate(ctx, e.collection, pipeline, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WithTransaction runs fn inside a MongoDB session transaction. The function
// receives a session-bound context and its result is returned unchanged.
func (e *MongoExecutor) WithTransaction(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	return e.adapter.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return fn(sc)
	})
}
