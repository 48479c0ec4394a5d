package mongo

import (
	"context"
	"errors"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/troikatech/carecall/pkg/otel"
)

// QueryBuilder provides a fluent interface for MongoDB queries.
// Every terminal operation is recorded as a datastore span.
type QueryBuilder struct {
	collection *mongo.Collection
	name       string
	filter     bson.M
	sort       bson.D
	limit      *int64
}

// NewQuery creates a new query builder for a collection
func (c *Client) NewQuery(collectionName string) *QueryBuilder {
	return &QueryBuilder{
		collection: c.Collection(collectionName),
		name:       collectionName,
		filter:     bson.M{},
	}
}

// Eq adds an equality filter
func (q *QueryBuilder) Eq(field string, value interface{}) *QueryBuilder {
	q.filter[field] = value
	return q
}

// Limit sets the limit
func (q *QueryBuilder) Limit(limit int64) *QueryBuilder {
	q.limit = &limit
	return q
}

// Sort sets the sort order
func (q *QueryBuilder) Sort(field string, ascending bool) *QueryBuilder {
	direction := 1
	if !ascending {
		direction = -1
	}
	q.sort = append(q.sort, bson.E{Key: field, Value: direction})
	return q
}

// Find decodes every matching document into results, which must be a pointer to a slice.
// Documents come back in the order the server returns them unless Sort was set.
func (q *QueryBuilder) Find(ctx context.Context, results interface{}) error {
	opts := options.Find()
	if q.limit != nil {
		opts.SetLimit(*q.limit)
	}
	if len(q.sort) > 0 {
		opts.SetSort(q.sort)
	}

	return otel.WithDBSpan(ctx, q.name, otel.OpFind, func(ctx context.Context) (int64, error) {
		cursor, err := q.collection.Find(ctx, q.filter, opts)
		if err != nil {
			return 0, err
		}
		defer cursor.Close(ctx)

		if err := cursor.All(ctx, results); err != nil {
			return 0, err
		}
		return resultCount(results), nil
	})
}

// FindOne decodes the first matching document into result.
// It reports false with a nil error when nothing matches.
func (q *QueryBuilder) FindOne(ctx context.Context, result interface{}) (bool, error) {
	opts := options.FindOne()
	if len(q.sort) > 0 {
		opts.SetSort(q.sort)
	}

	found := false
	err := otel.WithDBSpan(ctx, q.name, otel.OpFind, func(ctx context.Context) (int64, error) {
		err := q.collection.FindOne(ctx, q.filter, opts).Decode(result)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		found = true
		return 1, nil
	})
	return found, err
}

// Insert inserts a document
func (q *QueryBuilder) Insert(ctx context.Context, document interface{}) error {
	return otel.WithDBSpan(ctx, q.name, otel.OpInsert, func(ctx context.Context) (int64, error) {
		if _, err := q.collection.InsertOne(ctx, document); err != nil {
			return 0, err
		}
		return 1, nil
	})
}

// FindOrInsert decodes the document matching the filter into result, or
// inserts document when none matches and reports created. It is one
// findAndModify, so it always runs on the primary and sees rows another
// request wrote an instant earlier. result is untouched when created.
func (q *QueryBuilder) FindOrInsert(ctx context.Context, document, result interface{}) (bool, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.Before)

	created := false
	err := otel.WithDBSpan(ctx, q.name, otel.OpUpdate, func(ctx context.Context) (int64, error) {
		err := q.collection.FindOneAndUpdate(ctx, q.filter, bson.M{"$setOnInsert": document}, opts).Decode(result)
		if errors.Is(err, mongo.ErrNoDocuments) {
			created = true
			return 1, nil
		}
		if err != nil {
			return 0, err
		}
		return 0, nil
	})
	return created, err
}

func resultCount(results interface{}) int64 {
	v := reflect.ValueOf(results)
	if v.Kind() == reflect.Ptr && v.Elem().Kind() == reflect.Slice {
		return int64(v.Elem().Len())
	}
	return 0
}
