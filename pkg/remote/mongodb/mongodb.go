// Package mongodb adapts a driver [mongo.Collection] to the
// [remote.Collection] interface consumed by the mirror.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hamptonsmith/local-mongodb-collection-mirror/pkg/remote"
)

type Collection struct {
	coll *mongo.Collection
}

var _ remote.Collection = (*Collection)(nil)

func New(coll *mongo.Collection) *Collection {
	return &Collection{coll: coll}
}

func (c *Collection) EnumerateAll(ctx context.Context) ([]bson.D, error) {
	cursor, err := c.coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("enumerating %s: %w", c.coll.Name(), err)
	}

	var docs []bson.D
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("draining enumeration of %s: %w", c.coll.Name(), err)
	}

	return docs, nil
}

func (c *Collection) OpenChangeFeed(ctx context.Context, start time.Time) (remote.ChangeFeed, error) {
	opts := options.ChangeStream().
		SetStartAtOperationTime(&primitive.Timestamp{T: uint32(start.Unix())}).
		SetFullDocument(options.UpdateLookup)

	stream, err := c.coll.Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return nil, fmt.Errorf("opening change stream on %s: %w", c.coll.Name(), err)
	}

	return &changeFeed{stream: stream}, nil
}

type changeFeed struct {
	stream *mongo.ChangeStream
}

// streamEvent is the subset of the change stream document the mirror cares
// about. See https://www.mongodb.com/docs/manual/reference/change-events/ for
// the full shape.
type streamEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID interface{} `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument bson.D `bson:"fullDocument"`
}

func (f *changeFeed) Next(ctx context.Context) (remote.ChangeEvent, error) {
	if !f.stream.Next(ctx) {
		if err := f.stream.Err(); err != nil {
			return remote.ChangeEvent{}, fmt.Errorf("reading change stream: %w", err)
		}
		return remote.ChangeEvent{}, fmt.Errorf("change stream exhausted")
	}

	var ev streamEvent
	if err := f.stream.Decode(&ev); err != nil {
		return remote.ChangeEvent{}, fmt.Errorf("decoding change stream event: %w", err)
	}

	return toChangeEvent(ev), nil
}

func (f *changeFeed) Close(ctx context.Context) error {
	return f.stream.Close(ctx)
}

func toChangeEvent(ev streamEvent) remote.ChangeEvent {
	var op remote.OperationType
	switch ev.OperationType {
	case "insert":
		op = remote.OperationInsert
	case "update":
		op = remote.OperationUpdate
	case "replace":
		op = remote.OperationReplace
	case "delete":
		op = remote.OperationDelete
	case "invalidate", "drop", "rename", "dropDatabase":
		// All of these mean the collection as the mirror knew it is gone. The
		// server follows drop/rename/dropDatabase with an invalidate anyway;
		// collapsing them here just delivers the news one event sooner.
		op = remote.OperationInvalidate
	default:
		op = remote.OperationOther
	}

	return remote.ChangeEvent{
		Operation:    op,
		DocumentID:   ev.DocumentKey.ID,
		FullDocument: ev.FullDocument,
	}
}
