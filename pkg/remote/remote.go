// Package remote defines the capability the mirror requires from the remote
// document store: a one-shot enumeration of every document, and a change feed
// anchored at a point in time.
//
// The [github.com/hamptonsmith/local-mongodb-collection-mirror/pkg/remote/mongodb]
// package implements these interfaces over a real MongoDB collection. Tests use
// an in-memory implementation instead.
package remote

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Collection is a handle to a remote document collection.
//
// The handle is owned by the caller; the mirror only ever reads from it. The
// one resource the mirror does own is the ChangeFeed it opens, which it is
// responsible for closing.
type Collection interface {
	// EnumerateAll returns every document currently in the collection.
	EnumerateAll(ctx context.Context) ([]bson.D, error)

	// OpenChangeFeed opens an ordered stream of change events covering every
	// write to the collection from start onwards. The feed must deliver the
	// full current document alongside update events (MongoDB's updateLookup
	// behavior), not just the changed fields.
	OpenChangeFeed(ctx context.Context, start time.Time) (ChangeFeed, error)
}

// ChangeFeed is an open change stream. Next blocks until an event is
// available, the context is done, or the feed fails.
type ChangeFeed interface {
	Next(ctx context.Context) (ChangeEvent, error)
	Close(ctx context.Context) error
}
