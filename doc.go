// The [mirror] package maintains a queryable in-process replica of a MongoDB
// collection, kept eventually consistent through the collection's change
// stream.
//
// # Bootstrap protocol
//
// [New] records an anchor timestamp, enumerates the whole collection into
// memory, then opens a change feed starting at the anchor. The anchor predates
// the enumeration, so the transition window is covered twice rather than not
// at all. Replayed events are harmless because applying one is a last-writer-wins
// overwrite of the full document. Once the feed is open the mirror becomes
// ready and [Mirror.WaitUntilReady] unblocks.
//
// # Queries
//
// [Mirror.Find], [Mirror.Get] and [Mirror.Has] are synchronous reads of the
// replica; they never issue network requests. Find evaluates a Mongo-style
// predicate via [github.com/hamptonsmith/local-mongodb-collection-mirror/pkg/match].
// Returned documents are deep copies: mutating them cannot corrupt the
// replica.
//
// # Lifecycle
//
// A mirror is ready, and separately may become invalid (the source collection
// was dropped or renamed) or closed. Invalidation is terminal: queries fail
// with [ErrInvalidated] and no further notifications are delivered, apart from
// the single invalidated notification emitted at the moment of detection.
// [Mirror.Close] releases the change feed; the underlying collection handle
// belongs to the caller and is left alone.
//
// # Connecting to MongoDB
//
// Wrap a driver collection with
// [github.com/hamptonsmith/local-mongodb-collection-mirror/pkg/remote/mongodb]:
//
//	coll := client.Database("app").Collection("widgets")
//	m := mirror.New(ctx, mongodb.New(coll), nil)
//	if err := m.WaitUntilReady(ctx); err != nil {
//		return err
//	}
//	docs, err := m.Find(bson.D{{Key: "color", Value: "teal"}})
package mirror
