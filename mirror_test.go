package mirror_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	mirror "github.com/hamptonsmith/local-mongodb-collection-mirror"
	"github.com/hamptonsmith/local-mongodb-collection-mirror/internal/mock"
	"github.com/hamptonsmith/local-mongodb-collection-mirror/pkg/remote"
)

const settleTimeout = 2 * time.Second

func doc(id string, extra ...bson.E) bson.D {
	d := bson.D{{Key: "_id", Value: id}}
	return append(d, extra...)
}

func insertEvent(id string, document bson.D) remote.ChangeEvent {
	return remote.ChangeEvent{
		Operation:    remote.OperationInsert,
		DocumentID:   id,
		FullDocument: document,
	}
}

func updateEvent(id string, document bson.D) remote.ChangeEvent {
	return remote.ChangeEvent{
		Operation:    remote.OperationUpdate,
		DocumentID:   id,
		FullDocument: document,
	}
}

func deleteEvent(id string) remote.ChangeEvent {
	return remote.ChangeEvent{
		Operation:  remote.OperationDelete,
		DocumentID: id,
	}
}

func invalidateEvent() remote.ChangeEvent {
	return remote.ChangeEvent{Operation: remote.OperationInvalidate}
}

// newReadyMirror builds a mirror over a mock collection seeded with docs and
// waits for it to become ready.
func newReadyMirror(t *testing.T, docs ...bson.D) (*mirror.Mirror, *mock.Collection) {
	t.Helper()

	coll := mock.NewCollection(docs...)
	m := mirror.New(context.Background(), coll, nil)
	t.Cleanup(func() {
		_ = m.Close(context.Background())
	})

	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	require.NoError(t, m.WaitUntilReady(ctx))

	return m, coll
}

func TestMirror_SnapshotPopulatesCache(t *testing.T) {
	m, _ := newReadyMirror(t,
		doc("abc", bson.E{Key: "foo", Value: "bar"}),
		doc("def", bson.E{Key: "bazz", Value: bson.D{{Key: "waldo", Value: "plugh"}}}),
	)

	require.True(t, m.IsReady())
	require.True(t, m.IsValid())
	require.False(t, m.IsClosed())

	results, err := m.Find(bson.D{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	got, err := m.Get("abc")
	require.NoError(t, err)
	assert.Equal(t, doc("abc", bson.E{Key: "foo", Value: "bar"}), got)

	_, err = m.Get("ghi")
	require.ErrorIs(t, err, mirror.ErrNotFound)
	assert.False(t, m.Has("ghi"))
	assert.True(t, m.Has("def"))
	assert.Equal(t, 2, m.Len())
}

func TestMirror_FindReturnsIndependentCopies(t *testing.T) {
	m, _ := newReadyMirror(t,
		doc("def", bson.E{Key: "bazz", Value: bson.D{{Key: "waldo", Value: "plugh"}}}),
	)

	results, err := m.Find(bson.D{})
	require.NoError(t, err)
	require.Len(t, results, 1)

	nested, ok := results[0][1].Value.(bson.D)
	require.True(t, ok)
	nested[0].Value = "mutated"

	unchanged, err := m.Get("def")
	require.NoError(t, err)
	assert.Equal(t,
		doc("def", bson.E{Key: "bazz", Value: bson.D{{Key: "waldo", Value: "plugh"}}}),
		unchanged)
}

func TestMirror_FindWithPredicate(t *testing.T) {
	m, _ := newReadyMirror(t,
		doc("a", bson.E{Key: "color", Value: "teal"}, bson.E{Key: "size", Value: int32(3)}),
		doc("b", bson.E{Key: "color", Value: "mauve"}, bson.E{Key: "size", Value: int32(9)}),
		doc("c", bson.E{Key: "color", Value: "teal"}, bson.E{Key: "size", Value: int32(12)}),
	)

	results, err := m.Find(bson.D{{Key: "color", Value: "teal"}})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = m.Find(bson.D{{Key: "size", Value: bson.D{{Key: "$gt", Value: 5}}}})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = m.Find(bson.D{{Key: "color", Value: "chartreuse"}})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMirror_AppliesFeedEvents(t *testing.T) {
	m, coll := newReadyMirror(t, doc("abc", bson.E{Key: "foo", Value: "bar"}))

	changed := make(chan string, 16)
	m.OnChanged(func(_ *mirror.Mirror, key string) {
		changed <- key
	})

	coll.Feed().Send(insertEvent("xyz", doc("xyz", bson.E{Key: "n", Value: int32(1)})))
	waitForKey(t, changed)
	got, err := m.Get("xyz")
	require.NoError(t, err)
	assert.Equal(t, doc("xyz", bson.E{Key: "n", Value: int32(1)}), got)

	coll.Feed().Send(updateEvent("xyz", doc("xyz", bson.E{Key: "n", Value: int32(2)})))
	waitForKey(t, changed)
	got, err = m.Get("xyz")
	require.NoError(t, err)
	assert.Equal(t, doc("xyz", bson.E{Key: "n", Value: int32(2)}), got)

	coll.Feed().Send(deleteEvent("xyz"))
	waitForKey(t, changed)
	assert.False(t, m.Has("xyz"))
	_, err = m.Get("xyz")
	require.ErrorIs(t, err, mirror.ErrNotFound)

	// The pre-seeded document is untouched throughout.
	assert.True(t, m.Has("abc"))
}

func TestMirror_ReplayedEventsAreHarmless(t *testing.T) {
	m, coll := newReadyMirror(t, doc("abc", bson.E{Key: "foo", Value: "bar"}))

	// The feed anchor predates the snapshot, so the insert the snapshot
	// already reflects can be delivered again.
	coll.Feed().Send(insertEvent("abc", doc("abc", bson.E{Key: "foo", Value: "bar"})))
	coll.Feed().Send(insertEvent("abc", doc("abc", bson.E{Key: "foo", Value: "bar"})))

	require.Eventually(t, func() bool {
		got, err := m.Get("abc")
		return err == nil && len(got) == 2
	}, settleTimeout, 10*time.Millisecond)
	assert.Equal(t, 1, m.Len())
}

func TestMirror_NilDocumentCoalescesToDelete(t *testing.T) {
	m, coll := newReadyMirror(t, doc("abc", bson.E{Key: "foo", Value: "bar"}))

	// An update whose delivery-time lookup found nothing carries no document;
	// the mirror treats it as the deletion it implies.
	coll.Feed().Send(remote.ChangeEvent{
		Operation:  remote.OperationUpdate,
		DocumentID: "abc",
	})

	require.Eventually(t, func() bool {
		return !m.Has("abc")
	}, settleTimeout, 10*time.Millisecond)
}

func TestMirror_UnknownOperationsAreIgnored(t *testing.T) {
	m, coll := newReadyMirror(t, doc("abc"))

	coll.Feed().Send(remote.ChangeEvent{Operation: remote.OperationOther, DocumentID: "abc"})
	coll.Feed().Send(insertEvent("def", doc("def")))

	require.Eventually(t, func() bool {
		return m.Has("def")
	}, settleTimeout, 10*time.Millisecond)
	assert.True(t, m.Has("abc"))
}

func TestMirror_Invalidation(t *testing.T) {
	m, coll := newReadyMirror(t, doc("abc"))

	var invalidations atomic.Int32
	var changes atomic.Int32
	validAtEmission := make(chan bool, 4)

	m.OnChanged(func(*mirror.Mirror, string) {
		changes.Add(1)
	})
	m.OnInvalidated(func(mm *mirror.Mirror, _ remote.ChangeEvent) {
		invalidations.Add(1)
		validAtEmission <- mm.IsValid()
	})

	coll.Feed().Send(invalidateEvent())

	require.Eventually(t, func() bool {
		return !m.IsValid()
	}, settleTimeout, 10*time.Millisecond)

	// The handler observed the mirror while it still reported itself valid.
	select {
	case valid := <-validAtEmission:
		assert.True(t, valid)
	default:
		t.Fatal("invalidated handler never ran")
	}

	assert.False(t, m.IsReady())

	_, err := m.Find(bson.D{})
	require.ErrorIs(t, err, mirror.ErrInvalidated)
	_, err = m.Get("abc")
	require.ErrorIs(t, err, mirror.ErrInvalidated)

	// Later events, including a second invalidate, are accepted but observably
	// inert.
	coll.Feed().Send(invalidateEvent())
	coll.Feed().Send(insertEvent("def", doc("def")))
	assert.Never(t, func() bool {
		return invalidations.Load() > 1 || changes.Load() > 0
	}, 300*time.Millisecond, 20*time.Millisecond)

	// Invalidity wins over closedness in query errors.
	require.NoError(t, m.Close(context.Background()))
	_, err = m.Find(bson.D{})
	require.ErrorIs(t, err, mirror.ErrInvalidated)
}

func TestMirror_WaitUntilReadyIsAMilestone(t *testing.T) {
	m, _ := newReadyMirror(t, doc("abc"))

	require.NoError(t, m.Close(context.Background()))

	// Already past ready: returns immediately even though the mirror is
	// closed, and even with an expired context.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	require.NoError(t, m.WaitUntilReady(ctx))
	assert.Less(t, time.Since(start), settleTimeout)
}

func TestMirror_BootstrapFailureSurfacesToWaiters(t *testing.T) {
	boom := errors.New("connection refused")
	coll := mock.NewCollection()
	coll.EnumerateErr = boom

	m := mirror.New(context.Background(), coll, nil)

	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	err := m.WaitUntilReady(ctx)
	require.ErrorIs(t, err, boom)

	assert.False(t, m.IsReady())
	require.Eventually(t, m.IsClosed, settleTimeout, 10*time.Millisecond)

	// Close still resolves cleanly even though no feed was ever opened.
	require.NoError(t, m.Close(context.Background()))
}

func TestMirror_FeedOpenFailureSurfacesToWaiters(t *testing.T) {
	boom := errors.New("watch not permitted")
	coll := mock.NewCollection(doc("abc"))
	coll.OpenErr = boom

	m := mirror.New(context.Background(), coll, nil)

	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	require.ErrorIs(t, m.WaitUntilReady(ctx), boom)
	assert.False(t, m.IsReady())
}

func TestMirror_CloseBeforeReadyIsDeferred(t *testing.T) {
	coll := mock.NewCollection(doc("abc"))
	release := coll.HoldEnumerate()

	m := mirror.New(context.Background(), coll, nil)

	closeDone := make(chan error, 1)
	go func() {
		closeDone <- m.Close(context.Background())
	}()

	// While bootstrap is held, the close request stays pending and the mirror
	// does not report closed.
	assert.Never(t, func() bool {
		select {
		case <-closeDone:
			return true
		default:
			return m.IsClosed()
		}
	}, 300*time.Millisecond, 20*time.Millisecond)

	release()

	select {
	case err := <-closeDone:
		require.NoError(t, err)
	case <-time.After(settleTimeout):
		t.Fatal("close did not resolve after bootstrap completed")
	}

	assert.True(t, m.IsClosed())
	assert.True(t, coll.Feed().Closed())
}

func TestMirror_CloseIsIdempotent(t *testing.T) {
	m, coll := newReadyMirror(t, doc("abc"))

	require.NoError(t, m.Close(context.Background()))
	require.NoError(t, m.Close(context.Background()))
	assert.True(t, coll.Feed().Closed())

	_, err := m.Find(bson.D{})
	require.ErrorIs(t, err, mirror.ErrClosed)
	_, err = m.Get("abc")
	require.ErrorIs(t, err, mirror.ErrClosed)
	assert.False(t, m.IsReady())

	// Has reads the frozen cache rather than failing.
	assert.True(t, m.Has("abc"))
}

func TestMirror_FeedFailureClosesMirror(t *testing.T) {
	m, coll := newReadyMirror(t, doc("abc"))

	coll.Feed().Fail(errors.New("cursor killed"))

	require.Eventually(t, m.IsClosed, settleTimeout, 10*time.Millisecond)
	assert.True(t, coll.Feed().Closed())

	_, err := m.Find(bson.D{})
	require.ErrorIs(t, err, mirror.ErrClosed)
}

func TestMirror_FeedAnchoredBeforeSnapshot(t *testing.T) {
	coll := mock.NewCollection(doc("abc"))
	grace := 30 * time.Second

	before := time.Now()
	m := mirror.New(context.Background(), coll, &mirror.Options{StartGracePeriod: grace})
	t.Cleanup(func() {
		_ = m.Close(context.Background())
	})

	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	require.NoError(t, m.WaitUntilReady(ctx))

	starts := coll.FeedStarts()
	require.Len(t, starts, 1)
	assert.True(t, starts[0].Before(before),
		"feed anchor %v is not before the snapshot was issued at %v", starts[0], before)
	assert.WithinDuration(t, before.Add(-grace), starts[0], settleTimeout)
}

func TestMirror_ReadyNotification(t *testing.T) {
	coll := mock.NewCollection(doc("abc"))
	release := coll.HoldEnumerate()

	m := mirror.New(context.Background(), coll, nil)
	t.Cleanup(func() {
		_ = m.Close(context.Background())
	})

	ready := make(chan struct{}, 1)
	m.OnReady(func(mm *mirror.Mirror) {
		// Queries already work by the time ready fires.
		if _, err := mm.Get("abc"); err == nil {
			ready <- struct{}{}
		}
	})

	release()

	select {
	case <-ready:
	case <-time.After(settleTimeout):
		t.Fatal("ready notification never fired")
	}
}

func TestMirror_RemoveHandlerStopsDelivery(t *testing.T) {
	m, coll := newReadyMirror(t, doc("abc"))

	var count atomic.Int32
	remove := m.OnChanged(func(*mirror.Mirror, string) {
		count.Add(1)
	})

	coll.Feed().Send(insertEvent("one", doc("one")))
	require.Eventually(t, func() bool {
		return count.Load() == 1
	}, settleTimeout, 10*time.Millisecond)

	remove()

	coll.Feed().Send(insertEvent("two", doc("two")))
	require.Eventually(t, func() bool {
		return m.Has("two")
	}, settleTimeout, 10*time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}

func TestMirror_CompositeKeysCompareStructurally(t *testing.T) {
	compositeID := bson.D{{Key: "region", Value: "east"}, {Key: "seq", Value: int32(7)}}
	m, coll := newReadyMirror(t, bson.D{
		{Key: "_id", Value: compositeID},
		{Key: "v", Value: int32(1)},
	})

	// A structurally equal composite _id addresses the same entry.
	assert.True(t, m.Has(bson.D{{Key: "region", Value: "east"}, {Key: "seq", Value: int32(7)}}))

	coll.Feed().Send(remote.ChangeEvent{
		Operation:  remote.OperationDelete,
		DocumentID: bson.D{{Key: "region", Value: "east"}, {Key: "seq", Value: int32(7)}},
	})
	require.Eventually(t, func() bool {
		return !m.Has(compositeID)
	}, settleTimeout, 10*time.Millisecond)
}

func waitForKey(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case key := <-ch:
		return key
	case <-time.After(settleTimeout):
		t.Fatal("timed out waiting for a changed notification")
		return ""
	}
}
