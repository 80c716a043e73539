// Package mock provides in-memory implementations of the remote interfaces
// for tests: a Collection seeded with documents and a scripted ChangeFeed
// that tests push events into.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/hamptonsmith/local-mongodb-collection-mirror/pkg/remote"
)

// ErrFeedClosed is returned by ChangeFeed.Next after the feed is closed.
var ErrFeedClosed = errors.New("mock: change feed closed")

// Collection is a scriptable remote.Collection.
type Collection struct {
	mu sync.Mutex

	docs []bson.D

	// EnumerateErr, when set, makes EnumerateAll fail.
	EnumerateErr error
	// OpenErr, when set, makes OpenChangeFeed fail.
	OpenErr error

	// enumerateGate, when non-nil, blocks EnumerateAll until the channel is
	// closed. Lets tests hold the mirror in its initializing phase.
	enumerateGate chan struct{}

	feed       *ChangeFeed
	feedStarts []time.Time
}

var _ remote.Collection = (*Collection)(nil)

// NewCollection returns a Collection that will serve the given documents from
// EnumerateAll and an initially empty change feed from OpenChangeFeed.
func NewCollection(docs ...bson.D) *Collection {
	return &Collection{
		docs: docs,
		feed: NewChangeFeed(),
	}
}

// HoldEnumerate makes EnumerateAll block until the returned function is
// called.
func (c *Collection) HoldEnumerate() (release func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gate := make(chan struct{})
	c.enumerateGate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			close(gate)
		})
	}
}

func (c *Collection) EnumerateAll(ctx context.Context) ([]bson.D, error) {
	c.mu.Lock()
	gate := c.enumerateGate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EnumerateErr != nil {
		return nil, c.EnumerateErr
	}
	out := make([]bson.D, len(c.docs))
	copy(out, c.docs)
	return out, nil
}

func (c *Collection) OpenChangeFeed(ctx context.Context, start time.Time) (remote.ChangeFeed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OpenErr != nil {
		return nil, c.OpenErr
	}
	c.feedStarts = append(c.feedStarts, start)
	return c.feed, nil
}

// Feed returns the feed handed out by OpenChangeFeed, for pushing events.
func (c *Collection) Feed() *ChangeFeed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feed
}

// FeedStarts returns the anchor timestamps of every OpenChangeFeed call.
func (c *Collection) FeedStarts() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Time, len(c.feedStarts))
	copy(out, c.feedStarts)
	return out
}

// ChangeFeed is a scripted remote.ChangeFeed fed by tests.
type ChangeFeed struct {
	events chan remote.ChangeEvent
	errs   chan error

	closeMu   sync.Mutex
	closedCh  chan struct{}
	closeErr  error
	wasClosed bool
}

var _ remote.ChangeFeed = (*ChangeFeed)(nil)

func NewChangeFeed() *ChangeFeed {
	return &ChangeFeed{
		events:   make(chan remote.ChangeEvent, 64),
		errs:     make(chan error, 1),
		closedCh: make(chan struct{}),
	}
}

// Send queues an event for delivery by Next.
func (f *ChangeFeed) Send(ev remote.ChangeEvent) {
	f.events <- ev
}

// Fail makes the next Next call return err once the event queue drains.
func (f *ChangeFeed) Fail(err error) {
	f.errs <- err
}

func (f *ChangeFeed) Next(ctx context.Context) (remote.ChangeEvent, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	default:
	}
	select {
	case ev := <-f.events:
		return ev, nil
	case err := <-f.errs:
		return remote.ChangeEvent{}, err
	case <-f.closedCh:
		return remote.ChangeEvent{}, ErrFeedClosed
	case <-ctx.Done():
		return remote.ChangeEvent{}, ctx.Err()
	}
}

// SetCloseErr makes Close return err.
func (f *ChangeFeed) SetCloseErr(err error) {
	f.closeMu.Lock()
	defer f.closeMu.Unlock()
	f.closeErr = err
}

func (f *ChangeFeed) Close(ctx context.Context) error {
	f.closeMu.Lock()
	defer f.closeMu.Unlock()
	if !f.wasClosed {
		f.wasClosed = true
		close(f.closedCh)
	}
	return f.closeErr
}

// Closed reports whether Close has been called.
func (f *ChangeFeed) Closed() bool {
	f.closeMu.Lock()
	defer f.closeMu.Unlock()
	return f.wasClosed
}
