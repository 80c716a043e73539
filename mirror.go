package mirror

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/tomb.v2"

	"github.com/hamptonsmith/local-mongodb-collection-mirror/pkg/logger"
	"github.com/hamptonsmith/local-mongodb-collection-mirror/pkg/match"
	"github.com/hamptonsmith/local-mongodb-collection-mirror/pkg/remote"
)

// DefaultStartGracePeriod is how far before "now" the change feed is anchored
// when Options.StartGracePeriod is zero. The feed must start no later than the
// moment the snapshot enumeration was issued, or writes landing between the
// two would be lost; anchoring early only costs re-applying events the
// snapshot already reflects, which apply tolerates.
const DefaultStartGracePeriod = 60 * time.Second

type Options struct {
	// Logger receives the mirror's diagnostics. Defaults to a no-op logger.
	Logger logger.Logger

	// StartGracePeriod overrides DefaultStartGracePeriod.
	StartGracePeriod time.Duration
}

// Mirror is an in-process, eventually consistent replica of a remote
// collection. It bootstraps itself from a full enumeration, then stays
// current by applying an ordered change feed anchored before the enumeration
// began. Queries are synchronous reads against the replica and never touch
// the remote store.
//
// A Mirror begins loading as soon as New returns; use WaitUntilReady to find
// out when queries reflect the full collection. Close releases the feed and
// is the only way to stop consumption.
type Mirror struct {
	coll  remote.Collection
	log   logger.Logger
	grace time.Duration

	mu      sync.RWMutex
	docs    map[string]bson.D
	ready   bool
	invalid bool
	closed  bool

	// bootDone is closed once bootstrap has either succeeded or failed, with
	// bootErr written first. Readiness is a one-time milestone: once bootDone
	// is closed with a nil bootErr, WaitUntilReady returns nil forever after,
	// regardless of later invalidation or closing.
	bootErr  error
	bootDone chan struct{}

	// released is closed once the change feed has actually been released (or
	// was never opened because bootstrap failed), with closeErr written
	// first. Close blocks on it, so a Close issued mid-bootstrap resolves
	// only after bootstrap finishes and the feed comes down again.
	closeErr error
	released chan struct{}

	feed remote.ChangeFeed

	notifier *notifier
	tomb     tomb.Tomb
}

// New creates a Mirror over coll and immediately begins bootstrapping it. ctx
// bounds all remote I/O for the life of the mirror; cancelling it is a fault,
// not a clean shutdown. Use Close for that. opts may be nil.
func New(ctx context.Context, coll remote.Collection, opts *Options) *Mirror {
	if opts == nil {
		opts = &Options{}
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	grace := opts.StartGracePeriod
	if grace <= 0 {
		grace = DefaultStartGracePeriod
	}

	m := &Mirror{
		coll:     coll,
		log:      log,
		grace:    grace,
		docs:     make(map[string]bson.D),
		bootDone: make(chan struct{}),
		released: make(chan struct{}),
		notifier: newNotifier(),
	}

	m.tomb.Go(func() error {
		return m.run(ctx)
	})

	return m
}

func (m *Mirror) run(ctx context.Context) error {
	// The anchor is taken before the enumeration is issued so that the feed
	// covers every write the enumeration could have missed.
	start := time.Now().Add(-m.grace)

	if err := m.bootstrap(ctx, start); err != nil {
		m.log.Error("mirror bootstrap failed", "error", err)
		m.bootErr = err
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.bootDone)
		close(m.released)
		return err
	}

	m.mu.Lock()
	m.ready = true
	m.mu.Unlock()
	close(m.bootDone)
	m.log.Debug("mirror is ready", "documents", m.Len())
	m.notifier.notifyReady(m)

	return m.consume(ctx)
}

// bootstrap populates the cache from a full enumeration and opens the change
// feed. It is deliberately not interruptible by Close: a close requested
// mid-bootstrap is deferred until the feed exists and can be released.
func (m *Mirror) bootstrap(ctx context.Context, start time.Time) error {
	docs, err := m.coll.EnumerateAll(ctx)
	if err != nil {
		return fmt.Errorf("enumerating collection: %w", err)
	}

	m.mu.Lock()
	for _, doc := range docs {
		id, ok := documentID(doc)
		if !ok {
			m.log.Warn("mirror skipping snapshot document without an _id")
			continue
		}
		key, err := canonicalKey(id)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		m.docs[key] = doc
	}
	m.mu.Unlock()

	feed, err := m.coll.OpenChangeFeed(ctx, start)
	if err != nil {
		return fmt.Errorf("opening change feed: %w", err)
	}
	m.feed = feed

	return nil
}

// consume reads the feed until the mirror is closed or the feed fails,
// applying events strictly one at a time in delivery order.
func (m *Mirror) consume(ctx context.Context) error {
	defer m.releaseFeed()

	feedCtx := m.tomb.Context(ctx)
	for {
		ev, err := m.feed.Next(feedCtx)
		if err != nil {
			select {
			case <-m.tomb.Dying():
				return tomb.ErrDying
			default:
			}
			m.log.Error("mirror change feed failed", "error", err)
			return err
		}
		m.apply(ev)
	}
}

func (m *Mirror) releaseFeed() {
	err := m.feed.Close(context.Background())
	if err != nil {
		m.log.Warn("mirror failed to close its change feed", "error", err)
	}
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.closeErr = err
	close(m.released)
}

// apply is the sole mutator of the cache once the mirror is running. It runs
// only on the consume goroutine, so events are never reordered or applied
// concurrently. Re-applying an event the snapshot already reflects is
// harmless: every write is a last-applied-wins overwrite of the full
// document.
func (m *Mirror) apply(ev remote.ChangeEvent) {
	m.mu.RLock()
	invalid := m.invalid
	m.mu.RUnlock()
	if invalid {
		// The feed stays open so a live subscriber has somewhere to deliver
		// to, but nothing observable happens past invalidation.
		return
	}

	switch ev.Operation {
	case remote.OperationInsert, remote.OperationUpdate, remote.OperationReplace:
		if ev.FullDocument == nil {
			// The feed resolves documents at delivery time, so an event for a
			// document that has since been deleted arrives with no body.
			// Treat it as the deletion it implies.
			m.remove(ev)
			return
		}
		key, err := canonicalKey(ev.DocumentID)
		if err != nil {
			m.log.Warn("mirror dropping event with unusable _id", "error", err)
			return
		}
		m.mu.Lock()
		m.docs[key] = ev.FullDocument
		m.mu.Unlock()
		m.notifier.notifyChanged(m, key)
	case remote.OperationDelete:
		m.remove(ev)
	case remote.OperationInvalidate:
		m.log.Info("mirror source collection invalidated")
		// Handlers must observe the event while IsValid still reports true,
		// so notify strictly before setting the flag.
		m.notifier.notifyInvalidated(m, ev)
		m.mu.Lock()
		m.invalid = true
		m.mu.Unlock()
	default:
		// Unrecognized operations are ignored.
	}
}

func (m *Mirror) remove(ev remote.ChangeEvent) {
	key, err := canonicalKey(ev.DocumentID)
	if err != nil {
		m.log.Warn("mirror dropping event with unusable _id", "error", err)
		return
	}
	m.mu.Lock()
	delete(m.docs, key)
	m.mu.Unlock()
	m.notifier.notifyChanged(m, key)
}

// WaitUntilReady blocks until the mirror has finished bootstrapping, then
// returns the bootstrap error, if any. Readiness is a milestone, not a status:
// after the first successful return this returns nil immediately even if the
// mirror has since been invalidated or closed.
func (m *Mirror) WaitUntilReady(ctx context.Context) error {
	// Bootstrap completion wins over context cancellation when both are
	// already decided, so a past-ready mirror answers even with a dead
	// context.
	select {
	case <-m.bootDone:
		return m.bootErr
	default:
	}
	select {
	case <-m.bootDone:
		return m.bootErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops consuming the change feed and releases it, then reports any
// release error. If bootstrap is still in flight the release is deferred
// until bootstrap finishes. Close is idempotent; concurrent and repeated
// calls all block until the one release completes.
func (m *Mirror) Close(ctx context.Context) error {
	m.tomb.Kill(nil)
	select {
	case <-m.released:
		return m.closeErr
	default:
	}
	select {
	case <-m.released:
		return m.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Find returns an independent copy of every cached document matching the
// Mongo-style predicate. A predicate nothing matches yields an empty result,
// not an error.
func (m *Mirror) Find(predicate bson.D) ([]bson.D, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.queryableLocked(); err != nil {
		return nil, err
	}

	var results []bson.D
	for _, doc := range m.docs {
		if match.Matches(predicate, doc) {
			results = append(results, cloneDocument(doc))
		}
	}
	return results, nil
}

// Get returns an independent copy of the document whose _id is id, or
// ErrNotFound.
func (m *Mirror) Get(id interface{}) (bson.D, error) {
	key, err := canonicalKey(id)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.queryableLocked(); err != nil {
		return nil, err
	}

	doc, ok := m.docs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return cloneDocument(doc), nil
}

// Has reports whether a document with the given _id is present. Unlike Find
// and Get it never fails: it reads whatever the cache last held.
func (m *Mirror) Has(id interface{}) bool {
	key, err := canonicalKey(id)
	if err != nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.docs[key]
	return ok
}

// Len reports the number of cached documents.
func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// queryableLocked enforces the validity-before-closedness error precedence
// for query operations. Callers must hold mu.
func (m *Mirror) queryableLocked() error {
	if m.invalid {
		return ErrInvalidated
	}
	if m.closed {
		return ErrClosed
	}
	return nil
}

// IsReady reports whether the mirror is past bootstrap and still usable.
func (m *Mirror) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready && !m.invalid && !m.closed
}

// IsValid reports whether the source collection still existed as of the last
// feed event.
func (m *Mirror) IsValid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.invalid
}

// IsClosed reports whether the change feed has been released.
func (m *Mirror) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// OnReady registers a handler for the one-time ready transition and returns a
// function that unregisters it.
func (m *Mirror) OnReady(h ReadyHandler) (remove func()) {
	return m.notifier.onReady(h)
}

// OnChanged registers a handler invoked after each change event is applied to
// the cache, and returns a function that unregisters it. No changed
// notifications are delivered once the mirror is invalidated.
func (m *Mirror) OnChanged(h ChangedHandler) (remove func()) {
	return m.notifier.onChanged(h)
}

// OnInvalidated registers a handler for the at-most-once invalidation event
// and returns a function that unregisters it.
func (m *Mirror) OnInvalidated(h InvalidatedHandler) (remove func()) {
	return m.notifier.onInvalidated(h)
}
