package mirror

import (
	"sync"

	"github.com/gofrs/uuid"

	"github.com/hamptonsmith/local-mongodb-collection-mirror/pkg/remote"
)

// ReadyHandler observes the mirror's one-time transition to ready.
type ReadyHandler func(m *Mirror)

// ChangedHandler observes a change applied to the cache. key is the canonical
// form of the affected document's _id.
type ChangedHandler func(m *Mirror, key string)

// InvalidatedHandler observes the invalidation of the source collection,
// carrying the raw feed event. It runs before IsValid begins reporting false.
type InvalidatedHandler func(m *Mirror, ev remote.ChangeEvent)

// notifier fans events out to registered handlers. Handlers run synchronously
// on the mirror's event goroutine, in registration order. The ordering
// guarantees around invalidation depend on that: dispatch must not be made
// asynchronous.
type notifier struct {
	mu sync.Mutex

	ready       map[string]ReadyHandler
	changed     map[string]ChangedHandler
	invalidated map[string]InvalidatedHandler

	readyOrder       []string
	changedOrder     []string
	invalidatedOrder []string
}

func newNotifier() *notifier {
	return &notifier{
		ready:       make(map[string]ReadyHandler),
		changed:     make(map[string]ChangedHandler),
		invalidated: make(map[string]InvalidatedHandler),
	}
}

func (n *notifier) onReady(h ReadyHandler) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := uuid.Must(uuid.NewV4()).String()
	n.ready[id] = h
	n.readyOrder = append(n.readyOrder, id)
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.ready, id)
	}
}

func (n *notifier) onChanged(h ChangedHandler) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := uuid.Must(uuid.NewV4()).String()
	n.changed[id] = h
	n.changedOrder = append(n.changedOrder, id)
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.changed, id)
	}
}

func (n *notifier) onInvalidated(h InvalidatedHandler) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := uuid.Must(uuid.NewV4()).String()
	n.invalidated[id] = h
	n.invalidatedOrder = append(n.invalidatedOrder, id)
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.invalidated, id)
	}
}

func (n *notifier) notifyReady(m *Mirror) {
	n.mu.Lock()
	handlers := make([]ReadyHandler, 0, len(n.ready))
	for _, id := range n.readyOrder {
		if h, ok := n.ready[id]; ok {
			handlers = append(handlers, h)
		}
	}
	n.mu.Unlock()

	for _, h := range handlers {
		h(m)
	}
}

func (n *notifier) notifyChanged(m *Mirror, key string) {
	n.mu.Lock()
	handlers := make([]ChangedHandler, 0, len(n.changed))
	for _, id := range n.changedOrder {
		if h, ok := n.changed[id]; ok {
			handlers = append(handlers, h)
		}
	}
	n.mu.Unlock()

	for _, h := range handlers {
		h(m, key)
	}
}

func (n *notifier) notifyInvalidated(m *Mirror, ev remote.ChangeEvent) {
	n.mu.Lock()
	handlers := make([]InvalidatedHandler, 0, len(n.invalidated))
	for _, id := range n.invalidatedOrder {
		if h, ok := n.invalidated[id]; ok {
			handlers = append(handlers, h)
		}
	}
	n.mu.Unlock()

	for _, h := range handlers {
		h(m, ev)
	}
}
