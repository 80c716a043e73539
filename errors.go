package mirror

import "errors"

var (
	// ErrNotFound is returned by Get when no document has the given key.
	ErrNotFound = errors.New("no document with the given key")

	// ErrClosed is returned by query operations after Close has released the
	// mirror's change feed.
	ErrClosed = errors.New("mirror is closed")

	// ErrInvalidated is returned by query operations once the source
	// collection has been dropped, renamed, or had its database dropped.
	ErrInvalidated = errors.New("source collection no longer exists")
)
