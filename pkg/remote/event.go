package remote

import "go.mongodb.org/mongo-driver/bson"

type OperationType string

const (
	OperationInsert     OperationType = "insert"
	OperationUpdate     OperationType = "update"
	OperationReplace    OperationType = "replace"
	OperationDelete     OperationType = "delete"
	OperationInvalidate OperationType = "invalidate"
	OperationOther      OperationType = "other"
)

// ChangeEvent is a single event from a change feed.
type ChangeEvent struct {
	Operation OperationType

	// DocumentID is the raw _id value of the affected document. It is nil for
	// invalidate events, which concern the collection as a whole.
	DocumentID interface{}

	// FullDocument is the document as of delivery time. It is nil for delete
	// and invalidate events, and may also be nil for insert/update/replace
	// events when the document was deleted again before the event was
	// delivered (the feed looks the document up at delivery time).
	FullDocument bson.D
}
