package mirror

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// canonicalKey derives the cache key for an _id value. Keys are the canonical
// extended JSON rendering of the value so that structurally equal composite
// _ids map to the same entry regardless of how the driver decoded them.
func canonicalKey(id interface{}) (string, error) {
	raw, err := bson.MarshalExtJSON(bson.D{{Key: "_id", Value: id}}, true, false)
	if err != nil {
		return "", fmt.Errorf("canonicalizing key: %w", err)
	}
	return string(raw), nil
}

func documentID(doc bson.D) (interface{}, bool) {
	for _, el := range doc {
		if el.Key == "_id" {
			return el.Value, true
		}
	}
	return nil, false
}

// cloneDocument deep-copies a document so callers can never reach mirror
// internals through a returned value.
func cloneDocument(doc bson.D) bson.D {
	out := make(bson.D, len(doc))
	for i, el := range doc {
		out[i] = bson.E{Key: el.Key, Value: cloneValue(el.Value)}
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.D:
		return cloneDocument(t)
	case bson.A:
		out := make(bson.A, len(t))
		for i, el := range t {
			out[i] = cloneValue(el)
		}
		return out
	case bson.M:
		out := make(bson.M, len(t))
		for k, el := range t {
			out[k] = cloneValue(el)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, el := range t {
			out[i] = cloneValue(el)
		}
		return out
	case primitive.Binary:
		data := make([]byte, len(t.Data))
		copy(data, t.Data)
		return primitive.Binary{Subtype: t.Subtype, Data: data}
	default:
		// Remaining BSON scalar types are values, safe to share.
		return v
	}
}
