// Package match evaluates Mongo-style query predicates against BSON documents
// held in memory, without consulting a server.
//
// Supported: top-level and nested (dotted-path) field equality, array
// containment semantics for equality, $eq, $ne, $gt, $gte, $lt, $lte, $in,
// $nin, $exists, $not, and the logical operators $and, $or, $nor. Anything
// else never matches. Comparisons follow BSON numeric semantics: int32, int64
// and float64 values compare by numeric value, not by type.
package match

import (
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Matches reports whether doc satisfies predicate. An empty predicate matches
// every document.
func Matches(predicate, doc bson.D) bool {
	for _, cond := range predicate {
		if !matchCondition(cond.Key, cond.Value, doc) {
			return false
		}
	}
	return true
}

func matchCondition(key string, want interface{}, doc bson.D) bool {
	switch key {
	case "$and":
		preds, ok := predicateList(want)
		if !ok {
			return false
		}
		for _, p := range preds {
			if !Matches(p, doc) {
				return false
			}
		}
		return true
	case "$or":
		preds, ok := predicateList(want)
		if !ok {
			return false
		}
		for _, p := range preds {
			if Matches(p, doc) {
				return true
			}
		}
		return false
	case "$nor":
		preds, ok := predicateList(want)
		if !ok {
			return false
		}
		for _, p := range preds {
			if Matches(p, doc) {
				return false
			}
		}
		return true
	default:
		got, present := lookupPath(doc, key)
		return matchValue(got, present, want)
	}
}

func matchValue(got interface{}, present bool, want interface{}) bool {
	if ops, ok := operatorDoc(want); ok {
		return matchOperators(got, present, ops)
	}
	if !present {
		// Mongo treats a missing field as null for equality purposes.
		return want == nil
	}
	return equalOrContains(got, want)
}

func matchOperators(got interface{}, present bool, ops bson.D) bool {
	for _, op := range ops {
		if !matchOperator(got, present, op.Key, op.Value) {
			return false
		}
	}
	return true
}

func matchOperator(got interface{}, present bool, op string, arg interface{}) bool {
	switch op {
	case "$eq":
		// The argument to $eq is always a literal, even when it looks like an
		// operator document.
		if !present {
			return arg == nil
		}
		return equalOrContains(got, arg)
	case "$ne":
		if !present {
			return arg != nil
		}
		return !equalOrContains(got, arg)
	case "$gt":
		c, ok := compareValues(got, arg)
		return present && ok && c > 0
	case "$gte":
		c, ok := compareValues(got, arg)
		return present && ok && c >= 0
	case "$lt":
		c, ok := compareValues(got, arg)
		return present && ok && c < 0
	case "$lte":
		c, ok := compareValues(got, arg)
		return present && ok && c <= 0
	case "$in":
		candidates, ok := valueList(arg)
		if !ok || !present {
			return false
		}
		for _, cand := range candidates {
			if equalOrContains(got, cand) {
				return true
			}
		}
		return false
	case "$nin":
		candidates, ok := valueList(arg)
		if !ok {
			return false
		}
		if !present {
			return true
		}
		for _, cand := range candidates {
			if equalOrContains(got, cand) {
				return false
			}
		}
		return true
	case "$exists":
		wantPresent := true
		if b, ok := arg.(bool); ok {
			wantPresent = b
		}
		return present == wantPresent
	case "$not":
		sub, ok := operatorDoc(arg)
		if !ok {
			return false
		}
		return !matchOperators(got, present, sub)
	default:
		// Unrecognized operators never match, matching the behavior of an
		// equality test against a document literal that no field holds.
		return false
	}
}

// equalOrContains applies Mongo equality: got equals want directly, or got is
// an array one of whose elements equals want.
func equalOrContains(got, want interface{}) bool {
	if valuesEqual(got, want) {
		return true
	}
	if arr, ok := valueList(got); ok {
		for _, el := range arr {
			if valuesEqual(el, want) {
				return true
			}
		}
	}
	return false
}

func valuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if na, ok := numericValue(a); ok {
		nb, ok := numericValue(b)
		return ok && na == nb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case primitive.ObjectID:
		bv, ok := b.(primitive.ObjectID)
		return ok && av == bv
	}
	if at, ok := timeValue(a); ok {
		bt, ok := timeValue(b)
		return ok && at.Equal(bt)
	}
	if ad, ok := asDocument(a); ok {
		bd, ok := asDocument(b)
		return ok && documentsEqual(ad, bd)
	}
	if aa, ok := valueList(a); ok {
		ba, ok := valueList(b)
		if !ok || len(aa) != len(ba) {
			return false
		}
		for i := range aa {
			if !valuesEqual(aa[i], ba[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// documentsEqual compares embedded documents field-for-field in order, per
// BSON document equality.
func documentsEqual(a, b bson.D) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key != b[i].Key || !valuesEqual(a[i].Value, b[i].Value) {
			return false
		}
	}
	return true
}

// compareValues orders two values when they are of comparable kinds. The
// second return is false for mixed or unordered kinds.
func compareValues(a, b interface{}) (int, bool) {
	if na, ok := numericValue(a); ok {
		nb, ok := numericValue(b)
		if !ok {
			return 0, false
		}
		switch {
		case na < nb:
			return -1, true
		case na > nb:
			return 1, true
		}
		return 0, true
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(sa, sb), true
	}
	if ta, ok := timeValue(a); ok {
		tb, ok := timeValue(b)
		if !ok {
			return 0, false
		}
		switch {
		case ta.Before(tb):
			return -1, true
		case ta.After(tb):
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func numericValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func timeValue(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case primitive.DateTime:
		return t.Time(), true
	}
	return time.Time{}, false
}

// lookupPath resolves a possibly dotted field path against doc. Numeric path
// segments index into arrays.
func lookupPath(doc bson.D, path string) (interface{}, bool) {
	var current interface{} = doc
	for _, segment := range strings.Split(path, ".") {
		if d, ok := asDocument(current); ok {
			value, found := fieldValue(d, segment)
			if !found {
				return nil, false
			}
			current = value
			continue
		}
		if arr, ok := valueList(current); ok {
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			current = arr[idx]
			continue
		}
		return nil, false
	}
	return current, true
}

func fieldValue(doc bson.D, key string) (interface{}, bool) {
	for _, el := range doc {
		if el.Key == key {
			return el.Value, true
		}
	}
	return nil, false
}

// asDocument normalizes the document representations a predicate or stored
// value may use.
func asDocument(v interface{}) (bson.D, bool) {
	switch d := v.(type) {
	case bson.D:
		return d, true
	case bson.M:
		return mapToDocument(d), true
	case map[string]interface{}:
		return mapToDocument(d), true
	}
	return nil, false
}

// mapToDocument normalizes a map to a bson.D with keys sorted, since maps
// carry no field order. Embedded-document equality is order-sensitive, so
// predicates comparing whole embedded documents should use bson.D.
func mapToDocument(m map[string]interface{}) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(bson.D, 0, len(m))
	for _, k := range keys {
		out = append(out, bson.E{Key: k, Value: m[k]})
	}
	return out
}

// operatorDoc reports whether v is a document whose every key is an operator,
// which Mongo interprets as a condition rather than an equality literal.
func operatorDoc(v interface{}) (bson.D, bool) {
	d, ok := asDocument(v)
	if !ok || len(d) == 0 {
		return nil, false
	}
	for _, el := range d {
		if !strings.HasPrefix(el.Key, "$") {
			return nil, false
		}
	}
	return d, true
}

func valueList(v interface{}) ([]interface{}, bool) {
	switch arr := v.(type) {
	case bson.A:
		return arr, true
	case []interface{}:
		return arr, true
	}
	return nil, false
}

func predicateList(v interface{}) ([]bson.D, bool) {
	arr, ok := valueList(v)
	if !ok {
		return nil, false
	}
	out := make([]bson.D, 0, len(arr))
	for _, el := range arr {
		d, ok := asDocument(el)
		if !ok {
			return nil, false
		}
		out = append(out, d)
	}
	return out, true
}
