// Package document defines the schemaless value model shared by every store adapter.
//
// A document is a mapping from field name to Value. Value is a closed sum type:
// the only implementations are Null, String, Number, Bool, Time, Map and List,
// so a type switch over them is exhaustive.
package document

import (
	"sort"
	"time"
)

// Kind identifies the concrete variant of a Value.
type Kind int

// Kinds are declared in cross-type ordering: when two values of different kinds are
// compared, the one with the lower Kind sorts first.
const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindTime
	KindString
	KindList
	KindMap
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindTime:
		return "time"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is one field value in a document.
type Value interface {
	Kind() Kind
	isValue()
}

// Null is the explicit "clear this field" value. It is distinct from an absent field.
type Null struct{}

// String is a UTF-8 string value.
type String string

// Number is a numeric value. Integers are carried as float64.
type Number float64

// Bool is a boolean value.
type Bool bool

// Time is a store-native timestamp.
type Time time.Time

// Map is a nested mapping. It is also the field set of a document.
type Map map[string]Value

// List is an ordered sequence of values.
type List []Value

func (Null) Kind() Kind   { return KindNull }
func (String) Kind() Kind { return KindString }
func (Number) Kind() Kind { return KindNumber }
func (Bool) Kind() Kind   { return KindBool }
func (Time) Kind() Kind   { return KindTime }
func (Map) Kind() Kind    { return KindMap }
func (List) Kind() Kind   { return KindList }

func (Null) isValue()   {}
func (String) isValue() {}
func (Number) isValue() {}
func (Bool) isValue()   {}
func (Time) isValue()   {}
func (Map) isValue()    {}
func (List) isValue()   {}

// Std returns the value as a time.Time.
func (t Time) Std() time.Time { return time.Time(t) }

// TimeOf wraps t as a store timestamp, dropping the monotonic clock reading.
func TimeOf(t time.Time) Time { return Time(t.Round(0)) }

// Document is one record in a collection. Identity is the (collection, ID) pair.
type Document struct {
	ID     string
	Fields Map
}

// Get returns a top-level field value.
func (d Document) Get(field string) (Value, bool) {
	if d.Fields == nil {
		return nil, false
	}
	v, ok := d.Fields[field]
	return v, ok
}

// Plain returns the fields as plain Go values (see ToGo) with the id under "id".
func (d Document) Plain() map[string]any {
	out, _ := ToGo(d.Fields).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	out["id"] = d.ID
	return out
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	return Document{ID: d.ID, Fields: CloneMap(d.Fields)}
}

// Keys returns the map keys in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CloneMap deep-copies a field map.
func CloneMap(m Map) Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = Clone(v)
	}
	return out
}

// Clone deep-copies a value. Scalars are returned as-is.
func Clone(v Value) Value {
	switch t := v.(type) {
	case Map:
		return CloneMap(t)
	case List:
		if t == nil {
			return List(nil)
		}
		out := make(List, len(t))
		for i, item := range t {
			out[i] = Clone(item)
		}
		return out
	default:
		return v
	}
}

// IsScalar reports whether v is neither a Map nor a List.
func IsScalar(v Value) bool {
	switch v.(type) {
	case Map, List:
		return false
	default:
		return v != nil
	}
}

// Equal reports deep equality of two values. Times are compared with time.Equal.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case Null:
		return true
	case String:
		return x == b.(String)
	case Number:
		return x == b.(Number)
	case Bool:
		return x == b.(Bool)
	case Time:
		return x.Std().Equal(b.(Time).Std())
	case List:
		y := b.(List)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Map:
		y := b.(Map)
		if len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	}
	return false
}
