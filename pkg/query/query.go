// Package query builds validated, store-neutral queries.
//
// A Query is pure data: it never touches a store. Adapters translate it into their
// native form, and Apply evaluates it in process for stores (and tests) that
// cannot push it down.
package query

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/nimburion/docstore/pkg/document"
)

// ErrInvalidQuery is returned for any query the builder refuses to produce.
var ErrInvalidQuery = errors.New("invalid query")

// DocumentID is the pseudo field naming the document id in filters and orderings.
const DocumentID = "__id__"

// MaxDisjunction bounds the number of values accepted by in, not-in and
// array-contains-any.
const MaxDisjunction = 30

// Operator is a filter comparison operator.
type Operator string

const (
	LessThan         Operator = "<"
	LessOrEqual      Operator = "<="
	Equal            Operator = "=="
	NotEqual         Operator = "!="
	GreaterOrEqual   Operator = ">="
	GreaterThan      Operator = ">"
	ArrayContains    Operator = "array-contains"
	ArrayContainsAny Operator = "array-contains-any"
	In               Operator = "in"
	NotIn            Operator = "not-in"
)

// Operators lists every supported operator.
var Operators = []Operator{
	LessThan, LessOrEqual, Equal, NotEqual, GreaterOrEqual, GreaterThan,
	ArrayContains, ArrayContainsAny, In, NotIn,
}

// ParseOperator validates op. "contains" and "contains-any" are accepted as
// aliases of the array operators.
func ParseOperator(op string) (Operator, error) {
	switch op {
	case "contains":
		return ArrayContains, nil
	case "contains-any":
		return ArrayContainsAny, nil
	}
	for _, known := range Operators {
		if string(known) == op {
			return known, nil
		}
	}
	return "", fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, op)
}

func (o Operator) isRange() bool {
	switch o {
	case LessThan, LessOrEqual, GreaterOrEqual, GreaterThan:
		return true
	}
	return false
}

func (o Operator) isDisjunction() bool {
	switch o {
	case In, NotIn, ArrayContainsAny:
		return true
	}
	return false
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Filter is one caller-supplied condition. Value is any Go value FromGo accepts;
// for in, not-in and array-contains-any it must be a slice.
type Filter struct {
	Field string
	Op    Operator
	Value any
}

// Order is one sort key.
type Order struct {
	Field     string
	Direction Direction
}

// Options are the caller-facing query options.
type Options struct {
	Filters []Filter
	OrderBy []Order
	// Limit is optional. When set it must be at least 1.
	Limit *int
}

// Where is shorthand for a Filter.
func Where(field string, op Operator, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// OrderBy is shorthand for an Order. An empty direction means ascending.
func OrderBy(field string, dir Direction) Order {
	return Order{Field: field, Direction: dir}
}

// Limit returns a pointer suitable for Options.Limit.
func Limit(n int) *int { return &n }

// Condition is a validated filter with its operand in the value model.
type Condition struct {
	Field string
	Op    Operator
	Value document.Value
}

// Query is a validated, immutable query.
type Query struct {
	Conditions []Condition
	OrderBy    []Order
	// Limit is 0 when unbounded.
	Limit  int
	Offset int
	After  *Cursor
}

// Build validates opts and compiles them into a Query. Every failure wraps
// ErrInvalidQuery.
func Build(opts Options) (*Query, error) {
	q := &Query{}
	for i, f := range opts.Filters {
		cond, err := compileFilter(f)
		if err != nil {
			return nil, fmt.Errorf("filter %d: %w", i, err)
		}
		q.Conditions = append(q.Conditions, cond)
	}
	for i, o := range opts.OrderBy {
		if strings.TrimSpace(o.Field) == "" {
			return nil, fmt.Errorf("%w: order %d has an empty field", ErrInvalidQuery, i)
		}
		switch o.Direction {
		case "":
			o.Direction = Asc
		case Asc, Desc:
		default:
			return nil, fmt.Errorf("%w: order %d has direction %q", ErrInvalidQuery, i, o.Direction)
		}
		q.OrderBy = append(q.OrderBy, o)
	}
	if opts.Limit != nil {
		if *opts.Limit < 1 {
			return nil, fmt.Errorf("%w: limit must be at least 1, got %d", ErrInvalidQuery, *opts.Limit)
		}
		q.Limit = *opts.Limit
	}
	return q, nil
}

// MustBuild is Build for static queries; it panics on an invalid query.
func MustBuild(opts Options) *Query {
	q, err := Build(opts)
	if err != nil {
		panic(err)
	}
	return q
}

func compileFilter(f Filter) (Condition, error) {
	if strings.TrimSpace(f.Field) == "" {
		return Condition{}, fmt.Errorf("%w: empty field", ErrInvalidQuery)
	}
	op, err := ParseOperator(string(f.Op))
	if err != nil {
		return Condition{}, err
	}

	if op.isDisjunction() {
		if f.Value == nil {
			return Condition{}, fmt.Errorf("%w: %s needs a list of values", ErrInvalidQuery, op)
		}
		rv := reflect.ValueOf(f.Value)
		if _, isList := f.Value.(document.List); !isList && rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return Condition{}, fmt.Errorf("%w: %s needs a list of values", ErrInvalidQuery, op)
		}
	}

	v, err := document.FromGo(f.Value)
	if err != nil {
		return Condition{}, fmt.Errorf("%w: %s: %v", ErrInvalidQuery, f.Field, err)
	}

	switch {
	case op.isDisjunction():
		list, _ := v.(document.List)
		if len(list) == 0 {
			return Condition{}, fmt.Errorf("%w: %s needs at least one value", ErrInvalidQuery, op)
		}
		if len(list) > MaxDisjunction {
			return Condition{}, fmt.Errorf("%w: %s accepts at most %d values", ErrInvalidQuery, op, MaxDisjunction)
		}
		for _, item := range list {
			if !document.IsScalar(item) {
				return Condition{}, fmt.Errorf("%w: %s values must be scalars", ErrInvalidQuery, op)
			}
		}
	case op.isRange():
		if !document.IsScalar(v) || v.Kind() == document.KindNull {
			return Condition{}, fmt.Errorf("%w: %s needs a non-null scalar", ErrInvalidQuery, op)
		}
	}
	return Condition{Field: f.Field, Op: op, Value: v}, nil
}

func (q *Query) clone() *Query {
	out := *q
	out.Conditions = append([]Condition(nil), q.Conditions...)
	out.OrderBy = append([]Order(nil), q.OrderBy...)
	return &out
}

// WithLimit returns a copy of q with the limit replaced. n <= 0 removes the limit.
func (q *Query) WithLimit(n int) *Query {
	out := q.clone()
	if n < 0 {
		n = 0
	}
	out.Limit = n
	return out
}

// WithOffset returns a copy of q that skips the first n matching documents.
func (q *Query) WithOffset(n int) *Query {
	out := q.clone()
	if n < 0 {
		n = 0
	}
	out.Offset = n
	return out
}

// StartAfter returns a copy of q resuming strictly after c. A cursor produced for a
// different query shape is rejected.
func (q *Query) StartAfter(c *Cursor) (*Query, error) {
	out := q.clone()
	if c == nil {
		out.After = nil
		return out, nil
	}
	if c.Fingerprint != q.Fingerprint() {
		return nil, fmt.Errorf("%w: cursor belongs to a different query", ErrInvalidQuery)
	}
	if len(c.Values) != len(q.OrderBy) {
		return nil, fmt.Errorf("%w: cursor has %d values for %d order keys", ErrInvalidQuery, len(c.Values), len(q.OrderBy))
	}
	out.After = c
	return out, nil
}

// Ordered reports whether the caller supplied at least one order key.
func (q *Query) Ordered() bool { return len(q.OrderBy) > 0 }

// EffectiveOrder is the caller's ordering followed by the implicit document id
// tie-break, which takes the direction of the last explicit key.
func (q *Query) EffectiveOrder() []Order {
	dir := Asc
	for _, o := range q.OrderBy {
		if o.Field == DocumentID {
			return append([]Order(nil), q.OrderBy...)
		}
		dir = o.Direction
	}
	return append(append([]Order(nil), q.OrderBy...), Order{Field: DocumentID, Direction: dir})
}

// Fingerprint identifies the query shape: filters and ordering, ignoring limit,
// offset and cursor.
func (q *Query) Fingerprint() string {
	var b strings.Builder
	for _, c := range q.Conditions {
		b.WriteString("w:")
		b.WriteString(strconv.Quote(c.Field))
		b.WriteString(string(c.Op))
		b.WriteString(document.Format(c.Value))
		b.WriteByte(';')
	}
	for _, o := range q.OrderBy {
		b.WriteString("o:")
		b.WriteString(strconv.Quote(o.Field))
		b.WriteString(string(o.Direction))
		b.WriteByte(';')
	}
	return b.String()
}

// Key is a canonical identity for the full query. Equal queries have equal keys.
func (q *Query) Key() string {
	var b strings.Builder
	b.WriteString(q.Fingerprint())
	if q.Limit > 0 {
		b.WriteString("l:" + strconv.Itoa(q.Limit) + ";")
	}
	if q.Offset > 0 {
		b.WriteString("s:" + strconv.Itoa(q.Offset) + ";")
	}
	if q.After != nil {
		b.WriteString("a:" + q.After.Encode() + ";")
	}
	return b.String()
}

// String renders the query for logs.
func (q *Query) String() string {
	parts := make([]string, 0, len(q.Conditions)+len(q.OrderBy)+1)
	for _, c := range q.Conditions {
		parts = append(parts, fmt.Sprintf("%s %s %s", c.Field, c.Op, document.Format(c.Value)))
	}
	for _, o := range q.OrderBy {
		parts = append(parts, fmt.Sprintf("order %s %s", o.Field, o.Direction))
	}
	if q.Limit > 0 {
		parts = append(parts, fmt.Sprintf("limit %d", q.Limit))
	}
	if q.Offset > 0 {
		parts = append(parts, fmt.Sprintf("offset %d", q.Offset))
	}
	if q.After != nil {
		parts = append(parts, "after cursor")
	}
	return strings.Join(parts, ", ")
}
