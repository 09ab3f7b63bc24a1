package query

import (
	"sort"
	"strings"

	"github.com/nimburion/docstore/pkg/document"
)

// FieldValue resolves a field path on doc. Dotted paths descend into nested maps;
// DocumentID resolves to the document id.
func FieldValue(doc document.Document, field string) (document.Value, bool) {
	if field == DocumentID {
		return document.String(doc.ID), true
	}
	if v, ok := doc.Fields[field]; ok {
		return v, true
	}
	if !strings.Contains(field, ".") {
		return nil, false
	}
	var cur document.Value = doc.Fields
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(document.Map)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Compare orders two values. Values of different kinds order by kind; within a
// kind the natural order applies. Returns -1, 0 or 1.
func Compare(a, b document.Value) int {
	ka, kb := kindOf(a), kindOf(b)
	if ka != kb {
		return cmpInt(int(ka), int(kb))
	}
	switch x := a.(type) {
	case document.Bool:
		y := b.(document.Bool)
		switch {
		case x == y:
			return 0
		case !bool(x):
			return -1
		default:
			return 1
		}
	case document.Number:
		y := b.(document.Number)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case document.Time:
		return x.Std().Compare(b.(document.Time).Std())
	case document.String:
		return strings.Compare(string(x), string(b.(document.String)))
	case document.List:
		y := b.(document.List)
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := Compare(x[i], y[i]); c != 0 {
				return c
			}
		}
		return cmpInt(len(x), len(y))
	case document.Map:
		return strings.Compare(document.Format(x), document.Format(b))
	}
	return 0
}

func kindOf(v document.Value) document.Kind {
	if v == nil {
		return document.KindNull
	}
	return v.Kind()
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Match reports whether doc satisfies every condition of q. A condition on a field
// the document does not carry never matches.
func (q *Query) Match(doc document.Document) bool {
	for _, c := range q.Conditions {
		v, ok := FieldValue(doc, c.Field)
		if !ok || !c.matches(v) {
			return false
		}
	}
	return true
}

func (c Condition) matches(v document.Value) bool {
	switch c.Op {
	case Equal:
		return document.Equal(v, c.Value)
	case NotEqual:
		return v.Kind() != document.KindNull && !document.Equal(v, c.Value)
	case LessThan, LessOrEqual, GreaterThan, GreaterOrEqual:
		if v.Kind() != c.Value.Kind() {
			return false
		}
		r := Compare(v, c.Value)
		switch c.Op {
		case LessThan:
			return r < 0
		case LessOrEqual:
			return r <= 0
		case GreaterThan:
			return r > 0
		default:
			return r >= 0
		}
	case In:
		return containsValue(c.Value.(document.List), v)
	case NotIn:
		return v.Kind() != document.KindNull && !containsValue(c.Value.(document.List), v)
	case ArrayContains:
		list, ok := v.(document.List)
		return ok && containsValue(list, c.Value)
	case ArrayContainsAny:
		list, ok := v.(document.List)
		if !ok {
			return false
		}
		for _, want := range c.Value.(document.List) {
			if containsValue(list, want) {
				return true
			}
		}
	}
	return false
}

func containsValue(list document.List, v document.Value) bool {
	for _, item := range list {
		if document.Equal(item, v) {
			return true
		}
	}
	return false
}

// HasOrderFields reports whether doc carries every field q orders by. Documents
// missing an order field are excluded from ordered results.
func (q *Query) HasOrderFields(doc document.Document) bool {
	for _, o := range q.OrderBy {
		if _, ok := FieldValue(doc, o.Field); !ok {
			return false
		}
	}
	return true
}

// CompareDocuments orders two documents by the effective order of q.
func (q *Query) CompareDocuments(a, b document.Document) int {
	for _, o := range q.EffectiveOrder() {
		av, _ := FieldValue(a, o.Field)
		bv, _ := FieldValue(b, o.Field)
		c := Compare(av, bv)
		if o.Direction == Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// afterCursor reports whether doc sorts strictly after the cursor position.
func (q *Query) afterCursor(doc document.Document) bool {
	if q.After == nil {
		return true
	}
	pos := document.Document{ID: q.After.ID, Fields: document.Map{}}
	for i, o := range q.OrderBy {
		setPath(pos.Fields, o.Field, q.After.Values[i])
	}
	return q.CompareDocuments(doc, pos) > 0
}

func setPath(m document.Map, field string, v document.Value) {
	if field == DocumentID {
		return
	}
	parts := strings.Split(field, ".")
	for _, part := range parts[:len(parts)-1] {
		next, ok := m[part].(document.Map)
		if !ok {
			next = document.Map{}
			m[part] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = v
}

// Apply evaluates q over docs in process: filter, drop documents missing order
// fields, sort by the effective order, resume after the cursor, then apply offset
// and limit. docs is not modified.
func Apply(q *Query, docs []document.Document) []document.Document {
	out := make([]document.Document, 0, len(docs))
	for _, doc := range docs {
		if q.Match(doc) && q.HasOrderFields(doc) {
			out = append(out, doc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return q.CompareDocuments(out[i], out[j]) < 0
	})

	if q.After != nil {
		kept := out[:0]
		for _, doc := range out {
			if q.afterCursor(doc) {
				kept = append(kept, doc)
			}
		}
		out = kept
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []document.Document{}
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// CountMatches returns how many documents satisfy q's filters, ignoring ordering,
// cursor, offset and limit.
func CountMatches(q *Query, docs []document.Document) int {
	n := 0
	for _, doc := range docs {
		if q.Match(doc) {
			n++
		}
	}
	return n
}
