package mongodb

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/query"
)

func fieldPath(field string) string {
	if field == query.DocumentID {
		return "_id"
	}
	return field
}

func toBSON(v document.Value) any {
	switch t := v.(type) {
	case nil, document.Null:
		return nil
	case document.String:
		return string(t)
	case document.Number:
		return float64(t)
	case document.Bool:
		return bool(t)
	case document.Time:
		return t.Std().UTC()
	case document.List:
		out := make(bson.A, len(t))
		for i, item := range t {
			out[i] = toBSON(item)
		}
		return out
	case document.Map:
		return toBSONMap(t)
	}
	return nil
}

func toBSONMap(m document.Map) bson.M {
	out := make(bson.M, len(m))
	for k, v := range m {
		out[k] = toBSON(v)
	}
	return out
}

func fromBSONDocument(raw bson.M) document.Document {
	doc := document.Document{Fields: make(document.Map, len(raw))}
	for k, v := range raw {
		if k == "_id" {
			doc.ID = idString(v)
			continue
		}
		doc.Fields[k] = fromBSON(v)
	}
	return doc
}

func idString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case primitive.ObjectID:
		return t.Hex()
	default:
		return fmt.Sprint(v)
	}
}

// fromBSON converts a decoded BSON value. Types without a counterpart in the value
// model degrade to their string form.
func fromBSON(v any) document.Value {
	switch t := v.(type) {
	case nil:
		return document.Null{}
	case string:
		return document.String(t)
	case bool:
		return document.Bool(t)
	case int32:
		return document.Number(t)
	case int64:
		return document.Number(t)
	case float64:
		return document.Number(t)
	case primitive.DateTime:
		return document.TimeOf(t.Time().UTC())
	case time.Time:
		return document.TimeOf(t)
	case primitive.Timestamp:
		return document.TimeOf(time.Unix(int64(t.T), 0).UTC())
	case primitive.ObjectID:
		return document.String(t.Hex())
	case primitive.Decimal128:
		return document.String(t.String())
	case primitive.Null, primitive.Undefined:
		return document.Null{}
	case bson.M:
		out := make(document.Map, len(t))
		for k, item := range t {
			out[k] = fromBSON(item)
		}
		return out
	case bson.D:
		out := make(document.Map, len(t))
		for _, e := range t {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case bson.A:
		out := make(document.List, len(t))
		for i, item := range t {
			out[i] = fromBSON(item)
		}
		return out
	}
	return document.String(fmt.Sprint(v))
}

var rangeOps = map[query.Operator]string{
	query.LessThan:       "$lt",
	query.LessOrEqual:    "$lte",
	query.GreaterThan:    "$gt",
	query.GreaterOrEqual: "$gte",
}

func conditionFilter(c query.Condition) (bson.M, error) {
	path := fieldPath(c.Field)
	v := toBSON(c.Value)
	switch c.Op {
	case query.Equal:
		return bson.M{path: bson.M{"$eq": v}}, nil
	case query.NotEqual:
		return bson.M{path: bson.M{"$exists": true, "$nin": bson.A{v, nil}}}, nil
	case query.LessThan, query.LessOrEqual, query.GreaterThan, query.GreaterOrEqual:
		return bson.M{path: bson.M{rangeOps[c.Op]: v}}, nil
	case query.In:
		return bson.M{path: bson.M{"$in": v}}, nil
	case query.NotIn:
		values := append(bson.A{nil}, v.(bson.A)...)
		return bson.M{path: bson.M{"$exists": true, "$nin": values}}, nil
	case query.ArrayContains:
		return bson.M{path: bson.M{"$elemMatch": bson.M{"$eq": v}}}, nil
	case query.ArrayContainsAny:
		return bson.M{path: bson.M{"$elemMatch": bson.M{"$in": v}}}, nil
	}
	return nil, fmt.Errorf("%w: operator %q", query.ErrInvalidQuery, c.Op)
}

// buildFilter translates q into a MongoDB filter. Documents missing an order
// field are excluded. With keyset set, the cursor becomes a keyset predicate.
func buildFilter(q *query.Query, keyset bool) (bson.M, error) {
	clauses := bson.A{}
	for _, c := range q.Conditions {
		f, err := conditionFilter(c)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, f)
	}
	for _, o := range q.OrderBy {
		if o.Field == query.DocumentID {
			continue
		}
		clauses = append(clauses, bson.M{fieldPath(o.Field): bson.M{"$exists": true}})
	}
	if keyset && q.After != nil {
		clauses = append(clauses, keysetFilter(q))
	}
	if len(clauses) == 0 {
		return bson.M{}, nil
	}
	return bson.M{"$and": clauses}, nil
}

// keysetFilter expresses "strictly after the cursor" over the effective order:
// (k1 > v1) OR (k1 = v1 AND k2 > v2) OR ... ending with the id tie-break.
func keysetFilter(q *query.Query) bson.M {
	order := q.EffectiveOrder()
	values := make([]any, len(order))
	for i, o := range order {
		if o.Field == query.DocumentID {
			values[i] = q.After.ID
			continue
		}
		values[i] = toBSON(q.After.Values[i])
	}

	branches := bson.A{}
	for i, o := range order {
		branch := bson.M{}
		for j := 0; j < i; j++ {
			branch[fieldPath(order[j].Field)] = bson.M{"$eq": values[j]}
		}
		op := "$gt"
		if o.Direction == query.Desc {
			op = "$lt"
		}
		branch[fieldPath(o.Field)] = bson.M{op: values[i]}
		branches = append(branches, branch)
	}
	return bson.M{"$or": branches}
}

func buildSort(q *query.Query) bson.D {
	sort := bson.D{}
	for _, o := range q.EffectiveOrder() {
		dir := 1
		if o.Direction == query.Desc {
			dir = -1
		}
		sort = append(sort, bson.E{Key: fieldPath(o.Field), Value: dir})
	}
	return sort
}
