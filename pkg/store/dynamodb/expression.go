package dynamodb

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/query"
)

// filterExpression is a scan filter built from the conditions DynamoDB can
// evaluate with the same semantics as the in-process matcher.
type filterExpression struct {
	expr   string
	names  map[string]string
	values map[string]types.AttributeValue
	// complete is false when some condition could not be pushed down.
	complete bool
}

type exprBuilder struct {
	names  map[string]string
	values map[string]types.AttributeValue
}

func (b *exprBuilder) name(field string) string {
	if field == query.DocumentID {
		field = keyAttribute
	}
	parts := strings.Split(field, ".")
	for i, part := range parts {
		placeholder := fmt.Sprintf("#n%d", len(b.names))
		for existing, name := range b.names {
			if name == part {
				placeholder = existing
				break
			}
		}
		b.names[placeholder] = part
		parts[i] = placeholder
	}
	return strings.Join(parts, ".")
}

func (b *exprBuilder) value(v document.Value) string {
	placeholder := fmt.Sprintf(":v%d", len(b.values))
	b.values[placeholder] = toAttribute(v)
	return placeholder
}

var comparators = map[query.Operator]string{
	query.Equal:          "=",
	query.NotEqual:       "<>",
	query.LessThan:       "<",
	query.LessOrEqual:    "<=",
	query.GreaterThan:    ">",
	query.GreaterOrEqual: ">=",
}

func buildFilterExpression(q *query.Query) filterExpression {
	b := &exprBuilder{names: map[string]string{}, values: map[string]types.AttributeValue{}}
	out := filterExpression{complete: true}
	var clauses []string

	for _, c := range q.Conditions {
		// Stored times compare as strings server side; the matcher compares instants.
		if hasTime(c.Value) {
			out.complete = false
			continue
		}
		if !document.IsScalar(c.Value) && c.Op != query.In && c.Op != query.NotIn && c.Op != query.ArrayContainsAny {
			out.complete = false
			continue
		}
		path := b.name(c.Field)
		switch c.Op {
		case query.Equal, query.LessThan, query.LessOrEqual, query.GreaterThan, query.GreaterOrEqual:
			if c.Value.Kind() == document.KindNull {
				out.complete = false
				continue
			}
			clauses = append(clauses, fmt.Sprintf("%s %s %s", path, comparators[c.Op], b.value(c.Value)))
		case query.NotEqual:
			clauses = append(clauses, fmt.Sprintf("(attribute_exists(%s) AND NOT attribute_type(%s, %s) AND %s <> %s)",
				path, path, b.value(document.String("NULL")), path, b.value(c.Value)))
		case query.In:
			list := c.Value.(document.List)
			placeholders := make([]string, len(list))
			for i, item := range list {
				placeholders[i] = b.value(item)
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", path, strings.Join(placeholders, ", ")))
		case query.ArrayContains:
			clauses = append(clauses, fmt.Sprintf("(attribute_type(%s, %s) AND contains(%s, %s))",
				path, b.value(document.String("L")), path, b.value(c.Value)))
		default:
			out.complete = false
		}
	}

	for _, o := range q.OrderBy {
		if o.Field == query.DocumentID {
			continue
		}
		clauses = append(clauses, fmt.Sprintf("attribute_exists(%s)", b.name(o.Field)))
	}

	if len(clauses) > 0 {
		out.expr = strings.Join(clauses, " AND ")
		out.names = b.names
		out.values = b.values
	}
	return out
}

func hasTime(v document.Value) bool {
	switch t := v.(type) {
	case document.Time:
		return true
	case document.List:
		for _, item := range t {
			if hasTime(item) {
				return true
			}
		}
	}
	return false
}
