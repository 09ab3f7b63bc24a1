package dynamodb

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nimburion/docstore/pkg/document"
)

// timeLayout is fixed width, so stored timestamps sort lexicographically in
// chronological order and can be compared inside filter expressions.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func toAttribute(v document.Value) types.AttributeValue {
	switch t := v.(type) {
	case document.String:
		return &types.AttributeValueMemberS{Value: string(t)}
	case document.Number:
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(float64(t), 'f', -1, 64)}
	case document.Bool:
		return &types.AttributeValueMemberBOOL{Value: bool(t)}
	case document.Time:
		return &types.AttributeValueMemberS{Value: t.Std().UTC().Format(timeLayout)}
	case document.List:
		out := make([]types.AttributeValue, len(t))
		for i, item := range t {
			out[i] = toAttribute(item)
		}
		return &types.AttributeValueMemberL{Value: out}
	case document.Map:
		return &types.AttributeValueMemberM{Value: toItem(t)}
	}
	return &types.AttributeValueMemberNULL{Value: true}
}

func toItem(m document.Map) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(m))
	for k, v := range m {
		out[k] = toAttribute(v)
	}
	return out
}

// fromAttribute converts a DynamoDB attribute. Sets become lists and binary
// values surface as strings.
func fromAttribute(av types.AttributeValue) document.Value {
	switch t := av.(type) {
	case *types.AttributeValueMemberS:
		if len(t.Value) == len(timeLayout) && strings.HasSuffix(t.Value, "Z") {
			if ts, err := time.Parse(timeLayout, t.Value); err == nil {
				return document.TimeOf(ts)
			}
		}
		return document.String(t.Value)
	case *types.AttributeValueMemberN:
		f, err := strconv.ParseFloat(t.Value, 64)
		if err != nil {
			return document.String(t.Value)
		}
		return document.Number(f)
	case *types.AttributeValueMemberBOOL:
		return document.Bool(t.Value)
	case *types.AttributeValueMemberNULL:
		return document.Null{}
	case *types.AttributeValueMemberL:
		out := make(document.List, len(t.Value))
		for i, item := range t.Value {
			out[i] = fromAttribute(item)
		}
		return out
	case *types.AttributeValueMemberM:
		return fromItemFields(t.Value)
	case *types.AttributeValueMemberSS:
		out := make(document.List, len(t.Value))
		for i, s := range t.Value {
			out[i] = document.String(s)
		}
		return out
	case *types.AttributeValueMemberNS:
		out := make(document.List, len(t.Value))
		for i, s := range t.Value {
			out[i] = fromAttribute(&types.AttributeValueMemberN{Value: s})
		}
		return out
	case *types.AttributeValueMemberB:
		return document.String(string(t.Value))
	}
	return document.String(fmt.Sprint(av))
}

func fromItemFields(item map[string]types.AttributeValue) document.Map {
	out := make(document.Map, len(item))
	for k, v := range item {
		out[k] = fromAttribute(v)
	}
	return out
}

func fromItem(item map[string]types.AttributeValue) document.Document {
	fields := fromItemFields(item)
	doc := document.Document{Fields: fields}
	if id, ok := fields[keyAttribute].(document.String); ok {
		doc.ID = string(id)
	}
	delete(fields, keyAttribute)
	return doc
}
