package query

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/nimburion/docstore/pkg/document"
)

// Cursor is an opaque position in an ordered result: the order-key values and the
// id of the last document of a page. It is bound to the query shape it was taken
// from, so it cannot be replayed against a different query.
type Cursor struct {
	Values      []document.Value
	ID          string
	Fingerprint string
}

type cursorWire struct {
	Values      []json.RawMessage `json:"v"`
	ID          string            `json:"id"`
	Fingerprint string            `json:"fp"`
}

// CursorAt returns the cursor positioned on doc for query q.
func CursorAt(q *Query, doc document.Document) *Cursor {
	values := make([]document.Value, len(q.OrderBy))
	for i, o := range q.OrderBy {
		v, ok := FieldValue(doc, o.Field)
		if !ok {
			v = document.Null{}
		}
		values[i] = v
	}
	return &Cursor{Values: values, ID: doc.ID, Fingerprint: q.Fingerprint()}
}

// Encode serializes the cursor to a URL-safe token.
func (c *Cursor) Encode() string {
	wire := cursorWire{ID: c.ID, Fingerprint: c.Fingerprint}
	for _, v := range c.Values {
		raw, err := document.MarshalValue(v)
		if err != nil {
			// Cursor values come from stored documents, which are always encodable.
			raw = []byte(`{"t":"null"}`)
		}
		wire.Values = append(wire.Values, raw)
	}
	data, _ := json.Marshal(wire)
	return base64.RawURLEncoding.EncodeToString(data)
}

// ParseCursor decodes a token produced by Encode.
func ParseCursor(token string) (*Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", ErrInvalidQuery)
	}
	var wire cursorWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", ErrInvalidQuery)
	}
	c := &Cursor{ID: wire.ID, Fingerprint: wire.Fingerprint}
	for _, raw := range wire.Values {
		v, err := document.UnmarshalValue(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed cursor value", ErrInvalidQuery)
		}
		c.Values = append(c.Values, v)
	}
	return c, nil
}
