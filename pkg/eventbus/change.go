package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nimburion/docstore/pkg/store"
)

// ContentTypeChange marks messages produced by EncodeChange.
const ContentTypeChange = "application/vnd.docstore.change+json"

// changeHeader carries the collection so consumers can route without decoding.
const changeHeader = "docstore-collection"

// ErrMalformedChange is returned by DecodeChange for payloads it cannot read.
var ErrMalformedChange = errors.New("malformed change message")

type changeWire struct {
	Collection string `json:"collection"`
	ID         string `json:"id,omitempty"`
	Type       string `json:"type"`
}

// MarshalChange returns the wire form of change.
func MarshalChange(change store.Change) ([]byte, error) {
	return json.Marshal(changeWire{Collection: change.Collection, ID: change.ID, Type: string(change.Type)})
}

// UnmarshalChange reads a wire form written by MarshalChange.
func UnmarshalChange(raw []byte) (store.Change, error) {
	var wire changeWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return store.Change{}, fmt.Errorf("%w: %v", ErrMalformedChange, err)
	}
	if wire.Collection == "" {
		return store.Change{}, fmt.Errorf("%w: missing collection", ErrMalformedChange)
	}
	return store.Change{Collection: wire.Collection, ID: wire.ID, Type: store.ChangeType(wire.Type)}, nil
}

// EncodeChange wraps change in a broker message keyed by collection.
func EncodeChange(change store.Change, now time.Time) (*Message, error) {
	raw, err := MarshalChange(change)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:          uuid.NewString(),
		Key:         change.Collection,
		Value:       raw,
		Headers:     map[string]string{changeHeader: change.Collection},
		ContentType: ContentTypeChange,
		Timestamp:   now,
	}, nil
}

// DecodeChange reads a message written by EncodeChange.
func DecodeChange(msg *Message) (store.Change, error) {
	if msg == nil {
		return store.Change{}, fmt.Errorf("%w: nil message", ErrMalformedChange)
	}
	return UnmarshalChange(msg.Value)
}
