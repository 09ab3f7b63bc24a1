// Package codec converts between store documents and typed entities.
//
// Decoding is lenient: a malformed field degrades to a best-effort value and is
// reported, never failing the read. Encoding is strict: an unsupported value shape
// is rejected before any write reaches the store.
package codec

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/nimburion/docstore/pkg/document"
)

var (
	// ErrEncode is returned when a write payload cannot be represented in the value model.
	ErrEncode = errors.New("encode error")
	// ErrDecode marks a degraded read. It is informational: the entity is still usable.
	ErrDecode = errors.New("decode error")
	// ErrSchema is returned when an entity type does not satisfy its declared schema.
	ErrSchema = errors.New("invalid schema")
)

// Schema declares how one entity type is persisted.
type Schema struct {
	// Collection is the physical collection name.
	Collection string
	// IDField is the Go struct field holding the document id. Defaults to "ID".
	IDField string
	// CreatedAt and UpdatedAt name the store-managed timestamp fields (document
	// field names). Empty means the entity does not carry that timestamp.
	CreatedAt string
	UpdatedAt string
}

// Timestamps returns the declared store-managed timestamp fields.
func (s Schema) Timestamps() []string {
	var out []string
	if s.CreatedAt != "" {
		out = append(out, s.CreatedAt)
	}
	if s.UpdatedAt != "" {
		out = append(out, s.UpdatedAt)
	}
	return out
}

// fieldInfo describes one persisted struct field.
type fieldInfo struct {
	goName    string
	name      string
	index     int
	typ       reflect.Type
	omitEmpty bool
}

var structCache sync.Map // reflect.Type -> []fieldInfo

func structFields(rt reflect.Type) []fieldInfo {
	if cached, ok := structCache.Load(rt); ok {
		return cached.([]fieldInfo)
	}
	fields := make([]fieldInfo, 0, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := document.ParseTag(sf)
		if tag.Skip {
			continue
		}
		fields = append(fields, fieldInfo{
			goName:    sf.Name,
			name:      tag.Name,
			index:     i,
			typ:       sf.Type,
			omitEmpty: tag.OmitEmpty,
		})
	}
	structCache.Store(rt, fields)
	return fields
}

// Codec maps entities of type T to documents of one collection.
type Codec[T any] struct {
	schema  Schema
	typ     reflect.Type
	idIndex int
	fields  []fieldInfo
	byName  map[string]fieldInfo
	now     func() time.Time
}

// Option configures a Codec.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used to backfill malformed dates.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds a codec for T, which must be a struct with a string id field.
func New[T any](schema Schema, opts ...Option) (*Codec[T], error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	var zero T
	rt := reflect.TypeOf(zero)
	if rt == nil || rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: entity type must be a struct", ErrSchema)
	}
	if strings.TrimSpace(schema.Collection) == "" {
		return nil, fmt.Errorf("%w: collection name is required", ErrSchema)
	}
	if schema.IDField == "" {
		schema.IDField = "ID"
	}

	idField, ok := rt.FieldByName(schema.IDField)
	if !ok || len(idField.Index) != 1 || idField.Type.Kind() != reflect.String {
		return nil, fmt.Errorf("%w: %s needs a string field %q", ErrSchema, rt.Name(), schema.IDField)
	}

	c := &Codec[T]{
		schema:  schema,
		typ:     rt,
		idIndex: idField.Index[0],
		byName:  make(map[string]fieldInfo),
		now:     o.now,
	}
	for _, f := range structFields(rt) {
		if f.index == c.idIndex {
			continue
		}
		c.fields = append(c.fields, f)
		c.byName[f.name] = f
	}

	for _, ts := range schema.Timestamps() {
		f, ok := c.byName[ts]
		if !ok {
			return nil, fmt.Errorf("%w: timestamp field %q is not declared on %s", ErrSchema, ts, rt.Name())
		}
		if !isTimeType(f.typ) {
			return nil, fmt.Errorf("%w: timestamp field %q must be time.Time", ErrSchema, ts)
		}
	}
	return c, nil
}

// Schema returns the schema the codec was built with.
func (c *Codec[T]) Schema() Schema { return c.schema }

// Collection returns the physical collection name.
func (c *Codec[T]) Collection() string { return c.schema.Collection }

// ID returns the id stored on the entity.
func (c *Codec[T]) ID(entity *T) string {
	return reflect.ValueOf(entity).Elem().Field(c.idIndex).String()
}

// SetID writes id onto the entity.
func (c *Codec[T]) SetID(entity *T, id string) {
	reflect.ValueOf(entity).Elem().Field(c.idIndex).SetString(id)
}

// HasField reports whether name is a persisted field of T.
func (c *Codec[T]) HasField(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// FieldName maps a patch key (document name or Go field name) to the stored
// field name.
func (c *Codec[T]) FieldName(key string) (string, bool) {
	f, ok := c.resolve(key)
	return f.name, ok
}

// resolve maps a patch key (document name or Go field name) to its field.
func (c *Codec[T]) resolve(key string) (fieldInfo, bool) {
	if f, ok := c.byName[key]; ok {
		return f, true
	}
	for _, f := range c.fields {
		if f.goName == key {
			return f, true
		}
	}
	return fieldInfo{}, false
}

func isTimeType(t reflect.Type) bool {
	return t == timeType || (t.Kind() == reflect.Pointer && t.Elem() == timeType)
}

var timeType = reflect.TypeOf(time.Time{})
