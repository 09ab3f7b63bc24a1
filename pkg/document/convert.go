package document

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// ErrUnsupportedType is returned when a Go value has no representation in the value model.
var ErrUnsupportedType = errors.New("unsupported value type")

type unset struct{}

// Unset marks a patch entry as "do not touch this field". Encoders drop it.
var Unset = unset{}

// IsUnset reports whether v is the Unset marker.
func IsUnset(v any) bool {
	_, ok := v.(unset)
	return ok
}

// Patch is a partial, field-level update. Keys absent from the patch are untouched;
// a nil entry (or Null{}) clears the field; Unset entries are dropped.
type Patch map[string]any

// MaxExactInteger is the largest magnitude a Number holds without losing
// integer precision (2^53).
const MaxExactInteger = 1 << 53

// TagName is the struct tag read by FromGo and the codec.
const TagName = "doc"

// FieldTag is a parsed `doc:"name,opts"` struct tag.
type FieldTag struct {
	Name      string
	Skip      bool
	OmitEmpty bool
}

// ParseTag parses the doc tag of a struct field. Untagged fields use their Go name
// with the first letter lowered.
func ParseTag(f reflect.StructField) FieldTag {
	raw, ok := f.Tag.Lookup(TagName)
	if raw == "-" {
		return FieldTag{Skip: true}
	}
	tag := FieldTag{}
	if ok {
		parts := strings.Split(raw, ",")
		tag.Name = parts[0]
		for _, opt := range parts[1:] {
			if opt == "omitempty" {
				tag.OmitEmpty = true
			}
		}
	}
	if tag.Name == "" {
		tag.Name = lowerFirst(f.Name)
	}
	return tag
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

var (
	timeType  = reflect.TypeOf(time.Time{})
	valueType = reflect.TypeOf((*Value)(nil)).Elem()
)

// FromGo converts a Go value into the value model.
//
// nil becomes Null. Pointers are followed. Structs are encoded field by field using
// doc tags; nil pointers, maps, slices and interfaces inside a struct are treated as
// absent and dropped.
func FromGo(v any) (Value, error) {
	if v == nil {
		return Null{}, nil
	}
	if IsUnset(v) {
		return nil, fmt.Errorf("%w: unset marker outside a patch", ErrUnsupportedType)
	}
	switch t := v.(type) {
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case time.Time:
		return TimeOf(t), nil
	case *time.Time:
		if t == nil {
			return Null{}, nil
		}
		return TimeOf(*t), nil
	case map[string]any:
		out := make(Map, len(t))
		for k, item := range t {
			if IsUnset(item) {
				continue
			}
			cv, err := FromGo(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = cv
		}
		return out, nil
	case []any:
		out := make(List, 0, len(t))
		for i, item := range t {
			cv, err := FromGo(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out = append(out, cv)
		}
		return out, nil
	}
	return fromReflect(reflect.ValueOf(v))
}

func fromReflect(rv reflect.Value) (Value, error) {
	if rv.Type().Implements(valueType) {
		if rv.Kind() == reflect.Interface && rv.IsNil() {
			return Null{}, nil
		}
		return rv.Interface().(Value), nil
	}
	if rv.Type() == timeType {
		return TimeOf(rv.Interface().(time.Time)), nil
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null{}, nil
		}
		return fromReflect(rv.Elem())
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		if n > MaxExactInteger || n < -MaxExactInteger {
			return nil, fmt.Errorf("%w: integer %d is not exactly representable", ErrUnsupportedType, n)
		}
		return Number(n), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := rv.Uint()
		if n > MaxExactInteger {
			return nil, fmt.Errorf("%w: integer %d is not exactly representable", ErrUnsupportedType, n)
		}
		return Number(n), nil
	case reflect.Float32, reflect.Float64:
		return Number(rv.Float()), nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Null{}, nil
		}
		out := make(List, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, err := fromReflect(rv.Index(i))
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out = append(out, item)
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map key %s", ErrUnsupportedType, rv.Type().Key())
		}
		if rv.IsNil() {
			return Null{}, nil
		}
		out := make(Map, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			if iter.Value().Kind() == reflect.Interface && !iter.Value().IsNil() && IsUnset(iter.Value().Interface()) {
				continue
			}
			item, err := fromReflect(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("%s: %w", iter.Key().String(), err)
			}
			out[iter.Key().String()] = item
		}
		return out, nil
	case reflect.Struct:
		return StructFields(rv)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, rv.Type())
	}
}

// StructFields encodes a struct value into a Map using doc tags.
func StructFields(rv reflect.Value) (Map, error) {
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("%w: nil struct pointer", ErrUnsupportedType)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct", ErrUnsupportedType, rv.Type())
	}
	rt := rv.Type()
	out := make(Map, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := ParseTag(sf)
		if tag.Skip {
			continue
		}
		fv := rv.Field(i)
		if IsAbsent(fv) || (tag.OmitEmpty && fv.IsZero()) {
			continue
		}
		item, err := fromReflect(fv)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", tag.Name, err)
		}
		out[tag.Name] = item
	}
	return out, nil
}

// IsAbsent reports whether a struct field holds no value at all: a nil pointer,
// map, slice or interface.
func IsAbsent(fv reflect.Value) bool {
	switch fv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return fv.IsNil()
	}
	return false
}

// ToGo converts a value into plain Go types: string, float64, bool, time.Time,
// map[string]any, []any or nil.
func ToGo(v Value) any {
	switch t := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(t)
	case Number:
		return float64(t)
	case Bool:
		return bool(t)
	case Time:
		return t.Std()
	case Map:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = ToGo(item)
		}
		return out
	case List:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = ToGo(item)
		}
		return out
	}
	return nil
}
