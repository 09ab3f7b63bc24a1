package document

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// typedValue is the lossless JSON form of a Value. Plain JSON cannot tell a
// timestamp from a string, so every value carries its kind.
type typedValue struct {
	T string                `json:"t"`
	S string                `json:"s,omitempty"`
	N *float64              `json:"n,omitempty"`
	B *bool                 `json:"b,omitempty"`
	L []typedValue          `json:"l,omitempty"`
	M map[string]typedValue `json:"m,omitempty"`
}

// MarshalValue encodes v into its typed JSON form.
func MarshalValue(v Value) ([]byte, error) {
	tv, err := toTyped(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tv)
}

// UnmarshalValue decodes the typed JSON form produced by MarshalValue.
func UnmarshalValue(data []byte) (Value, error) {
	var tv typedValue
	if err := json.Unmarshal(data, &tv); err != nil {
		return nil, err
	}
	return fromTyped(tv)
}

func toTyped(v Value) (typedValue, error) {
	switch t := v.(type) {
	case nil, Null:
		return typedValue{T: "null"}, nil
	case String:
		return typedValue{T: "string", S: string(t)}, nil
	case Number:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return typedValue{}, fmt.Errorf("%w: non-finite number", ErrUnsupportedType)
		}
		return typedValue{T: "number", N: &f}, nil
	case Bool:
		b := bool(t)
		return typedValue{T: "bool", B: &b}, nil
	case Time:
		return typedValue{T: "time", S: t.Std().UTC().Format(time.RFC3339Nano)}, nil
	case List:
		out := typedValue{T: "list", L: make([]typedValue, len(t))}
		for i, item := range t {
			tv, err := toTyped(item)
			if err != nil {
				return typedValue{}, err
			}
			out.L[i] = tv
		}
		return out, nil
	case Map:
		out := typedValue{T: "map", M: make(map[string]typedValue, len(t))}
		for k, item := range t {
			tv, err := toTyped(item)
			if err != nil {
				return typedValue{}, err
			}
			out.M[k] = tv
		}
		return out, nil
	}
	return typedValue{}, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

func fromTyped(tv typedValue) (Value, error) {
	switch tv.T {
	case "null":
		return Null{}, nil
	case "string":
		return String(tv.S), nil
	case "number":
		if tv.N == nil {
			return Number(0), nil
		}
		return Number(*tv.N), nil
	case "bool":
		return Bool(tv.B != nil && *tv.B), nil
	case "time":
		ts, err := time.Parse(time.RFC3339Nano, tv.S)
		if err != nil {
			return nil, fmt.Errorf("parse time: %w", err)
		}
		return Time(ts), nil
	case "list":
		out := make(List, len(tv.L))
		for i, item := range tv.L {
			v, err := fromTyped(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case "map":
		out := make(Map, len(tv.M))
		for k, item := range tv.M {
			v, err := fromTyped(item)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: kind %q", ErrUnsupportedType, tv.T)
}

// Format renders v in a canonical, deterministic text form. Map keys are sorted,
// so equal values always format identically.
func Format(v Value) string {
	switch t := v.(type) {
	case nil, Null:
		return "null"
	case String:
		return fmt.Sprintf("%q", string(t))
	case Number:
		return fmt.Sprintf("%g", float64(t))
	case Bool:
		return fmt.Sprintf("%t", bool(t))
	case Time:
		return "t:" + t.Std().UTC().Format(time.RFC3339Nano)
	case List:
		s := "["
		for i, item := range t {
			if i > 0 {
				s += ","
			}
			s += Format(item)
		}
		return s + "]"
	case Map:
		s := "{"
		for i, k := range t.Keys() {
			if i > 0 {
				s += ","
			}
			s += fmt.Sprintf("%q:%s", k, Format(t[k]))
		}
		return s + "}"
	}
	return "?"
}
