package codec

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/nimburion/docstore/pkg/document"
)

// FieldIssue records one field that could not be decoded faithfully.
type FieldIssue struct {
	Field  string
	Reason string
}

// DecodeError lists the fields of a document that were degraded during decode.
type DecodeError struct {
	Collection string
	ID         string
	Issues     []FieldIssue
}

func (e *DecodeError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.Field+": "+issue.Reason)
	}
	return fmt.Sprintf("decode %s/%s: %s", e.Collection, e.ID, strings.Join(parts, "; "))
}

func (e *DecodeError) Unwrap() error { return ErrDecode }

// dateLayouts are the string forms accepted for date fields.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// decoder walks one document into a struct. Issues accumulate instead of aborting.
type decoder struct {
	now    time.Time
	issues []FieldIssue
}

func (d *decoder) issue(path, reason string) {
	d.issues = append(d.issues, FieldIssue{Field: path, Reason: reason})
}

// Decode converts doc into an entity. The returned entity is always usable; the
// DecodeError, when non-nil, lists the fields that were backfilled or dropped.
//
// Non-pointer time.Time fields that are missing, null or unparseable are set to the
// current time. Pointer date fields stay nil when missing or null.
func (c *Codec[T]) Decode(doc document.Document) (*T, *DecodeError) {
	entity := new(T)
	rv := reflect.ValueOf(entity).Elem()
	rv.Field(c.idIndex).SetString(doc.ID)

	d := &decoder{now: c.now()}
	d.decodeStruct(rv, doc.Fields, "", c.idIndex)

	if len(d.issues) == 0 {
		return entity, nil
	}
	return entity, &DecodeError{Collection: c.schema.Collection, ID: doc.ID, Issues: d.issues}
}

// decodeStruct fills rv from m. skip is a field index left untouched, or -1.
func (d *decoder) decodeStruct(rv reflect.Value, m document.Map, prefix string, skip int) {
	for _, f := range structFields(rv.Type()) {
		if f.index == skip {
			continue
		}
		path := f.name
		if prefix != "" {
			path = prefix + "." + f.name
		}
		fv := rv.Field(f.index)
		v, ok := m[f.name]
		if !ok {
			d.missing(fv, path)
			continue
		}
		d.decodeValue(fv, v, path)
	}
}

// missing fills a field absent from the document. Only required dates are backfilled.
func (d *decoder) missing(fv reflect.Value, path string) {
	switch {
	case fv.Type() == timeType:
		fv.Set(reflect.ValueOf(d.now))
		d.issue(path, "missing date backfilled")
	case fv.Kind() == reflect.Struct:
		d.decodeStruct(fv, nil, path, -1)
	}
}

func (d *decoder) decodeValue(fv reflect.Value, v document.Value, path string) {
	ft := fv.Type()

	if ft == timeType {
		fv.Set(reflect.ValueOf(d.toTime(v, path)))
		return
	}
	if ft.Kind() == reflect.Interface {
		if ft == reflect.TypeOf((*document.Value)(nil)).Elem() {
			fv.Set(reflect.ValueOf(&v).Elem())
			return
		}
		if ft.NumMethod() == 0 {
			if g := document.ToGo(v); g != nil {
				fv.Set(reflect.ValueOf(g))
			}
			return
		}
		d.issue(path, "unsupported interface field")
		return
	}

	if _, isNull := v.(document.Null); isNull || v == nil {
		// Null clears the field. Nested required dates are still backfilled.
		if ft.Kind() == reflect.Struct {
			d.decodeStruct(fv, nil, path, -1)
		}
		return
	}

	switch ft.Kind() {
	case reflect.Pointer:
		elem := reflect.New(ft.Elem())
		if ft.Elem() == timeType {
			elem.Elem().Set(reflect.ValueOf(d.toTime(v, path)))
		} else {
			d.decodeValue(elem.Elem(), v, path)
		}
		fv.Set(elem)
	case reflect.String:
		switch t := v.(type) {
		case document.String:
			fv.SetString(string(t))
		case document.Number:
			fv.SetString(strconv.FormatFloat(float64(t), 'f', -1, 64))
			d.issue(path, "number coerced to string")
		case document.Bool:
			fv.SetString(strconv.FormatBool(bool(t)))
			d.issue(path, "bool coerced to string")
		default:
			d.mismatch(path, v, "string")
		}
	case reflect.Bool:
		if b, ok := v.(document.Bool); ok {
			fv.SetBool(bool(b))
			return
		}
		d.mismatch(path, v, "bool")
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := d.toNumber(v, path)
		if !ok {
			return
		}
		// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
		if math.IsNaN(n) || n < math.MinInt64 || n >= math.MaxInt64 || fv.OverflowInt(int64(n)) {
			d.issue(path, "number out of range")
			return
		}
		if n != math.Trunc(n) {
			d.issue(path, "fraction truncated")
		}
		fv.SetInt(int64(n))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, ok := d.toNumber(v, path)
		if !ok {
			return
		}
		if math.IsNaN(n) || n < 0 || n >= math.MaxUint64 || fv.OverflowUint(uint64(n)) {
			d.issue(path, "number out of range")
			return
		}
		fv.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		if n, ok := d.toNumber(v, path); ok {
			fv.SetFloat(n)
		}
	case reflect.Slice:
		list, ok := v.(document.List)
		if !ok {
			d.mismatch(path, v, "list")
			return
		}
		out := reflect.MakeSlice(ft, len(list), len(list))
		for i, item := range list {
			d.decodeValue(out.Index(i), item, fmt.Sprintf("%s[%d]", path, i))
		}
		fv.Set(out)
	case reflect.Array:
		list, ok := v.(document.List)
		if !ok {
			d.mismatch(path, v, "list")
			return
		}
		for i := 0; i < fv.Len() && i < len(list); i++ {
			d.decodeValue(fv.Index(i), list[i], fmt.Sprintf("%s[%d]", path, i))
		}
	case reflect.Map:
		m, ok := v.(document.Map)
		if !ok || ft.Key().Kind() != reflect.String {
			d.mismatch(path, v, "map")
			return
		}
		out := reflect.MakeMapWithSize(ft, len(m))
		for k, item := range m {
			ev := reflect.New(ft.Elem()).Elem()
			d.decodeValue(ev, item, path+"."+k)
			out.SetMapIndex(reflect.ValueOf(k).Convert(ft.Key()), ev)
		}
		fv.Set(out)
	case reflect.Struct:
		m, ok := v.(document.Map)
		if !ok {
			d.mismatch(path, v, "map")
			d.decodeStruct(fv, nil, path, -1)
			return
		}
		d.decodeStruct(fv, m, path, -1)
	default:
		d.issue(path, "unsupported field type "+ft.String())
	}
}

func (d *decoder) mismatch(path string, v document.Value, want string) {
	d.issue(path, fmt.Sprintf("expected %s, got %s", want, v.Kind()))
}

func (d *decoder) toNumber(v document.Value, path string) (float64, bool) {
	switch t := v.(type) {
	case document.Number:
		return float64(t), true
	case document.String:
		n, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
		if err != nil {
			d.mismatch(path, v, "number")
			return 0, false
		}
		d.issue(path, "string coerced to number")
		return n, true
	}
	d.mismatch(path, v, "number")
	return 0, false
}

// toTime converts a date-like value. Store timestamps are used as-is, strings are
// parsed, numbers are Unix milliseconds. Anything else becomes the current time.
func (d *decoder) toTime(v document.Value, path string) time.Time {
	switch t := v.(type) {
	case document.Time:
		return t.Std()
	case document.String:
		if ts, ok := parseDate(string(t)); ok {
			return ts
		}
		d.issue(path, "unparseable date backfilled")
		return d.now
	case document.Number:
		return time.UnixMilli(int64(t)).UTC()
	case document.Null, nil:
		d.issue(path, "null date backfilled")
		return d.now
	}
	d.issue(path, fmt.Sprintf("date expected, got %s", v.Kind()))
	return d.now
}

// Encode converts an entity into its document fields. The id field is not part of
// the result; it is carried separately as the document id.
func (c *Codec[T]) Encode(entity *T) (document.Map, error) {
	if entity == nil {
		return nil, fmt.Errorf("%w: nil entity", ErrEncode)
	}
	rv := reflect.ValueOf(entity).Elem()
	out := make(document.Map, len(c.fields))
	for _, f := range c.fields {
		fv := rv.Field(f.index)
		if document.IsAbsent(fv) || (f.omitEmpty && fv.IsZero()) {
			continue
		}
		v, err := document.FromGo(fv.Interface())
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrEncode, f.name, err)
		}
		out[f.name] = v
	}
	return out, nil
}

// EncodePatch converts a partial update. Unset entries are dropped, nil entries
// become Null and clear the field. Keys may be document field names or Go field
// names; unknown keys, the id field and values whose shape does not fit the target
// field are rejected.
func (c *Codec[T]) EncodePatch(patch document.Patch) (document.Map, error) {
	out := make(document.Map, len(patch))
	idName := c.schema.IDField
	for key, raw := range patch {
		if document.IsUnset(raw) {
			continue
		}
		if key == idName || strings.EqualFold(key, "id") {
			return nil, fmt.Errorf("%w: the id field cannot be patched", ErrEncode)
		}
		f, ok := c.resolve(key)
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", ErrEncode, key)
		}
		v, err := document.FromGo(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrEncode, key, err)
		}
		if v.Kind() != document.KindNull {
			if err := c.checkShape(f, v); err != nil {
				return nil, err
			}
			if s, ok := v.(document.String); ok && isTimeType(f.typ) {
				ts, _ := parseDate(string(s))
				v = document.TimeOf(ts)
			}
		}
		out[f.name] = v
	}
	return out, nil
}

// checkShape decodes v into a scratch value of the field's type and fails on any
// issue other than a date backfill for nested optional structs.
func (c *Codec[T]) checkShape(f fieldInfo, v document.Value) error {
	scratch := reflect.New(f.typ).Elem()
	d := &decoder{now: c.now()}
	d.decodeValue(scratch, v, f.name)
	for _, issue := range d.issues {
		if issue.Reason == "missing date backfilled" {
			continue
		}
		return fmt.Errorf("%w: %s: %s", ErrEncode, issue.Field, issue.Reason)
	}
	return nil
}
