package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/query"
)

// Output formats accepted by --output.
const (
	OutputYAML = "yaml"
	OutputJSON = "json"
)

// parseWhere parses "field:op:value". The value is read as a YAML scalar or
// flow sequence, so `status:in:[open, closed]` and `progress:>=:50` both work.
// RFC 3339 strings become timestamps.
func parseWhere(raw string) (query.Filter, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 || strings.TrimSpace(parts[0]) == "" {
		return query.Filter{}, fmt.Errorf("invalid --where %q: expected field:op:value", raw)
	}
	op, err := query.ParseOperator(strings.TrimSpace(parts[1]))
	if err != nil {
		return query.Filter{}, fmt.Errorf("invalid --where %q: %w", raw, err)
	}
	value, err := parseValue(parts[2])
	if err != nil {
		return query.Filter{}, fmt.Errorf("invalid --where %q: %w", raw, err)
	}
	return query.Where(strings.TrimSpace(parts[0]), op, value), nil
}

func parseValue(raw string) (any, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	var out any
	if err := yaml.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return normalizeValue(out), nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts
		}
		return t
	case []any:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = normalizeValue(t[k])
		}
		return t
	}
	return v
}

// parseOrder parses "field" or "field:asc|desc".
func parseOrder(raw string) (query.Order, error) {
	field, dir, _ := strings.Cut(raw, ":")
	field = strings.TrimSpace(field)
	if field == "" {
		return query.Order{}, fmt.Errorf("invalid --order %q: empty field", raw)
	}
	return query.OrderBy(field, query.Direction(strings.ToLower(strings.TrimSpace(dir)))), nil
}

// queryFlags collects the filter flags shared by the read commands.
type queryFlags struct {
	where []string
	order []string
	limit int
}

func (f *queryFlags) options() (query.Options, error) {
	var opts query.Options
	for _, raw := range f.where {
		filter, err := parseWhere(raw)
		if err != nil {
			return query.Options{}, err
		}
		opts.Filters = append(opts.Filters, filter)
	}
	for _, raw := range f.order {
		order, err := parseOrder(raw)
		if err != nil {
			return query.Options{}, err
		}
		opts.OrderBy = append(opts.OrderBy, order)
	}
	if f.limit > 0 {
		opts.Limit = query.Limit(f.limit)
	}
	return opts, nil
}

// parseFields reads a JSON or YAML object into document fields.
func parseFields(raw string) (document.Map, error) {
	var data map[string]any
	if err := yaml.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("parse document: expected an object")
	}
	v, err := document.FromGo(normalizeValue(data))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return v.(document.Map), nil
}

func records(docs []document.Document) []map[string]any {
	out := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Plain())
	}
	return out
}

func writeOutput(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "", OutputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported output %q (supported: yaml, json)", format)
	}
}
