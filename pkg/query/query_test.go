package query

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/nimburion/docstore/pkg/document"
)

func TestBuild_RejectsInvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"unsupported operator", Options{Filters: []Filter{{Field: "status", Op: "~=", Value: "x"}}}},
		{"empty field", Options{Filters: []Filter{Where("", Equal, "x")}}},
		{"zero limit", Options{Limit: Limit(0)}},
		{"negative limit", Options{Limit: Limit(-3)}},
		{"in without list", Options{Filters: []Filter{Where("status", In, "active")}}},
		{"in with empty list", Options{Filters: []Filter{Where("status", In, []string{})}}},
		{"not-in with nil", Options{Filters: []Filter{Where("status", NotIn, nil)}}},
		{"range on null", Options{Filters: []Filter{Where("progress", GreaterThan, nil)}}},
		{"range on list", Options{Filters: []Filter{Where("progress", LessThan, []int{1})}}},
		{"unencodable value", Options{Filters: []Filter{Where("x", Equal, make(chan int))}}},
		{"bad direction", Options{OrderBy: []Order{OrderBy("name", "sideways")}}},
		{"empty order field", Options{OrderBy: []Order{OrderBy(" ", Asc)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Build(tt.opts); !errors.Is(err, ErrInvalidQuery) {
				t.Fatalf("Build err = %v, want ErrInvalidQuery", err)
			}
		})
	}
}

func TestBuild_AcceptsValidOptions(t *testing.T) {
	q, err := Build(Options{
		Filters: []Filter{
			Where("status", In, []string{"active", "planning"}),
			Where("progress", GreaterOrEqual, 10),
		},
		OrderBy: []Order{OrderBy("name", "")},
		Limit:   Limit(5),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if q.Limit != 5 || q.OrderBy[0].Direction != Asc {
		t.Fatalf("unexpected query: %s", q)
	}
	if q.Conditions[0].Value.Kind() != document.KindList {
		t.Fatalf("in operand must compile to a list")
	}
}

func TestKey_EqualQueriesShareKey(t *testing.T) {
	a := MustBuild(Options{Filters: []Filter{Where("status", Equal, "active")}, Limit: Limit(10)})
	b := MustBuild(Options{Filters: []Filter{Where("status", Equal, "active")}, Limit: Limit(10)})
	c := MustBuild(Options{Filters: []Filter{Where("status", Equal, "archived")}, Limit: Limit(10)})
	if a.Key() != b.Key() {
		t.Fatalf("keys differ: %q vs %q", a.Key(), b.Key())
	}
	if a.Key() == c.Key() {
		t.Fatal("different filters must produce different keys")
	}
	if a.Fingerprint() != a.WithLimit(3).Fingerprint() {
		t.Fatal("fingerprint must ignore the limit")
	}
}

func doc(id string, fields document.Map) document.Document {
	return document.Document{ID: id, Fields: fields}
}

func TestMatch_Operators(t *testing.T) {
	d := doc("t1", document.Map{
		"status":   document.String("open"),
		"priority": document.Number(3),
		"tags":     document.List{document.String("ui"), document.String("bug")},
		"due":      document.Time(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)),
		"owner":    document.Map{"id": document.String("u1")},
	})
	cases := []struct {
		filter Filter
		want   bool
	}{
		{Where("status", Equal, "open"), true},
		{Where("status", NotEqual, "open"), false},
		{Where("priority", LessThan, 5), true},
		{Where("priority", GreaterThan, 3), false},
		{Where("priority", GreaterOrEqual, 3), true},
		{Where("priority", LessThan, "5"), false},
		{Where("status", In, []string{"open", "closed"}), true},
		{Where("status", NotIn, []string{"open"}), false},
		{Where("tags", ArrayContains, "bug"), true},
		{Where("tags", ArrayContainsAny, []string{"perf", "ui"}), true},
		{Where("due", LessThan, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)), true},
		{Where("owner.id", Equal, "u1"), true},
		{Where("missing", NotEqual, "x"), false},
		{Where(DocumentID, Equal, "t1"), true},
	}
	for _, tc := range cases {
		q := MustBuild(Options{Filters: []Filter{tc.filter}})
		if got := q.Match(d); got != tc.want {
			t.Errorf("%s %s %v: got %v, want %v", tc.filter.Field, tc.filter.Op, tc.filter.Value, got, tc.want)
		}
	}
}

func TestApply_OrdersFiltersAndLimits(t *testing.T) {
	docs := []document.Document{
		doc("a", document.Map{"name": document.String("Gamma"), "rank": document.Number(2)}),
		doc("b", document.Map{"name": document.String("Alpha"), "rank": document.Number(1)}),
		doc("c", document.Map{"name": document.String("Beta"), "rank": document.Number(1)}),
		doc("d", document.Map{"rank": document.Number(0)}),
	}
	q := MustBuild(Options{OrderBy: []Order{OrderBy("name", Asc)}, Limit: Limit(2)})
	got := Apply(q, docs)
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("unexpected order: %v", ids(got))
	}

	q = MustBuild(Options{OrderBy: []Order{OrderBy("rank", Desc)}})
	got = Apply(q, docs)
	if fmt.Sprint(ids(got)) != "[a c b d]" {
		t.Fatalf("desc order with id tie-break = %v", ids(got))
	}
}

func TestCursor_ResumesAfterPosition(t *testing.T) {
	docs := []document.Document{
		doc("a", document.Map{"n": document.Number(1)}),
		doc("b", document.Map{"n": document.Number(2)}),
		doc("c", document.Map{"n": document.Number(3)}),
	}
	q := MustBuild(Options{OrderBy: []Order{OrderBy("n", Asc)}, Limit: Limit(1)})
	first := Apply(q, docs)

	token := CursorAt(q, first[0]).Encode()
	parsed, err := ParseCursor(token)
	if err != nil {
		t.Fatalf("ParseCursor: %v", err)
	}
	next, err := q.StartAfter(parsed)
	if err != nil {
		t.Fatalf("StartAfter: %v", err)
	}
	second := Apply(next, docs)
	if len(second) != 1 || second[0].ID != "b" {
		t.Fatalf("second page = %v", ids(second))
	}

	other := MustBuild(Options{OrderBy: []Order{OrderBy("n", Desc)}})
	if _, err := other.StartAfter(parsed); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("foreign cursor err = %v", err)
	}
	if _, err := ParseCursor("%%%"); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("malformed cursor err = %v", err)
	}
}

func ids(docs []document.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

// Property: walking a collection page by page with cursors visits every matching
// document exactly once, in order.
func TestProperty_CursorWalkIsExhaustive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("pages partition the result", prop.ForAll(
		func(ranks []int, pageSize int) bool {
			docs := make([]document.Document, len(ranks))
			for i, r := range ranks {
				docs[i] = doc(fmt.Sprintf("d%03d", i), document.Map{"rank": document.Number(r)})
			}
			base := MustBuild(Options{OrderBy: []Order{OrderBy("rank", Asc)}})
			want := ids(Apply(base, docs))

			var seen []string
			q := base.WithLimit(pageSize)
			for guard := 0; guard <= len(docs)+1; guard++ {
				page := Apply(q, docs)
				seen = append(seen, ids(page)...)
				if len(page) < pageSize {
					break
				}
				next, err := q.StartAfter(CursorAt(q, page[len(page)-1]))
				if err != nil {
					t.Logf("StartAfter: %v", err)
					return false
				}
				q = next
			}
			return fmt.Sprint(seen) == fmt.Sprint(want)
		},
		gen.SliceOf(gen.IntRange(0, 5)),
		gen.IntRange(1, 4),
	))

	properties.TestingRun(t)
}
