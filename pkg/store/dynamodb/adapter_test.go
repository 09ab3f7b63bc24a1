package dynamodb

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/observability/logger"
	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/store"
)

type mockLogger struct{}

func (m *mockLogger) Debug(string, ...any)                      {}
func (m *mockLogger) Info(string, ...any)                       {}
func (m *mockLogger) Warn(string, ...any)                       {}
func (m *mockLogger) Error(string, ...any)                      {}
func (m *mockLogger) With(...any) logger.Logger                 { return m }
func (m *mockLogger) WithContext(context.Context) logger.Logger { return m }

// fakeAPI keeps items per table and pages scans two items at a time. Filter
// expressions are recorded but not evaluated.
type fakeAPI struct {
	tables     map[string]map[string]map[string]types.AttributeValue
	lastScan   *dynamodb.ScanInput
	lastUpdate *dynamodb.UpdateItemInput
	err        error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{tables: map[string]map[string]map[string]types.AttributeValue{}}
}

func (f *fakeAPI) key(in map[string]types.AttributeValue) string {
	return in[keyAttribute].(*types.AttributeValueMemberS).Value
}

func (f *fakeAPI) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.tables[*in.TableName][f.key(in.Key)]}, nil
}

func (f *fakeAPI) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.tables[*in.TableName] == nil {
		f.tables[*in.TableName] = map[string]map[string]types.AttributeValue{}
	}
	f.tables[*in.TableName][f.key(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeAPI) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdate = in
	item, ok := f.tables[*in.TableName][f.key(in.Key)]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	for _, assignment := range strings.Split(strings.TrimPrefix(*in.UpdateExpression, "SET "), ", ") {
		parts := strings.Split(assignment, " = ")
		item[in.ExpressionAttributeNames[parts[0]]] = in.ExpressionAttributeValues[parts[1]]
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeAPI) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(f.tables[*in.TableName], f.key(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeAPI) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.lastScan = in
	if f.err != nil {
		return nil, f.err
	}
	var ids []string
	for id := range f.tables[*in.TableName] {
		ids = append(ids, id)
	}
	// Deterministic paging: ids sorted, resume after ExclusiveStartKey.
	sortStrings(ids)
	start := 0
	if in.ExclusiveStartKey != nil {
		after := f.key(in.ExclusiveStartKey)
		for start < len(ids) && ids[start] <= after {
			start++
		}
	}
	end := start + 2
	if end > len(ids) {
		end = len(ids)
	}
	out := &dynamodb.ScanOutput{}
	for _, id := range ids[start:end] {
		out.Items = append(out.Items, f.tables[*in.TableName][id])
	}
	out.Count = int32(len(out.Items))
	if end < len(ids) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{keyAttribute: &types.AttributeValueMemberS{Value: ids[end-1]}}
	}
	return out, nil
}

func (f *fakeAPI) ListTables(context.Context, *dynamodb.ListTablesInput, ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
	return &dynamodb.ListTablesOutput{}, f.err
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func TestNewAdapter_Validation(t *testing.T) {
	_, err := NewAdapter(Config{}, &mockLogger{})
	if err == nil {
		t.Fatal("expected error for empty region")
	}
}

func TestClose_Idempotent(t *testing.T) {
	a := NewWithClient(newFakeAPI(), Config{}, &mockLogger{})
	if err := a.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}
	if err := a.Ping(context.Background()); err == nil {
		t.Fatal("expected error when closed")
	}
}

func TestAdapter_PutGetMergeDelete(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	a := NewWithClient(api, Config{TablePrefix: "test_"}, &mockLogger{})
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

	id, err := a.Put(ctx, "projects", "", document.Map{
		"name":      document.String("Alpha"),
		"createdAt": document.Time(at),
		"tags":      document.List{document.String("x")},
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := api.tables["test_projects"][id]; !ok {
		t.Fatal("item must be written to the prefixed table")
	}

	if err := a.Merge(ctx, "projects", id, document.Map{"name": document.String("Beta"), "notes": document.Null{}}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if *api.lastUpdate.ConditionExpression != "attribute_exists(#pk)" {
		t.Fatalf("merge must be conditional on existence: %s", *api.lastUpdate.ConditionExpression)
	}

	got, err := a.Get(ctx, "projects", id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != id || !document.Equal(got.Fields["name"], document.String("Beta")) {
		t.Fatalf("unexpected document: %s", document.Format(got.Fields))
	}
	if !document.Equal(got.Fields["createdAt"], document.Time(at)) {
		t.Fatalf("timestamps must round-trip, got %s", document.Format(got.Fields["createdAt"]))
	}
	if got.Fields["notes"].Kind() != document.KindNull {
		t.Fatal("null must be stored as NULL")
	}

	if err := a.Merge(ctx, "projects", "missing", document.Map{"name": document.String("x")}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Merge missing err = %v", err)
	}
	if err := a.Delete(ctx, "projects", id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := a.Get(ctx, "projects", id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get after delete err = %v", err)
	}
}

func TestAdapter_FindScansAllPagesAndOrders(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	a := NewWithClient(api, Config{}, &mockLogger{})
	for i, name := range []string{"delta", "alpha", "echo", "charlie", "bravo"} {
		_, _ = a.Put(ctx, "tasks", string(rune('a'+i)), document.Map{"name": document.String(name), "open": document.Bool(i%2 == 0)})
	}

	q := query.MustBuild(query.Options{
		Filters: []query.Filter{query.Where("open", query.Equal, true)},
		OrderBy: []query.Order{query.OrderBy("name", query.Asc)},
	})
	docs, err := a.Find(ctx, "tasks", q)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	var names []string
	for _, d := range docs {
		names = append(names, string(d.Fields["name"].(document.String)))
	}
	if strings.Join(names, ",") != "bravo,delta,echo" {
		t.Fatalf("names = %v", names)
	}
	if api.lastScan.FilterExpression == nil || !strings.Contains(*api.lastScan.FilterExpression, "=") {
		t.Fatal("equality must be pushed down as a filter expression")
	}
}

func TestAdapter_Count(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	a := NewWithClient(api, Config{}, &mockLogger{})
	for _, id := range []string{"a", "b", "c"} {
		_, _ = a.Put(ctx, "tickets", id, document.Map{"labels": document.List{document.String("x")}})
	}

	n, err := a.Count(ctx, "tickets", query.MustBuild(query.Options{}))
	if err != nil || n != 3 {
		t.Fatalf("Count = %d, %v", n, err)
	}
	if api.lastScan.Select != types.SelectCount {
		t.Fatal("count must use a server-side COUNT scan")
	}
	if api.lastScan.ConsistentRead == nil || !*api.lastScan.ConsistentRead {
		t.Fatal("count must read consistently, like Find")
	}

	q := query.MustBuild(query.Options{Filters: []query.Filter{query.Where("labels", query.NotIn, []string{"y"})}})
	if _, err := a.Count(ctx, "tickets", q); !errors.Is(err, store.ErrCountUnsupported) {
		t.Fatalf("unpushable filter count err = %v", err)
	}
}

func TestBuildFilterExpression_OrderFieldsMustExist(t *testing.T) {
	q := query.MustBuild(query.Options{
		Filters: []query.Filter{query.Where("status", query.Equal, "active")},
		OrderBy: []query.Order{query.OrderBy("progress", query.Asc)},
	})
	filter := buildFilterExpression(q)
	if !filter.complete {
		t.Fatal("equality and order existence can be pushed down")
	}
	if !strings.Contains(filter.expr, "attribute_exists(") {
		t.Fatalf("expr = %q, want an attribute_exists clause for the order field", filter.expr)
	}
	found := false
	for _, name := range filter.names {
		if name == "progress" {
			found = true
		}
	}
	if !found {
		t.Fatalf("names = %v", filter.names)
	}
}

func TestBuildFilterExpression_TimeOperandsStayInProcess(t *testing.T) {
	due := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	q := query.MustBuild(query.Options{Filters: []query.Filter{query.Where("dueDate", query.LessThan, due)}})
	if buildFilterExpression(q).complete {
		t.Fatal("time comparisons must not be trusted to the server")
	}

	a := NewWithClient(newFakeAPI(), Config{}, &mockLogger{})
	if _, err := a.Count(context.Background(), "tasks", q); !errors.Is(err, store.ErrCountUnsupported) {
		t.Fatalf("count with a time operand err = %v", err)
	}
}

func TestTranslateError(t *testing.T) {
	if err := translateError("get", &types.ProvisionedThroughputExceededException{}); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("throttling -> %v", err)
	}
	if err := translateError("get", &smithy.GenericAPIError{Code: "AccessDeniedException"}); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("access denied -> %v", err)
	}
	if err := translateError("get", &smithy.GenericAPIError{Code: "ValidationException"}); errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("validation errors are not availability failures: %v", err)
	}
	if err := translateError("get", errors.New("dial tcp: connection refused")); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("transport -> %v", err)
	}
}

func TestIsThrottlingError(t *testing.T) {
	if IsThrottlingError(nil) {
		t.Fatal("nil error must return false")
	}
	if IsThrottlingError(errors.New("x")) {
		t.Fatal("generic error must return false")
	}
	if !IsThrottlingError(&types.ProvisionedThroughputExceededException{}) {
		t.Fatal("expected throttling error to be detected")
	}
}

func TestWithOperationTimeout_PreservesCallerDeadline(t *testing.T) {
	a := &Adapter{timeout: 2 * time.Second}
	parentCtx, parentCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer parentCancel()

	ctx, cancel := a.withOperationTimeout(parentCtx)
	defer cancel()

	parentDeadline, _ := parentCtx.Deadline()
	gotDeadline, _ := ctx.Deadline()
	if !gotDeadline.Equal(parentDeadline) {
		t.Fatalf("expected caller deadline to be preserved, got %v want %v", gotDeadline, parentDeadline)
	}
}
