// Package dynamodb implements the document store contract on Amazon DynamoDB.
//
// Each collection is a table whose string partition key is "id". Queries run as
// scans: conditions DynamoDB can evaluate are pushed down as a filter expression,
// then ordering, cursors and limits are applied in process.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/observability/logger"
	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/store"
)

// keyAttribute is the partition key attribute of every table.
const keyAttribute = "id"

// API is the subset of the DynamoDB client the adapter uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	ListTables(ctx context.Context, in *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
}

// Adapter is a store.Adapter backed by DynamoDB.
type Adapter struct {
	client      API
	logger      logger.Logger
	timeout     time.Duration
	tablePrefix string
	mu          sync.RWMutex
	closed      bool
}

// Config holds DynamoDB adapter configuration.
type Config struct {
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	OperationTimeout time.Duration
	// TablePrefix is prepended to every collection name.
	TablePrefix string
}

// Cosa fa: costruisce client DynamoDB (AWS SDK v2) con supporto endpoint custom.
// Cosa NON fa: non crea tabelle o throughput policy.
// Esempio minimo: adapter, err := dynamodb.NewAdapter(cfg, log)
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("aws region is required")
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = 5 * time.Second
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	var opts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	adapter := NewWithClient(dynamodb.NewFromConfig(awsCfg, opts...), cfg, log)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := adapter.Ping(ctx); err != nil {
		return nil, err
	}

	adapter.logger.Info("DynamoDB adapter initialized", "region", cfg.Region, "endpoint", cfg.Endpoint)
	return adapter, nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client API, cfg Config, log logger.Logger) *Adapter {
	if log == nil {
		log = logger.Nop()
	}
	return &Adapter{client: client, logger: log, timeout: cfg.OperationTimeout, tablePrefix: cfg.TablePrefix}
}

var _ store.Adapter = (*Adapter)(nil)

func (a *Adapter) table(collection string) *string {
	return aws.String(a.tablePrefix + collection)
}

func (a *Adapter) Capabilities() store.Capabilities {
	// Results are always sorted in process with an id tie-break.
	return store.Capabilities{NativeCount: true, ChangeStream: false, StableOrder: true}
}

func (a *Adapter) checkOpen() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return store.ErrClosed
	}
	return nil
}

func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.checkOpen(); err != nil {
		return fmt.Errorf("dynamodb adapter is closed: %w", err)
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	_, err := a.client.ListTables(opCtx, &dynamodb.ListTablesInput{Limit: aws.Int32(1)})
	if err != nil {
		return fmt.Errorf("dynamodb ping failed: %w", err)
	}
	return nil
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.Ping(hcCtx); err != nil {
		a.logger.Error("DynamoDB health check failed", "error", err)
		return fmt.Errorf("dynamodb health check failed: %w", err)
	}
	return nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *Adapter) Get(ctx context.Context, collection, id string) (document.Document, error) {
	if err := a.checkOpen(); err != nil {
		return document.Document{}, err
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	out, err := a.client.GetItem(opCtx, &dynamodb.GetItemInput{
		TableName:      a.table(collection),
		Key:            map[string]types.AttributeValue{keyAttribute: &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return document.Document{}, translateError(fmt.Sprintf("get %s/%s", collection, id), err)
	}
	if len(out.Item) == 0 {
		return document.Document{}, fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	return fromItem(out.Item), nil
}

// scan reads every item matching the pushed-down filter.
func (a *Adapter) scan(ctx context.Context, collection string, filter filterExpression) ([]document.Document, error) {
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	var docs []document.Document
	input := &dynamodb.ScanInput{TableName: a.table(collection), ConsistentRead: aws.Bool(true)}
	if filter.expr != "" {
		input.FilterExpression = aws.String(filter.expr)
		input.ExpressionAttributeNames = filter.names
		input.ExpressionAttributeValues = filter.values
	}
	for {
		out, err := a.client.Scan(opCtx, input)
		if err != nil {
			return nil, translateError("scan "+collection, err)
		}
		for _, item := range out.Items {
			docs = append(docs, fromItem(item))
		}
		if len(out.LastEvaluatedKey) == 0 {
			return docs, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (a *Adapter) Find(ctx context.Context, collection string, q *query.Query) ([]document.Document, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	docs, err := a.scan(ctx, collection, buildFilterExpression(q))
	if err != nil {
		return nil, err
	}
	return query.Apply(q, docs), nil
}

// Count uses a server-side COUNT scan when every condition can be pushed down.
func (a *Adapter) Count(ctx context.Context, collection string, q *query.Query) (int64, error) {
	if err := a.checkOpen(); err != nil {
		return 0, err
	}
	filter := buildFilterExpression(q)
	if !filter.complete {
		return 0, store.ErrCountUnsupported
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	input := &dynamodb.ScanInput{TableName: a.table(collection), Select: types.SelectCount, ConsistentRead: aws.Bool(true)}
	if filter.expr != "" {
		input.FilterExpression = aws.String(filter.expr)
		input.ExpressionAttributeNames = filter.names
		input.ExpressionAttributeValues = filter.values
	}
	var total int64
	for {
		out, err := a.client.Scan(opCtx, input)
		if err != nil {
			return 0, translateError("count "+collection, err)
		}
		total += int64(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (a *Adapter) Put(ctx context.Context, collection, id string, fields document.Map) (string, error) {
	if err := a.checkOpen(); err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.NewString()
	}
	item := toItem(fields)
	item[keyAttribute] = &types.AttributeValueMemberS{Value: id}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	if _, err := a.client.PutItem(opCtx, &dynamodb.PutItemInput{TableName: a.table(collection), Item: item}); err != nil {
		return "", translateError(fmt.Sprintf("put %s/%s", collection, id), err)
	}
	return id, nil
}

func (a *Adapter) Merge(ctx context.Context, collection, id string, fields document.Map) error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	if len(fields) == 0 {
		_, err := a.Get(ctx, collection, id)
		return err
	}

	names := map[string]string{"#pk": keyAttribute}
	values := make(map[string]types.AttributeValue, len(fields))
	sets := make([]string, 0, len(fields))
	i := 0
	for _, k := range fields.Keys() {
		n, v := fmt.Sprintf("#f%d", i), fmt.Sprintf(":f%d", i)
		names[n] = k
		values[v] = toAttribute(fields[k])
		sets = append(sets, n+" = "+v)
		i++
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	_, err := a.client.UpdateItem(opCtx, &dynamodb.UpdateItemInput{
		TableName:                 a.table(collection),
		Key:                       map[string]types.AttributeValue{keyAttribute: &types.AttributeValueMemberS{Value: id}},
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
		}
		return translateError(fmt.Sprintf("merge %s/%s", collection, id), err)
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, collection, id string) error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	_, err := a.client.DeleteItem(opCtx, &dynamodb.DeleteItemInput{
		TableName: a.table(collection),
		Key:       map[string]types.AttributeValue{keyAttribute: &types.AttributeValueMemberS{Value: id}},
	})
	if err != nil {
		return translateError(fmt.Sprintf("delete %s/%s", collection, id), err)
	}
	return nil
}

// Watch is not supported: changes reach subscribers through the notification bus.
func (a *Adapter) Watch(context.Context, string) (<-chan store.Change, error) {
	return nil, store.ErrWatchUnsupported
}

func (a *Adapter) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

func IsThrottlingError(err error) bool {
	if err == nil {
		return false
	}
	var pte *types.ProvisionedThroughputExceededException
	if errors.As(err, &pte) {
		return true
	}
	var rle *types.RequestLimitExceeded
	return errors.As(err, &rle)
}

// unavailableCodes are service error codes caused by connectivity, permissions or
// quota rather than by the request itself.
var unavailableCodes = map[string]bool{
	"AccessDeniedException":               true,
	"UnrecognizedClientException":         true,
	"ExpiredTokenException":               true,
	"ResourceNotFoundException":           true,
	"ServiceUnavailable":                  true,
	"InternalServerError":                 true,
	"ThrottlingException":                 true,
	"LimitExceededException":              true,
	"MissingAuthenticationTokenException": true,
}

func translateError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if IsThrottlingError(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if unavailableCodes[apiErr.ErrorCode()] {
			return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	// Transport failures carry no service error code.
	return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
}
