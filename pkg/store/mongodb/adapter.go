// Package mongodb implements the document store contract on MongoDB.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/observability/logger"
	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/store"
)

// Adapter is a store.Adapter backed by one MongoDB database. Each collection
// maps to a MongoDB collection and the document id is stored in _id.
type Adapter struct {
	client        *mongo.Client
	database      string
	logger        logger.Logger
	timeout       time.Duration
	changeStreams bool
	mu            sync.RWMutex
	closed        bool
}

// Config holds MongoDB adapter configuration.
type Config struct {
	URL              string
	Database         string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	// ChangeStreams enables Watch. It requires a replica set or sharded cluster.
	ChangeStreams bool
}

// Cosa fa: inizializza un adapter MongoDB e verifica connettività via ping.
// Cosa NON fa: non crea indici o collezioni automaticamente.
// Esempio minimo: adapter, err := mongodb.NewAdapter(cfg, log)
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mongodb URL is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("mongodb database is required")
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	log.Info("MongoDB connection established", "database", cfg.Database, "change_streams", cfg.ChangeStreams)
	return &Adapter{
		client:        client,
		database:      cfg.Database,
		logger:        log,
		timeout:       cfg.OperationTimeout,
		changeStreams: cfg.ChangeStreams,
	}, nil
}

var _ store.Adapter = (*Adapter)(nil)

func (a *Adapter) collection(name string) *mongo.Collection {
	return a.client.Database(a.database).Collection(name)
}

func (a *Adapter) Capabilities() store.Capabilities {
	// Every find sorts on _id last, so unordered queries page stably.
	return store.Capabilities{NativeCount: true, ChangeStream: a.changeStreams, StableOrder: true}
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
		return fmt.Errorf("mongodb adapter is closed: %w", err)
	}
	return a.client.Ping(ctx, readpref.Primary())
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.Ping(hcCtx); err != nil {
		a.logger.Error("MongoDB health check failed", "error", err)
		return fmt.Errorf("mongodb health check failed: %w", err)
	}
	return nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to close mongodb connection: %w", err)
	}
	return nil
}

func (a *Adapter) Get(ctx context.Context, collection, id string) (document.Document, error) {
	if err := a.checkOpen(); err != nil {
		return document.Document{}, err
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	var raw bson.M
	err := a.collection(collection).FindOne(opCtx, bson.M{"_id": id}).Decode(&raw)
	if err != nil {
		return document.Document{}, translateError(fmt.Sprintf("get %s/%s", collection, id), err)
	}
	return fromBSONDocument(raw), nil
}

func (a *Adapter) Find(ctx context.Context, collection string, q *query.Query) ([]document.Document, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	filter, err := buildFilter(q, true)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(buildSort(q))
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	if q.Offset > 0 {
		opts.SetSkip(int64(q.Offset))
	}

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()

	cur, err := a.collection(collection).Find(opCtx, filter, opts)
	if err != nil {
		return nil, translateError("find "+collection, err)
	}
	defer cur.Close(opCtx)

	var docs []document.Document
	for cur.Next(opCtx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			a.logger.Warn("skipping undecodable mongodb document", "collection", collection, "error", err)
			continue
		}
		docs = append(docs, fromBSONDocument(raw))
	}
	if err := cur.Err(); err != nil {
		return nil, translateError("find "+collection, err)
	}
	return docs, nil
}

func (a *Adapter) Count(ctx context.Context, collection string, q *query.Query) (int64, error) {
	if err := a.checkOpen(); err != nil {
		return 0, err
	}
	filter, err := buildFilter(q, false)
	if err != nil {
		return 0, err
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	n, err := a.collection(collection).CountDocuments(opCtx, filter)
	if err != nil {
		return 0, translateError("count "+collection, err)
	}
	return n, nil
}

func (a *Adapter) Put(ctx context.Context, collection, id string, fields document.Map) (string, error) {
	if err := a.checkOpen(); err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.NewString()
	}
	body := toBSONMap(fields)
	body["_id"] = id

	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	_, err := a.collection(collection).ReplaceOne(opCtx, bson.M{"_id": id}, body, options.Replace().SetUpsert(true))
	if err != nil {
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
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	res, err := a.collection(collection).UpdateOne(opCtx, bson.M{"_id": id}, bson.M{"$set": toBSONMap(fields)})
	if err != nil {
		return translateError(fmt.Sprintf("merge %s/%s", collection, id), err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, collection, id string) error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	opCtx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	if _, err := a.collection(collection).DeleteOne(opCtx, bson.M{"_id": id}); err != nil {
		return translateError(fmt.Sprintf("delete %s/%s", collection, id), err)
	}
	return nil
}

type changeEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID any `bson:"_id"`
	} `bson:"documentKey"`
}

// Watch opens a change stream on collection. The stream is closed when ctx is
// cancelled; a stream failure closes the returned channel.
func (a *Adapter) Watch(ctx context.Context, collection string) (<-chan store.Change, error) {
	if !a.changeStreams {
		return nil, store.ErrWatchUnsupported
	}
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	stream, err := a.collection(collection).Watch(ctx, mongo.Pipeline{})
	if err != nil {
		return nil, translateError("watch "+collection, err)
	}

	out := make(chan store.Change, 16)
	go func() {
		defer close(out)
		defer stream.Close(context.Background())
		for stream.Next(ctx) {
			var ev changeEvent
			if err := stream.Decode(&ev); err != nil {
				a.logger.Warn("undecodable change event", "collection", collection, "error", err)
				continue
			}
			change := store.Change{Collection: collection, ID: fmt.Sprint(ev.DocumentKey.ID), Type: changeType(ev.OperationType)}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("mongodb change stream terminated", "collection", collection, "error", err)
		}
	}()
	return out, nil
}

func changeType(op string) store.ChangeType {
	switch op {
	case "insert":
		return store.ChangeCreated
	case "delete":
		return store.ChangeDeleted
	default:
		return store.ChangeUpdated
	}
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

// translateError maps driver errors onto the store sentinels.
func translateError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, mongo.ErrClientDisconnected),
		mongo.IsNetworkError(err),
		mongo.IsTimeout(err):
		return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && isPermissionCode(cmdErr.Code) {
		return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isPermissionCode reports MongoDB auth failures: Unauthorized (13) and
// AuthenticationFailed (18).
func isPermissionCode(code int32) bool {
	return code == 13 || code == 18
}
