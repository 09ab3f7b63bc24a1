package repository

import (
	"context"
	"errors"

	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/realtime"
	"github.com/nimburion/docstore/pkg/store"
)

// Subscribe opens a live view of the entities matching opts. Every change to the
// collection re-runs the query and delivers the full, decoded result. Callers
// subscribing to equal options share one store listener. An invalid query is
// rejected before any listener starts.
func (r *Repository[T]) Subscribe(opts query.Options) (*realtime.Subscription[[]T], error) {
	q, err := r.build("subscribe", opts)
	if err != nil {
		return nil, err
	}
	collection := r.Collection()
	sub, err := r.lists.Subscribe(collection+"|query|"+q.Key(), realtime.Loader[[]T]{
		Collection: collection,
		Fetch: func(ctx context.Context) ([]document.Document, error) {
			docs, err := r.adapter.Find(ctx, collection, q)
			if err != nil {
				return nil, r.fail("subscribe", "", err)
			}
			return docs, nil
		},
		Decode: r.decodeAll,
	})
	if err != nil {
		return nil, wrap("subscribe", collection, "", err)
	}
	return sub, nil
}

// SubscribeOne opens a live view of one entity. Snapshots are nil while the
// entity does not exist.
func (r *Repository[T]) SubscribeOne(id string) (*realtime.Subscription[*T], error) {
	collection := r.Collection()
	if id == "" {
		return nil, &Error{Kind: ErrInvalidQuery, Op: "subscribe", Collection: collection, Err: errors.New("empty id")}
	}
	sub, err := r.items.Subscribe(collection+"|doc|"+id, realtime.Loader[*T]{
		Collection: collection,
		Fetch: func(ctx context.Context) ([]document.Document, error) {
			doc, err := r.adapter.Get(ctx, collection, id)
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, r.fail("subscribe", id, err)
			}
			return []document.Document{doc}, nil
		},
		Decode: func(docs []document.Document) *T {
			if len(docs) == 0 {
				return nil
			}
			return r.decode(docs[0])
		},
		Relevant: func(change store.Change) bool {
			return change.ID == id || change.ID == ""
		},
	})
	if err != nil {
		return nil, wrap("subscribe", collection, id, err)
	}
	return sub, nil
}
