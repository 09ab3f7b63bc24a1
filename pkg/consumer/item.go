package consumer

import (
	"context"
	"errors"
	"sync"

	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/observability/logger"
	"github.com/nimburion/docstore/pkg/realtime"
	"github.com/nimburion/docstore/pkg/repository"
)

// ItemSource is the repository surface an Item needs.
type ItemSource[T any] interface {
	GetByID(ctx context.Context, id string) (*T, error)
	Update(ctx context.Context, id string, patch document.Patch) error
	Delete(ctx context.Context, id string) error
	SubscribeOne(id string) (*realtime.Subscription[*T], error)
}

// Item is a resource over one entity. Data is nil while the entity does not
// exist; a missing entity is not an error.
type Item[T any] struct {
	*Resource[*T]
	source ItemSource[T]

	mu sync.Mutex
	id string
}

// NewItem returns an idle item resource for id.
func NewItem[T any](source ItemSource[T], id string, log logger.Logger) *Item[T] {
	return &Item[T]{
		Resource: newResource[*T](log),
		source:   source,
		id:       id,
	}
}

// ID returns the entity id the item tracks.
func (i *Item[T]) ID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.id
}

// Load re-reads the entity.
func (i *Item[T]) Load(ctx context.Context) error {
	id := i.ID()
	return i.run(ctx, func(ctx context.Context) (*T, *Meta, error) {
		if id == "" {
			return nil, nil, nil
		}
		entity, err := i.source.GetByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, nil
		}
		return entity, nil, err
	})
}

// SetID switches to another entity: the outstanding request is cancelled and
// the new entity loaded, or followed when the item is live.
func (i *Item[T]) SetID(ctx context.Context, id string) error {
	i.mu.Lock()
	i.id = id
	i.mu.Unlock()
	if id == "" {
		i.StopLive()
		return i.Load(ctx)
	}
	if i.Live() {
		return i.Follow()
	}
	return i.Load(ctx)
}

// Follow binds the item to a live subscription on its entity.
func (i *Item[T]) Follow() error {
	sub, err := i.source.SubscribeOne(i.ID())
	if err != nil {
		i.fail(err)
		return err
	}
	return i.bind(sub)
}

// Update patches the entity, then re-reads it.
func (i *Item[T]) Update(ctx context.Context, patch document.Patch) error {
	if err := i.source.Update(ctx, i.ID(), patch); err != nil {
		i.fail(err)
		return err
	}
	i.refresh(ctx)
	return nil
}

// Remove deletes the entity, then re-reads it.
func (i *Item[T]) Remove(ctx context.Context) error {
	if err := i.source.Delete(ctx, i.ID()); err != nil {
		i.fail(err)
		return err
	}
	i.refresh(ctx)
	return nil
}

func (i *Item[T]) refresh(ctx context.Context) {
	if i.Live() {
		return
	}
	_ = i.Load(ctx)
}
