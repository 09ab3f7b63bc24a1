package entity

import (
	"context"
	"time"

	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/repository"
	"github.com/nimburion/docstore/pkg/store"
)

// Client is a customer of the workspace.
type Client struct {
	ID        string    `doc:"id"`
	Name      string    `doc:"name"`
	Email     string    `doc:"email"`
	Phone     string    `doc:"phone,omitempty"`
	Company   string    `doc:"company,omitempty"`
	Website   string    `doc:"website,omitempty"`
	Status    string    `doc:"status"`
	Type      string    `doc:"type"`
	Projects  []string  `doc:"projects"`
	CreatedAt time.Time `doc:"createdAt"`
	UpdatedAt time.Time `doc:"updatedAt"`
}

// ClientRepository is the client collection.
type ClientRepository struct {
	*repository.Repository[Client]
}

// NewClientRepository opens the client collection.
func NewClientRepository(adapter store.Adapter, opts ...Option) (*ClientRepository, error) {
	repo, _, err := open[Client](adapter, Clients, opts)
	if err != nil {
		return nil, err
	}
	return &ClientRepository{Repository: repo}, nil
}

// ByStatus returns the clients in status, by name.
func (r *ClientRepository) ByStatus(ctx context.Context, status string) ([]Client, error) {
	return r.Query(ctx, where("status", query.Equal, status, query.OrderBy("name", query.Asc)))
}

// Recent returns the limit most recently created clients.
func (r *ClientRepository) Recent(ctx context.Context, limit int) ([]Client, error) {
	return r.Query(ctx, query.Options{
		OrderBy: []query.Order{newest()},
		Limit:   query.Limit(limit),
	})
}
