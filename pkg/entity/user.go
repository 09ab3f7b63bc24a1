package entity

import (
	"context"
	"time"

	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/repository"
	"github.com/nimburion/docstore/pkg/store"
)

// User is a workspace member.
type User struct {
	ID          string     `doc:"id"`
	Name        string     `doc:"name"`
	Email       string     `doc:"email"`
	Role        string     `doc:"role"`
	Department  string     `doc:"department,omitempty"`
	Position    string     `doc:"position,omitempty"`
	Skills      []string   `doc:"skills"`
	Status      string     `doc:"status"`
	LastLogin   *time.Time `doc:"lastLogin"`
	Permissions []string   `doc:"permissions"`
	TeamIDs     []string   `doc:"teamIds"`
	CreatedAt   time.Time  `doc:"createdAt"`
	UpdatedAt   time.Time  `doc:"updatedAt"`
}

// UserRepository is the user collection.
type UserRepository struct {
	*repository.Repository[User]
}

// NewUserRepository opens the user collection.
func NewUserRepository(adapter store.Adapter, opts ...Option) (*UserRepository, error) {
	repo, _, err := open[User](adapter, Users, opts)
	if err != nil {
		return nil, err
	}
	return &UserRepository{Repository: repo}, nil
}

// ByRole returns the users with role, by name.
func (r *UserRepository) ByRole(ctx context.Context, role string) ([]User, error) {
	return r.Query(ctx, where("role", query.Equal, role, query.OrderBy("name", query.Asc)))
}

// Active returns the active users, by name.
func (r *UserRepository) Active(ctx context.Context) ([]User, error) {
	return r.Query(ctx, where("status", query.Equal, "active", query.OrderBy("name", query.Asc)))
}
