package entity

import (
	"context"
	"time"

	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/repository"
	"github.com/nimburion/docstore/pkg/store"
)

// TicketStatus is the support state of a ticket.
type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in-progress"
	TicketResolved   TicketStatus = "resolved"
	TicketClosed     TicketStatus = "closed"
)

// Ticket is a support request.
type Ticket struct {
	ID          string       `doc:"id"`
	Title       string       `doc:"title"`
	Description string       `doc:"description"`
	Status      TicketStatus `doc:"status"`
	Priority    Priority     `doc:"priority"`
	Category    string       `doc:"category"`
	AssigneeID  string       `doc:"assigneeId,omitempty"`
	ReporterID  string       `doc:"reporterId"`
	CreatedAt   time.Time    `doc:"createdAt"`
	UpdatedAt   time.Time    `doc:"updatedAt"`
}

// TicketRepository is the ticket collection.
type TicketRepository struct {
	*repository.Repository[Ticket]
}

// NewTicketRepository opens the ticket collection.
func NewTicketRepository(adapter store.Adapter, opts ...Option) (*TicketRepository, error) {
	repo, _, err := open[Ticket](adapter, Tickets, opts)
	if err != nil {
		return nil, err
	}
	return &TicketRepository{Repository: repo}, nil
}

// Open returns the open tickets, newest first.
func (r *TicketRepository) Open(ctx context.Context) ([]Ticket, error) {
	return r.Query(ctx, where("status", query.Equal, TicketOpen, newest()))
}

// ByPriority returns the tickets with priority, newest first.
func (r *TicketRepository) ByPriority(ctx context.Context, priority Priority) ([]Ticket, error) {
	return r.Query(ctx, where("priority", query.Equal, priority, newest()))
}
