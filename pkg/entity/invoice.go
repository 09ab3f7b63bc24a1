package entity

import (
	"context"
	"time"

	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/repository"
	"github.com/nimburion/docstore/pkg/store"
)

// InvoiceStatus is the billing state of an invoice.
type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoiceSent      InvoiceStatus = "sent"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceOverdue   InvoiceStatus = "overdue"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// unpaidInvoiceStatuses are the statuses that still expect a payment.
var unpaidInvoiceStatuses = []InvoiceStatus{InvoiceSent, InvoiceOverdue}

// Invoice bills a client.
type Invoice struct {
	ID        string        `doc:"id"`
	Number    string        `doc:"number"`
	ClientID  string        `doc:"clientId"`
	ProjectID string        `doc:"projectId,omitempty"`
	Items     []InvoiceItem `doc:"items"`
	Subtotal  float64       `doc:"subtotal"`
	Tax       float64       `doc:"tax"`
	Discount  float64       `doc:"discount"`
	Total     float64       `doc:"total"`
	Currency  string        `doc:"currency"`
	Status    InvoiceStatus `doc:"status"`
	DueDate   time.Time     `doc:"dueDate"`
	PaidAt    *time.Time    `doc:"paidAt"`
	Notes     string        `doc:"notes,omitempty"`
	CreatedAt time.Time     `doc:"createdAt"`
	UpdatedAt time.Time     `doc:"updatedAt"`
}

// InvoiceItem is one billed line.
type InvoiceItem struct {
	Description string  `doc:"description"`
	Quantity    float64 `doc:"quantity"`
	Rate        float64 `doc:"rate"`
	Amount      float64 `doc:"amount"`
	Taxable     bool    `doc:"taxable"`
}

// InvoiceRepository is the invoice collection.
type InvoiceRepository struct {
	*repository.Repository[Invoice]
	now func() time.Time
}

// NewInvoiceRepository opens the invoice collection.
func NewInvoiceRepository(adapter store.Adapter, opts ...Option) (*InvoiceRepository, error) {
	repo, s, err := open[Invoice](adapter, Invoices, opts)
	if err != nil {
		return nil, err
	}
	return &InvoiceRepository{Repository: repo, now: s.now}, nil
}

// ByClient returns the invoices of clientID, newest first.
func (r *InvoiceRepository) ByClient(ctx context.Context, clientID string) ([]Invoice, error) {
	return r.Query(ctx, where("clientId", query.Equal, clientID, newest()))
}

// Overdue returns the unpaid invoices past their due date, earliest first.
func (r *InvoiceRepository) Overdue(ctx context.Context) ([]Invoice, error) {
	return r.Query(ctx, query.Options{
		Filters: []query.Filter{
			query.Where("status", query.In, unpaidInvoiceStatuses),
			query.Where("dueDate", query.LessThan, r.now()),
		},
		OrderBy: []query.Order{query.OrderBy("dueDate", query.Asc)},
	})
}

// Outstanding sums the totals of every unpaid invoice.
func (r *InvoiceRepository) Outstanding(ctx context.Context) (float64, error) {
	unpaid, err := r.Query(ctx, where("status", query.In, unpaidInvoiceStatuses))
	if err != nil {
		return 0, err
	}
	var total float64
	for _, inv := range unpaid {
		total += inv.Total
	}
	return total, nil
}
