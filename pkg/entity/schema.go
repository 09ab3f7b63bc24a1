package entity

import "github.com/nimburion/docstore/pkg/codec"

// Schema names a domain collection. Every domain entity carries createdAt and
// updatedAt.
type Schema string

const (
	Projects Schema = "projects"
	Tasks    Schema = "tasks"
	Tickets  Schema = "tickets"
	Clients  Schema = "clients"
	Users    Schema = "users"
	Invoices Schema = "invoices"
)

// Collections lists every domain collection.
var Collections = []Schema{Projects, Tasks, Tickets, Clients, Users, Invoices}

// Codec returns the codec schema of the collection.
func (s Schema) Codec() codec.Schema {
	return codec.Schema{Collection: string(s), CreatedAt: "createdAt", UpdatedAt: "updatedAt"}
}
