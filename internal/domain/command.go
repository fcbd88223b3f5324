package domain

import "github.com/google/uuid"

// Command type tags used by the dispatcher's handler registry.
const (
	CommandCreateItem  = "catalog.create_item"
	CommandAddStock    = "catalog.add_stock"
	CommandRemoveStock = "catalog.remove_stock"
)

// Command is a validated, immutable intent. Shape and range validation happen
// before a command reaches this boundary; the aggregate only re-checks rules
// that depend on current state.
type Command interface {
	CommandType() string

	// Idempotency returns the client-supplied idempotency key, or "" when the
	// client did not tag the command. A keyed command is recorded in the same
	// atomic unit as its mutation, so a caller retry after a timeout or
	// conflict cannot be reapplied as a new intent.
	Idempotency() string
}

type CreateItemCommand struct {
	ProductID      uuid.UUID
	Name           string
	InitialStock   int
	IdempotencyKey string
}

func (CreateItemCommand) CommandType() string { return CommandCreateItem }

func (c CreateItemCommand) Idempotency() string { return c.IdempotencyKey }

type AddStockCommand struct {
	ProductID      uuid.UUID
	Quantity       int
	IdempotencyKey string
}

func (AddStockCommand) CommandType() string { return CommandAddStock }

func (c AddStockCommand) Idempotency() string { return c.IdempotencyKey }

type RemoveStockCommand struct {
	ProductID      uuid.UUID
	Quantity       int
	IdempotencyKey string
}

func (RemoveStockCommand) CommandType() string { return CommandRemoveStock }

func (c RemoveStockCommand) Idempotency() string { return c.IdempotencyKey }

// CatalogItemResponse is the result returned to the command caller. Wire
// serialization is owned by the transport layer.
type CatalogItemResponse struct {
	ProductID     uuid.UUID `json:"product_id"`
	Name          string    `json:"name"`
	StockQuantity int       `json:"stock_quantity"`
	Version       int64     `json:"version"`
}
