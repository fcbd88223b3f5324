package domain

import "github.com/google/uuid"

// AggregateTypeCatalogItem tags outbox records produced by catalog items.
const AggregateTypeCatalogItem = "catalog_item"

// Topics the integration events are published to.
const (
	TopicItemCreated  = "item-created"
	TopicStockAdded   = "stock-added"
	TopicStockRemoved = "stock-removed"
)

// IntegrationEvent is a fact about a committed state change, announced to
// other services through the outbox. The stable event id used for consumer
// deduplication is assigned when the event is appended to the outbox, not
// here; payloads carry only domain data.
type IntegrationEvent interface {
	EventType() string
	Topic() string
	AggregateID() string
}

type ItemCreated struct {
	ProductID     uuid.UUID `json:"product_id"`
	Name          string    `json:"name"`
	StockQuantity int       `json:"stock_quantity"`
}

func (ItemCreated) EventType() string { return "item_created" }

func (ItemCreated) Topic() string { return TopicItemCreated }

func (e ItemCreated) AggregateID() string { return e.ProductID.String() }

type StockAdded struct {
	ProductID     uuid.UUID `json:"product_id"`
	QuantityAdded int       `json:"quantity_added"`
	StockQuantity int       `json:"stock_quantity"`
}

func (StockAdded) EventType() string { return "stock_added" }

func (StockAdded) Topic() string { return TopicStockAdded }

func (e StockAdded) AggregateID() string { return e.ProductID.String() }

type StockRemoved struct {
	ProductID       uuid.UUID `json:"product_id"`
	QuantityRemoved int       `json:"quantity_removed"`
	StockQuantity   int       `json:"stock_quantity"`
}

func (StockRemoved) EventType() string { return "stock_removed" }

func (StockRemoved) Topic() string { return TopicStockRemoved }

func (e StockRemoved) AggregateID() string { return e.ProductID.String() }
