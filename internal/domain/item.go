package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CatalogItem is the unit of consistency for stock mutations. It is loaded
// fresh for every command, mutated in memory, and persisted with a version
// check; no instance survives across command executions.
type CatalogItem struct {
	ID            uuid.UUID
	Name          string
	StockQuantity int
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewCatalogItem creates an item with its initial stock and version 1.
func NewCatalogItem(id uuid.UUID, name string, initialStock int) (CatalogItem, ItemCreated, error) {
	if initialStock < 0 {
		return CatalogItem{}, ItemCreated{}, WrapError(ErrCodeInvalid,
			fmt.Sprintf("initial stock must not be negative, got %d", initialStock), ErrInvalidCommand)
	}
	item := CatalogItem{
		ID:            id,
		Name:          name,
		StockQuantity: initialStock,
		Version:       1,
	}
	event := ItemCreated{
		ProductID:     id,
		Name:          name,
		StockQuantity: initialStock,
	}
	return item, event, nil
}

// RemoveStock decrements the stock quantity. The quantity is assumed to be
// positive (validated at the command boundary); the only rule owned here is
// that stock never goes below zero.
func (i CatalogItem) RemoveStock(quantity int) (CatalogItem, StockRemoved, error) {
	if quantity > i.StockQuantity {
		return CatalogItem{}, StockRemoved{}, WrapError(ErrCodeDomain,
			fmt.Sprintf("cannot remove %d units, only %d in stock for item %s", quantity, i.StockQuantity, i.ID),
			ErrInsufficientStock)
	}

	next := i
	next.StockQuantity -= quantity
	next.Version++

	event := StockRemoved{
		ProductID:       i.ID,
		QuantityRemoved: quantity,
		StockQuantity:   next.StockQuantity,
	}
	return next, event, nil
}

// AddStock increments the stock quantity.
func (i CatalogItem) AddStock(quantity int) (CatalogItem, StockAdded) {
	next := i
	next.StockQuantity += quantity
	next.Version++

	event := StockAdded{
		ProductID:     i.ID,
		QuantityAdded: quantity,
		StockQuantity: next.StockQuantity,
	}
	return next, event
}
