package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eshop/catalog/internal/domain"
	"github.com/eshop/catalog/internal/outbox"
	"github.com/eshop/catalog/internal/storage"
)

// ItemHandlers holds the catalog item command handlers. Each handler runs
// inside the atomic unit opened by the dispatcher: it loads the aggregate,
// applies the transition, persists the new state conditioned on the version
// it read, and appends the integration event to the outbox.
type ItemHandlers struct {
	store  storage.Store
	logger *zap.Logger
}

func NewItemHandlers(store storage.Store, logger *zap.Logger) *ItemHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemHandlers{store: store, logger: logger}
}

// RegisterAll binds every catalog item handler to the dispatcher.
func (h *ItemHandlers) RegisterAll(d *Dispatcher) {
	d.Register(domain.CommandCreateItem, h.CreateItem)
	d.Register(domain.CommandAddStock, h.AddStock)
	d.Register(domain.CommandRemoveStock, h.RemoveStock)
}

func (h *ItemHandlers) CreateItem(ctx context.Context, cmd domain.Command) (*domain.CatalogItemResponse, error) {
	c, ok := cmd.(domain.CreateItemCommand)
	if !ok {
		return nil, unexpectedPayload(domain.CommandCreateItem, cmd)
	}

	item, event, err := domain.NewCatalogItem(c.ProductID, c.Name, c.InitialStock)
	if err != nil {
		return nil, err
	}

	record := &storage.ItemRecord{
		ID:            item.ID.String(),
		Name:          item.Name,
		StockQuantity: item.StockQuantity,
	}
	if err := h.store.CreateItem(ctx, record); err != nil {
		if errors.Is(err, storage.ErrDuplicateItem) {
			return nil, domain.WrapError(domain.ErrCodeConflict,
				fmt.Sprintf("catalog item %s already exists", c.ProductID), domain.ErrItemAlreadyExists)
		}
		return nil, domain.WrapError(domain.ErrCodeInternal, "failed to create catalog item", err)
	}

	if err := h.appendEvent(ctx, event); err != nil {
		return nil, err
	}

	return &domain.CatalogItemResponse{
		ProductID:     item.ID,
		Name:          item.Name,
		StockQuantity: item.StockQuantity,
		Version:       item.Version,
	}, nil
}

func (h *ItemHandlers) AddStock(ctx context.Context, cmd domain.Command) (*domain.CatalogItemResponse, error) {
	c, ok := cmd.(domain.AddStockCommand)
	if !ok {
		return nil, unexpectedPayload(domain.CommandAddStock, cmd)
	}

	item, err := h.loadItem(ctx, c.ProductID.String())
	if err != nil {
		return nil, err
	}

	next, event := item.AddStock(c.Quantity)

	if err := h.saveItem(ctx, item, next); err != nil {
		return nil, err
	}
	if err := h.appendEvent(ctx, event); err != nil {
		return nil, err
	}

	return responseFrom(next), nil
}

func (h *ItemHandlers) RemoveStock(ctx context.Context, cmd domain.Command) (*domain.CatalogItemResponse, error) {
	c, ok := cmd.(domain.RemoveStockCommand)
	if !ok {
		return nil, unexpectedPayload(domain.CommandRemoveStock, cmd)
	}

	item, err := h.loadItem(ctx, c.ProductID.String())
	if err != nil {
		return nil, err
	}

	// The stock check runs against state read under this transaction, so a
	// concurrent removal cannot slip past it unnoticed: the loser of the
	// version race fails the conditional update below.
	next, event, err := item.RemoveStock(c.Quantity)
	if err != nil {
		return nil, err
	}

	if err := h.saveItem(ctx, item, next); err != nil {
		return nil, err
	}
	if err := h.appendEvent(ctx, event); err != nil {
		return nil, err
	}

	return responseFrom(next), nil
}

// loadItem reads the aggregate fresh; there is no cross-command cache.
func (h *ItemHandlers) loadItem(ctx context.Context, id string) (domain.CatalogItem, error) {
	record, err := h.store.GetItem(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.CatalogItem{}, domain.WrapError(domain.ErrCodeNotFound,
				fmt.Sprintf("catalog item %s does not exist", id), domain.ErrItemNotFound)
		}
		return domain.CatalogItem{}, domain.WrapError(domain.ErrCodeInternal, "failed to load catalog item", err)
	}

	productID, err := uuidFromRecord(record.ID)
	if err != nil {
		return domain.CatalogItem{}, err
	}

	return domain.CatalogItem{
		ID:            productID,
		Name:          record.Name,
		StockQuantity: record.StockQuantity,
		Version:       record.Version,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}, nil
}

func (h *ItemHandlers) saveItem(ctx context.Context, loaded, next domain.CatalogItem) error {
	err := h.store.UpdateItemStock(ctx, loaded.ID.String(), next.StockQuantity, loaded.Version)
	if err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return domain.WrapError(domain.ErrCodeConflict,
				fmt.Sprintf("catalog item %s was modified concurrently", loaded.ID), domain.ErrVersionConflict)
		}
		return domain.WrapError(domain.ErrCodeInternal, "failed to persist catalog item", err)
	}
	return nil
}

func (h *ItemHandlers) appendEvent(ctx context.Context, event domain.IntegrationEvent) error {
	err := outbox.Append(ctx, h.store, outbox.Event{
		EventType:     event.EventType(),
		AggregateType: domain.AggregateTypeCatalogItem,
		AggregateID:   event.AggregateID(),
		Topic:         event.Topic(),
		Payload:       event,
	})
	if err != nil {
		return domain.WrapError(domain.ErrCodeInternal, "failed to append integration event", err)
	}
	return nil
}

func uuidFromRecord(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.UUID{}, domain.WrapError(domain.ErrCodeInternal, "stored item id is not a valid uuid", err)
	}
	return parsed, nil
}

func responseFrom(item domain.CatalogItem) *domain.CatalogItemResponse {
	return &domain.CatalogItemResponse{
		ProductID:     item.ID,
		Name:          item.Name,
		StockQuantity: item.StockQuantity,
		Version:       item.Version,
	}
}

func unexpectedPayload(commandType string, cmd domain.Command) error {
	return domain.WrapError(domain.ErrCodeInvalid,
		fmt.Sprintf("command type %q carries unexpected payload %T", commandType, cmd),
		domain.ErrInvalidCommand)
}
