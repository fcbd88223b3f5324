package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/eshop/catalog/internal/domain"
	"github.com/eshop/catalog/internal/storage"
)

// Handler executes one command type inside the dispatcher's atomic unit.
type Handler func(ctx context.Context, cmd domain.Command) (*domain.CatalogItemResponse, error)

// TxManager starts an atomic unit and commits it when fn returns nil, rolls
// it back otherwise. Satisfied by go-transaction-manager's *manager.Manager.
type TxManager interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Dispatcher routes commands to their registered handlers and wraps every
// execution in a single transaction, so the aggregate write, the outbox
// record and the idempotency record commit together or not at all.
type Dispatcher struct {
	store  storage.Store
	trm    TxManager
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewDispatcher creates a dispatcher. Handlers are registered per command
// type tag; adding a command type means adding a handler registration.
func NewDispatcher(store storage.Store, trm TxManager, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		store:    store,
		trm:      trm,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a command type tag.
func (d *Dispatcher) Register(commandType string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[commandType] = handler
}

// RegisteredTypes returns the command type tags with a handler, sorted.
func (d *Dispatcher) RegisteredTypes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	types := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Handle executes the command and returns its result. Errors come back
// classified per the domain taxonomy; a version conflict is surfaced as-is
// and never retried here, so a genuine business race (two removals fighting
// over the same stock) stays visible to the caller.
func (d *Dispatcher) Handle(ctx context.Context, cmd domain.Command) (*domain.CatalogItemResponse, error) {
	d.mu.RLock()
	handler, ok := d.handlers[cmd.CommandType()]
	d.mu.RUnlock()
	if !ok {
		return nil, domain.WrapError(domain.ErrCodeInvalid,
			fmt.Sprintf("no handler registered for command type %q", cmd.CommandType()),
			domain.ErrUnknownCommand)
	}

	var response *domain.CatalogItemResponse
	err := d.trm.Do(ctx, func(ctx context.Context) error {
		if key := cmd.Idempotency(); key != "" {
			if err := d.store.MarkCommandProcessed(ctx, key, cmd.CommandType()); err != nil {
				if errors.Is(err, storage.ErrDuplicateCommand) {
					return domain.WrapError(domain.ErrCodeConflict,
						fmt.Sprintf("idempotency key %q already processed", key),
						domain.ErrDuplicateCommand)
				}
				return domain.WrapError(domain.ErrCodeInternal, "failed to record idempotency key", err)
			}
		}

		var handlerErr error
		response, handlerErr = handler(ctx, cmd)
		return handlerErr
	})
	if err != nil {
		d.logger.Debug("Command failed",
			zap.String("command_type", cmd.CommandType()),
			zap.Error(err))
		return nil, err
	}

	return response, nil
}
