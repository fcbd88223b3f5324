package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// DBTX is the executor subset shared by *sql.DB and *sql.Tx. Store
// implementations resolve the right one from the ambient transaction.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Errors translated from driver-level failures. The command layer maps these
// onto the domain taxonomy.
var (
	ErrNotFound         = errors.New("record not found")
	ErrVersionConflict  = errors.New("version check failed")
	ErrDuplicateItem    = errors.New("item already exists")
	ErrDuplicateEvent   = errors.New("event already exists")
	ErrDuplicateCommand = errors.New("idempotency key already recorded")
)

// ItemRecord is the database representation of a catalog item.
type ItemRecord struct {
	ID            string
	Name          string
	StockQuantity int
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OutboxRecord is the database representation of a pending integration event.
// PublishedAt is set exactly once, by the relay, after the publisher confirms
// delivery; EventID is assigned once and never changes across retries.
type OutboxRecord struct {
	ID            int64
	EventID       string
	EventType     string
	AggregateType string
	AggregateID   string
	Topic         string
	Payload       []byte
	Headers       []byte
	AttemptCount  int
	LastError     string
	NextAttemptAt *time.Time
	PublishedAt   *time.Time
	CreatedAt     time.Time
}

// Store defines all database operations of the pipeline. Mutating methods on
// the command path (CreateItem, UpdateItemStock, AppendEvent,
// MarkCommandProcessed) join the transaction carried in ctx, so the aggregate
// write and its outbox record commit together or not at all. The relay-side
// methods run outside any transaction.
type Store interface {
	// CreateItem inserts a new catalog item with version 1.
	CreateItem(ctx context.Context, item *ItemRecord) error
	// GetItem loads a catalog item by id.
	GetItem(ctx context.Context, id string) (*ItemRecord, error)
	// UpdateItemStock persists a new stock quantity conditioned on the version
	// the caller read. A lost race returns ErrVersionConflict.
	UpdateItemStock(ctx context.Context, id string, stockQuantity int, expectedVersion int64) error
	// AppendEvent inserts a pending outbox record.
	AppendEvent(ctx context.Context, record *OutboxRecord) error
	// MarkCommandProcessed records a client idempotency key; a repeat returns
	// ErrDuplicateCommand.
	MarkCommandProcessed(ctx context.Context, idempotencyKey, commandType string) error

	// FetchUnpublished returns pending records eligible for a publish attempt,
	// oldest first.
	FetchUnpublished(ctx context.Context, batchSize int) ([]OutboxRecord, error)
	// MarkPublished sets published_at. Marking an already published record is
	// a no-op.
	MarkPublished(ctx context.Context, id int64) error
	// RecordPublishFailure increments the attempt count and schedules the next
	// eligible attempt.
	RecordPublishFailure(ctx context.Context, id int64, nextAttemptAt time.Time, lastError string) error
	// DeletePublishedEvents removes published records older than the retention
	// window. Pending records are never touched.
	DeletePublishedEvents(ctx context.Context, retention time.Duration) (int64, error)

	// EnsureTables creates the schema if it does not exist.
	EnsureTables(ctx context.Context) error
}
