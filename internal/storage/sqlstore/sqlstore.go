package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/eshop/catalog/internal/storage"
)

const (
	tableItems    = "catalog_items"
	tableOutbox   = "catalog_outbox"
	tableCommands = "processed_commands"
)

// SQL queries
const (
	createItemQuery = `
		INSERT INTO %s (id, name, stock_quantity, version)
		VALUES (?, ?, ?, 1)`

	getItemQuery = `
		SELECT id, name, stock_quantity, version, created_at, updated_at
		FROM %s
		WHERE id = ?`

	updateItemStockQuery = `
		UPDATE %s
		SET stock_quantity = ?, version = version + 1
		WHERE id = ? AND version = ?`

	appendEventQuery = `
		INSERT INTO %s (event_id, event_type, aggregate_type, aggregate_id, topic, payload, headers)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	markCommandProcessedQuery = `
		INSERT INTO %s (idempotency_key, command_type)
		VALUES (?, ?)`

	fetchUnpublishedQuery = `
		SELECT id, event_id, event_type, aggregate_type, aggregate_id, topic, payload, headers, attempt_count, created_at
		FROM %s
		WHERE published_at IS NULL AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY created_at, id
		LIMIT ?`

	markPublishedQuery = `
		UPDATE %s
		SET published_at = CURRENT_TIMESTAMP(6)
		WHERE id = ? AND published_at IS NULL`

	recordFailureQuery = `
		UPDATE %s
		SET attempt_count = attempt_count + 1, next_attempt_at = ?, last_error = ?
		WHERE id = ? AND published_at IS NULL`

	deletePublishedQuery = `
		DELETE FROM %s
		WHERE published_at IS NOT NULL AND published_at < ?`
)

const mysqlErrDuplicateEntry = 1062

// SQLStore is the MySQL-backed Store. Command-path writes pick up the
// transaction started by the command dispatcher from the context; relay-side
// reads and updates run directly against the pool.
type SQLStore struct {
	db     *sql.DB
	getter *trmsql.CtxGetter
	logger *zap.Logger
}

func NewSQLStore(db *sql.DB, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{
		db:     db,
		getter: trmsql.DefaultCtxGetter,
		logger: logger,
	}
}

// executor returns the ambient transaction when the context carries one, the
// pool otherwise.
func (s *SQLStore) executor(ctx context.Context) storage.DBTX {
	return s.getter.DefaultTrOrDB(ctx, s.db)
}

func (s *SQLStore) CreateItem(ctx context.Context, item *storage.ItemRecord) error {
	query := fmt.Sprintf(createItemQuery, tableItems)
	_, err := s.executor(ctx).ExecContext(ctx, query, item.ID, item.Name, item.StockQuantity)
	if err != nil {
		if isDuplicateEntry(err) {
			return storage.ErrDuplicateItem
		}
		return fmt.Errorf("failed to create catalog item: %w", err)
	}
	item.Version = 1
	return nil
}

func (s *SQLStore) GetItem(ctx context.Context, id string) (*storage.ItemRecord, error) {
	query := fmt.Sprintf(getItemQuery, tableItems)
	row := s.executor(ctx).QueryRowContext(ctx, query, id)

	var item storage.ItemRecord
	err := row.Scan(&item.ID, &item.Name, &item.StockQuantity, &item.Version, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load catalog item: %w", err)
	}
	return &item, nil
}

func (s *SQLStore) UpdateItemStock(ctx context.Context, id string, stockQuantity int, expectedVersion int64) error {
	query := fmt.Sprintf(updateItemStockQuery, tableItems)
	res, err := s.executor(ctx).ExecContext(ctx, query, stockQuantity, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update catalog item stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		// Either a concurrent writer bumped the version or the item is gone.
		// Both mean the read this update was conditioned on is stale.
		return storage.ErrVersionConflict
	}
	return nil
}

func (s *SQLStore) AppendEvent(ctx context.Context, record *storage.OutboxRecord) error {
	query := fmt.Sprintf(appendEventQuery, tableOutbox)
	_, err := s.executor(ctx).ExecContext(ctx, query,
		record.EventID,
		record.EventType,
		record.AggregateType,
		record.AggregateID,
		record.Topic,
		record.Payload,
		record.Headers,
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return storage.ErrDuplicateEvent
		}
		return fmt.Errorf("failed to append outbox event: %w", err)
	}
	return nil
}

func (s *SQLStore) MarkCommandProcessed(ctx context.Context, idempotencyKey, commandType string) error {
	query := fmt.Sprintf(markCommandProcessedQuery, tableCommands)
	_, err := s.executor(ctx).ExecContext(ctx, query, idempotencyKey, commandType)
	if err != nil {
		if isDuplicateEntry(err) {
			return storage.ErrDuplicateCommand
		}
		return fmt.Errorf("failed to record idempotency key: %w", err)
	}
	return nil
}

func (s *SQLStore) FetchUnpublished(ctx context.Context, batchSize int) ([]storage.OutboxRecord, error) {
	query := fmt.Sprintf(fetchUnpublishedQuery, tableOutbox)
	rows, err := s.db.QueryContext(ctx, query, time.Now().UTC(), batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query unpublished events: %w", err)
	}
	defer rows.Close()

	var records []storage.OutboxRecord
	for rows.Next() {
		var r storage.OutboxRecord
		if err := rows.Scan(
			&r.ID,
			&r.EventID,
			&r.EventType,
			&r.AggregateType,
			&r.AggregateID,
			&r.Topic,
			&r.Payload,
			&r.Headers,
			&r.AttemptCount,
			&r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading outbox rows: %w", err)
	}
	return records, nil
}

func (s *SQLStore) MarkPublished(ctx context.Context, id int64) error {
	query := fmt.Sprintf(markPublishedQuery, tableOutbox)
	_, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark event published: %w", err)
	}
	return nil
}

func (s *SQLStore) RecordPublishFailure(ctx context.Context, id int64, nextAttemptAt time.Time, lastError string) error {
	query := fmt.Sprintf(recordFailureQuery, tableOutbox)
	_, err := s.db.ExecContext(ctx, query, nextAttemptAt, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to record publish failure: %w", err)
	}
	return nil
}

func (s *SQLStore) DeletePublishedEvents(ctx context.Context, retention time.Duration) (int64, error) {
	deleteBefore := time.Now().UTC().Add(-retention)
	query := fmt.Sprintf(deletePublishedQuery, tableOutbox)
	res, err := s.db.ExecContext(ctx, query, deleteBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to delete published events: %w", err)
	}
	return res.RowsAffected()
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry
}

// EnsureTables creates the schema if it does not exist.
func (s *SQLStore) EnsureTables(ctx context.Context) error {
	if err := s.createItemsTable(ctx); err != nil {
		return err
	}
	if err := s.createOutboxTable(ctx); err != nil {
		return err
	}
	return s.createCommandsTable(ctx)
}

func (s *SQLStore) createItemsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS catalog_items (
			id             CHAR(36)     PRIMARY KEY,
			name           VARCHAR(255) NOT NULL,
			stock_quantity INT          NOT NULL,
			version        BIGINT       NOT NULL DEFAULT 1,
			created_at     TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
			updated_at     TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
			CONSTRAINT chk_stock_quantity CHECK (stock_quantity >= 0)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create catalog_items table: %w", err)
	}
	return nil
}

func (s *SQLStore) createOutboxTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS catalog_outbox (
			id              BIGINT AUTO_INCREMENT PRIMARY KEY,
			event_id        CHAR(36)     NOT NULL UNIQUE,
			event_type      VARCHAR(255) NOT NULL,
			aggregate_type  VARCHAR(255) NOT NULL,
			aggregate_id    VARCHAR(255) NOT NULL,
			topic           VARCHAR(255) NOT NULL,
			payload         JSON         NOT NULL,
			headers         JSON         NULL,
			attempt_count   INT          NOT NULL DEFAULT 0,
			next_attempt_at TIMESTAMP    NULL,
			last_error      TEXT         NULL,
			published_at    TIMESTAMP(6) NULL,
			created_at      TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
			INDEX idx_unpublished (published_at, next_attempt_at),
			INDEX idx_aggregate (aggregate_type, aggregate_id),
			INDEX idx_created_at (created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create catalog_outbox table: %w", err)
	}
	return nil
}

func (s *SQLStore) createCommandsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS processed_commands (
			idempotency_key VARCHAR(255) PRIMARY KEY,
			command_type    VARCHAR(255) NOT NULL,
			processed_at    TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create processed_commands table: %w", err)
	}
	return nil
}
