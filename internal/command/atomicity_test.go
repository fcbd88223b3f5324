package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eshop/catalog/internal/domain"
	"github.com/eshop/catalog/internal/storage/sqlstore"
)

var mysqlDuplicateErr = mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}

// These tests run the dispatcher against the real transaction manager and the
// real SQL store over a mocked connection, checking that the aggregate write
// and the outbox write share one transaction: both commit, or the whole unit
// rolls back.

func newSQLDispatcher(t *testing.T) (*Dispatcher, sqlmock.Sqlmock) {
	t.Helper()
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := sqlstore.NewSQLStore(db, zap.NewNop())
	trManager := manager.Must(trmsql.NewDefaultFactory(db))
	d := NewDispatcher(store, trManager, zap.NewNop())
	NewItemHandlers(store, zap.NewNop()).RegisterAll(d)
	return d, dbMock
}

func itemRows(id string, stock int, version int64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "name", "stock_quantity", "version", "created_at", "updated_at"}).
		AddRow(id, "widget", stock, version, now, now)
}

func TestDispatcher_CommitsItemAndOutboxTogether(t *testing.T) {
	d, dbMock := newSQLDispatcher(t)
	productID := uuid.New()

	dbMock.ExpectBegin()
	dbMock.ExpectQuery("SELECT (.+) FROM catalog_items").
		WithArgs(productID.String()).
		WillReturnRows(itemRows(productID.String(), 10, 3))
	dbMock.ExpectExec("UPDATE catalog_items").
		WithArgs(7, productID.String(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec("INSERT INTO catalog_outbox").
		WillReturnResult(sqlmock.NewResult(1, 1))
	dbMock.ExpectCommit()

	resp, err := d.Handle(context.Background(), domain.RemoveStockCommand{ProductID: productID, Quantity: 3})

	require.NoError(t, err)
	assert.Equal(t, 7, resp.StockQuantity)
	require.NoError(t, dbMock.ExpectationsWereMet())
}

func TestDispatcher_RollsBackWhenOutboxInsertFails(t *testing.T) {
	d, dbMock := newSQLDispatcher(t)
	productID := uuid.New()

	dbMock.ExpectBegin()
	dbMock.ExpectQuery("SELECT (.+) FROM catalog_items").
		WithArgs(productID.String()).
		WillReturnRows(itemRows(productID.String(), 10, 3))
	dbMock.ExpectExec("UPDATE catalog_items").
		WithArgs(7, productID.String(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec("INSERT INTO catalog_outbox").
		WillReturnError(errors.New("disk full"))
	dbMock.ExpectRollback()

	resp, err := d.Handle(context.Background(), domain.RemoveStockCommand{ProductID: productID, Quantity: 3})

	require.Error(t, err)
	assert.Nil(t, resp)
	// The rollback expectation above is the point: the already-executed
	// aggregate update must not survive the failed outbox insert.
	require.NoError(t, dbMock.ExpectationsWereMet())
}

func TestDispatcher_RollsBackOnVersionConflict(t *testing.T) {
	d, dbMock := newSQLDispatcher(t)
	productID := uuid.New()

	dbMock.ExpectBegin()
	dbMock.ExpectQuery("SELECT (.+) FROM catalog_items").
		WithArgs(productID.String()).
		WillReturnRows(itemRows(productID.String(), 10, 3))
	// A concurrent writer already bumped the version, so the conditional
	// update matches nothing.
	dbMock.ExpectExec("UPDATE catalog_items").
		WithArgs(7, productID.String(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	dbMock.ExpectRollback()

	_, err := d.Handle(context.Background(), domain.RemoveStockCommand{ProductID: productID, Quantity: 3})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrVersionConflict))
	require.NoError(t, dbMock.ExpectationsWereMet())
}

func TestDispatcher_RollsBackOnDomainFailure(t *testing.T) {
	d, dbMock := newSQLDispatcher(t)
	productID := uuid.New()

	dbMock.ExpectBegin()
	dbMock.ExpectQuery("SELECT (.+) FROM catalog_items").
		WithArgs(productID.String()).
		WillReturnRows(itemRows(productID.String(), 2, 1))
	dbMock.ExpectRollback()

	_, err := d.Handle(context.Background(), domain.RemoveStockCommand{ProductID: productID, Quantity: 5})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientStock))
	require.NoError(t, dbMock.ExpectationsWereMet())
}

func TestDispatcher_DuplicateKeyShortCircuitsUnit(t *testing.T) {
	d, dbMock := newSQLDispatcher(t)
	productID := uuid.New()

	dbMock.ExpectBegin()
	dbMock.ExpectExec("INSERT INTO processed_commands").
		WithArgs("retry-1", domain.CommandRemoveStock).
		WillReturnError(&mysqlDuplicateErr)
	dbMock.ExpectRollback()

	_, err := d.Handle(context.Background(),
		domain.RemoveStockCommand{ProductID: productID, Quantity: 3, IdempotencyKey: "retry-1"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicateCommand))
	require.NoError(t, dbMock.ExpectationsWereMet())
}
