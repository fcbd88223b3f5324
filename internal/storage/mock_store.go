package storage

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of the Store interface for testing.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateItem(ctx context.Context, item *ItemRecord) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *MockStore) GetItem(ctx context.Context, id string) (*ItemRecord, error) {
	args := m.Called(ctx, id)
	if item, ok := args.Get(0).(*ItemRecord); ok {
		return item, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) UpdateItemStock(ctx context.Context, id string, stockQuantity int, expectedVersion int64) error {
	args := m.Called(ctx, id, stockQuantity, expectedVersion)
	return args.Error(0)
}

func (m *MockStore) AppendEvent(ctx context.Context, record *OutboxRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockStore) MarkCommandProcessed(ctx context.Context, idempotencyKey, commandType string) error {
	args := m.Called(ctx, idempotencyKey, commandType)
	return args.Error(0)
}

func (m *MockStore) FetchUnpublished(ctx context.Context, batchSize int) ([]OutboxRecord, error) {
	args := m.Called(ctx, batchSize)
	return args.Get(0).([]OutboxRecord), args.Error(1)
}

func (m *MockStore) MarkPublished(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) RecordPublishFailure(ctx context.Context, id int64, nextAttemptAt time.Time, lastError string) error {
	args := m.Called(ctx, id, nextAttemptAt, lastError)
	return args.Error(0)
}

func (m *MockStore) DeletePublishedEvents(ctx context.Context, retention time.Duration) (int64, error) {
	args := m.Called(ctx, retention)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) EnsureTables(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
