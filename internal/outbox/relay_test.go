package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eshop/catalog/internal/storage"
)

func TestRelay_ProcessEvents_HappyPath(t *testing.T) {
	mockStore := new(storage.MockStore)
	mockPublisher := new(MockPublisher)

	relay := NewRelay(mockStore, mockPublisher, zap.NewNop(), WithRelayBatchSize(10))

	records := []storage.OutboxRecord{
		{ID: 1, EventID: "event-1", Topic: "stock-removed"},
		{ID: 2, EventID: "event-2", Topic: "stock-added"},
	}
	mockStore.On("FetchUnpublished", mock.Anything, 10).Return(records, nil).Once()
	mockPublisher.On("Publish", mock.Anything, records[0]).Return(nil).Once()
	mockPublisher.On("Publish", mock.Anything, records[1]).Return(nil).Once()
	mockStore.On("MarkPublished", mock.Anything, int64(1)).Return(nil).Once()
	mockStore.On("MarkPublished", mock.Anything, int64(2)).Return(nil).Once()

	err := relay.ProcessEvents(context.Background())

	require.NoError(t, err)
	mockStore.AssertExpectations(t)
	mockPublisher.AssertExpectations(t)
}

func TestRelay_ProcessEvents_NoEvents(t *testing.T) {
	mockStore := new(storage.MockStore)
	mockPublisher := new(MockPublisher)

	relay := NewRelay(mockStore, mockPublisher, zap.NewNop())

	mockStore.On("FetchUnpublished", mock.Anything, defaultBatchSize).Return([]storage.OutboxRecord{}, nil).Once()

	err := relay.ProcessEvents(context.Background())

	require.NoError(t, err)
	mockPublisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestRelay_ProcessEvents_PublishFailureReschedules(t *testing.T) {
	mockStore := new(storage.MockStore)
	mockPublisher := new(MockPublisher)

	relay := NewRelay(mockStore, mockPublisher, zap.NewNop(), WithRelayBatchSize(10))

	record := storage.OutboxRecord{ID: 1, EventID: "event-1", Topic: "stock-removed", AttemptCount: 2}
	mockStore.On("FetchUnpublished", mock.Anything, 10).Return([]storage.OutboxRecord{record}, nil).Once()
	mockPublisher.On("Publish", mock.Anything, record).Return(errors.New("broker down")).Once()
	mockStore.On("RecordPublishFailure", mock.Anything, int64(1),
		mock.MatchedBy(func(at time.Time) bool { return at.After(time.Now()) }),
		"broker down").Return(nil).Once()

	err := relay.ProcessEvents(context.Background())

	// A failed record never fails the cycle; it is rescheduled and the next
	// one is processed.
	require.NoError(t, err)
	mockStore.AssertExpectations(t)
	mockStore.AssertNotCalled(t, "MarkPublished", mock.Anything, mock.Anything)
}

func TestRelay_ProcessEvents_FailureDoesNotBlockBatch(t *testing.T) {
	mockStore := new(storage.MockStore)
	mockPublisher := new(MockPublisher)

	relay := NewRelay(mockStore, mockPublisher, zap.NewNop(), WithRelayBatchSize(10))

	bad := storage.OutboxRecord{ID: 1, EventID: "event-1", Topic: "stock-removed"}
	good := storage.OutboxRecord{ID: 2, EventID: "event-2", Topic: "stock-added"}
	mockStore.On("FetchUnpublished", mock.Anything, 10).Return([]storage.OutboxRecord{bad, good}, nil).Once()
	mockPublisher.On("Publish", mock.Anything, bad).Return(errors.New("rejected")).Once()
	mockPublisher.On("Publish", mock.Anything, good).Return(nil).Once()
	mockStore.On("RecordPublishFailure", mock.Anything, int64(1), mock.Anything, "rejected").Return(nil).Once()
	mockStore.On("MarkPublished", mock.Anything, int64(2)).Return(nil).Once()

	err := relay.ProcessEvents(context.Background())

	require.NoError(t, err)
	mockStore.AssertExpectations(t)
	mockPublisher.AssertExpectations(t)
}

// flakyPublisher fails the first failures attempts per record, then succeeds.
type flakyPublisher struct {
	mu       sync.Mutex
	failures int
	attempts map[string]int
}

func newFlakyPublisher(failures int) *flakyPublisher {
	return &flakyPublisher{failures: failures, attempts: make(map[string]int)}
}

func (p *flakyPublisher) Publish(_ context.Context, record storage.OutboxRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts[record.EventID]++
	if p.attempts[record.EventID] <= p.failures {
		return errors.New("transient broker failure")
	}
	return nil
}

func (p *flakyPublisher) Close() error { return nil }

// fakeStore is a minimal in-memory outbox table so the eventual-delivery
// property can be driven across several relay cycles.
type fakeStore struct {
	storage.MockStore
	mu      sync.Mutex
	records map[int64]*storage.OutboxRecord
}

func newFakeStore(records ...storage.OutboxRecord) *fakeStore {
	s := &fakeStore{records: make(map[int64]*storage.OutboxRecord)}
	for i := range records {
		r := records[i]
		s.records[r.ID] = &r
	}
	return s
}

func (s *fakeStore) FetchUnpublished(_ context.Context, batchSize int) ([]storage.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.OutboxRecord
	for _, r := range s.records {
		if r.PublishedAt == nil && len(out) < batchSize {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkPublished(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[id]; ok && r.PublishedAt == nil {
		now := time.Now()
		r.PublishedAt = &now
	}
	return nil
}

func (s *fakeStore) RecordPublishFailure(_ context.Context, id int64, nextAttemptAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[id]; ok {
		r.AttemptCount++
		r.NextAttemptAt = &nextAttemptAt
		r.LastError = lastError
	}
	return nil
}

func TestRelay_EventuallyPublishesEverything(t *testing.T) {
	const failuresPerRecord = 3

	store := newFakeStore(
		storage.OutboxRecord{ID: 1, EventID: "event-1", Topic: "stock-removed"},
		storage.OutboxRecord{ID: 2, EventID: "event-2", Topic: "stock-removed"},
		storage.OutboxRecord{ID: 3, EventID: "event-3", Topic: "stock-added"},
	)
	publisher := newFlakyPublisher(failuresPerRecord)

	relay := NewRelay(store, publisher, zap.NewNop(),
		WithRelayBatchSize(10),
		WithRelayBackoffStrategy(&ExponentialBackoff{BaseDelay: 0, MaxDelay: 0}),
	)

	for cycle := 0; cycle < failuresPerRecord+1; cycle++ {
		require.NoError(t, relay.ProcessEvents(context.Background()))
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	for _, r := range store.records {
		assert.NotNil(t, r.PublishedAt, "record %d should be published", r.ID)
		assert.Equal(t, failuresPerRecord, r.AttemptCount, "record %d attempt history", r.ID)
		assert.Equal(t, "transient broker failure", r.LastError)
	}
}

func TestRelay_ContextCancellationStopsCycle(t *testing.T) {
	mockStore := new(storage.MockStore)
	mockPublisher := new(MockPublisher)

	relay := NewRelay(mockStore, mockPublisher, zap.NewNop(), WithRelayBatchSize(10))

	records := []storage.OutboxRecord{{ID: 1, EventID: "event-1", Topic: "stock-removed"}}
	mockStore.On("FetchUnpublished", mock.Anything, 10).Return(records, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := relay.ProcessEvents(ctx)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	mockPublisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}
