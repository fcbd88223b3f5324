package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eshop/catalog/internal/storage"
)

// Relay drains the outbox and delivers pending records to the publisher. A
// failed publish reschedules the record with backoff and is retried for as
// long as it takes; an unreachable broker turns into a growing backlog, never
// into a lost event. The relay is the only writer of published_at and
// attempt_count, and it never touches aggregate state.
type Relay struct {
	store     storage.Store
	publisher Publisher
	logger    *zap.Logger
	metrics   MetricsCollector
	backoff   BackoffStrategy
	batchSize int
}

// NewRelay creates a relay over the given store and publisher.
func NewRelay(store storage.Store, publisher Publisher, logger *zap.Logger, opts ...RelayOption) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Relay{
		store:     store,
		publisher: publisher,
		logger:    logger,
		metrics:   NewNopMetricsCollector(),
		backoff:   DefaultBackoffStrategy(),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ProcessEvents runs one relay cycle: fetch a batch of pending records,
// publish each, mark the successes. It is the workFunc for the relay worker.
func (r *Relay) ProcessEvents(ctx context.Context) error {
	start := time.Now()

	records, err := r.store.FetchUnpublished(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch unpublished events: %w", err)
	}
	r.metrics.RecordDuration("relay.fetch_duration", time.Since(start), nil)

	if len(records) == 0 {
		return nil
	}

	r.logger.Debug("Fetched events for publishing", zap.Int("count", len(records)))
	r.metrics.RecordGauge("relay.batch_size", float64(len(records)), nil)

	published, failed := 0, 0
	for _, record := range records {
		select {
		case <-ctx.Done():
			r.logger.Warn("Context cancelled during relay cycle", zap.Error(ctx.Err()))
			r.metrics.RecordDuration("relay.duration", time.Since(start), nil)
			return ctx.Err()
		default:
		}

		if err := r.processRecord(ctx, record); err != nil {
			failed++
		} else {
			published++
		}
	}

	r.logger.Info("Relay cycle completed",
		zap.Int("published", published),
		zap.Int("failed", failed))
	r.metrics.RecordDuration("relay.duration", time.Since(start), nil)

	return nil
}

func (r *Relay) processRecord(ctx context.Context, record storage.OutboxRecord) error {
	recordFields := []zap.Field{
		zap.Int64("id", record.ID),
		zap.String("event_id", record.EventID),
		zap.String("event_type", record.EventType),
		zap.String("topic", record.Topic),
	}

	if err := r.publisher.Publish(ctx, record); err != nil {
		r.metrics.IncrementCounter("relay.publish_failed", map[string]string{"event_type": record.EventType})
		r.logger.Error("Failed to publish event", append(recordFields, zap.Error(err))...)
		return r.rescheduleRecord(ctx, record, err)
	}

	if err := r.store.MarkPublished(ctx, record.ID); err != nil {
		r.metrics.IncrementCounter("relay.mark_published_failed", map[string]string{"event_type": record.EventType})
		r.logger.Error("Failed to mark event published", append(recordFields, zap.Error(err))...)
		// The event reached the broker but is still pending in the table, so
		// the next cycle republishes it. Consumers dedup on event_id.
		return err
	}

	r.metrics.IncrementCounter("relay.publish_success", map[string]string{"event_type": record.EventType})
	r.logger.Info("Event published", recordFields...)
	return nil
}

// rescheduleRecord pushes the record's next attempt out according to the
// backoff strategy. There is no attempt ceiling: a committed mutation's event
// must eventually reach the broker.
func (r *Relay) rescheduleRecord(ctx context.Context, record storage.OutboxRecord, publishErr error) error {
	attempt := record.AttemptCount + 1
	nextAttemptAt := r.backoff.NextAttemptAt(attempt)

	r.logger.Info("Scheduling event for retry",
		zap.Int64("id", record.ID),
		zap.Int("attempt", attempt),
		zap.Time("next_attempt_at", nextAttemptAt),
		zap.Error(publishErr),
	)

	if err := r.store.RecordPublishFailure(ctx, record.ID, nextAttemptAt, publishErr.Error()); err != nil {
		r.logger.Error("Failed to reschedule event", zap.Int64("id", record.ID), zap.Error(err))
		return err
	}
	return publishErr
}
