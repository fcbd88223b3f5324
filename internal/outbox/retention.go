package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eshop/catalog/internal/storage"
)

// RetentionService implements the deployment's retention policy for the
// outbox: it deletes records that were published longer than the retention
// window ago. It never touches pending records; those belong to the relay
// until delivery is confirmed.
type RetentionService struct {
	store     storage.Store
	logger    *zap.Logger
	metrics   MetricsCollector
	retention time.Duration
}

func NewRetentionService(store storage.Store, logger *zap.Logger, metrics MetricsCollector, retention time.Duration) *RetentionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewNopMetricsCollector()
	}
	return &RetentionService{
		store:     store,
		logger:    logger,
		metrics:   metrics,
		retention: retention,
	}
}

// Sweep is the workFunc for the retention worker. Sweep errors are logged and
// swallowed so the worker keeps running; the next cycle retries.
func (s *RetentionService) Sweep(ctx context.Context) error {
	start := time.Now()
	defer func() {
		s.metrics.RecordDuration("retention.duration", time.Since(start), nil)
	}()

	deleted, err := s.store.DeletePublishedEvents(ctx, s.retention)
	if err != nil {
		s.logger.Error("Failed to sweep published events", zap.Error(err))
		s.metrics.IncrementCounter("retention.sweep_failed", nil)
		return nil
	}
	if deleted > 0 {
		s.logger.Info("Swept published events", zap.Int64("count", deleted))
		s.metrics.RecordGauge("retention.deleted", float64(deleted), nil)
	}
	s.metrics.IncrementCounter("retention.executed", nil)
	return nil
}
