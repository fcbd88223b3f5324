package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/eshop/catalog/internal/storage"
)

// Publisher is the port to the message broker. A successful return means the
// client accepted the message; the relay still owns retrying until then, and
// consumers dedup on the event id, so the pipeline as a whole delivers
// at-least-once.
type Publisher interface {
	Publish(ctx context.Context, record storage.OutboxRecord) error
	Close() error
}

// KafkaHeaderBuilder builds Kafka message headers from an outbox record.
type KafkaHeaderBuilder func(record storage.OutboxRecord) []kafka.Header

// NopPublisher is a publisher that does nothing. Useful for testing and for
// running without a broker configured.
type NopPublisher struct{}

func NewNopPublisher() *NopPublisher {
	return &NopPublisher{}
}

func (p *NopPublisher) Publish(_ context.Context, _ storage.OutboxRecord) error {
	return nil
}

func (p *NopPublisher) Close() error {
	return nil
}

// KafkaPublisher sends integration events to Kafka, keyed by aggregate id so
// events of one catalog item land on one partition.
type KafkaPublisher struct {
	logger        *zap.Logger
	producer      *kafka.Producer
	producerProps kafka.ConfigMap
	headerBuilder KafkaHeaderBuilder
}

// NewKafkaPublisher creates a KafkaPublisher with functional options.
func NewKafkaPublisher(logger *zap.Logger, opts ...KafkaPublisherOption) (*KafkaPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &KafkaPublisher{
		logger: logger,
		producerProps: kafka.ConfigMap{
			"acks":               "all",
			"retries":            3,
			"linger.ms":          10,
			"enable.idempotence": true,
			"compression.type":   "snappy",
		},
		headerBuilder: buildKafkaHeaders,
	}

	for _, opt := range opts {
		opt(p)
	}

	producer, err := kafka.NewProducer(&p.producerProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	p.producer = producer

	go p.handleDeliveryReports()

	return p, nil
}

// Publish sends the record to its topic.
func (p *KafkaPublisher) Publish(_ context.Context, record storage.OutboxRecord) error {
	topic := record.Topic

	p.logger.Debug("Publishing event to Kafka",
		zap.String("event_id", record.EventID),
		zap.String("event_type", record.EventType),
		zap.String("topic", topic),
	)

	message := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(record.AggregateID),
		Value:          record.Payload,
		Headers:        p.headerBuilder(record),
		Timestamp:      time.Now(),
	}

	return p.producer.Produce(message, nil)
}

// Close flushes the producer and closes the Kafka connection.
func (p *KafkaPublisher) Close() error {
	p.logger.Info("Closing kafka producer")
	p.producer.Flush(15 * 1000)
	p.producer.Close()
	return nil
}

func (p *KafkaPublisher) handleDeliveryReports() {
	for e := range p.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				p.logger.Error("Delivery failed",
					zap.String("topic", *ev.TopicPartition.Topic),
					zap.Error(ev.TopicPartition.Error),
				)
			}
		case kafka.Error:
			p.logger.Error("Kafka error", zap.Error(ev))
		}
	}
}

// buildKafkaHeaders is the default header builder. The event_id header is the
// dedup key consumers key their idempotency on.
func buildKafkaHeaders(record storage.OutboxRecord) []kafka.Header {
	headers := []kafka.Header{
		{Key: "event_id", Value: []byte(record.EventID)},
		{Key: "event_type", Value: []byte(record.EventType)},
		{Key: "aggregate_type", Value: []byte(record.AggregateType)},
		{Key: "aggregate_id", Value: []byte(record.AggregateID)},
	}

	if len(record.Headers) > 0 {
		var recordHeaders map[string]string
		if err := json.Unmarshal(record.Headers, &recordHeaders); err == nil {
			for k, v := range recordHeaders {
				headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
			}
		}
	}

	return headers
}
