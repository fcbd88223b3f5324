package outbox

import (
	"context"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshop/catalog/internal/storage"
)

func TestNopPublisher(t *testing.T) {
	p := NewNopPublisher()

	require.NoError(t, p.Publish(context.Background(), storage.OutboxRecord{EventID: "event-1"}))
	require.NoError(t, p.Close())
}

func TestKafkaPublisherOptions(t *testing.T) {
	p := &KafkaPublisher{
		producerProps: kafka.ConfigMap{"acks": "all"},
		headerBuilder: buildKafkaHeaders,
	}

	WithKafkaProducerProps(kafka.ConfigMap{
		"bootstrap.servers": "localhost:9092",
		"acks":              "1",
	})(p)

	assert.Equal(t, "localhost:9092", p.producerProps["bootstrap.servers"])
	assert.Equal(t, "1", p.producerProps["acks"], "caller props override defaults")

	custom := func(record storage.OutboxRecord) []kafka.Header {
		return []kafka.Header{{Key: "custom", Value: []byte("yes")}}
	}
	WithKafkaHeaderBuilder(custom)(p)

	headers := p.headerBuilder(storage.OutboxRecord{})
	require.Len(t, headers, 1)
	assert.Equal(t, "custom", headers[0].Key)
}

func TestBuildKafkaHeaders(t *testing.T) {
	record := storage.OutboxRecord{
		EventID:       "event-1",
		EventType:     "stock_removed",
		AggregateType: "catalog_item",
		AggregateID:   "item-1",
		Headers:       []byte(`{"traceparent":"00-abc-def-01"}`),
	}

	headers := buildKafkaHeaders(record)

	byKey := make(map[string]string, len(headers))
	for _, h := range headers {
		byKey[h.Key] = string(h.Value)
	}
	assert.Equal(t, "event-1", byKey["event_id"])
	assert.Equal(t, "stock_removed", byKey["event_type"])
	assert.Equal(t, "catalog_item", byKey["aggregate_type"])
	assert.Equal(t, "item-1", byKey["aggregate_id"])
	assert.Equal(t, "00-abc-def-01", byKey["traceparent"])
}

func TestBuildKafkaHeaders_IgnoresMalformedStoredHeaders(t *testing.T) {
	record := storage.OutboxRecord{
		EventID: "event-1",
		Headers: []byte(`not json`),
	}

	headers := buildKafkaHeaders(record)

	assert.Len(t, headers, 4)
}
