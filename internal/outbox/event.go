package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/eshop/catalog/internal/storage"
)

// Event is the user-facing representation of an integration event before it
// is appended to the outbox.
type Event struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	AggregateType string            `json:"aggregate_type"`
	AggregateID   string            `json:"aggregate_id"`
	Topic         string            `json:"topic"`
	Payload       interface{}       `json:"payload"`
	Headers       map[string]string `json:"headers"`
}

// Append writes an event to the outbox through the given store. It must be
// called inside the command's atomic unit so the record commits together with
// the aggregate mutation. The event id is the consumer-facing dedup key: it is
// assigned exactly once here and survives every publish retry unchanged.
func Append(ctx context.Context, store storage.Store, event Event) error {
	if err := validateEvent(event); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Headers == nil {
		event.Headers = make(map[string]string)
	}

	// Carry the W3C trace context to the broker via the event headers.
	carrier := NewMessageCarrier(&event)
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	var headersJSON []byte
	if len(event.Headers) > 0 {
		headersJSON, err = json.Marshal(event.Headers)
		if err != nil {
			return fmt.Errorf("failed to marshal headers: %w", err)
		}
	}

	record := &storage.OutboxRecord{
		EventID:       event.EventID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Topic:         event.Topic,
		Payload:       payloadJSON,
		Headers:       headersJSON,
	}

	if err := store.AppendEvent(ctx, record); err != nil {
		return fmt.Errorf("failed to append outbox event: %w", err)
	}
	return nil
}

func validateEvent(event Event) error {
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.AggregateType == "" {
		return fmt.Errorf("aggregate_type is required")
	}
	if event.AggregateID == "" {
		return fmt.Errorf("aggregate_id is required")
	}
	if event.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	return nil
}
