package outbox

import "go.opentelemetry.io/otel/propagation"

// MessageCarrier adapts an Event's headers to the OpenTelemetry propagation
// interface so the trace context travels with the event through the outbox.
type MessageCarrier struct {
	event *Event
}

func NewMessageCarrier(event *Event) MessageCarrier {
	return MessageCarrier{event: event}
}

func (c MessageCarrier) Get(key string) string {
	return c.event.Headers[key]
}

func (c MessageCarrier) Set(key, value string) {
	c.event.Headers[key] = value
}

func (c MessageCarrier) Keys() []string {
	keys := make([]string, 0, len(c.event.Headers))
	for k := range c.event.Headers {
		keys = append(keys, k)
	}
	return keys
}

var _ propagation.TextMapCarrier = MessageCarrier{}
