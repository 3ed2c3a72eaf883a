package kv

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Event is the envelope exchanged on every pub/sub channel. Payload is
// forwarded verbatim; listeners validate only the envelope.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent wraps an arbitrary payload into an envelope.
func NewEvent(eventType string, payload any) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal event payload")
	}
	return &Event{Type: eventType, Payload: raw}, nil
}

// Publish marshals the event and publishes it on the channel.
func (e *Engine) Publish(ctx context.Context, channel string, event *Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	return errors.Wrapf(e.rdb.Publish(ctx, channel, raw).Err(), "publish to %s", channel)
}

// PublishEvent wraps and publishes in one call.
func (e *Engine) PublishEvent(ctx context.Context, channel, eventType string, payload any) error {
	event, err := NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	return e.Publish(ctx, channel, event)
}

// PSubscribe opens a pattern subscription. The caller owns the returned
// subscription and must close it.
func (e *Engine) PSubscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	return e.rdb.PSubscribe(ctx, patterns...)
}
