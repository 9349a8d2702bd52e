package eventing

import (
	"context"

	"community-energy/internal/observability/metrics"
)

const (
	consumeHandled   = "handled"
	consumeDuplicate = "duplicate"
	consumeForeign   = "foreign"
	consumeError     = "error"
)

// ProcessedStore provides idempotency checks.
type ProcessedStore interface {
	HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, consumerName string) error
}

// Consumer is a named event subscriber. Redelivered events (outbox retries
// re-run every handler of a type) reach the handler once per consumer when
// Processed is set, and events of other communities are skipped when
// CommunityID is set.
type Consumer struct {
	Name        string
	CommunityID string
	Processed   ProcessedStore
}

// Subscribe registers handler for eventType on bus.
func (c Consumer) Subscribe(bus Subscriber, eventType string, handler EventHandler) {
	if bus == nil || handler == nil {
		return
	}
	bus.Subscribe(eventType, c.Wrap(handler))
}

// Wrap applies the community filter and idempotency checks to handler.
func (c Consumer) Wrap(handler EventHandler) EventHandler {
	return func(ctx context.Context, event any) error {
		env, ok := EnvelopeFromContext(ctx)
		if ok && c.CommunityID != "" && env.CommunityID != "" && env.CommunityID != c.CommunityID {
			metrics.ObserveConsumed(c.Name, consumeForeign)
			return nil
		}
		if c.Processed == nil || !ok || env.EventID == "" {
			return c.observe(handler(ctx, event))
		}

		processed, err := c.Processed.HasProcessed(ctx, env.EventID, c.Name)
		if err != nil {
			return c.observe(err)
		}
		if processed {
			metrics.ObserveConsumed(c.Name, consumeDuplicate)
			return nil
		}
		if err := handler(ctx, event); err != nil {
			return c.observe(err)
		}
		return c.observe(c.Processed.MarkProcessed(ctx, env.EventID, c.Name))
	}
}

func (c Consumer) observe(err error) error {
	if err != nil {
		metrics.ObserveConsumed(c.Name, consumeError)
		return err
	}
	metrics.ObserveConsumed(c.Name, consumeHandled)
	return nil
}
