package eventing

import (
	"context"

	"go.uber.org/zap"
)

// Publisher stores events in the outbox and runs a dispatch pass right after,
// so subscribers normally see an event before Publish returns.
type Publisher struct {
	outbox      OutboxWriter
	dispatch    *Dispatcher
	communityID string
	sub         Subscriber
	logger      *zap.Logger
}

// OutboxWriter inserts outbox records.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// Subscriber registers handlers.
type Subscriber interface {
	Subscribe(eventType string, handler EventHandler)
}

// NewPublisher constructs a publisher. A nil logger discards output.
func NewPublisher(outbox OutboxWriter, dispatch *Dispatcher, communityID string, sub Subscriber, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		outbox:      outbox,
		dispatch:    dispatch,
		communityID: communityID,
		sub:         sub,
		logger:      logger.Named("publisher"),
	}
}

// Publish writes the event to the outbox and triggers dispatch. Once the
// record is stored the event is not lost, so a failed dispatch pass is only
// logged; the dispatcher loop retries it.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	if p == nil || p.outbox == nil {
		return nil
	}
	env, err := BuildEnvelope(event, MetaFromContext(ctx, p.communityID))
	if err != nil {
		return err
	}
	if _, err := p.outbox.Insert(ctx, env); err != nil {
		return err
	}
	if p.dispatch != nil {
		if err := p.dispatch.Dispatch(ctx, 0); err != nil {
			p.logger.Warn("dispatch after publish incomplete",
				zap.String("event_id", env.EventID),
				zap.String("event_type", env.EventType),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Subscribe delegates to the underlying subscriber when available.
func (p *Publisher) Subscribe(eventType string, handler EventHandler) {
	if p == nil || p.sub == nil {
		return
	}
	p.sub.Subscribe(eventType, handler)
}
