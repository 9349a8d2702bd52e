package eventing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"community-energy/internal/observability/metrics"
)

const (
	defaultDispatchLimit = 50
	defaultMaxAttempts   = 5

	dispatchSent       = "sent"
	dispatchRetry      = "retry"
	dispatchDeadLetter = "dead_letter"
	dispatchStoreError = "store_error"
)

// Dispatcher moves a community's outbox records onto the in-process bus.
// Delivery failures are retried on later passes until maxAttempts is reached,
// after which the record is marked failed and copied to the dead letter store.
type Dispatcher struct {
	bus         EventBus
	outbox      OutboxStore
	registry    *Registry
	dlq         DLQStore
	communityID string
	maxAttempts int
	logger      *zap.Logger

	// serialises passes so a record is never delivered twice concurrently.
	mu sync.Mutex
}

// EventBus is the minimal publish interface.
type EventBus interface {
	Publish(ctx context.Context, event any) error
}

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	// ListPending returns undelivered records of communityID, oldest first.
	// An empty communityID lists every community.
	ListPending(ctx context.Context, communityID string, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	// MarkRetry counts a failed attempt and leaves the record pending.
	MarkRetry(ctx context.Context, id string) error
	// MarkFailed counts a failed attempt and stops further delivery.
	MarkFailed(ctx context.Context, id string) error
}

// DLQStore records failures.
type DLQStore interface {
	RecordFailure(ctx context.Context, env Envelope, err error) error
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
	Attempts int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithCommunity restricts the dispatcher to one community's records.
func WithCommunity(communityID string) DispatcherOption {
	return func(d *Dispatcher) { d.communityID = communityID }
}

// WithMaxAttempts sets how many deliveries are tried before dead-lettering.
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithDispatchLogger sets the dispatcher logger.
func WithDispatchLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(bus EventBus, outbox OutboxStore, registry *Registry, dlq DLQStore, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		bus:         bus,
		outbox:      outbox,
		registry:    registry,
		dlq:         dlq,
		maxAttempts: defaultMaxAttempts,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("outbox").With(zap.String("community_id", d.communityID))
	return d
}

// Dispatch runs one delivery pass over at most limit pending records. The
// returned error joins every outbox or dead letter bookkeeping failure;
// delivery failures themselves are retried, not returned.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) error {
	if d == nil || d.outbox == nil || d.bus == nil || d.registry == nil {
		return nil
	}
	if limit <= 0 {
		limit = defaultDispatchLimit
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	records, err := d.outbox.ListPending(ctx, d.communityID, limit)
	if err != nil {
		metrics.ObserveDispatch(dispatchStoreError)
		return fmt.Errorf("eventing: list pending: %w", err)
	}

	var errs []error
	for _, record := range records {
		if err := d.deliver(ctx, record); err != nil {
			metrics.ObserveDispatch(dispatchStoreError)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run drains the outbox every interval until ctx is done, so records left
// pending by a failed delivery are retried without a new publish.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	if d == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Dispatch(ctx, 0); err != nil && ctx.Err() == nil {
				d.logger.Warn("outbox pass incomplete", zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, record OutboxRecord) error {
	env := record.Envelope
	attempt := record.Attempts + 1
	logger := d.logger.With(
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
		zap.Int("attempt", attempt),
	)

	payload, err := d.registry.DecodePayload(env)
	if err != nil {
		// An undecodable payload fails the same way on every attempt.
		return d.deadLetter(ctx, record, err, logger)
	}

	if err := d.bus.Publish(WithEnvelope(ctx, env), payload); err != nil {
		if attempt >= d.maxAttempts {
			return d.deadLetter(ctx, record, err, logger)
		}
		logger.Warn("event delivery failed, will retry", zap.Error(err))
		metrics.ObserveDispatch(dispatchRetry)
		if markErr := d.outbox.MarkRetry(ctx, record.ID); markErr != nil {
			return fmt.Errorf("eventing: mark retry %s: %w", record.ID, markErr)
		}
		return nil
	}

	if err := d.outbox.MarkSent(ctx, record.ID); err != nil {
		return fmt.Errorf("eventing: mark sent %s: %w", record.ID, err)
	}
	metrics.ObserveDispatch(dispatchSent)
	return nil
}

func (d *Dispatcher) deadLetter(ctx context.Context, record OutboxRecord, cause error, logger *zap.Logger) error {
	logger.Error("event dead-lettered", zap.Error(cause))
	metrics.ObserveDispatch(dispatchDeadLetter)

	var errs []error
	if err := d.outbox.MarkFailed(ctx, record.ID); err != nil {
		errs = append(errs, fmt.Errorf("eventing: mark failed %s: %w", record.ID, err))
	}
	if d.dlq != nil {
		if err := d.dlq.RecordFailure(ctx, record.Envelope, cause); err != nil {
			errs = append(errs, fmt.Errorf("eventing: dead letter %s: %w", record.Envelope.EventID, err))
		}
	}
	return errors.Join(errs...)
}
