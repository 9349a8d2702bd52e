package eventing

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

const (
	statusPending = "pending"
	statusSent    = "sent"
	statusFailed  = "failed"
)

var errEmptyEventID = errors.New("eventing: empty event id")

type memoryRecord struct {
	id       string
	env      Envelope
	status   string
	attempts int
}

// MemoryOutbox keeps outbox records in process. It backs the publisher when
// no database is configured. Delivered records are dropped; failed ones are
// kept for inspection.
type MemoryOutbox struct {
	mu      sync.Mutex
	records []*memoryRecord
}

// NewMemoryOutbox constructs an empty outbox.
func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{}
}

// Insert appends a pending record.
func (o *MemoryOutbox) Insert(ctx context.Context, env Envelope) (string, error) {
	_ = ctx
	if env.EventID == "" {
		return "", errEmptyEventID
	}
	id := NewEventID()
	o.mu.Lock()
	o.records = append(o.records, &memoryRecord{id: id, env: env, status: statusPending})
	o.mu.Unlock()
	return id, nil
}

// ListPending returns pending records of communityID in insertion order.
func (o *MemoryOutbox) ListPending(ctx context.Context, communityID string, limit int) ([]OutboxRecord, error) {
	_ = ctx
	if limit <= 0 {
		limit = defaultDispatchLimit
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []OutboxRecord
	for _, record := range o.records {
		if record.status != statusPending {
			continue
		}
		if communityID != "" && record.env.CommunityID != communityID {
			continue
		}
		out = append(out, OutboxRecord{ID: record.id, Envelope: record.env, Attempts: record.attempts})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkSent drops a delivered record.
func (o *MemoryOutbox) MarkSent(ctx context.Context, id string) error {
	return o.update(ctx, id, func(record *memoryRecord) { record.status = statusSent })
}

// MarkRetry counts an attempt and keeps the record pending.
func (o *MemoryOutbox) MarkRetry(ctx context.Context, id string) error {
	return o.update(ctx, id, func(record *memoryRecord) { record.attempts++ })
}

// MarkFailed counts an attempt and stops delivery of the record.
func (o *MemoryOutbox) MarkFailed(ctx context.Context, id string) error {
	return o.update(ctx, id, func(record *memoryRecord) {
		record.attempts++
		record.status = statusFailed
	})
}

// Pending returns the number of undelivered records.
func (o *MemoryOutbox) Pending() int {
	return o.count(statusPending)
}

// Failed returns the number of records that exhausted their attempts.
func (o *MemoryOutbox) Failed() int {
	return o.count(statusFailed)
}

func (o *MemoryOutbox) count(status string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	count := 0
	for _, record := range o.records {
		if record.status == status {
			count++
		}
	}
	return count
}

func (o *MemoryOutbox) update(ctx context.Context, id string, apply func(*memoryRecord)) error {
	_ = ctx
	o.mu.Lock()
	defer o.mu.Unlock()
	found := false
	kept := o.records[:0]
	for _, record := range o.records {
		if record.id == id {
			apply(record)
			found = true
		}
		if record.status != statusSent {
			kept = append(kept, record)
		}
	}
	o.records = kept
	if !found {
		return fmt.Errorf("eventing: outbox record %s not found", id)
	}
	return nil
}

// MemoryProcessedStore records processed event ids per consumer.
type MemoryProcessedStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryProcessedStore constructs an empty store.
func NewMemoryProcessedStore() *MemoryProcessedStore {
	return &MemoryProcessedStore{seen: make(map[string]struct{})}
}

// HasProcessed reports whether the consumer already handled the event.
func (s *MemoryProcessedStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[consumerName+"/"+eventID]
	return ok, nil
}

// MarkProcessed records the event for the consumer.
func (s *MemoryProcessedStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	_ = ctx
	if eventID == "" {
		return errEmptyEventID
	}
	s.mu.Lock()
	s.seen[consumerName+"/"+eventID] = struct{}{}
	s.mu.Unlock()
	return nil
}
