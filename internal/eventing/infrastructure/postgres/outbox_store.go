package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"community-energy/internal/eventing"
)

const (
	defaultOutboxTable    = "event_outbox"
	defaultProcessedTable = "processed_events"
	defaultDLQTable       = "dead_letter_events"
)

var errNilDB = errors.New("eventing store: nil db")

// OutboxStore is a Postgres implementation for outbox records.
type OutboxStore struct {
	db    *sql.DB
	table string
}

// OutboxOption configures the outbox store.
type OutboxOption func(*OutboxStore)

// WithOutboxTable overrides the table name.
func WithOutboxTable(table string) OutboxOption {
	return func(store *OutboxStore) {
		if table != "" {
			store.table = table
		}
	}
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *sql.DB, opts ...OutboxOption) *OutboxStore {
	store := &OutboxStore{db: db, table: defaultOutboxTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Insert writes an envelope to the outbox.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if s == nil || s.db == nil {
		return "", errNilDB
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	outboxID := eventing.NewEventID()
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, event_id, event_type, community_id, payload, status, attempts, created_at
) VALUES (
	$1, $2, $3, $4, $5, 'pending', 0, $6
)
ON CONFLICT (id) DO NOTHING`, s.table)

	_, err = s.db.ExecContext(ctx, query, outboxID, env.EventID, env.EventType, env.CommunityID, payload, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return outboxID, nil
}

// ListPending returns pending outbox records of communityID, oldest first.
// An empty communityID lists every community.
func (s *OutboxStore) ListPending(ctx context.Context, communityID string, limit int) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT id, payload, attempts
FROM %s
WHERE status = 'pending' AND ($1 = '' OR community_id = $1)
ORDER BY created_at ASC
LIMIT $2`, s.table)

	rows, err := s.db.QueryContext(ctx, query, communityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []eventing.OutboxRecord
	for rows.Next() {
		var (
			id       string
			payload  []byte
			attempts int
		)
		if err := rows.Scan(&id, &payload, &attempts); err != nil {
			return nil, err
		}
		var env eventing.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, fmt.Errorf("outbox record %s: %w", id, err)
		}
		result = append(result, eventing.OutboxRecord{ID: id, Envelope: env, Attempts: attempts})
	}
	return result, rows.Err()
}

// MarkSent marks an outbox record as sent.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	return s.exec(ctx, `UPDATE %s SET status = 'sent', sent_at = $2 WHERE id = $1`, id, time.Now().UTC())
}

// MarkRetry increments attempts and leaves the record pending.
func (s *OutboxStore) MarkRetry(ctx context.Context, id string) error {
	return s.exec(ctx, `UPDATE %s SET attempts = attempts + 1 WHERE id = $1`, id)
}

// MarkFailed marks an outbox record as failed and increments attempts.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	return s.exec(ctx, `UPDATE %s SET status = 'failed', attempts = attempts + 1 WHERE id = $1`, id)
}

func (s *OutboxStore) exec(ctx context.Context, format, id string, extra ...any) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	args := append([]any{id}, extra...)
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(format, s.table), args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("outbox record %s not found", id)
	}
	return nil
}

// ProcessedStore records which consumers handled which events.
type ProcessedStore struct {
	db    *sql.DB
	table string
}

// NewProcessedStore constructs a processed store.
func NewProcessedStore(db *sql.DB) *ProcessedStore {
	return &ProcessedStore{db: db, table: defaultProcessedTable}
}

// HasProcessed checks if an event was already processed by the consumer.
func (s *ProcessedStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNilDB
	}
	if eventID == "" || consumerName == "" {
		return false, errors.New("processed store: invalid arguments")
	}
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE event_id = $1 AND consumer_name = $2)`, s.table)
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, eventID, consumerName).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// MarkProcessed records an event as processed.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	if eventID == "" || consumerName == "" {
		return errors.New("processed store: invalid arguments")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (event_id, consumer_name, processed_at)
VALUES ($1, $2, $3)
ON CONFLICT (event_id, consumer_name) DO NOTHING`, s.table)
	_, err := s.db.ExecContext(ctx, query, eventID, consumerName, time.Now().UTC())
	return err
}

// DLQStore keeps events that could not be delivered.
type DLQStore struct {
	db    *sql.DB
	table string
}

// NewDLQStore constructs a DLQ store.
func NewDLQStore(db *sql.DB) *DLQStore {
	return &DLQStore{db: db, table: defaultDLQTable}
}

// RecordFailure inserts or updates a DLQ record.
func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, cause error) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	if env.EventID == "" {
		return errors.New("dlq store: empty event id")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	query := fmt.Sprintf(`
INSERT INTO %s (event_id, event_type, payload, error, first_seen_at, last_seen_at, attempts)
VALUES ($1, $2, $3, $4, $5, $5, 1)
ON CONFLICT (event_id)
DO UPDATE SET
	error = EXCLUDED.error,
	last_seen_at = EXCLUDED.last_seen_at,
	attempts = %s.attempts + 1`, s.table, s.table)
	_, err = s.db.ExecContext(ctx, query, env.EventID, env.EventType, payload, message, time.Now().UTC())
	return err
}
