package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	errNilRepository = errors.New("audit repo: nil db")
	errMissingAction = errors.New("audit repo: action is required")
)

// Repository stores ledger mutation audits in the audit_logs table. Rows are
// append-only; the ledger period lets an auditor line an entry up with the
// distribution it happened in.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs an audit repository.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// Log writes an audit entry, filling id, timestamp and digest when unset.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errNilRepository
	}
	if entry.Action == "" {
		return errMissingAction
	}
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}
	var metadata []byte
	if len(entry.Metadata) > 0 {
		metadata = entry.Metadata
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_logs (
	id, community_id, period, actor, role, action, resource_type, resource_id,
	metadata, payload_digest, ip, user_agent, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)`, entry.ID, entry.CommunityID, int64(entry.Period), entry.Actor, entry.Role, entry.Action,
		entry.ResourceType, entry.ResourceID, metadata, entry.PayloadDigest, entry.IP, entry.UserAgent, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit repo: insert %s: %w", entry.Action, err)
	}
	return nil
}

// Multi writes each entry to every non-nil logger and joins their errors.
type Multi []Logger

// Log implements Logger.
func (m Multi) Log(ctx context.Context, entry Entry) error {
	var errs []error
	for _, logger := range m {
		if logger == nil {
			continue
		}
		if err := logger.Log(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
