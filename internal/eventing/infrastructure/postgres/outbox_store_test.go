package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"community-energy/internal/eventing"
)

func TestOutboxStoreInsertAndList(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewOutboxStore(db)
	env := eventing.Envelope{EventID: "evt-1", EventType: "energy.Distributed", CommunityID: "c-1"}

	mock.ExpectExec("INSERT INTO event_outbox").
		WithArgs(sqlmock.AnyArg(), "evt-1", "energy.Distributed", "c-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	id, err := store.Insert(context.Background(), env)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	mock.ExpectQuery("SELECT id, payload, attempts").
		WithArgs("c-1", 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "payload", "attempts"}).
			AddRow(id, []byte(`{"event_id":"evt-1","event_type":"energy.Distributed","community_id":"c-1"}`), 2))
	records, err := store.ListPending(context.Background(), "c-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "evt-1", records[0].Envelope.EventID)
	assert.Equal(t, 2, records[0].Attempts)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxStoreMarkTransitions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewOutboxStore(db)
	mock.ExpectExec(`UPDATE event_outbox SET status = 'sent'`).
		WithArgs("ob-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE event_outbox SET attempts = attempts \+ 1`).
		WithArgs("ob-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE event_outbox SET status = 'failed'`).
		WithArgs("ob-3").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE event_outbox SET attempts`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	require.NoError(t, store.MarkSent(ctx, "ob-1"))
	require.NoError(t, store.MarkRetry(ctx, "ob-2"))
	require.NoError(t, store.MarkFailed(ctx, "ob-3"))
	assert.Error(t, store.MarkRetry(ctx, "missing"))
	require.NoError(t, mock.ExpectationsWereMet())

	var nilStore *OutboxStore
	assert.ErrorIs(t, nilStore.MarkSent(ctx, "ob-1"), errNilDB)
}

func TestDLQStoreRecordsFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO dead_letter_events").
		WithArgs("evt-2", "energy.Consumed", sqlmock.AnyArg(), "boom", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewDLQStore(db)
	err = store.RecordFailure(context.Background(), eventing.Envelope{EventID: "evt-2", EventType: "energy.Consumed"}, errors.New("boom"))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Error(t, store.RecordFailure(context.Background(), eventing.Envelope{}, nil))
}

func TestProcessedStoreRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewProcessedStore(db)
	mock.ExpectQuery("SELECT EXISTS").WithArgs("evt-3", "ws.hub").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO processed_events").WithArgs("evt-3", "ws.hub", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	seen, err := store.HasProcessed(context.Background(), "evt-3", "ws.hub")
	require.NoError(t, err)
	assert.False(t, seen)
	require.NoError(t, store.MarkProcessed(context.Background(), "evt-3", "ws.hub"))
	require.NoError(t, mock.ExpectationsWereMet())
}
