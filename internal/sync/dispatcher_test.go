package sync

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"salus.clinic/internal/docstore"
	"salus.clinic/internal/store/pg"
)

func waitForExpectations(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mock.ExpectationsWereMet() == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("unmet expectations: %v", mock.ExpectationsWereMet())
}

func TestDispatcherRedeliversDeferredEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	orgID := uuid.NewString()

	// First delivery hits a missing patient row; the redelivery lands.
	mock.ExpectExec("select set_config").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into appointments").
		WillReturnError(&pgconn.PgError{Code: "23503"})
	mock.ExpectExec("select set_config").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("select set_config").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into appointments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("select set_config").WillReturnResult(sqlmock.NewResult(0, 0))

	feed := docstore.NewMemoryFeed(8)
	d := NewDispatcher(pg.NewProvider(db), NewTrigger(AppointmentNormalizer{}), feed,
		WithRetryDelay(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	feed.Emit(docstore.Event{
		EntityID: "a1",
		After: docstore.Snapshot{
			"organizationId": orgID,
			"patientId":      "p1",
		},
	})

	waitForExpectations(t, mock)
}

func TestDispatcherGivesUpAfterAttemptBudget(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	orgID := uuid.NewString()

	for i := 0; i < 2; i++ {
		mock.ExpectExec("select set_config").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("insert into appointments").
			WillReturnError(&pgconn.PgError{Code: "23503"})
		mock.ExpectExec("select set_config").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	feed := docstore.NewMemoryFeed(8)
	d := NewDispatcher(pg.NewProvider(db), NewTrigger(AppointmentNormalizer{}), feed,
		WithMaxAttempts(2), WithRetryDelay(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	feed.Emit(docstore.Event{
		EntityID: "a1",
		After: docstore.Snapshot{
			"organizationId": orgID,
			"patientId":      "p1",
		},
	})

	waitForExpectations(t, mock)

	// Give a third attempt time to (wrongly) fire, then confirm it did not.
	time.Sleep(50 * time.Millisecond)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expected no further deliveries: %v", err)
	}
}
