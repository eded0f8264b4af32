package sync

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"salus.clinic/internal/docstore"
	"salus.clinic/internal/store/pg"
)

func newApplySession(t *testing.T) (*pg.Session, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sess, err := pg.NewProvider(db).Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	return sess, mock
}

func patientEvent(orgID string) docstore.Event {
	return docstore.Event{
		EntityID: "p1",
		After: docstore.Snapshot{
			"organizationId": orgID,
			"fullName":       "Ana Pérez",
			"updatedAt":      "2026-03-01T10:00:00Z",
		},
	}
}

func expectSyncScope(mock sqlmock.Sqlmock, orgID string) {
	mock.ExpectExec("select set_config").
		WithArgs(orgID, "sync").
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestApplyUpsertsPatient(t *testing.T) {
	sess, mock := newApplySession(t)
	orgID := uuid.NewString()

	expectSyncScope(mock, orgID)
	mock.ExpectExec("insert into patients").
		WithArgs("p1", orgID, "Ana Pérez", "", "", "", "active", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	trigger := NewTrigger(PatientNormalizer{})
	if got := trigger.Apply(context.Background(), sess, patientEvent(orgID)); got != OutcomeApplied {
		t.Fatalf("expected applied, got %s", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyReplayConverges(t *testing.T) {
	sess, mock := newApplySession(t)
	orgID := uuid.NewString()
	trigger := NewTrigger(PatientNormalizer{})

	expectSyncScope(mock, orgID)
	mock.ExpectExec("insert into patients").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Replay: the guard rejects the update branch, zero rows change, and the
	// row already holds the event's values. Still applied.
	mock.ExpectExec("insert into patients").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ev := patientEvent(orgID)
	if got := trigger.Apply(context.Background(), sess, ev); got != OutcomeApplied {
		t.Fatalf("first apply: expected applied, got %s", got)
	}
	if got := trigger.Apply(context.Background(), sess, ev); got != OutcomeApplied {
		t.Fatalf("replay: expected applied, got %s", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyUpdateWithinGuardWindowIsAccepted(t *testing.T) {
	sess, mock := newApplySession(t)
	orgID := uuid.NewString()
	trigger := NewTrigger(PatientNormalizer{})

	expectSyncScope(mock, orgID)
	mock.ExpectExec("insert into patients").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// A second, different update landing inside the guard window is refused
	// by the where clause and converges without touching the row. The newer
	// document value is picked up on its next change; losing it until then is
	// the accepted cost of the timestamp heuristic. The expectation pins the
	// guard predicate the refusal rides on.
	mock.ExpectExec(`insert into patients .+ where patients\.updated_at <= now\(\) - interval '2 seconds'`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	first := patientEvent(orgID)
	second := patientEvent(orgID)
	second.After["fullName"] = "Ana P. Pérez"

	if got := trigger.Apply(context.Background(), sess, first); got != OutcomeApplied {
		t.Fatalf("first apply: expected applied, got %s", got)
	}
	if got := trigger.Apply(context.Background(), sess, second); got != OutcomeApplied {
		t.Fatalf("guarded apply: expected applied, got %s", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyForeignKeyViolationDefers(t *testing.T) {
	sess, mock := newApplySession(t)
	orgID := uuid.NewString()

	expectSyncScope(mock, orgID)
	mock.ExpectExec("insert into appointments").
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "appointments_patient_id_fkey"})

	ev := docstore.Event{
		EntityID: "a1",
		After: docstore.Snapshot{
			"organizationId": orgID,
			"patientId":      "p-not-yet-replicated",
		},
	}
	trigger := NewTrigger(AppointmentNormalizer{})
	if got := trigger.Apply(context.Background(), sess, ev); got != OutcomeDeferred {
		t.Fatalf("expected deferred, got %s", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyWithoutTenantDrops(t *testing.T) {
	sess, mock := newApplySession(t)

	ev := docstore.Event{
		EntityID: "p1",
		After:    docstore.Snapshot{"fullName": "No Org"},
	}
	trigger := NewTrigger(PatientNormalizer{})
	if got := trigger.Apply(context.Background(), sess, ev); got != OutcomeDropped {
		t.Fatalf("expected dropped, got %s", got)
	}
	// No SQL may have run.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected SQL: %v", err)
	}
}

func TestApplyTombstoneSoftDeletes(t *testing.T) {
	sess, mock := newApplySession(t)
	orgID := uuid.NewString()

	expectSyncScope(mock, orgID)
	mock.ExpectExec(`update patients set is_active = false`).
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ev := docstore.Event{
		EntityID: "p1",
		Before: docstore.Snapshot{
			"organizationId": orgID,
			"fullName":       "Ana Pérez",
		},
	}
	trigger := NewTrigger(PatientNormalizer{})
	if got := trigger.Apply(context.Background(), sess, ev); got != OutcomeApplied {
		t.Fatalf("expected applied, got %s", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyOtherDatabaseErrorDrops(t *testing.T) {
	sess, mock := newApplySession(t)
	orgID := uuid.NewString()

	expectSyncScope(mock, orgID)
	mock.ExpectExec("insert into patients").
		WillReturnError(&pgconn.PgError{Code: "22001"})

	trigger := NewTrigger(PatientNormalizer{})
	if got := trigger.Apply(context.Background(), sess, patientEvent(orgID)); got != OutcomeDropped {
		t.Fatalf("expected dropped, got %s", got)
	}
}
