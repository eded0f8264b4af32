package pg

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestScopeSetsSessionVariablesOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("select set_config").
		WithArgs("org-1", "caller-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	// Release clears the ambient settings before returning the conn
	mock.ExpectExec("select set_config").
		WillReturnResult(sqlmock.NewResult(0, 0))

	provider := NewProvider(db)
	sess, err := provider.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if err := sess.Scope(context.Background(), "org-1", "caller-1"); err != nil {
		t.Fatalf("Scope: %v", err)
	}
	// identical re-scope must not issue a second statement
	if err := sess.Scope(context.Background(), "org-1", "caller-1"); err != nil {
		t.Fatalf("idempotent Scope: %v", err)
	}
	if sess.TenantID() != "org-1" {
		t.Fatalf("unexpected tenant: %s", sess.TenantID())
	}

	if err := sess.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestScopeRebindsForDifferentTenant(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("select set_config").
		WithArgs("org-a", "caller-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("select set_config").
		WithArgs("org-b", "caller-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	provider := NewProvider(db)
	sess, err := provider.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if err := sess.Scope(context.Background(), "org-a", "caller-1"); err != nil {
		t.Fatalf("Scope a: %v", err)
	}
	if err := sess.Scope(context.Background(), "org-b", "caller-2"); err != nil {
		t.Fatalf("Scope b: %v", err)
	}
	if sess.TenantID() != "org-b" {
		t.Fatalf("unexpected tenant: %s", sess.TenantID())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
