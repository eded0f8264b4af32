// Package pg owns the single relational connection pool and the per-request
// sessions carved out of it. Tenant isolation rides on the session: row-level
// security policies in the schema filter every statement by the ambient
// app.tenant_id setting, so a handler that forgets a where clause still
// cannot cross tenants.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Provider wraps the process-wide pool. Construct it once in the composition
// root and inject it; consumers only ever see scoped sessions.
type Provider struct {
	db *sql.DB
}

// Open connects to the relational store and tunes the pool.
func Open(dsn string) (*Provider, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Provider{db: db}, nil
}

// NewProvider wraps an existing handle. Used by tests.
func NewProvider(db *sql.DB) *Provider { return &Provider{db: db} }

func (p *Provider) Close() error { return p.db.Close() }

// DB exposes the raw pool for collaborators that manage their own scoping
// (migrations, readiness probes).
func (p *Provider) DB() *sql.DB { return p.db }

// Ping verifies connectivity for readiness checks.
func (p *Provider) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Acquire checks one connection out of the pool for the duration of a single
// logical operation. The caller must Release it.
func (p *Provider) Acquire(ctx context.Context) (*Session, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("pg: acquire session: %w", err)
	}
	return &Session{conn: conn}, nil
}

// Session is one exclusively-owned connection. Its ambient tenant scope is
// session-local, so it must be re-established on every checkout; the pool may
// hand the same underlying connection to a different tenant next.
type Session struct {
	conn   *sql.Conn
	tenant string
	caller string
}

// Scope binds the tenant and caller ids to the session for row-level
// security. Idempotent: re-scoping with identical values is a no-op.
func (s *Session) Scope(ctx context.Context, tenantID, callerID string) error {
	if s.tenant == tenantID && s.caller == callerID && tenantID != "" {
		return nil
	}
	_, err := s.conn.ExecContext(ctx,
		`select set_config('app.tenant_id', $1, false), set_config('app.caller_id', $2, false)`,
		tenantID, callerID,
	)
	if err != nil {
		return fmt.Errorf("pg: scope session: %w", err)
	}
	s.tenant = tenantID
	s.caller = callerID
	return nil
}

// TenantID returns the currently bound tenant, empty when unscoped.
func (s *Session) TenantID() string { return s.tenant }

// ExecContext runs a statement on the scoped connection.
func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the scoped connection.
func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the scoped connection.
func (s *Session) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.conn.QueryRowContext(ctx, query, args...)
}

// BeginTx opens a transaction on the scoped connection.
func (s *Session) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return s.conn.BeginTx(ctx, opts)
}

// Release clears the ambient scope and returns the connection to the pool.
// Clearing must not be skipped: the next checkout may belong to a different
// tenant.
func (s *Session) Release() error {
	if s.tenant != "" || s.caller != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, _ = s.conn.ExecContext(ctx,
			`select set_config('app.tenant_id', '', false), set_config('app.caller_id', '', false)`)
		cancel()
		s.tenant, s.caller = "", ""
	}
	return s.conn.Close()
}
