// Package audit records who did what to which clinical resource. Every entry
// goes to the append-only audit_log table and to the structured log; the
// table is the durable record, the log line is for live debugging.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"salus.clinic/internal/ids"
	"salus.clinic/internal/obs"
	"salus.clinic/internal/tenancy"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit
// entries written further down the call chain.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Entry is one audit fact. CallerID and TenantID are filled from the request
// authorization when left empty.
type Entry struct {
	ID         string
	OccurredAt time.Time
	CallerID   string
	TenantID   string
	Action     string
	Resource   string
	ResourceID string
	Metadata   map[string]any
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Record appends the entry to audit_log on the given connection and mirrors
// it to the structured log. The connection should be the request's scoped
// session so the row lands under the caller's tenant.
func Record(ctx context.Context, db execer, e Entry) error {
	if strings.TrimSpace(e.Action) == "" {
		return errors.New("audit: action is required")
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if authz, ok := tenancy.AuthorizationFromContext(ctx); ok {
		if e.CallerID == "" {
			e.CallerID = authz.CallerID
		}
		if e.TenantID == "" {
			e.TenantID = authz.TenantID
		}
	}

	meta, _ := json.Marshal(e.Metadata)
	_, err := db.ExecContext(ctx,
		`insert into audit_log(id, occurred_at, caller_id, organization_id, action, resource, resource_id, metadata, request_id)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.OccurredAt, e.CallerID, e.TenantID, e.Action,
		e.Resource, e.ResourceID, meta, requestIDFromContext(ctx),
	)
	if err != nil {
		return err
	}

	log := obs.With("audit")
	log.Info().
		Str("action", e.Action).
		Str("resource", e.Resource).
		Str("resource_id", e.ResourceID).
		Str("caller_id", e.CallerID).
		Str("tenant_id", e.TenantID).
		Str("request_id", requestIDFromContext(ctx)).
		Msg("audit")
	return nil
}
