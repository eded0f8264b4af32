package tenancy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"salus.clinic/internal/docstore"
	"salus.clinic/internal/fault"
	"salus.clinic/internal/ids"
	"salus.clinic/internal/obs"
	"salus.clinic/internal/store/pg"
)

// Historical shapes of the tenant id on profile documents, in priority order.
// The field was renamed and restructured several times on the mobile side;
// every shape still in the wild must resolve. FirstString also accepts an
// array value, which covers the brief multi-organization experiment.
var legacyTenantFields = []string{
	"organizationId",
	"organizationIds",
	"activeOrganizationId",
	"organization_id",
	"orgId",
}

// errNoProfile distinguishes "caller is genuinely new" from infrastructure
// failures inside the fallback chain.
var errNoProfile = errors.New("tenancy: no profile found")

// Resolver turns a verified caller identity into exactly one tenant scope.
type Resolver struct {
	docs docstore.Store
}

// NewResolver builds a resolver over the document-store fallback source.
func NewResolver(docs docstore.Store) *Resolver {
	return &Resolver{docs: docs}
}

// Resolve authenticates the token and resolves the caller to a tenant via the
// ordered fallback: relational profile, document profile, bootstrap. On
// success the session is already scoped to the resolved tenant; callers never
// scope manually.
func (r *Resolver) Resolve(ctx context.Context, sess *pg.Session, token string) (Context, error) {
	claims, err := VerifyToken(token)
	if err != nil {
		obs.CountResolution("unauthenticated")
		return Context{}, err
	}
	callerID := claims.Subject

	// Bind the caller early: the profile policies key off app.caller_id.
	if err := sess.Scope(ctx, "", callerID); err != nil {
		return Context{}, fault.Internal("bind caller to session", err)
	}

	revoked, err := tokenRevoked(ctx, sess, claims.ID)
	if err != nil {
		obs.CountResolution("internal")
		return Context{}, fault.Internal("check token revocation", err)
	}
	if revoked {
		obs.CountResolution("unauthenticated")
		return Context{}, fault.Unauthenticated(fault.ReasonTokenRevoked, "identity token revoked")
	}

	authz, err := r.fromRelational(ctx, sess, callerID)
	if err == nil {
		authz.TokenID = claims.ID
		return r.finish(ctx, sess, authz, "relational")
	}
	if !errors.Is(err, errNoProfile) {
		return Context{}, err
	}

	authz, err = r.fromDocument(ctx, sess, callerID)
	if err == nil {
		authz.TokenID = claims.ID
		return r.finish(ctx, sess, authz, "document")
	}
	if !errors.Is(err, errNoProfile) {
		return Context{}, err
	}

	authz, err = r.bootstrap(ctx, sess, callerID)
	if err != nil {
		obs.CountResolution("internal")
		return Context{}, err
	}
	authz.TokenID = claims.ID
	return r.finish(ctx, sess, authz, "bootstrap")
}

func (r *Resolver) finish(ctx context.Context, sess *pg.Session, authz Context, source string) (Context, error) {
	if err := sess.Scope(ctx, authz.TenantID, authz.CallerID); err != nil {
		return Context{}, fault.Internal("scope session to tenant", err)
	}
	obs.CountResolution(source)
	return authz, nil
}

// fromRelational is the authoritative lookup once a profile row exists.
func (r *Resolver) fromRelational(ctx context.Context, sess *pg.Session, callerID string) (Context, error) {
	var (
		profileID string
		orgID     sql.NullString
		role      string
	)
	err := sess.QueryRowContext(ctx,
		`select id, organization_id, role from profiles where caller_id = $1`, callerID,
	).Scan(&profileID, &orgID, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return Context{}, errNoProfile
	}
	if err != nil {
		return Context{}, fault.Internal("load profile", err)
	}
	if !orgID.Valid || !ids.IsWellFormed(orgID.String) {
		return Context{}, fault.FailedPrecondition(
			fmt.Sprintf("profile %s carries no resolvable tenant identifier", profileID))
	}
	return Context{
		CallerID:  callerID,
		TenantID:  orgID.String,
		Role:      normalizeRole(role),
		ProfileID: profileID,
	}, nil
}

// fromDocument consults the legacy profile document and, on success, mirrors
// it into the relational store so the relational copy is authoritative from
// then on.
func (r *Resolver) fromDocument(ctx context.Context, sess *pg.Session, callerID string) (Context, error) {
	doc, err := r.docs.Profile(ctx, callerID)
	if errors.Is(err, docstore.ErrNotFound) {
		return Context{}, errNoProfile
	}
	if err != nil {
		return Context{}, fault.Internal("load profile document", err)
	}

	tenantID := TenantIDFromDocument(doc)
	if tenantID == "" {
		return Context{}, fault.FailedPrecondition(
			fmt.Sprintf("profile document for caller %s carries no resolvable tenant identifier", callerID))
	}

	role := normalizeRole(doc.String("role"))
	return r.materializeProfile(ctx, sess, callerID, tenantID, role)
}

// TenantIDFromDocument walks the historical field shapes and returns the
// first well-formed tenant id. Replication triggers share the same chain:
// entity documents went through the same renames as profiles.
func TenantIDFromDocument(doc docstore.Snapshot) string {
	for _, field := range legacyTenantFields {
		if id := doc.FirstString(field); ids.IsWellFormed(id) {
			return id
		}
	}
	return ""
}

// materializeProfile upserts the relational profile row keyed on caller id.
// When a concurrent writer got there first the stored row wins, keeping the
// relational copy authoritative.
func (r *Resolver) materializeProfile(ctx context.Context, sess *pg.Session, callerID, tenantID string, role Role) (Context, error) {
	var (
		profileID string
		orgID     string
		gotRole   string
	)
	err := sess.QueryRowContext(ctx, `
		insert into profiles(id, caller_id, organization_id, role)
		values ($1, $2, $3, $4)
		on conflict (caller_id) do update set updated_at = now()
		returning id, organization_id, role
	`, ids.New(), callerID, tenantID, string(role)).Scan(&profileID, &orgID, &gotRole)
	if err != nil {
		return Context{}, fault.Internal("materialize profile", err)
	}
	return Context{
		CallerID:  callerID,
		TenantID:  orgID,
		Role:      normalizeRole(gotRole),
		ProfileID: profileID,
	}, nil
}

func tokenRevoked(ctx context.Context, sess *pg.Session, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	var revoked bool
	err := sess.QueryRowContext(ctx,
		`select exists(select 1 from revoked_tokens where jti = $1)`, jti,
	).Scan(&revoked)
	if err != nil {
		return false, err
	}
	return revoked, nil
}
