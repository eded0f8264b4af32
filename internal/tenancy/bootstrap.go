package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"salus.clinic/internal/fault"
	"salus.clinic/internal/ids"
	"salus.clinic/internal/store/pg"
)

// Namespace for deriving the bootstrap tenant id from a caller id. The
// derivation must be deterministic so two racing first requests upsert the
// same organization row instead of creating two tenants.
var bootstrapNamespace = uuid.MustParse("9c1f6a44-5d07-4c11-86b0-2f9a57e31d28")

const (
	slugMaxLen      = 24
	slugMaxAttempts = 4
	uniqueViolation = "23505"
)

// bootstrap provisions a brand-new tenant with the caller as its admin. A
// first-time caller is never locked out waiting for manual provisioning.
func (r *Resolver) bootstrap(ctx context.Context, sess *pg.Session, callerID string) (Context, error) {
	orgID := uuid.NewSHA1(bootstrapNamespace, []byte(callerID)).String()
	name := fmt.Sprintf("Clinic %s", shortRef(callerID))
	slug := slugFrom(callerID)

	var created bool
	for attempt := 0; attempt < slugMaxAttempts; attempt++ {
		candidate := slug
		if attempt > 0 {
			candidate = fmt.Sprintf("%s-%d", slug, attempt+1)
		}
		_, err := sess.ExecContext(ctx, `
			insert into organizations(id, name, slug)
			values ($1, $2, $3)
			on conflict (id) do update set updated_at = now()
		`, orgID, name, candidate)
		if err == nil {
			created = true
			break
		}
		// A slug taken by another tenant is retried with a disambiguated
		// suffix; anything else is an infrastructure failure, not a new
		// tenant situation.
		if isUniqueViolation(err) && attempt < slugMaxAttempts-1 {
			continue
		}
		return Context{}, fault.Internal("bootstrap organization", err)
	}
	if !created {
		return Context{}, fault.Internal("bootstrap organization",
			fmt.Errorf("no free slug after %d attempts for %s", slugMaxAttempts, slug))
	}

	return r.materializeProfile(ctx, sess, callerID, orgID, RoleAdmin)
}

// slugFrom derives a stable, url-safe organization slug from the caller id.
func slugFrom(callerID string) string {
	var b strings.Builder
	b.WriteString("clinic-")
	for _, r := range strings.ToLower(callerID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() >= slugMaxLen {
			break
		}
	}
	if b.Len() == len("clinic-") {
		b.WriteString(strings.ToLower(ids.New()[:8]))
	}
	return b.String()
}

func shortRef(callerID string) string {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, callerID)
	if len(cleaned) > 8 {
		cleaned = cleaned[:8]
	}
	if cleaned == "" {
		cleaned = "new"
	}
	return cleaned
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
