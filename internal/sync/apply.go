package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"salus.clinic/internal/docstore"
	"salus.clinic/internal/obs"
	"salus.clinic/internal/store/pg"
)

const (
	// Incoming writes within this window of the stored row's updated_at are
	// treated as concurrent and do not overwrite. Clock skew between the two
	// stores makes exact ordering impossible; two seconds covers the skew
	// observed in production.
	freshnessGuard = "2 seconds"

	foreignKeyViolation = "23503"

	syncCallerID = "sync"
)

// Trigger applies change events for one entity kind.
type Trigger struct {
	norm Normalizer
	log  zerolog.Logger
}

// NewTrigger builds a trigger around an entity normalizer.
func NewTrigger(norm Normalizer) *Trigger {
	return &Trigger{
		norm: norm,
		log:  obs.With("sync." + norm.Entity()),
	}
}

// Entity names the trigger's entity kind.
func (t *Trigger) Entity() string { return t.norm.Entity() }

// Apply replicates one event onto the given session and reports the outcome.
// The session is scoped to the record's tenant before any write, so the
// row-level policies hold for replication traffic too.
func (t *Trigger) Apply(ctx context.Context, sess *pg.Session, ev docstore.Event) Outcome {
	start := time.Now()
	outcome := t.apply(ctx, sess, ev)
	obs.ObserveSyncEvent(t.norm.Entity(), outcome.String(), time.Since(start))
	return outcome
}

func (t *Trigger) apply(ctx context.Context, sess *pg.Session, ev docstore.Event) Outcome {
	if ev.EntityID == "" {
		t.log.Warn().Msg("event without entity id dropped")
		return OutcomeDropped
	}
	if ev.Deleted() {
		return t.softDelete(ctx, sess, ev)
	}

	rec, err := t.norm.Normalize(ev.EntityID, ev.After)
	if err != nil {
		t.log.Warn().Err(err).Str("id", ev.EntityID).Msg("event dropped")
		return OutcomeDropped
	}

	if err := sess.Scope(ctx, rec.OrganizationID, syncCallerID); err != nil {
		t.log.Error().Err(err).Str("id", rec.ID).Msg("scope session")
		return OutcomeDeferred
	}

	query, args := upsertStatement(rec)
	if _, err := sess.ExecContext(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			t.log.Debug().Str("id", rec.ID).Str("constraint", pgErr.ConstraintName).
				Msg("dependency not replicated yet, deferring")
			return OutcomeDeferred
		}
		t.log.Error().Err(err).Str("id", rec.ID).Msg("apply failed")
		return OutcomeDropped
	}
	return OutcomeApplied
}

// softDelete marks the row inactive instead of removing it. History must
// survive document deletions; clinical records are never hard-deleted here.
func (t *Trigger) softDelete(ctx context.Context, sess *pg.Session, ev docstore.Event) Outcome {
	rec, err := t.norm.Normalize(ev.EntityID, ev.Before)
	if err != nil {
		t.log.Warn().Err(err).Str("id", ev.EntityID).Msg("tombstone without usable prior state dropped")
		return OutcomeDropped
	}
	if err := sess.Scope(ctx, rec.OrganizationID, syncCallerID); err != nil {
		t.log.Error().Err(err).Str("id", rec.ID).Msg("scope session")
		return OutcomeDeferred
	}
	_, err = sess.ExecContext(ctx,
		fmt.Sprintf(`update %s set is_active = false, updated_at = now() where id = $1`, rec.Table),
		rec.ID,
	)
	if err != nil {
		t.log.Warn().Err(err).Str("id", rec.ID).Msg("soft delete failed")
		return OutcomeDropped
	}
	return OutcomeApplied
}

// upsertStatement renders the single guarded statement the whole policy
// hangs on. The update branch refuses rows touched within the freshness
// guard, so a replayed or late event cannot clobber a newer local write.
func upsertStatement(rec Record) (string, []any) {
	cols := []string{"id", "organization_id"}
	args := []any{rec.ID, rec.OrganizationID}
	for _, c := range rec.Columns {
		cols = append(cols, c.Name)
		args = append(args, c.Value)
	}
	cols = append(cols, "updated_at", "is_active")
	args = append(args, rec.UpdatedAt)

	placeholders := make([]string, 0, len(args)+1)
	for i := range args {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
	}
	placeholders = append(placeholders, "true")

	assignments := make([]string, 0, len(cols)-1)
	for _, c := range cols[1 : len(cols)-1] {
		assignments = append(assignments, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	// A soft-deleted row stays deleted unless the document changed after the
	// tombstone was applied. The feed emits a re-created id as delete then
	// create, and only the create carries an updated_at past the tombstone;
	// a redelivered stale update does not.
	assignments = append(assignments, fmt.Sprintf(
		"is_active = (%s.is_active or excluded.updated_at >= %s.updated_at)",
		rec.Table, rec.Table,
	))

	query := fmt.Sprintf(
		`insert into %s (%s) values (%s) on conflict (id) do update set %s where %s.updated_at <= now() - interval '%s'`,
		rec.Table,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(assignments, ", "),
		rec.Table,
		freshnessGuard,
	)
	return query, args
}
