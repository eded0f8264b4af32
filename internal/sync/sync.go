// Package sync replicates document-store change events into the relational
// store. Every event is reduced to one guarded upsert; replaying the same
// event converges to the same row, so at-least-once delivery is safe.
package sync

import (
	"errors"
	"time"

	"salus.clinic/internal/docstore"
)

// Outcome classifies what happened to one change event.
type Outcome int

const (
	// OutcomeApplied means the relational row now reflects the event (or a
	// fresher write already did, which counts as converged).
	OutcomeApplied Outcome = iota
	// OutcomeDropped means the event is structurally unusable and was
	// discarded with a warning. Redelivery would not help.
	OutcomeDropped
	// OutcomeDeferred means a dependency row is missing; the event should be
	// redelivered once the dependency has replicated.
	OutcomeDeferred
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDropped:
		return "dropped"
	case OutcomeDeferred:
		return "deferred"
	}
	return "unknown"
}

// Column is one relational column produced by normalization.
type Column struct {
	Name  string
	Value any
}

// Record is a fully normalized relational row, ready for the guarded upsert.
// Columns excludes id, organization_id, updated_at and is_active; those are
// managed by the upsert itself.
type Record struct {
	Table          string
	ID             string
	OrganizationID string
	Columns        []Column
	UpdatedAt      time.Time
}

// Normalizer reduces one entity kind's document snapshots to records. All
// schema drift handling lives here; the upsert machinery is shared.
type Normalizer interface {
	// Entity names the kind for logs and metrics.
	Entity() string
	// Normalize maps a snapshot to a record. Structural problems that
	// redelivery cannot fix are reported as errors and the event is dropped.
	Normalize(id string, doc docstore.Snapshot) (Record, error)
}

// errUnusable marks normalization failures that must drop the event.
var errUnusable = errors.New("sync: event unusable")
