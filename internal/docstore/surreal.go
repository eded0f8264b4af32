package docstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	surrealdb "github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/models"

	"salus.clinic/internal/obs"
)

// Config holds the document-store connection parameters.
type Config struct {
	URL       string // base endpoint, e.g. ws://localhost:8000; the client appends /rpc
	Namespace string
	Database  string
	User      string
	Pass      string
}

// Surreal is the production Store backed by SurrealDB.
type Surreal struct {
	db *surrealdb.DB
}

var _ Store = (*Surreal)(nil)

// Connect dials the document store and selects the configured namespace.
func Connect(cfg Config) (*Surreal, error) {
	db, err := surrealdb.New(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("docstore: dial %s: %w", cfg.URL, err)
	}
	if _, err := db.SignIn(&surrealdb.Auth{Username: cfg.User, Password: cfg.Pass}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("docstore: signin: %w", err)
	}
	if err := db.Use(cfg.Namespace, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("docstore: use %s/%s: %w", cfg.Namespace, cfg.Database, err)
	}
	return &Surreal{db: db}, nil
}

// Close terminates the connection.
func (s *Surreal) Close() error { return s.db.Close() }

// Profile implements Store. Caller ids are stored denormalized on the profile
// document, so a filtered query beats a record lookup here.
func (s *Surreal) Profile(_ context.Context, callerID string) (Snapshot, error) {
	res, err := surrealdb.Query[[]map[string]any](
		s.db,
		`select * from profile where caller_id = $caller or uid = $caller limit 1`,
		map[string]any{"caller": callerID},
	)
	if err != nil {
		return nil, fmt.Errorf("docstore: profile query: %w", err)
	}
	if res == nil || len(*res) == 0 || len((*res)[0].Result) == 0 {
		return nil, ErrNotFound
	}
	return asSnapshot((*res)[0].Result[0]), nil
}

func (s *Surreal) selectAll(table string) ([]Snapshot, error) {
	rows, err := surrealdb.Select[[]map[string]any](s.db, models.Table(table))
	if err != nil {
		return nil, fmt.Errorf("docstore: select %s: %w", table, err)
	}
	if rows == nil {
		return nil, nil
	}
	out := make([]Snapshot, 0, len(*rows))
	for _, r := range *rows {
		out = append(out, asSnapshot(r))
	}
	return out, nil
}

// asSnapshot flattens the client's CBOR value types into the plain shapes the
// Snapshot accessors and the diff cache expect. Record ids become table:key
// strings, datetimes become time.Time.
func asSnapshot(doc map[string]any) Snapshot {
	out := make(Snapshot, len(doc))
	for k, v := range doc {
		out[k] = plainValue(v)
	}
	return out
}

func plainValue(v any) any {
	switch t := v.(type) {
	case models.RecordID:
		return t.String()
	case *models.RecordID:
		return t.String()
	case models.CustomDateTime:
		return t.Time
	case *models.CustomDateTime:
		return t.Time
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plainValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = plainValue(e)
		}
		return out
	default:
		return v
	}
}

// Poller synthesizes a change feed for one table by diffing periodic table
// scans against the last observed state. The client library's live-query
// notifications are not exposed on this connection generation, and the table
// sizes here (one clinic's worth of records) keep the scans cheap. Events for
// a given entity are emitted in order; deliveries are at-least-once after a
// restart since the cache starts cold.
type Poller struct {
	store    lister
	table    string
	interval time.Duration

	ch        chan Event
	closeOnce sync.Once
	done      chan struct{}

	known map[string]Snapshot
}

var _ Feed = (*Poller)(nil)

// lister is the single read the poller needs; satisfied by *Surreal.
type lister interface {
	selectAll(table string) ([]Snapshot, error)
}

// NewPoller creates a feed over table, scanning at the given interval.
func NewPoller(store *Surreal, table string, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		store:    store,
		table:    table,
		interval: interval,
		ch:       make(chan Event, 64),
		done:     make(chan struct{}),
		known:    make(map[string]Snapshot),
	}
}

// Run scans until the context ends or Close is called. Blocking.
func (p *Poller) Run(ctx context.Context) {
	log := obs.With("docstore.poller")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	defer close(p.ch) // Run owns the emit side; consumers range until it exits

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			if err := p.scan(ctx); err != nil {
				log.Warn().Err(err).Str("table", p.table).Msg("scan failed, will retry")
			}
		}
	}
}

func (p *Poller) scan(ctx context.Context) error {
	rows, err := p.store.selectAll(p.table)
	if err != nil {
		return err
	}

	seen := make(map[string]Snapshot, len(rows))
	for _, row := range rows {
		id := row.ID()
		if id == "" {
			continue
		}
		seen[id] = row
	}

	// Deletions first so a re-created id is observed as delete then create.
	var deleted []string
	for id := range p.known {
		if _, ok := seen[id]; !ok {
			deleted = append(deleted, id)
		}
	}
	sort.Strings(deleted)
	for _, id := range deleted {
		before := p.known[id]
		delete(p.known, id)
		if !p.emit(ctx, Event{EntityID: id, Before: before}) {
			return nil
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		after := seen[id]
		before, existed := p.known[id]
		if existed && reflect.DeepEqual(before, after) {
			continue
		}
		p.known[id] = after
		ev := Event{EntityID: id, After: after}
		if existed {
			ev.Before = before
		}
		if !p.emit(ctx, ev) {
			return nil
		}
	}
	return nil
}

func (p *Poller) emit(ctx context.Context, ev Event) bool {
	select {
	case p.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-p.done:
		return false
	}
}

// Events implements Feed.
func (p *Poller) Events() <-chan Event { return p.ch }

// Close implements Feed.
func (p *Poller) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
