package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	rows []Snapshot
	err  error
}

func (f *fakeLister) selectAll(string) ([]Snapshot, error) { return f.rows, f.err }

func newTestPoller(l lister) *Poller {
	return &Poller{
		store: l,
		table: "patient",
		ch:    make(chan Event, 64),
		done:  make(chan struct{}),
		known: make(map[string]Snapshot),
	}
}

func drain(p *Poller) []Event {
	var evs []Event
	for {
		select {
		case ev := <-p.ch:
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func TestPollerEmitsCreateUpdateDelete(t *testing.T) {
	ctx := context.Background()
	src := &fakeLister{rows: []Snapshot{
		{"id": "patient:p1", "name": "Ada"},
		{"id": "patient:p2", "name": "Ben"},
	}}
	p := newTestPoller(src)

	require.NoError(t, p.scan(ctx))
	evs := drain(p)
	require.Len(t, evs, 2)
	assert.Equal(t, "p1", evs[0].EntityID)
	assert.Nil(t, evs[0].Before)
	assert.Equal(t, "Ada", evs[0].After.String("name"))

	// unchanged scan emits nothing
	require.NoError(t, p.scan(ctx))
	assert.Empty(t, drain(p))

	// update carries the previous snapshot as Before
	src.rows = []Snapshot{
		{"id": "patient:p1", "name": "Ada Lovelace"},
		{"id": "patient:p2", "name": "Ben"},
	}
	require.NoError(t, p.scan(ctx))
	evs = drain(p)
	require.Len(t, evs, 1)
	assert.Equal(t, "p1", evs[0].EntityID)
	assert.Equal(t, "Ada", evs[0].Before.String("name"))
	assert.Equal(t, "Ada Lovelace", evs[0].After.String("name"))

	// removal becomes a tombstone event
	src.rows = src.rows[:1]
	require.NoError(t, p.scan(ctx))
	evs = drain(p)
	require.Len(t, evs, 1)
	assert.Equal(t, "p2", evs[0].EntityID)
	assert.True(t, evs[0].Deleted())
	assert.Equal(t, "Ben", evs[0].Before.String("name"))
}

func TestPollerScanErrorLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	src := &fakeLister{rows: []Snapshot{{"id": "patient:p1"}}}
	p := newTestPoller(src)
	require.NoError(t, p.scan(ctx))
	drain(p)

	src.err = assert.AnError
	require.Error(t, p.scan(ctx))
	assert.Empty(t, drain(p))

	// recovery does not re-emit the already known row
	src.err = nil
	require.NoError(t, p.scan(ctx))
	assert.Empty(t, drain(p))
}
