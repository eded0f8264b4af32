// Package docstore is the boundary to the schema-flexible document store the
// mobile clients write to. The relational side never trusts its field shapes;
// everything read here goes through Snapshot's lenient accessors.
package docstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("docstore: not found")

// Snapshot is one loosely-typed document state.
type Snapshot map[string]any

// Event is one change-feed delivery for a single entity. A nil Before means
// the entity was created; a nil After means it was deleted. Delivery is
// at-least-once and ordered per entity only.
type Event struct {
	EntityID string
	Before   Snapshot
	After    Snapshot
}

// Deleted reports whether the event is a tombstone.
func (e Event) Deleted() bool { return e.After == nil }

// Store reads documents the resolver may need to fall back to.
type Store interface {
	Profile(ctx context.Context, callerID string) (Snapshot, error)
}

// Feed delivers change events for one entity table.
type Feed interface {
	Events() <-chan Event
	Close() error
}

// String returns the trimmed string value under key, or "".
func (s Snapshot) String(key string) string {
	if s == nil {
		return ""
	}
	if v, ok := s[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// FirstString behaves like String but also accepts an array value, returning
// its first non-empty string element. Legacy documents stored several fields
// both ways.
func (s Snapshot) FirstString(key string) string {
	if v := s.String(key); v != "" {
		return v
	}
	if s == nil {
		return ""
	}
	arr, ok := s[key].([]any)
	if !ok {
		if sarr, ok := s[key].([]string); ok {
			for _, e := range sarr {
				if t := strings.TrimSpace(e); t != "" {
					return t
				}
			}
		}
		return ""
	}
	for _, e := range arr {
		if str, ok := e.(string); ok {
			if t := strings.TrimSpace(str); t != "" {
				return t
			}
		}
	}
	return ""
}

// Bool returns the boolean under key, with def as the fallback.
func (s Snapshot) Bool(key string, def bool) bool {
	if s == nil {
		return def
	}
	if v, ok := s[key].(bool); ok {
		return v
	}
	return def
}

// Time parses the value under key as RFC3339, epoch seconds or epoch
// milliseconds. The zero time is returned when the field is absent or
// unparseable.
func (s Snapshot) Time(key string) time.Time {
	if s == nil {
		return time.Time{}
	}
	switch v := s[key].(type) {
	case time.Time:
		return v.UTC()
	case string:
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(v)); err == nil {
			return t.UTC()
		}
	case float64:
		return epochToTime(int64(v))
	case int64:
		return epochToTime(v)
	case int:
		return epochToTime(int64(v))
	}
	return time.Time{}
}

// ID returns the document id with any table prefix stripped, so the
// relational row key matches regardless of which client wrote the record.
func (s Snapshot) ID() string {
	return TrimRecordID(s.String("id"))
}

// TrimRecordID strips a table:key record id down to its key. References
// between documents are stored both ways depending on client generation.
func TrimRecordID(id string) string {
	if i := strings.IndexByte(id, ':'); i >= 0 {
		return id[i+1:]
	}
	return id
}

// epoch values above this threshold are treated as milliseconds
const msThreshold = int64(1e12)

func epochToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	if v >= msThreshold {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}
