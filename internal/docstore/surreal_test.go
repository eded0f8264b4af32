package docstore

import (
	"testing"
	"time"

	"github.com/surrealdb/surrealdb.go/pkg/models"
)

func TestAsSnapshotFlattensClientTypes(t *testing.T) {
	when := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	doc := map[string]any{
		"id":        models.NewRecordID("patient", "p1"),
		"patientId": &models.RecordID{Table: "patient", ID: "p1"},
		"updatedAt": models.CustomDateTime{Time: when},
		"fullName":  "Ana Pérez",
		"tags":      []any{models.NewRecordID("org", "o1"), "plain"},
		"nested":    map[string]any{"ref": models.NewRecordID("staff", "s1")},
	}

	snap := asSnapshot(doc)

	if snap.ID() != "p1" {
		t.Fatalf("record id not flattened: %v", snap["id"])
	}
	if snap.String("patientId") != "patient:p1" {
		t.Fatalf("reference not flattened: %v", snap["patientId"])
	}
	if !snap.Time("updatedAt").Equal(when) {
		t.Fatalf("datetime not flattened: %v", snap["updatedAt"])
	}
	if snap.String("fullName") != "Ana Pérez" {
		t.Fatalf("plain value must pass through: %v", snap["fullName"])
	}
	tags, ok := snap["tags"].([]any)
	if !ok || tags[0] != "org:o1" || tags[1] != "plain" {
		t.Fatalf("array elements not flattened: %v", snap["tags"])
	}
	nested, ok := snap["nested"].(map[string]any)
	if !ok || nested["ref"] != "staff:s1" {
		t.Fatalf("nested map not flattened: %v", snap["nested"])
	}
}

func TestAsSnapshotPreservesDiffability(t *testing.T) {
	// The poller diffs successive scans with reflect.DeepEqual; two scans of
	// an unchanged document must flatten to equal snapshots.
	doc := func() map[string]any {
		return map[string]any{
			"id":        models.NewRecordID("patient", "p1"),
			"updatedAt": models.CustomDateTime{Time: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		}
	}
	a, b := asSnapshot(doc()), asSnapshot(doc())
	for k := range a {
		if a[k] != b[k] {
			t.Fatalf("key %s differs between identical scans: %v vs %v", k, a[k], b[k])
		}
	}
}
