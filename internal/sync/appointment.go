package sync

import (
	"fmt"
	"time"

	"salus.clinic/internal/docstore"
	"salus.clinic/internal/tenancy"
)

var appointmentStatuses = map[string]struct{}{
	"scheduled": {},
	"confirmed": {},
	"completed": {},
	"cancelled": {},
	"no_show":   {},
}

var appointmentCategories = map[string]struct{}{
	"consultation": {},
	"therapy":      {},
	"intake":       {},
	"followup":     {},
}

const (
	defaultAppointmentStatus   = "scheduled"
	defaultAppointmentCategory = "consultation"
)

// Staff assignment went through several field names on the client; the first
// populated alias wins, and the document author is the fallback.
var staffAliases = []string{"assignedStaffId", "staffId", "therapistId", "practitionerId"}

// AppointmentNormalizer reduces appointment documents to rows in the
// appointments table.
type AppointmentNormalizer struct{}

func (AppointmentNormalizer) Entity() string { return "appointment" }

func (AppointmentNormalizer) Normalize(id string, doc docstore.Snapshot) (Record, error) {
	orgID := tenancy.TenantIDFromDocument(doc)
	if orgID == "" {
		return Record{}, fmt.Errorf("%w: appointment %s has no tenant id", errUnusable, id)
	}

	patientID := docstore.TrimRecordID(doc.String("patientId"))
	if patientID == "" {
		patientID = docstore.TrimRecordID(doc.String("patient"))
	}
	if patientID == "" {
		return Record{}, fmt.Errorf("%w: appointment %s references no patient", errUnusable, id)
	}

	staffID := ""
	for _, alias := range staffAliases {
		if staffID = docstore.TrimRecordID(doc.FirstString(alias)); staffID != "" {
			break
		}
	}
	if staffID == "" {
		staffID = docstore.TrimRecordID(doc.String("createdBy"))
	}

	startsAt := doc.Time("startsAt")
	if startsAt.IsZero() {
		startsAt = doc.Time("start")
	}
	endsAt := doc.Time("endsAt")
	if endsAt.IsZero() {
		endsAt = doc.Time("end")
	}

	updatedAt := doc.Time("updatedAt")
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	return Record{
		Table:          "appointments",
		ID:             docstore.TrimRecordID(id),
		OrganizationID: orgID,
		Columns: []Column{
			{"patient_id", patientID},
			{"staff_id", nullable(staffID)},
			{"status", coerce(doc.String("status"), appointmentStatuses, defaultAppointmentStatus)},
			{"category", coerce(doc.String("category"), appointmentCategories, defaultAppointmentCategory)},
			{"starts_at", nullableTime(startsAt)},
			{"ends_at", nullableTime(endsAt)},
			{"notes", doc.String("notes")},
		},
		UpdatedAt: updatedAt,
	}, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
