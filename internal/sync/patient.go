package sync

import (
	"fmt"
	"strings"
	"time"

	"salus.clinic/internal/docstore"
	"salus.clinic/internal/tenancy"
)

// Accepted patient lifecycle states. Mobile builds have shipped free-form
// values; anything outside the list is coerced to the default.
var patientStatuses = map[string]struct{}{
	"active":     {},
	"inactive":   {},
	"waitlist":   {},
	"discharged": {},
}

const defaultPatientStatus = "active"

// PatientNormalizer reduces patient documents to rows in the patients table.
type PatientNormalizer struct{}

func (PatientNormalizer) Entity() string { return "patient" }

func (PatientNormalizer) Normalize(id string, doc docstore.Snapshot) (Record, error) {
	orgID := tenancy.TenantIDFromDocument(doc)
	if orgID == "" {
		return Record{}, fmt.Errorf("%w: patient %s has no tenant id", errUnusable, id)
	}

	name := doc.String("fullName")
	if name == "" {
		name = doc.String("name")
	}

	nationalID := digitsOnly(doc.String("nationalId"))
	if nationalID == "" {
		nationalID = digitsOnly(doc.String("documentNumber"))
	}

	updatedAt := doc.Time("updatedAt")
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	return Record{
		Table:          "patients",
		ID:             docstore.TrimRecordID(id),
		OrganizationID: orgID,
		Columns: []Column{
			{"full_name", name},
			{"national_id", nationalID},
			{"phone", phoneNumber(doc.String("phone"))},
			{"email", strings.ToLower(doc.String("email"))},
			{"status", coerce(doc.String("status"), patientStatuses, defaultPatientStatus)},
			{"notes", doc.String("notes")},
		},
		UpdatedAt: updatedAt,
	}, nil
}

// coerce lowercases v and falls back to def when it is not in the allow-list.
func coerce(v string, allowed map[string]struct{}, def string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if _, ok := allowed[v]; ok {
		return v
	}
	return def
}

// digitsOnly strips everything but digits. National ids arrive with dots,
// dashes and whitespace depending on which form captured them.
func digitsOnly(v string) string {
	var b strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// phoneNumber keeps digits plus a leading country-code marker.
func phoneNumber(v string) string {
	digits := digitsOnly(v)
	if digits != "" && strings.HasPrefix(strings.TrimSpace(v), "+") {
		return "+" + digits
	}
	return digits
}
