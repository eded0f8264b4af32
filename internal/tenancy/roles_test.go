package tenancy

import (
	"testing"

	"salus.clinic/internal/fault"
)

func TestRequireRole(t *testing.T) {
	admin := Context{Role: RoleAdmin}
	therapist := Context{Role: RoleTherapist}
	pending := Context{Role: RolePending}

	if err := RequireRole(admin, RoleTherapist); err != nil {
		t.Fatalf("admin must pass every check: %v", err)
	}
	if err := RequireRole(therapist, RoleTherapist, RoleIntern); err != nil {
		t.Fatalf("allowed role rejected: %v", err)
	}
	err := RequireRole(pending, RoleTherapist)
	if fault.ReasonOf(err) != "permission_denied" {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestNormalizeRole(t *testing.T) {
	cases := map[string]Role{
		"Admin":       RoleAdmin,
		" THERAPIST ": RoleTherapist,
		"intern":      RoleIntern,
		"doctor":      RolePending,
		"":            RolePending,
	}
	for raw, want := range cases {
		if got := normalizeRole(raw); got != want {
			t.Fatalf("normalizeRole(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestSlugDerivation(t *testing.T) {
	if got := slugFrom("Caller-42!"); got != "clinic-caller42" {
		t.Fatalf("unexpected slug: %s", got)
	}
	a := slugFrom("same-caller")
	b := slugFrom("same-caller")
	if a != b {
		t.Fatalf("slug must be deterministic: %s != %s", a, b)
	}
	if len(slugFrom("averyveryverylongcalleridentifier")) > slugMaxLen+1 {
		t.Fatalf("slug exceeds cap: %s", slugFrom("averyveryverylongcalleridentifier"))
	}
}
