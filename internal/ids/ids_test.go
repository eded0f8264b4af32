package ids

import "testing"

func TestNewIsSortableAndUnique(t *testing.T) {
	a := New()
	b := New()
	if a == b {
		t.Fatalf("expected distinct ids, got %s twice", a)
	}
	if len(a) != 26 || len(b) != 26 {
		t.Fatalf("unexpected id lengths: %s %s", a, b)
	}
	if !(a < b) {
		t.Fatalf("expected monotonic ordering: %s >= %s", a, b)
	}
}

func TestIsWellFormed(t *testing.T) {
	cases := []struct {
		id   string
		want bool
	}{
		{New(), true},
		{"7a2f1c9e-91b4-4f6c-8d5f-2b3a1c9e91b4", true},
		{"organization:clinic-north", true},
		{"patient:01HZXW4N9GQ2V7R8T5Y1K3M6P0", true},
		{"", false},
		{"not a tenant", false},
		{":missing-table", false},
		{"trailing-colon:", false},
		{"two:colons:here", false},
	}
	for _, tc := range cases {
		if got := IsWellFormed(tc.id); got != tc.want {
			t.Fatalf("IsWellFormed(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}
