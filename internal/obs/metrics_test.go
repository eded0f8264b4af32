package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/v1/patients/abc":               "/v1/patients/:id",
		"/v1/patients/abc/appointments":  "/v1/patients/:id/appointments",
		"/v1/patients":                   "/v1/patients",
		"/v1/appointments/xyz":           "/v1/appointments/:id",
		"/v1/appointments?status=booked": "/v1/appointments",
		"/v1/patients/abc/extra/deep":    "/v1/patients/abc/extra/deep",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
