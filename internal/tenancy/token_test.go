package tenancy

import (
	"testing"
	"time"

	"salus.clinic/internal/fault"
)

func TestVerifyTokenRoundTrip(t *testing.T) {
	t.Setenv(secretEnvVariable, "unit-test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	token, err := GenerateToken("caller-7", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.Subject != "caller-7" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.ID == "" {
		t.Fatalf("expected a token id for revocation checks")
	}
}

func TestVerifyTokenClassifiesFailures(t *testing.T) {
	t.Setenv(secretEnvVariable, "unit-test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	expired, err := GenerateToken("caller-7", time.Nanosecond)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	cases := map[string]struct {
		token  string
		reason string
	}{
		"missing":   {"", fault.ReasonTokenMissing},
		"garbage":   {"not.a.jwt", fault.ReasonTokenMalformed},
		"expired":   {expired, fault.ReasonTokenExpired},
		"truncated": {expired[:len(expired)-5], fault.ReasonTokenMalformed},
	}
	for name, tc := range cases {
		_, err := VerifyToken(tc.token)
		if fault.ReasonOf(err) != tc.reason {
			t.Fatalf("%s: expected reason %s, got %v", name, tc.reason, err)
		}
	}
}

func TestGenerateTokenValidation(t *testing.T) {
	t.Setenv(secretEnvVariable, "unit-test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateToken("", time.Hour); err == nil {
		t.Fatalf("expected error for empty caller id")
	}
	if _, err := GenerateToken("caller", 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}
