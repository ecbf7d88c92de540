package authn

import (
	"context"
	"errors"
	"testing"
	"time"
)

func withSecret(t *testing.T, value string) {
	t.Helper()
	ResetSecretCache()
	t.Setenv(secretEnvVariable, value)
	t.Cleanup(ResetSecretCache)
}

func TestGenerateAndValidate(t *testing.T) {
	withSecret(t, "unit-test-secret")

	token, err := GenerateToken("dr-jones", "radiologist", 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.ActorID() != "dr-jones" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Role != "radiologist" {
		t.Fatalf("role not preserved: %q", claims.Role)
	}
	if claims.ID == "" {
		t.Fatal("expected jti claim")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	withSecret(t, "unit-test-secret")

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("ParseAndValidate(%q): expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestGenerateRequiresConfiguration(t *testing.T) {
	withSecret(t, "")

	if _, err := GenerateToken("dr-jones", "", time.Minute); err == nil {
		t.Fatal("expected error without configured secret")
	}
	if Enabled() {
		t.Fatal("Enabled must be false without a secret")
	}
}

func TestGenerateValidation(t *testing.T) {
	withSecret(t, "unit-test-secret")

	if _, err := GenerateToken("", "role", time.Minute); err == nil {
		t.Fatal("expected error for empty actor")
	}
	if _, err := GenerateToken("actor", "role", 0); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := ContextWithPrincipal(context.Background(), Principal{ActorID: "dr-jones", Role: "radiologist"})
	principal, ok := PrincipalFromContext(ctx)
	if !ok || principal.ActorID != "dr-jones" || principal.Role != "radiologist" {
		t.Fatalf("unexpected principal: %+v ok=%v", principal, ok)
	}
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("expected no principal on fresh context")
	}
}
