package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"lingkod.org/internal/portal"
)

func setSecret(t *testing.T) {
	t.Helper()
	t.Setenv(secretEnvVariable, "unit-test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndValidateToken(t *testing.T) {
	setSecret(t)

	token, err := GenerateToken("acct-1", portal.RoleOfficial, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "acct-1" {
		t.Fatalf("subject = %q, want acct-1", claims.Subject)
	}
	if claims.Role != portal.RoleOfficial {
		t.Fatalf("role = %q, want official", claims.Role)
	}
	if claims.Issuer != issuer {
		t.Fatalf("issuer = %q, want %q", claims.Issuer, issuer)
	}
}

func TestGenerateTokenRejectsBadInput(t *testing.T) {
	setSecret(t)

	if _, err := GenerateToken("", portal.RoleResident, time.Hour); err == nil {
		t.Fatal("expected error for empty identity")
	}
	if _, err := GenerateToken("acct-1", portal.Role("admin"), time.Hour); err == nil {
		t.Fatal("expected error for unknown role")
	}
	if _, err := GenerateToken("acct-1", portal.RoleResident, 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	setSecret(t)

	token, err := GenerateToken("acct-1", portal.RoleResident, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	tampered := token[:len(token)-2] + "xx"
	if _, err := ParseAndValidate(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
	if _, err := ParseAndValidate(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token err = %v, want ErrInvalidToken", err)
	}
}

func TestMissingSecret(t *testing.T) {
	t.Setenv(secretEnvVariable, "")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	_, err := GenerateToken("acct-1", portal.RoleResident, time.Hour)
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("err = %v, want missing secret", err)
	}
}

func TestPrincipalContext(t *testing.T) {
	p := portal.Principal{Identity: "acct-1", Role: portal.RoleOfficial}
	ctx := ContextWithPrincipal(context.Background(), p)

	got, ok := PrincipalFromContext(ctx)
	if !ok || got.Identity != "acct-1" {
		t.Fatalf("PrincipalFromContext = %+v, %v", got, ok)
	}
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("expected no principal on empty context")
	}
}

func TestTokenContext(t *testing.T) {
	ctx := ContextWithToken(context.Background(), "tok")
	if got, ok := TokenFromContext(ctx); !ok || got != "tok" {
		t.Fatalf("TokenFromContext = %q, %v", got, ok)
	}
}
