package auth

import (
	"context"
	"testing"
	"time"
)

func TestJWTSupplierMintsFreshTokens(t *testing.T) {
	s, err := NewJWTSupplier("secret", "tester", time.Minute)
	if err != nil {
		t.Fatalf("NewJWTSupplier failed: %v", err)
	}
	base := time.Now()
	calls := 0
	s.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}

	first, err := s.GetToken(context.Background(), TokenOptions{Template: "long_token"})
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	second, err := s.GetToken(context.Background(), TokenOptions{Template: "long_token"})
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if first == second {
		t.Error("Expected a different token per call")
	}

	claims, err := Parse("secret", second)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if claims.Subject != "tester" || claims.Template != "long_token" {
		t.Errorf("Unexpected claims: %+v", claims)
	}
	if _, err := Parse("other", second); err == nil {
		t.Error("Expected a signature error with the wrong secret")
	}
}

func TestJWTSupplierRejectsEmptySecret(t *testing.T) {
	if _, err := NewJWTSupplier("", "x", time.Minute); err == nil {
		t.Error("Expected an error for an empty secret")
	}
}

func TestStaticSupplier(t *testing.T) {
	if SignedOut.SignedIn() {
		t.Error("SignedOut must not be signed in")
	}
	tok, err := StaticSupplier("abc").GetToken(context.Background(), TokenOptions{})
	if err != nil || tok != "abc" {
		t.Errorf("Expected abc, got %q (%v)", tok, err)
	}
}
