package auth

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "queuewatch.json")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SetCredential("tok-123"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(KeyDismissedBanner, "true"); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	// Reopen from disk.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := s2.Credential(); got != "tok-123" {
		t.Errorf("credential = %q, want tok-123", got)
	}
	if got := s2.Get(KeyDismissedBanner); got != "true" {
		t.Errorf("flag = %q, want true", got)
	}

	if err := s2.ClearCredential(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if s2.Credential() != "" {
		t.Error("credential not cleared")
	}
}

func TestStore_MissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Credential() != "" {
		t.Error("expected empty store")
	}
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func TestParseClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	credential := signedToken(t, jwt.MapClaims{
		"sub":  "u-42",
		"role": "PROVIDER",
		"exp":  exp.Unix(),
	})

	c, err := ParseClaims(credential)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.UserID != "u-42" {
		t.Errorf("UserID = %q, want u-42", c.UserID)
	}
	if c.Role != "PROVIDER" {
		t.Errorf("Role = %q, want PROVIDER", c.Role)
	}
	if !c.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", c.ExpiresAt, exp)
	}
	if c.Expired(time.Now()) {
		t.Error("credential should not be expired")
	}
	if !c.Expired(exp.Add(time.Minute)) {
		t.Error("credential should be expired after exp")
	}
}

func TestParseClaims_Errors(t *testing.T) {
	if _, err := ParseClaims(""); err != ErrNoCredential {
		t.Errorf("expected ErrNoCredential, got %v", err)
	}
	if _, err := ParseClaims("not-a-jwt"); err == nil {
		t.Error("expected error for malformed credential")
	}
}

func TestParseClaims_NoExpiry(t *testing.T) {
	c, err := ParseClaims(signedToken(t, jwt.MapClaims{"sub": "u-1"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Expired(time.Now().Add(1000 * time.Hour)) {
		t.Error("credential without exp should never expire client-side")
	}
}
