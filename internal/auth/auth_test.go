package auth

import (
	"testing"
	"time"
)

const testUserID = "0b3e4a12-9f6c-4d2e-8a1b-7c5d9e0f1a2b"

func TestMintAndValidate(t *testing.T) {
	service := NewService("test-secret", time.Hour)

	token, err := service.MintToken(testUserID)
	if err != nil {
		t.Fatalf("MintToken() error = %v", err)
	}

	userID, err := service.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if userID != testUserID {
		t.Fatalf("user id = %q, want %q", userID, testUserID)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer := NewService("secret-a", time.Hour)
	verifier := NewService("secret-b", time.Hour)

	token, err := issuer.MintToken(testUserID)
	if err != nil {
		t.Fatalf("MintToken() error = %v", err)
	}
	if _, err := verifier.ValidateToken(token); err != ErrInvalidToken {
		t.Fatalf("ValidateToken() error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	service := NewService("test-secret", time.Hour)
	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := service.ValidateToken(token); err != ErrInvalidToken {
			t.Errorf("ValidateToken(%q) error = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestDisabledService(t *testing.T) {
	service := NewService("", time.Hour)
	if service.Enabled() {
		t.Fatal("service with empty secret should be disabled")
	}
	if _, err := service.ValidateToken("anything"); err != ErrAuthDisabled {
		t.Fatalf("ValidateToken() error = %v, want ErrAuthDisabled", err)
	}
}

func TestMintRejectsBadUserID(t *testing.T) {
	service := NewService("test-secret", time.Hour)
	for _, id := range []string{"", "alice", "../../etc", "0B3E4A12-9F6C-4D2E-8A1B-7C5D9E0F1A2B"} {
		if _, err := service.MintToken(id); err == nil {
			t.Errorf("MintToken(%q) expected error", id)
		}
	}
}

func TestValidUserID(t *testing.T) {
	if !ValidUserID(testUserID) {
		t.Error("expected valid")
	}
	if ValidUserID("0b3e4a12/9f6c") {
		t.Error("expected invalid")
	}
}
