package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("test-secret", time.Hour)

	token, err := m.Generate("board-1", "user-1", RoleComment)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	claims, err := m.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.BoardID != "board-1" || claims.UserID != "user-1" || claims.Role != "comment" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestTokenExpired(t *testing.T) {
	m := NewTokenManager("test-secret", -time.Minute)

	token, err := m.Generate("board-1", "user-1", RoleEdit)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if _, err := m.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	m := NewTokenManager("secret-a", time.Hour)
	other := NewTokenManager("secret-b", time.Hour)

	token, err := m.Generate("board-1", "user-1", RoleEdit)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenGarbageRejected(t *testing.T) {
	m := NewTokenManager("test-secret", time.Hour)
	if _, err := m.Verify("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}
