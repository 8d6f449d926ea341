package store

import (
	"strings"
	"testing"
	"time"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

func TestJWTSessionStoreRoundTrip(t *testing.T) {
	sessions, err := NewJWTSessionStore(testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	token, err := sessions.NewSession("alice")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	userID, ok, err := sessions.GetUserIDByToken(token)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !ok || userID != "alice" {
		t.Fatalf("got (%q, %v), want (alice, true)", userID, ok)
	}
}

func TestJWTSessionStoreRejectsTampered(t *testing.T) {
	sessions, err := NewJWTSessionStore(testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	token, err := sessions.NewSession("alice")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	tampered := token[:len(token)-2] + "xx"
	if _, ok, _ := sessions.GetUserIDByToken(tampered); ok {
		t.Fatalf("expected tampered token to be rejected")
	}
	if _, ok, _ := sessions.GetUserIDByToken("not-a-jwt"); ok {
		t.Fatalf("expected garbage token to be rejected")
	}
}

func TestJWTSessionStoreRejectsExpired(t *testing.T) {
	sessions, err := NewJWTSessionStore(testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	sessions.ttl = -time.Minute // issue already-expired tokens
	token, err := sessions.NewSession("alice")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, _ := sessions.GetUserIDByToken(token); ok {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestJWTSessionStoreSecretLength(t *testing.T) {
	if _, err := NewJWTSessionStore(strings.Repeat("x", 16), time.Hour); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}
