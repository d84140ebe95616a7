package identity

import (
	"testing"
	"time"
)

func TestSignAndParseRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	actor := Actor{UserID: 42, IsAdmin: true}

	token, err := Sign(secret, actor, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	parsed, err := Parse(secret, token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != actor {
		t.Fatalf("round trip mismatch: %+v != %+v", parsed, actor)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := Sign([]byte("secret-a"), Actor{UserID: 42}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := Parse([]byte("secret-b"), token); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Sign(secret, Actor{UserID: 42}, -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := Parse(secret, token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("test-secret"), "not-a-token"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}
