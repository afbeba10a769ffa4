package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestInspect(t *testing.T) {
	exp := time.Now().Add(5 * time.Minute).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"token_type": "access",
		"user_id":    42,
		"exp":        exp.Unix(),
		"iat":        time.Now().Unix(),
	}).SignedString([]byte("unknown-to-the-client"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := Inspect(token)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if claims.UserID != "42" {
		t.Fatalf("expected user id 42, got %q", claims.UserID)
	}
	if claims.TokenType != "access" {
		t.Fatalf("expected access token type, got %q", claims.TokenType)
	}
	if !claims.ExpiresAt.Equal(exp.UTC()) {
		t.Fatalf("expected expiry %s, got %s", exp.UTC(), claims.ExpiresAt)
	}
	if claims.Expired(time.Now()) {
		t.Fatalf("token should not be expired yet")
	}
	if !claims.Expired(exp.Add(time.Second)) {
		t.Fatalf("token should be expired after exp")
	}
}

func TestInspectRejectsGarbage(t *testing.T) {
	if _, err := Inspect("not-a-jwt"); err == nil {
		t.Fatalf("expected decode error")
	}
}
