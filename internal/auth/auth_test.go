package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hamed0406/uptimesentry/internal/clock"
)

func TestPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "correct horse" {
		t.Fatal("hash must not equal the password")
	}
	if err := CheckPassword(hash, "correct horse"); err != nil {
		t.Fatalf("CheckPassword: %v", err)
	}
	if err := CheckPassword(hash, "wrong horse"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("want ErrInvalidPassword, got %v", err)
	}
}

func TestPassword_TooShort(t *testing.T) {
	if _, err := HashPassword("short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("want ErrWeakPassword, got %v", err)
	}
}

func TestTokens_IssueAndParse(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	tk, err := NewTokens("0123456789abcdef0123", time.Hour, clk)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := tk.Issue("acct-1")
	if err != nil {
		t.Fatal(err)
	}
	id, err := tk.Parse(raw)
	if err != nil || id != "acct-1" {
		t.Fatalf("Parse: %q %v", id, err)
	}

	clk.Advance(time.Hour + time.Second)
	if _, err := tk.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token: want ErrInvalidToken, got %v", err)
	}
}

func TestTokens_RejectsForeignTokens(t *testing.T) {
	tk, _ := NewTokens("0123456789abcdef0123", time.Hour, nil)
	other, _ := NewTokens("another-secret-value-xx", time.Hour, nil)

	raw, _ := other.Issue("acct-1")
	if _, err := tk.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: want ErrInvalidToken, got %v", err)
	}

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject: "acct-1", Issuer: issuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := tk.Parse(none); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("alg=none: want ErrInvalidToken, got %v", err)
	}

	if _, err := tk.Parse("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage: want ErrInvalidToken, got %v", err)
	}
}

func TestNewTokens_ShortSecret(t *testing.T) {
	if _, err := NewTokens("short", time.Hour, nil); err == nil {
		t.Fatal("expected error for short secret")
	}
}
