package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/credentia/go-verify-gateway/internal/config"
)

func newTestVerifier(issuer string) *Verifier {
	return NewVerifier(config.AuthConfig{JWTSecret: "test-secret-key-0123456789abcdef", Issuer: issuer})
}

func TestParseBearer(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"empty", "", "", true},
		{"no scheme", "abc.def.ghi", "", true},
		{"wrong scheme", "Basic abc", "", true},
		{"lowercase scheme", "bearer abc", "", true},
		{"scheme only", "Bearer ", "", true},
		{"valid", "Bearer abc.def.ghi", "abc.def.ghi", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseBearer(tc.header)
			if tc.wantErr {
				if !errors.Is(err, ErrUnauthenticated) {
					t.Fatalf("err = %v, want ErrUnauthenticated", err)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("got %q err %v, want %q", got, err, tc.want)
			}
		})
	}
}

func TestVerifySubject_ValidToken(t *testing.T) {
	v := newTestVerifier("")
	tok, err := v.IssueToken("sub-123", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	sub, err := v.VerifySubject("Bearer " + tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sub != "sub-123" {
		t.Fatalf("subject = %q, want sub-123", sub)
	}
}

func TestVerifyToken_Garbage(t *testing.T) {
	v := newTestVerifier("")
	if _, err := v.VerifyToken("not-a-jwt"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("err = %v, want ErrInvalidCredential", err)
	}
}

func TestVerifyToken_Expired(t *testing.T) {
	v := newTestVerifier("")
	tok, err := v.IssueToken("sub-123", -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := v.VerifyToken(tok); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("err = %v, want ErrInvalidCredential", err)
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	other := NewVerifier(config.AuthConfig{JWTSecret: "a-completely-different-secret-key"})
	tok, err := other.IssueToken("sub-123", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	v := newTestVerifier("")
	if _, err := v.VerifyToken(tok); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("err = %v, want ErrInvalidCredential", err)
	}
}

func TestVerifyToken_IssuerEnforcedWhenConfigured(t *testing.T) {
	v := newTestVerifier("verify-gateway")

	good, err := v.IssueToken("sub-123", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := v.VerifyToken(good); err != nil {
		t.Fatalf("matching issuer rejected: %v", err)
	}

	// Same secret, wrong issuer claim.
	bad := NewVerifier(config.AuthConfig{JWTSecret: "test-secret-key-0123456789abcdef", Issuer: "someone-else"})
	tok, err := bad.IssueToken("sub-123", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := v.VerifyToken(tok); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("err = %v, want ErrInvalidCredential", err)
	}
}

func TestVerifyToken_RejectsUnsignedAlg(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   "sub-123",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	v := newTestVerifier("")
	if _, err := v.VerifyToken(tok); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("err = %v, want ErrInvalidCredential", err)
	}
}

func TestVerifyToken_MissingSubject(t *testing.T) {
	v := newTestVerifier("")
	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-key-0123456789abcdef"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.VerifyToken(tok); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("err = %v, want ErrInvalidCredential", err)
	}
}

func TestVerifyToken_MissingExpiry(t *testing.T) {
	v := newTestVerifier("")
	claims := jwt.RegisteredClaims{Subject: "sub-123"}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-key-0123456789abcdef"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.VerifyToken(tok); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("err = %v, want ErrInvalidCredential", err)
	}
}
