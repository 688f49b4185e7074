// Package auth implements the identity verifier: it turns an inbound
// Authorization header into a stable subject identifier or a typed rejection.
//
// Two failure kinds are kept distinct so handlers can report them precisely:
//   - ErrUnauthenticated: the header is missing or not "Bearer <token>".
//   - ErrInvalidCredential: the token is present but does not verify
//     (malformed, wrong signature, expired, wrong issuer).
//
// Role lookup is intentionally NOT part of this package; it is a separate
// read against the role table, and a missing role never aborts
// authentication.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/credentia/go-verify-gateway/internal/config"
)

// Sentinel errors returned by the verifier.
var (
	// ErrUnauthenticated indicates no usable bearer credential was presented.
	ErrUnauthenticated = errors.New("missing or malformed authorization header")

	// ErrInvalidCredential indicates the presented token failed verification.
	ErrInvalidCredential = errors.New("invalid or expired credential")
)

const bearerPrefix = "Bearer "

// Verifier validates HS256-signed access tokens against a shared secret.
// The zero value is unusable; construct with NewVerifier.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier constructs a Verifier from config. An empty issuer disables
// the issuer claim check.
func NewVerifier(cfg config.AuthConfig) *Verifier {
	return &Verifier{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
	}
}

// ParseBearer extracts the raw token from an Authorization header value.
// It returns ErrUnauthenticated when the header is empty or not of the form
// "Bearer <token>".
func ParseBearer(header string) (string, error) {
	if header == "" {
		return "", ErrUnauthenticated
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", ErrUnauthenticated
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", ErrUnauthenticated
	}
	return token, nil
}

// VerifyToken validates a raw token string and returns the subject id.
// Expiry is enforced; issuer is enforced when configured.
func (v *Verifier) VerifyToken(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidCredential
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidCredential
	}
	return claims.Subject, nil
}

// VerifySubject runs ParseBearer and VerifyToken in one step, mapping an
// Authorization header value to a subject id.
func (v *Verifier) VerifySubject(header string) (string, error) {
	token, err := ParseBearer(header)
	if err != nil {
		return "", err
	}
	return v.VerifyToken(token)
}

// IssueToken mints a signed HS256 token for subjectID valid for ttl. Used by
// tooling and tests; the gateway itself never issues credentials.
func (v *Verifier) IssueToken(subjectID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subjectID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if v.issuer != "" {
		claims.Issuer = v.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
