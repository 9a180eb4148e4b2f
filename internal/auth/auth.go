// Package auth turns bearer tokens into ledger caller identities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/custody/pkg/ledger"
	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "bearer "

var (
	ErrMissingToken      = errors.New("missing bearer token")
	ErrInvalidToken      = errors.New("invalid bearer token")
	ErrInvalidAuthConfig = errors.New("invalid auth config")
	errUnexpectedSubject = errors.New("token subject is empty")
	errUnexpectedSigning = errors.New("unexpected signing method")
)

// Claims carries the caller identity in the registered subject claim.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens issued by a single issuer.
type Verifier struct {
	signingKey []byte
	issuer     string
	nowFn      func() time.Time
}

// NewVerifier returns a Verifier. now may be nil.
func NewVerifier(signingKey string, issuer string, now func() time.Time) (*Verifier, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("%w: signing key is required", ErrInvalidAuthConfig)
	}
	if strings.TrimSpace(issuer) == "" {
		return nil, fmt.Errorf("%w: issuer is required", ErrInvalidAuthConfig)
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{signingKey: []byte(signingKey), issuer: strings.TrimSpace(issuer), nowFn: now}, nil
}

// IdentityFromHeader parses an "Authorization: Bearer <token>" value.
func (verifier *Verifier) IdentityFromHeader(header string) (ledger.Identity, error) {
	trimmed := strings.TrimSpace(header)
	if len(trimmed) <= len(bearerPrefix) || !strings.EqualFold(trimmed[:len(bearerPrefix)], bearerPrefix) {
		return ledger.Identity{}, ErrMissingToken
	}
	return verifier.Identity(strings.TrimSpace(trimmed[len(bearerPrefix):]))
}

// Identity verifies rawToken and returns its subject.
func (verifier *Verifier) Identity(rawToken string) (ledger.Identity, error) {
	if strings.TrimSpace(rawToken) == "" {
		return ledger.Identity{}, ErrMissingToken
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: %v", errUnexpectedSigning, token.Header["alg"])
		}
		return verifier.signingKey, nil
	},
		jwt.WithIssuer(verifier.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(verifier.nowFn),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return ledger.Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return ledger.Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, errUnexpectedSubject)
	}
	identity, err := ledger.NewIdentity(claims.Subject)
	if err != nil {
		return ledger.Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return identity, nil
}

// Issue signs a token for subject valid for ttl. It backs tooling and tests.
func (verifier *Verifier) Issue(subject string, ttl time.Duration) (string, error) {
	now := verifier.nowFn().UTC()
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    verifier.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(verifier.signingKey)
}

type identityKey struct{}

// WithIdentity stores the authenticated caller in ctx.
func WithIdentity(ctx context.Context, identity ledger.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the authenticated caller, if any.
func IdentityFromContext(ctx context.Context) (ledger.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(ledger.Identity)
	return identity, ok && !identity.IsZero()
}
