package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/custody/pkg/ledger"
	"github.com/golang-jwt/jwt/v5"
)

func fixedClock() time.Time {
	return time.Unix(1_700_000_000, 0)
}

func mustVerifier(test *testing.T) *Verifier {
	test.Helper()
	verifier, err := NewVerifier("secret-key", "custody", fixedClock)
	if err != nil {
		test.Fatalf("verifier: %v", err)
	}
	return verifier
}

func signClaims(test *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.Claims) string {
	test.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		test.Fatalf("token signing failed: %v", err)
	}
	return signed
}

func TestIdentityFromIssuedToken(test *testing.T) {
	test.Parallel()
	verifier := mustVerifier(test)
	token, err := verifier.Issue("treasurer-1", time.Hour)
	if err != nil {
		test.Fatalf("issue: %v", err)
	}
	identity, err := verifier.IdentityFromHeader("Bearer " + token)
	if err != nil {
		test.Fatalf("identity: %v", err)
	}
	if identity.String() != "treasurer-1" {
		test.Fatalf("unexpected identity %q", identity)
	}
}

func TestRejectedTokens(test *testing.T) {
	test.Parallel()
	verifier := mustVerifier(test)
	now := fixedClock()
	valid := jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "custody",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
	wrongIssuer := valid
	wrongIssuer.Issuer = "someone-else"
	noSubject := valid
	noSubject.Subject = " "
	noExpiry := valid
	noExpiry.ExpiresAt = nil

	testCases := []struct {
		name    string
		header  string
		wantErr error
	}{
		{name: "empty", header: "", wantErr: ErrMissingToken},
		{name: "basic scheme", header: "Basic abc", wantErr: ErrMissingToken},
		{name: "garbage", header: "Bearer not-a-token", wantErr: ErrInvalidToken},
		{name: "wrong key", header: "Bearer " + signClaims(test, jwt.SigningMethodHS256, []byte("other"), valid), wantErr: ErrInvalidToken},
		{name: "expired", header: "Bearer " + signClaims(test, jwt.SigningMethodHS256, []byte("secret-key"), expired), wantErr: ErrInvalidToken},
		{name: "wrong issuer", header: "Bearer " + signClaims(test, jwt.SigningMethodHS256, []byte("secret-key"), wrongIssuer), wantErr: ErrInvalidToken},
		{name: "no subject", header: "Bearer " + signClaims(test, jwt.SigningMethodHS256, []byte("secret-key"), noSubject), wantErr: ErrInvalidToken},
		{name: "no expiry", header: "Bearer " + signClaims(test, jwt.SigningMethodHS256, []byte("secret-key"), noExpiry), wantErr: ErrInvalidToken},
		{name: "hs512", header: "Bearer " + signClaims(test, jwt.SigningMethodHS512, []byte("secret-key"), valid), wantErr: ErrInvalidToken},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if _, err := verifier.IdentityFromHeader(testCase.header); !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestVerifierConfigValidation(test *testing.T) {
	test.Parallel()
	if _, err := NewVerifier("", "custody", nil); !errors.Is(err, ErrInvalidAuthConfig) {
		test.Fatalf("expected ErrInvalidAuthConfig for key, got %v", err)
	}
	if _, err := NewVerifier("secret", " ", nil); !errors.Is(err, ErrInvalidAuthConfig) {
		test.Fatalf("expected ErrInvalidAuthConfig for issuer, got %v", err)
	}
}

func TestIdentityContext(test *testing.T) {
	test.Parallel()
	if _, ok := IdentityFromContext(context.Background()); ok {
		test.Fatalf("expected no identity in empty context")
	}
	identity, err := ledger.NewIdentity("alice")
	if err != nil {
		test.Fatalf("identity: %v", err)
	}
	stored, ok := IdentityFromContext(WithIdentity(context.Background(), identity))
	if !ok || stored != identity {
		test.Fatalf("expected alice, got %q %v", stored, ok)
	}
}
