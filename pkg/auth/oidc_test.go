package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

const testOIDCIssuer = "https://cognito-idp.us-east-1.amazonaws.com/us-east-1_TEST"

func newTestOIDC(t *testing.T, clientID string) (*OIDCAuthenticator, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	a, err := NewOIDCAuthenticatorWithKeys(
		OIDCConfig{Issuer: testOIDCIssuer, ClientID: clientID},
		&oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{key.Public()}},
	)
	if err != nil {
		t.Fatalf("creating authenticator: %v", err)
	}
	return a, key
}

func signRS256(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	return s
}

func TestNewOIDCAuthenticator_RequiresIssuer(t *testing.T) {
	if _, err := NewOIDCAuthenticator(context.Background(), OIDCConfig{}); err == nil {
		t.Error("expected error for missing issuer")
	}
	if _, err := NewOIDCAuthenticatorWithKeys(OIDCConfig{}, &oidc.StaticKeySet{}); err == nil {
		t.Error("expected error for missing issuer")
	}
}

func TestOIDCAuthenticator_Authenticate(t *testing.T) {
	a, key := newTestOIDC(t, "")
	now := time.Now()

	tok := signRS256(t, key, jwt.MapClaims{
		"iss":            testOIDCIssuer,
		"sub":            "cognito-sub-1",
		"email":          "learner@example.com",
		"cognito:groups": []any{"learners"},
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	})

	u, err := a.Authenticate(WithToken(context.Background(), tok))
	if err != nil {
		t.Fatalf("authentication failed: %v", err)
	}
	if u.UserID != "cognito-sub-1" {
		t.Errorf("UserID = %q", u.UserID)
	}
	if u.Email != "learner@example.com" {
		t.Errorf("Email = %q", u.Email)
	}
	if u.AuthType != "oidc" {
		t.Errorf("AuthType = %q, want oidc", u.AuthType)
	}
	if !u.HasRole("learners") {
		t.Errorf("Roles = %v", u.Roles)
	}
}

func TestOIDCAuthenticator_Rejects(t *testing.T) {
	a, key := newTestOIDC(t, "web-client")
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	now := time.Now()
	valid := func() jwt.MapClaims {
		return jwt.MapClaims{
			"iss": testOIDCIssuer, "sub": "s", "aud": "web-client",
			"iat": now.Unix(), "exp": now.Add(time.Hour).Unix(),
		}
	}

	expired := valid()
	expired["exp"] = now.Add(-time.Hour).Unix()
	wrongAud := valid()
	wrongAud["aud"] = "other-client"
	wrongIss := valid()
	wrongIss["iss"] = "https://evil.example.com"

	tests := []struct {
		name string
		tok  string
	}{
		{"expired", signRS256(t, key, expired)},
		{"wrong audience", signRS256(t, key, wrongAud)},
		{"wrong issuer", signRS256(t, key, wrongIss)},
		{"unknown key", signRS256(t, other, valid())},
		{"garbage", "not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.Authenticate(WithToken(context.Background(), tt.tok)); err == nil {
				t.Error("expected authentication error")
			}
		})
	}

	if _, err := a.Authenticate(WithToken(context.Background(), signRS256(t, key, valid()))); err != nil {
		t.Errorf("valid token rejected: %v", err)
	}
}
