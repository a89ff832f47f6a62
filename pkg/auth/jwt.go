package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures the HMAC JWT authenticator.
type JWTConfig struct {
	// Issuer is the expected iss claim.
	Issuer string

	// SigningKey is the HMAC key used to verify signatures.
	SigningKey []byte

	// RoleClaimPath is the dot-separated path to roles.
	RoleClaimPath string

	// RolePrefix keeps only roles with this prefix, stripped.
	RolePrefix string
}

// JWTAuthenticator validates HMAC-signed tokens issued by this platform.
type JWTAuthenticator struct {
	cfg    JWTConfig
	claims claimMapper
}

// NewJWTAuthenticator creates a new JWT authenticator.
func NewJWTAuthenticator(cfg JWTConfig) (*JWTAuthenticator, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("jwt issuer is required")
	}
	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("jwt signing key is required")
	}

	return &JWTAuthenticator{cfg: cfg, claims: newClaimMapper(cfg.RoleClaimPath, cfg.RolePrefix)}, nil
}

// Authenticate validates the JWT token and returns user info.
func (a *JWTAuthenticator) Authenticate(ctx context.Context) (*UserInfo, error) {
	token := GetToken(ctx)
	if token == "" {
		return nil, ErrNoToken
	}

	claims, err := a.parse(token)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	u, err := a.claims.userInfo(claims, "jwt")
	if err != nil {
		return nil, fmt.Errorf("mapping claims: %w", err)
	}
	return u, nil
}

func (a *JWTAuthenticator) parse(tokenString string) (map[string]any, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.cfg.SigningKey, nil
	}, jwt.WithIssuer(a.cfg.Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Verify interface compliance.
var _ Authenticator = (*JWTAuthenticator)(nil)
