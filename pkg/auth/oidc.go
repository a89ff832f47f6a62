package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCConfig configures OIDC authentication, e.g. against a Cognito user
// pool whose issuer is https://cognito-idp.<region>.amazonaws.com/<pool id>.
type OIDCConfig struct {
	// Issuer is the OIDC issuer URL.
	Issuer string

	// ClientID is the expected audience. Empty skips the audience check,
	// which Cognito access tokens require since they carry no aud claim.
	ClientID string

	// RoleClaimPath is the path to roles in claims.
	RoleClaimPath string

	// RolePrefix keeps only roles with this prefix, stripped.
	RolePrefix string
}

// tokenVerifier is satisfied by *oidc.IDTokenVerifier.
type tokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// OIDCAuthenticator verifies tokens against the issuer's published keys.
type OIDCAuthenticator struct {
	verifier tokenVerifier
	claims   claimMapper
}

// NewOIDCAuthenticator discovers the issuer and builds a verifier. Discovery
// performs a network round trip bounded by ctx.
func NewOIDCAuthenticator(ctx context.Context, cfg OIDCConfig) (*OIDCAuthenticator, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("OIDC issuer is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discovering OIDC provider: %w", err)
	}
	verifier := provider.Verifier(verifierConfig(cfg))
	return newOIDCAuthenticator(cfg, verifier), nil
}

// NewOIDCAuthenticatorWithKeys builds an authenticator that verifies against
// a fixed key set instead of discovery.
func NewOIDCAuthenticatorWithKeys(cfg OIDCConfig, keys oidc.KeySet) (*OIDCAuthenticator, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("OIDC issuer is required")
	}
	return newOIDCAuthenticator(cfg, oidc.NewVerifier(cfg.Issuer, keys, verifierConfig(cfg))), nil
}

func verifierConfig(cfg OIDCConfig) *oidc.Config {
	return &oidc.Config{
		ClientID:          cfg.ClientID,
		SkipClientIDCheck: cfg.ClientID == "",
	}
}

func newOIDCAuthenticator(cfg OIDCConfig, verifier tokenVerifier) *OIDCAuthenticator {
	return &OIDCAuthenticator{verifier: verifier, claims: newClaimMapper(cfg.RoleClaimPath, cfg.RolePrefix)}
}

// Authenticate validates the token and returns user info.
func (a *OIDCAuthenticator) Authenticate(ctx context.Context) (*UserInfo, error) {
	token := GetToken(ctx)
	if token == "" {
		return nil, ErrNoToken
	}

	idToken, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parsing claims: %w", err)
	}

	u, err := a.claims.userInfo(claims, "oidc")
	if err != nil {
		return nil, fmt.Errorf("mapping claims: %w", err)
	}
	return u, nil
}

// Verify interface compliance.
var _ Authenticator = (*OIDCAuthenticator)(nil)
