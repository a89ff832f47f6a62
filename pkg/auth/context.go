// Package auth authenticates API callers from bearer tokens.
package auth

import (
	"context"
	"errors"
)

// ErrNoToken is returned when no credential is present in the context.
var ErrNoToken = errors.New("no token found in context")

// Authenticator validates the token carried by ctx.
type Authenticator interface {
	Authenticate(ctx context.Context) (*UserInfo, error)
}

// UserInfo holds an authenticated caller.
type UserInfo struct {
	UserID   string         `json:"user_id"`
	Email    string         `json:"email,omitempty"`
	Name     string         `json:"name,omitempty"`
	Roles    []string       `json:"roles,omitempty"`
	Claims   map[string]any `json:"claims,omitempty"`
	AuthType string         `json:"auth_type"` // "jwt", "oidc", "apikey"
}

// HasRole checks if the user has a specific role.
func (u *UserInfo) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// contextKey is a private type for context keys.
type contextKey int

const (
	userContextKey contextKey = iota
	tokenContextKey
)

// WithUser adds the authenticated user to the context.
func WithUser(ctx context.Context, u *UserInfo) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

// GetUser retrieves the authenticated user, or nil.
func GetUser(ctx context.Context) *UserInfo {
	if u, ok := ctx.Value(userContextKey).(*UserInfo); ok {
		return u
	}
	return nil
}

// WithToken adds a raw credential to the context.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// GetToken retrieves the raw credential from the context.
func GetToken(ctx context.Context) string {
	if token, ok := ctx.Value(tokenContextKey).(string); ok {
		return token
	}
	return ""
}
