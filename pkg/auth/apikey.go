package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// APIKey is a service credential. Only the bcrypt hash of the key is held.
type APIKey struct {
	Name   string   `yaml:"name"`
	UserID string   `yaml:"user_id"`
	Hash   string   `yaml:"hash"`
	Roles  []string `yaml:"roles"`
}

// APIKeyAuthenticator authenticates service callers by API key.
type APIKeyAuthenticator struct {
	mu   sync.RWMutex
	keys []APIKey
}

// NewAPIKeyAuthenticator creates a new API key authenticator.
func NewAPIKeyAuthenticator(keys ...APIKey) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{keys: append([]APIKey(nil), keys...)}
}

// HashAPIKey returns the bcrypt hash stored for a key.
func HashAPIKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing api key: %w", err)
	}
	return string(h), nil
}

// Authenticate validates the API key and returns user info.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context) (*UserInfo, error) {
	token := GetToken(ctx)
	if token == "" {
		return nil, ErrNoToken
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, k := range a.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(token)) != nil {
			continue
		}
		userID := k.UserID
		if userID == "" {
			userID = "apikey:" + k.Name
		}
		return &UserInfo{
			UserID:   userID,
			Name:     k.Name,
			Roles:    k.Roles,
			Claims:   map[string]any{},
			AuthType: "apikey",
		}, nil
	}
	return nil, errors.New("invalid API key")
}

// AddKey adds an API key at runtime.
func (a *APIKeyAuthenticator) AddKey(key APIKey) {
	a.mu.Lock()
	a.keys = append(a.keys, key)
	a.mu.Unlock()
}

// RemoveKey removes the key with the given name.
func (a *APIKeyAuthenticator) RemoveKey(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.keys[:0]
	for _, k := range a.keys {
		if k.Name != name {
			kept = append(kept, k)
		}
	}
	a.keys = kept
}

// Verify interface compliance.
var _ Authenticator = (*APIKeyAuthenticator)(nil)
