package auth

import (
	"context"
	"errors"
)

// ChainedAuthenticator tries multiple authenticators in order.
type ChainedAuthenticator struct {
	authenticators []Authenticator
}

// NewChainedAuthenticator creates a new chained authenticator.
func NewChainedAuthenticator(authenticators ...Authenticator) *ChainedAuthenticator {
	return &ChainedAuthenticator{authenticators: authenticators}
}

// Authenticate returns the first successful result, or the last error.
func (c *ChainedAuthenticator) Authenticate(ctx context.Context) (*UserInfo, error) {
	if GetToken(ctx) == "" {
		return nil, ErrNoToken
	}

	var lastErr error
	for _, a := range c.authenticators {
		u, err := a.Authenticate(ctx)
		if err == nil && u != nil {
			return u, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("authentication failed")
}

// Len reports how many authenticators are chained.
func (c *ChainedAuthenticator) Len() int { return len(c.authenticators) }

// Verify interface compliance.
var _ Authenticator = (*ChainedAuthenticator)(nil)
