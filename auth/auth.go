// Package auth obtains bearer tokens for the backend APIs with the OAuth2
// client credentials flow.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientCred caches a client credentials token and refreshes it when it
// expires. It is safe for concurrent use.
type ClientCred struct {
	conf clientcredentials.Config

	mu    sync.Mutex
	token *oauth2.Token
}

func NewClientCred(conf Conf) *ClientCred {
	return &ClientCred{
		conf: conf.toOauth2Config(),
	}
}

// GetToken retrieves a valid access token. If the current token is valid, it returns the existing token.
// Otherwise, it requests a new token using the client credentials configuration.
func (c *ClientCred) GetToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != nil && c.token.Valid() {
		return c.token.AccessToken, nil
	}
	if err := c.getTokenLocked(ctx); err != nil {
		return "", err
	}
	return c.token.AccessToken, nil
}

func (c *ClientCred) getTokenLocked(ctx context.Context) error {
	tok, err := c.conf.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get token: %w", err)
	}
	c.token = tok
	return nil
}

// ForceRefresh discards the cached token and requests a new one. Callers use
// it after the API rejected a token that still looked valid locally.
func (c *ClientCred) ForceRefresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.getTokenLocked(ctx); err != nil {
		return "", err
	}
	return c.token.AccessToken, nil
}

// SetAuthHeader sets the Authorization header of r, fetching a token first
// when needed. The request context bounds the token request.
func (c *ClientCred) SetAuthHeader(r *http.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil || !c.token.Valid() {
		if err := c.getTokenLocked(r.Context()); err != nil {
			return err
		}
	}
	c.token.SetAuthHeader(r)
	return nil
}
