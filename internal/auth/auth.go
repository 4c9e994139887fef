// Package auth acquires OAuth bearer tokens for outbound mail delivery.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TokenProvider returns a bearer token valid for resource.
type TokenProvider interface {
	GetBearerToken(ctx context.Context, resource string) (string, error)
}

const (
	defaultTokenTimeout = 10 * time.Second
	// expirySkew renews tokens this long before they actually expire.
	expirySkew = 2 * time.Minute
)

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

type tokenCache struct {
	mu     sync.Mutex
	tokens map[string]cachedToken
	now    func() time.Time
}

func newTokenCache(now func() time.Time) *tokenCache {
	if now == nil {
		now = time.Now
	}
	return &tokenCache{tokens: make(map[string]cachedToken), now: now}
}

func (c *tokenCache) get(resource string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	token, ok := c.tokens[resource]
	if !ok || !c.now().Add(expirySkew).Before(token.expiresAt) {
		return "", false
	}
	return token.accessToken, true
}

func (c *tokenCache) put(resource string, accessToken string, expiresIn time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[resource] = cachedToken{accessToken: accessToken, expiresAt: c.now().Add(expiresIn)}
}

// seconds decodes a lifetime sent either as a JSON number or a numeric string.
type seconds int64

func (s *seconds) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*s = 0
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid token lifetime %q: %w", raw, err)
	}
	*s = seconds(n)
	return nil
}

type tokenResponse struct {
	AccessToken string  `json:"access_token"`
	TokenType   string  `json:"token_type"`
	ExpiresIn   seconds `json:"expires_in"`
}

func decodeTokenResponse(body []byte) (string, time.Duration, error) {
	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", 0, fmt.Errorf("failed to decode token response: %w", err)
	}
	if strings.TrimSpace(resp.AccessToken) == "" {
		return "", 0, fmt.Errorf("token response has no access_token")
	}
	return resp.AccessToken, time.Duration(resp.ExpiresIn) * time.Second, nil
}

func errorBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512]
	}
	return text
}
