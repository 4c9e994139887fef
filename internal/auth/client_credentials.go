package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const jwtBearerAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

var (
	_ TokenProvider = (*ClientCredentialsProvider)(nil)
	_ TokenProvider = (*ManagedIdentityProvider)(nil)
)

var _ TokenProvider = (*ClientCredentialsProvider)(nil)

// ClientCredentialsProvider runs the OAuth client credentials grant with a client assertion.
type ClientCredentialsProvider struct {
	client    *resty.Client
	tokenURL  string
	clientID  string
	assertion ClientAssertion
	cache     *tokenCache
}

// TokenURL returns the v2 token endpoint of a tenant on authorityHost.
func TokenURL(authorityHost string, tenantID string) string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimRight(authorityHost, "/"), url.PathEscape(tenantID))
}

func NewClientCredentialsProvider(
	tokenURL string,
	clientID string,
	assertion ClientAssertion,
	client *resty.Client,
) (*ClientCredentialsProvider, error) {
	if _, err := url.ParseRequestURI(strings.TrimSpace(tokenURL)); err != nil {
		return nil, fmt.Errorf("invalid token url: %w", err)
	}
	if strings.TrimSpace(clientID) == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if assertion == nil {
		return nil, fmt.Errorf("client assertion is required")
	}
	if client == nil {
		client = resty.New()
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultTokenTimeout)
	}

	return &ClientCredentialsProvider{
		client:    client,
		tokenURL:  strings.TrimSpace(tokenURL),
		clientID:  clientID,
		assertion: assertion,
		cache:     newTokenCache(time.Now),
	}, nil
}

func (p *ClientCredentialsProvider) GetBearerToken(ctx context.Context, resource string) (string, error) {
	if token, ok := p.cache.get(resource); ok {
		return token, nil
	}

	assertion, err := p.assertion.Assertion(ctx, p.tokenURL)
	if err != nil {
		return "", err
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":            "client_credentials",
			"client_id":             p.clientID,
			"client_assertion_type": jwtBearerAssertionType,
			"client_assertion":      assertion,
			"scope":                 scopeFor(resource),
		}).
		Post(p.tokenURL)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode(), errorBody(resp.Body()))
	}

	token, lifetime, err := decodeTokenResponse(resp.Body())
	if err != nil {
		return "", err
	}
	p.cache.put(resource, token, lifetime)
	return token, nil
}

// scopeFor turns a resource URI into the default scope requested for it.
func scopeFor(resource string) string {
	resource = strings.TrimSpace(resource)
	if strings.HasSuffix(resource, "/.default") {
		return resource
	}
	return strings.TrimRight(resource, "/") + "/.default"
}
