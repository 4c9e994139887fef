package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultManagedIdentityEndpoint = "http://169.254.169.254/metadata/identity/oauth2/token"
	managedIdentityAPIVersion      = "2018-02-01"
)

var _ TokenProvider = (*ManagedIdentityProvider)(nil)

// ManagedIdentityProvider asks the host's instance metadata endpoint for tokens.
type ManagedIdentityProvider struct {
	client   *resty.Client
	endpoint string
	clientID string
	cache    *tokenCache
}

// NewManagedIdentityProvider uses the system identity when clientID is empty.
func NewManagedIdentityProvider(endpoint string, clientID string, client *resty.Client) *ManagedIdentityProvider {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultManagedIdentityEndpoint
	}
	if client == nil {
		client = resty.New()
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultTokenTimeout)
	}

	return &ManagedIdentityProvider{
		client:   client,
		endpoint: endpoint,
		clientID: strings.TrimSpace(clientID),
		cache:    newTokenCache(time.Now),
	}
}

func (p *ManagedIdentityProvider) GetBearerToken(ctx context.Context, resource string) (string, error) {
	if token, ok := p.cache.get(resource); ok {
		return token, nil
	}

	query := map[string]string{
		"api-version": managedIdentityAPIVersion,
		"resource":    strings.TrimSuffix(strings.TrimSpace(resource), "/.default"),
	}
	if p.clientID != "" {
		query["client_id"] = p.clientID
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Metadata", "true").
		SetQueryParams(query).
		Get(p.endpoint)
	if err != nil {
		return "", fmt.Errorf("managed identity request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("managed identity endpoint returned status %d: %s", resp.StatusCode(), errorBody(resp.Body()))
	}

	token, lifetime, err := decodeTokenResponse(resp.Body())
	if err != nil {
		return "", err
	}
	p.cache.put(resource, token, lifetime)
	return token, nil
}
