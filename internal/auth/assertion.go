package auth

import (
	"context"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // x5t is defined as the SHA-1 thumbprint
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ClientAssertion produces the signed assertion a confidential client presents
// instead of a secret.
type ClientAssertion interface {
	Assertion(ctx context.Context, audience string) (string, error)
}

const assertionLifetime = 10 * time.Minute

// CertificateAssertion signs RS256 JWTs with a certificate's private key.
type CertificateAssertion struct {
	clientID   string
	key        *rsa.PrivateKey
	thumbprint string
	now        func() time.Time
}

func NewCertificateAssertion(clientID string, certPEM []byte, keyPEM []byte) (*CertificateAssertion, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, fmt.Errorf("client id is required")
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil || certBlock.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("certificate PEM block not found")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	sum := sha1.Sum(cert.Raw) //nolint:gosec // see import
	return &CertificateAssertion{
		clientID:   clientID,
		key:        key,
		thumbprint: base64.RawURLEncoding.EncodeToString(sum[:]),
		now:        time.Now,
	}, nil
}

// LoadCertificateAssertion reads the certificate and key from PEM files.
func LoadCertificateAssertion(clientID string, certPath string, keyPath string) (*CertificateAssertion, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return NewCertificateAssertion(clientID, certPEM, keyPEM)
}

func (a *CertificateAssertion) Assertion(_ context.Context, audience string) (string, error) {
	now := a.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    a.clientID,
		Subject:   a.clientID,
		Audience:  jwt.ClaimStrings{audience},
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["x5t"] = a.thumbprint

	signed, err := token.SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign client assertion: %w", err)
	}
	return signed, nil
}

// FederatedTokenAssertion presents a token issued by another identity provider,
// re-read from disk on every call because the platform rotates it.
type FederatedTokenAssertion struct {
	path     string
	readFile func(name string) ([]byte, error)
}

func NewFederatedTokenAssertion(path string) (*FederatedTokenAssertion, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("federated token file is required")
	}
	return &FederatedTokenAssertion{path: path, readFile: os.ReadFile}, nil
}

func (a *FederatedTokenAssertion) Assertion(_ context.Context, _ string) (string, error) {
	raw, err := a.readFile(a.path)
	if err != nil {
		return "", fmt.Errorf("failed to read federated token: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", fmt.Errorf("federated token file %q is empty", a.path)
	}
	return token, nil
}
