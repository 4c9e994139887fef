package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	TableStorePostgres = "postgres"
	TableStoreMemory   = "memory"

	AuthModeNone        = "none"
	AuthModeCertificate = "certificate"
	AuthModeFederated   = "federated"
	AuthModeManaged     = "managed"
)

type Config struct {
	TableStoreDriver string `env:"TABLE_STORE_DRIVER,default=postgres"`
	DatabaseDSN      string `env:"DATABASE_DSN"`
	DBMaxOpenConns   int    `env:"DB_MAX_OPEN_CONNS,default=20"`
	DBMaxIdleConns   int    `env:"DB_MAX_IDLE_CONNS,default=10"`
	DBConnMaxLifeSec int    `env:"DB_CONN_MAX_LIFETIME_SEC,default=1800"`
	RabbitMQURL      string `env:"RABBITMQ_URL,required=true"`
	RedisURL         string `env:"REDIS_URL,required=true"`

	SMTPHost     string `env:"SMTP_HOST,required=true"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	AuthMode                    string `env:"AUTH_MODE,default=none"`
	AuthAuthorityHost           string `env:"AUTH_AUTHORITY_HOST,default=https://login.microsoftonline.com"`
	AuthTenantID                string `env:"AUTH_TENANT_ID"`
	AuthClientID                string `env:"AUTH_CLIENT_ID"`
	AuthCertificatePath         string `env:"AUTH_CERTIFICATE_PATH"`
	AuthPrivateKeyPath          string `env:"AUTH_PRIVATE_KEY_PATH"`
	AuthFederatedTokenFile      string `env:"AUTH_FEDERATED_TOKEN_FILE"`
	AuthManagedIdentityEndpoint string `env:"AUTH_MANAGED_IDENTITY_ENDPOINT"`
	MailResource                string `env:"MAIL_RESOURCE,default=https://outlook.office365.com"`

	FakeMailApplications  string `env:"FAKE_MAIL_APPLICATIONS"`
	MaxRetries            int    `env:"MAX_RETRIES,default=5"`
	ChunkSize             int    `env:"CHUNK_SIZE,default=4"`
	InvertedUpdatedBounds bool   `env:"INVERTED_UPDATED_BOUNDS,default=false"`
	RateLimitPerSec       int    `env:"RATE_LIMIT_PER_SEC,default=30"`
	RateLimitAccounts     string `env:"RATE_LIMIT_ACCOUNTS"`
	WorkerConcurrency     int    `env:"WORKER_CONCURRENCY,default=16"`
	WorkerPrefetch        int    `env:"WORKER_PREFETCH,default=10"`
	RetryScanIntervalSec  int    `env:"RETRY_SCAN_INTERVAL_SEC,default=30"`
	RetryScanStaleSec     int    `env:"RETRY_SCAN_STALE_SEC,default=300"`
	RetryScanLookbackHrs  int    `env:"RETRY_SCAN_LOOKBACK_HOURS,default=24"`
	StrandedLookbackHrs   int    `env:"RETRY_SCAN_STRANDED_LOOKBACK_HOURS,default=168"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first when present; variables already set win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.TableStoreDriver = strings.ToLower(strings.TrimSpace(c.TableStoreDriver))
	switch c.TableStoreDriver {
	case TableStorePostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("DATABASE_DSN is required for the %s table store", TableStorePostgres)
		}
	case TableStoreMemory:
	default:
		return fmt.Errorf("unsupported TABLE_STORE_DRIVER %q", c.TableStoreDriver)
	}

	c.AuthMode = strings.ToLower(strings.TrimSpace(c.AuthMode))
	switch c.AuthMode {
	case AuthModeNone, AuthModeManaged:
	case AuthModeCertificate:
		if c.AuthTenantID == "" || c.AuthClientID == "" || c.AuthCertificatePath == "" || c.AuthPrivateKeyPath == "" {
			return fmt.Errorf("AUTH_TENANT_ID, AUTH_CLIENT_ID, AUTH_CERTIFICATE_PATH and AUTH_PRIVATE_KEY_PATH are required for certificate auth")
		}
	case AuthModeFederated:
		if c.AuthTenantID == "" || c.AuthClientID == "" || c.AuthFederatedTokenFile == "" {
			return fmt.Errorf("AUTH_TENANT_ID, AUTH_CLIENT_ID and AUTH_FEDERATED_TOKEN_FILE are required for federated auth")
		}
	default:
		return fmt.Errorf("unsupported AUTH_MODE %q", c.AuthMode)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive")
	}
	return nil
}

// FakeMailApplicationList splits FAKE_MAIL_APPLICATIONS on commas.
func (c *Config) FakeMailApplicationList() []string {
	var apps []string
	for _, app := range strings.Split(c.FakeMailApplications, ",") {
		if app = strings.TrimSpace(app); app != "" {
			apps = append(apps, app)
		}
	}
	return apps
}

func (c *Config) DBConnMaxLifetime() time.Duration {
	return time.Duration(c.DBConnMaxLifeSec) * time.Second
}

func (c *Config) RetryScanInterval() time.Duration {
	return time.Duration(c.RetryScanIntervalSec) * time.Second
}

func (c *Config) RetryScanStaleAfter() time.Duration {
	return time.Duration(c.RetryScanStaleSec) * time.Second
}

func (c *Config) RetryScanLookback() time.Duration {
	return time.Duration(c.RetryScanLookbackHrs) * time.Hour
}

func (c *Config) StrandedLookback() time.Duration {
	return time.Duration(c.StrandedLookbackHrs) * time.Hour
}
