package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kursadbilgin/notification-dispatch/internal/config"
	"github.com/kursadbilgin/notification-dispatch/internal/observability"
	"github.com/kursadbilgin/notification-dispatch/internal/queue"
)

func TestNewTokenProvider(t *testing.T) {
	t.Parallel()

	tokenFile := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenFile, []byte("federated-token"), 0o600); err != nil {
		t.Fatalf("os.WriteFile() error = %v", err)
	}

	tests := []struct {
		name    string
		cfg     config.Config
		wantNil bool
		wantErr bool
	}{
		{
			name:    "none uses basic auth",
			cfg:     config.Config{AuthMode: config.AuthModeNone},
			wantNil: true,
		},
		{
			name: "managed identity",
			cfg: config.Config{
				AuthMode:                    config.AuthModeManaged,
				AuthClientID:                "client-1",
				AuthManagedIdentityEndpoint: "http://169.254.169.254/metadata/identity/oauth2/token",
			},
		},
		{
			name: "federated token",
			cfg: config.Config{
				AuthMode:               config.AuthModeFederated,
				AuthAuthorityHost:      "https://login.microsoftonline.com",
				AuthTenantID:           "tenant-1",
				AuthClientID:           "client-1",
				AuthFederatedTokenFile: tokenFile,
			},
		},
		{
			name: "certificate files missing",
			cfg: config.Config{
				AuthMode:            config.AuthModeCertificate,
				AuthAuthorityHost:   "https://login.microsoftonline.com",
				AuthTenantID:        "tenant-1",
				AuthClientID:        "client-1",
				AuthCertificatePath: filepath.Join(t.TempDir(), "missing.pem"),
				AuthPrivateKeyPath:  filepath.Join(t.TempDir(), "missing.key"),
			},
			wantErr: true,
		},
		{
			name:    "unsupported mode",
			cfg:     config.Config{AuthMode: "kerberos"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := tt.cfg
			tokens, err := NewTokenProvider(&cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewTokenProvider() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewTokenProvider() error = %v", err)
			}
			if (tokens == nil) != tt.wantNil {
				t.Fatalf("NewTokenProvider() = %v, want nil %v", tokens, tt.wantNil)
			}
		})
	}
}

func TestOpenStores(t *testing.T) {
	t.Parallel()

	stores, err := OpenStores(&config.Config{TableStoreDriver: config.TableStoreMemory})
	if err != nil {
		t.Fatalf("OpenStores(memory) error = %v", err)
	}
	if stores.DB != nil || stores.Tables == nil || stores.Blobs == nil {
		t.Fatalf("OpenStores(memory) = %+v, want memory tables and blobs without db", stores)
	}

	if _, err := OpenStores(&config.Config{TableStoreDriver: "cosmos"}); err == nil {
		t.Fatal("OpenStores(cosmos) error = nil, want unsupported driver")
	}
}

func TestHTTPAppSubmitAndRead(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{TableStoreDriver: config.TableStoreMemory, ChunkSize: 4}
	stores, err := OpenStores(cfg)
	if err != nil {
		t.Fatalf("OpenStores() error = %v", err)
	}

	publisher := &recordingPublisher{}
	metrics := observability.NewMetrics()
	services, err := BuildServices(cfg, stores, rdb, publisher, metrics, zap.NewNop())
	if err != nil {
		t.Fatalf("BuildServices() error = %v", err)
	}

	app, err := NewHTTPApp(services.Notifications, metrics, nil, rdb, zap.NewNop())
	if err != nil {
		t.Fatalf("NewHTTPApp() error = %v", err)
	}

	body := `{"notifications":[{"notificationId":"n-1","subject":"Welcome","to":["a@contoso.com"],"body":"PGI+aGk8L2I+"}]}`
	resp, respBody := doRequest(t, app, http.MethodPost, "/v1/email/notifications?application=billing", body)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("submit status = %d, want 202, body=%s", resp.StatusCode, string(respBody))
	}
	if got := publisher.count(); got != 1 {
		t.Fatalf("enqueued messages = %d, want 1", got)
	}
	var submitted struct {
		Notifications []struct {
			ETag         string    `json:"etag"`
			LastModified time.Time `json:"lastModified"`
		} `json:"notifications"`
	}
	if err := json.Unmarshal(respBody, &submitted); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(submitted.Notifications) != 1 || submitted.Notifications[0].ETag == "" || submitted.Notifications[0].LastModified.IsZero() {
		t.Fatalf("submit response = %s, want the stored etag and lastModified", string(respBody))
	}

	resp, respBody = doRequest(t, app, http.MethodGet, "/v1/email/notifications/n-1?application=billing", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("get status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}
	var got map[string]any
	if err := json.Unmarshal(respBody, &got); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if got["status"] != "Queued" {
		t.Fatalf("status = %v, want Queued", got["status"])
	}
	if got["body"] != "PGI+aGk8L2I+" {
		t.Fatalf("body = %v, want rehydrated content", got["body"])
	}
	if name, _ := got["bodyBlobName"].(string); !strings.HasPrefix(name, "billing/n-1/") {
		t.Fatalf("bodyBlobName = %v, want a billing/n-1/ version", got["bodyBlobName"])
	}

	resp, _ = doRequest(t, app, http.MethodGet, "/v1/email/notifications/missing?application=billing", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", resp.StatusCode)
	}

	resp, respBody = doRequest(t, app, http.MethodGet, "/readyz", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("readyz status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}

	resp, respBody = doRequest(t, app, http.MethodGet, "/metrics", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("metrics status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(respBody), `notification_dispatch_notifications_created_total{type="email"} 1`) {
		t.Fatalf("metrics body missing created counter:\n%s", string(respBody))
	}
	if !strings.Contains(string(respBody), `notification_dispatch_chunk_transactions_total{result="ok",table="emailhistory"} 1`) {
		t.Fatalf("metrics body missing chunk transaction counter:\n%s", string(respBody))
	}
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []queue.DeliveryMessage
}

func (p *recordingPublisher) Enqueue(_ context.Context, msgs []queue.DeliveryMessage, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func doRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()
	return resp, respBody
}
