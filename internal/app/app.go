package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kursadbilgin/notification-dispatch/internal/auth"
	"github.com/kursadbilgin/notification-dispatch/internal/blob"
	"github.com/kursadbilgin/notification-dispatch/internal/config"
	"github.com/kursadbilgin/notification-dispatch/internal/eventstore"
	"github.com/kursadbilgin/notification-dispatch/internal/handler"
	"github.com/kursadbilgin/notification-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/notification-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/notification-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/notification-dispatch/internal/observability"
	"github.com/kursadbilgin/notification-dispatch/internal/predicate"
	"github.com/kursadbilgin/notification-dispatch/internal/provider"
	"github.com/kursadbilgin/notification-dispatch/internal/queue"
	"github.com/kursadbilgin/notification-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/notification-dispatch/internal/repository"
	"github.com/kursadbilgin/notification-dispatch/internal/service"
	"github.com/kursadbilgin/notification-dispatch/internal/tablestore"
	"github.com/kursadbilgin/notification-dispatch/internal/transport"
)

const tokenRequestTimeout = 10 * time.Second

// Stores bundles the persistence backends selected by TABLE_STORE_DRIVER.
// DB is nil for the memory driver.
type Stores struct {
	DB     *gorm.DB
	Tables tablestore.Store
	Blobs  blob.Store
}

// Services is the wired service graph shared by the api and worker binaries.
type Services struct {
	Lifecycle     *service.LifecycleEngine
	History       *service.HistoryEngine
	Notifications *service.NotificationService
}

// Runtime owns every external connection of a process and closes them in
// reverse order of opening.
type Runtime struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Stores    Stores
	Redis     *redis.Client
	RabbitMQ  *queue.RabbitMQ
	Publisher *queue.RabbitMQPublisher
	Services  *Services

	closers []func() error
}

// New loads configuration and opens the stores, Redis and RabbitMQ.
func New(ctx context.Context, component string) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(cfg.LogLevel, component)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	rt := &Runtime{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}
	if err := rt.open(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) open(ctx context.Context) error {
	cfg := rt.Config

	stores, err := OpenStores(cfg)
	if err != nil {
		return err
	}
	rt.Stores = stores
	if stores.DB != nil {
		sqlDB, err := stores.DB.DB()
		if err != nil {
			return fmt.Errorf("postgres underlying db init failed: %w", err)
		}
		rt.closers = append(rt.closers, sqlDB.Close)
	}

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	rt.Redis = rdb
	rt.closers = append(rt.closers, rdb.Close)

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	rt.RabbitMQ = mq
	rt.closers = append(rt.closers, mq.Close)
	rt.Publisher = queue.NewRabbitMQPublisher(mq)

	services, err := BuildServices(cfg, stores, rdb, rt.Publisher, rt.Metrics, rt.Logger)
	if err != nil {
		return err
	}
	rt.Services = services

	return nil
}

// Close releases every connection opened by New.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.Logger.Warn("failed to close dependency", zap.Error(err))
		}
	}
	rt.closers = nil
	_ = rt.Logger.Sync()
}

// SQLDB returns the postgres handle for readiness checks, or nil for the memory driver.
func (rt *Runtime) SQLDB() *sql.DB {
	if rt.Stores.DB == nil {
		return nil
	}
	sqlDB, err := rt.Stores.DB.DB()
	if err != nil {
		return nil
	}
	return sqlDB
}

// OpenStores opens the table and blob stores for the configured driver and
// applies migrations for postgres.
func OpenStores(cfg *config.Config) (Stores, error) {
	switch cfg.TableStoreDriver {
	case config.TableStoreMemory:
		return Stores{Tables: tablestore.NewMemoryStore(), Blobs: blob.NewMemoryStore()}, nil
	case config.TableStorePostgres:
		db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime(),
		})
		if err != nil {
			return Stores{}, fmt.Errorf("postgres initialization failed: %w", err)
		}
		if err := migrations.Migrate(db); err != nil {
			return Stores{}, fmt.Errorf("database migrations failed: %w", err)
		}
		return Stores{DB: db, Tables: tablestore.NewGormStore(db), Blobs: blob.NewGormStore(db)}, nil
	default:
		return Stores{}, fmt.Errorf("unsupported table store driver %q", cfg.TableStoreDriver)
	}
}

// BuildServices wires the lifecycle, history and submission services over the given
// backends. metrics may be nil.
func BuildServices(
	cfg *config.Config,
	stores Stores,
	rdb *redis.Client,
	publisher queue.Publisher,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Services, error) {
	writer := repository.NewBatchWriter(cfg.ChunkSize, logger)
	writer.SetMetrics(metrics)
	repo := repository.NewTableNotificationRepo(stores.Tables, writer)

	events, err := eventstore.NewRedisContainer(rdb)
	if err != nil {
		return nil, fmt.Errorf("event store initialization failed: %w", err)
	}

	attachments, err := service.NewAttachmentOffloader(stores.Blobs, logger)
	if err != nil {
		return nil, err
	}

	lifecycle, err := service.NewLifecycleEngine(repo, events, attachments, logger)
	if err != nil {
		return nil, err
	}

	history, err := service.NewHistoryEngine(repo, predicate.ComposeOptions{
		InvertedUpdatedBounds: cfg.InvertedUpdatedBounds,
	}, logger)
	if err != nil {
		return nil, err
	}

	notifications, err := service.NewNotificationService(lifecycle, history, publisher, logger)
	if err != nil {
		return nil, err
	}

	notifications.SetMetrics(metrics)

	return &Services{Lifecycle: lifecycle, History: history, Notifications: notifications}, nil
}

// NewTokenProvider builds the OAuth token source for AUTH_MODE. It returns nil
// for AuthModeNone, in which case SMTP uses basic authentication.
func NewTokenProvider(cfg *config.Config) (auth.TokenProvider, error) {
	client := resty.New().SetTimeout(tokenRequestTimeout)

	switch cfg.AuthMode {
	case config.AuthModeNone:
		return nil, nil
	case config.AuthModeCertificate:
		assertion, err := auth.LoadCertificateAssertion(cfg.AuthClientID, cfg.AuthCertificatePath, cfg.AuthPrivateKeyPath)
		if err != nil {
			return nil, err
		}
		return auth.NewClientCredentialsProvider(
			auth.TokenURL(cfg.AuthAuthorityHost, cfg.AuthTenantID), cfg.AuthClientID, assertion, client,
		)
	case config.AuthModeFederated:
		assertion, err := auth.NewFederatedTokenAssertion(cfg.AuthFederatedTokenFile)
		if err != nil {
			return nil, err
		}
		return auth.NewClientCredentialsProvider(
			auth.TokenURL(cfg.AuthAuthorityHost, cfg.AuthTenantID), cfg.AuthClientID, assertion, client,
		)
	case config.AuthModeManaged:
		return auth.NewManagedIdentityProvider(cfg.AuthManagedIdentityEndpoint, cfg.AuthClientID, client), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

// NewWorker wires the delivery worker: RabbitMQ consumer, SMTP provider and
// the Redis per-account rate limiter.
func (rt *Runtime) NewWorker() (*service.WorkerService, error) {
	cfg := rt.Config

	tokens, err := NewTokenProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("token provider initialization failed: %w", err)
	}

	smtpProvider, err := provider.NewSMTPProvider(provider.SMTPConfig{
		Host:          cfg.SMTPHost,
		Port:          cfg.SMTPPort,
		Username:      cfg.SMTPUsername,
		Password:      cfg.SMTPPassword,
		DefaultFrom:   cfg.SMTPFrom,
		OAuthResource: cfg.MailResource,
	}, tokens)
	if err != nil {
		return nil, fmt.Errorf("smtp provider initialization failed: %w", err)
	}

	accountLimits, err := ratelimit.ParseAccountLimits(cfg.RateLimitAccounts)
	if err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_ACCOUNTS: %w", err)
	}
	limiter, err := infraredis.NewMailboxRateLimiter(rt.Redis, ratelimit.Policy{
		DefaultAccount: cfg.SMTPFrom,
		DefaultLimit:   cfg.RateLimitPerSec,
		AccountLimits:  accountLimits,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	consumer := queue.NewRabbitMQConsumer(rt.RabbitMQ, cfg.WorkerPrefetch, rt.Logger)
	rt.closers = append(rt.closers, consumer.Close)

	worker, err := service.NewWorkerService(
		rt.Services.Lifecycle,
		consumer,
		rt.Publisher,
		smtpProvider,
		limiter,
		service.WorkerOptions{
			Concurrency:          cfg.WorkerConcurrency,
			MaxRetries:           cfg.MaxRetries,
			FakeMailApplications: cfg.FakeMailApplicationList(),
		},
		rt.Logger,
	)
	if err != nil {
		return nil, err
	}
	worker.SetMetrics(rt.Metrics)
	return worker, nil
}

// NewRetryScanner wires the scanner that re-enqueues stuck notifications.
func (rt *Runtime) NewRetryScanner() (*service.RetryScanner, error) {
	cfg := rt.Config

	scanner, err := service.NewRetryScanner(rt.Services.Lifecycle, rt.Publisher, service.RetryScannerOptions{
		Interval:         cfg.RetryScanInterval(),
		Lookback:         cfg.RetryScanLookback(),
		StaleAfter:       cfg.RetryScanStaleAfter(),
		StrandedLookback: cfg.StrandedLookback(),
		MaxRetries:       cfg.MaxRetries,
	}, rt.Logger)
	if err != nil {
		return nil, err
	}
	scanner.SetMetrics(rt.Metrics)
	return scanner, nil
}

// NewHTTPApp builds the fiber app serving the notification API, health checks and /metrics.
func NewHTTPApp(
	notifications handler.NotificationService,
	metrics *observability.Metrics,
	sqlDB *sql.DB,
	rdb *redis.Client,
	logger *zap.Logger,
) (*fiber.App, error) {
	app := fiber.New(fiber.Config{
		AppName:               "notification-dispatch",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterNotificationRoutes(app, notifications); err != nil {
		return nil, err
	}

	return app, nil
}

// ListenAddr returns the address the API listens on.
func ListenAddr(cfg *config.Config) string {
	return fmt.Sprintf(":%d", cfg.APIPort)
}
