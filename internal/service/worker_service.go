package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/kursadbilgin/notification-dispatch/internal/observability"
	"github.com/kursadbilgin/notification-dispatch/internal/provider"
	"github.com/kursadbilgin/notification-dispatch/internal/queue"
	"github.com/kursadbilgin/notification-dispatch/internal/ratelimit"
)

const (
	minWorkerConcurrency = 1
	defaultMaxRetries    = 5
	maxRetryDelay        = 60 * time.Second
	baseRetryDelay       = time.Second
	maxRetryJitterMillis = 250
)

// WorkerOptions tunes delivery.
type WorkerOptions struct {
	Concurrency int
	MaxRetries  int
	// FakeMailApplications lists applications whose notifications are marked FakeMail
	// instead of being sent.
	FakeMailApplications []string
}

// WorkerService consumes delivery messages and drives each notification through
// Processing to Sent, Retrying or Failed.
type WorkerService struct {
	store        DeliveryStore
	consumer     queue.Consumer
	publisher    queue.Publisher
	provider     provider.Provider
	rateLimiter  ratelimit.RateLimiter
	logger       *zap.Logger
	metrics      *observability.Metrics
	concurrency  int
	maxRetries   int
	fakeMailApps map[string]struct{}
	now          func() time.Time
	randIntn     func(n int) int
}

func NewWorkerService(
	store DeliveryStore,
	consumer queue.Consumer,
	publisher queue.Publisher,
	provider provider.Provider,
	rateLimiter ratelimit.RateLimiter,
	opts WorkerOptions,
	logger *zap.Logger,
) (*WorkerService, error) {
	if store == nil {
		return nil, fmt.Errorf("delivery store is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if opts.Concurrency < minWorkerConcurrency {
		opts.Concurrency = minWorkerConcurrency
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fakeMailApps := make(map[string]struct{}, len(opts.FakeMailApplications))
	for _, app := range opts.FakeMailApplications {
		if app = strings.ToLower(strings.TrimSpace(app)); app != "" {
			fakeMailApps[app] = struct{}{}
		}
	}

	return &WorkerService{
		store:        store,
		consumer:     consumer,
		publisher:    publisher,
		provider:     provider,
		rateLimiter:  rateLimiter,
		logger:       logger,
		concurrency:  opts.Concurrency,
		maxRetries:   opts.MaxRetries,
		fakeMailApps: fakeMailApps,
		now:          time.Now,
		randIntn:     rand.Intn,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes the work queues and processes delivery messages until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := s.consumer.Consume(groupCtx, queueName, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.DeliveryMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	ctx = observability.WithApplication(ctx, msg.Application)
	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("notificationId", msg.NotificationID),
		zap.String("type", msg.Type.String()),
	)

	record, err := s.store.GetOne(ctx, msg.Type, msg.NotificationID, msg.Application)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("notification not found, skipping")
			return nil
		}
		return fmt.Errorf("failed to load notification: %w", err)
	}

	typeName := msg.Type.String()
	s.metrics.IncWorkerInFlight(typeName)
	defer s.metrics.DecWorkerInFlight(typeName)

	if record.Status.IsTerminal() {
		if !msg.Resend {
			logger.Debug("notification already finished, skipping", zap.String("status", record.Status.String()))
			return nil
		}
		return s.resendFinished(ctx, logger, record)
	}

	if record.Status != domain.StatusProcessing {
		if !record.Status.CanTransitionTo(domain.StatusProcessing) {
			logger.Warn("notification cannot be processed from its status, skipping", zap.String("status", record.Status.String()))
			return nil
		}
		record.Status = domain.StatusProcessing
		if err := s.store.Update(ctx, []domain.NotificationRecord{record}); err != nil {
			return fmt.Errorf("failed to mark notification processing: %w", err)
		}
	}

	if s.isFakeMail(record.Application) {
		record.Status = domain.StatusFakeMail
		record.ErrorMessage = nil
		if err := s.store.Update(ctx, []domain.NotificationRecord{record}); err != nil {
			return fmt.Errorf("failed to mark notification fake mail: %w", err)
		}
		logger.Info("notification marked as fake mail")
		return nil
	}

	if err := s.waitForAccount(ctx, record); err != nil {
		return err
	}
	resp, sendErr := s.send(ctx, &record)
	if sendErr == nil {
		record.Status = domain.StatusSent
		if err := s.store.Update(ctx, []domain.NotificationRecord{record}); err != nil {
			return fmt.Errorf("failed to update notification status to sent: %w", err)
		}
		s.metrics.IncNotificationSent(typeName)
		logger.Info("notification sent", zap.String("account", resp.Account), zap.Int("tryCount", record.TryCount))
		return nil
	}

	isTransient := provider.IsTransient(sendErr)
	if isTransient && record.TryCount < s.maxRetries {
		record.Status = domain.StatusRetrying
		if err := s.store.Update(ctx, []domain.NotificationRecord{record}); err != nil {
			return fmt.Errorf("failed to update notification for retry: %w", err)
		}

		delay := s.computeRetryDelay(record.TryCount)
		retry := queue.NewDeliveryMessage(record, msg.CorrelationID, false)
		if err := s.publisher.Enqueue(ctx, []queue.DeliveryMessage{retry}, delay); err != nil {
			logger.Error("failed to enqueue retry, leaving it to the retry scanner", zap.Error(err))
			return nil
		}
		s.metrics.IncRetryScheduled(typeName)
		logger.Warn("notification send failed, retry scheduled",
			zap.Int("tryCount", record.TryCount),
			zap.Duration("delay", delay),
			zap.Error(sendErr),
		)
		return nil
	}

	record.Status = domain.StatusFailed
	if err := s.store.Update(ctx, []domain.NotificationRecord{record}); err != nil {
		return fmt.Errorf("failed to update notification status to failed: %w", err)
	}
	reason := "permanent_error"
	if isTransient {
		reason = "retry_exhausted"
	}
	s.metrics.IncNotificationFailed(typeName, reason)
	logger.Error("notification failed", zap.String("reason", reason), zap.Error(sendErr))
	return nil
}

// resendFinished delivers a notification that already reached a terminal status.
// A successful resend of a Failed notification makes it Sent; otherwise the status is kept.
func (s *WorkerService) resendFinished(ctx context.Context, logger *zap.Logger, record domain.NotificationRecord) error {
	if record.Status == domain.StatusFakeMail || s.isFakeMail(record.Application) {
		logger.Info("resend of fake mail notification skipped")
		return nil
	}

	if err := s.waitForAccount(ctx, record); err != nil {
		return err
	}
	typeName := record.Type.String()
	if _, sendErr := s.send(ctx, &record); sendErr != nil {
		logger.Warn("notification resend failed", zap.Error(sendErr))
		s.metrics.IncNotificationFailed(typeName, "resend_error")
	} else {
		if record.Status == domain.StatusFailed {
			record.Status = domain.StatusSent
		}
		s.metrics.IncNotificationSent(typeName)
		logger.Info("notification resent", zap.String("status", record.Status.String()))
	}

	if err := s.store.Update(ctx, []domain.NotificationRecord{record}); err != nil {
		return fmt.Errorf("failed to update resent notification: %w", err)
	}
	return nil
}

func (s *WorkerService) waitForAccount(ctx context.Context, record domain.NotificationRecord) error {
	if err := s.rateLimiter.Wait(ctx, record); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}
	return nil
}

// send calls the provider and records the attempt on record.
func (s *WorkerService) send(ctx context.Context, record *domain.NotificationRecord) (*provider.ProviderResponse, error) {
	record.TryCount++
	sendStart := s.now()
	resp, err := s.provider.Send(ctx, *record)
	s.metrics.ObserveNotificationSendDuration(record.Type.String(), s.now().Sub(sendStart))
	if err != nil {
		message := err.Error()
		record.ErrorMessage = &message
		return nil, err
	}

	record.ErrorMessage = nil
	if resp == nil {
		resp = &provider.ProviderResponse{}
	}
	if resp.Account != "" {
		used := resp.Account
		record.EmailAccountUsed = &used
	}
	return resp, nil
}

func (s *WorkerService) isFakeMail(application string) bool {
	_, ok := s.fakeMailApps[strings.ToLower(strings.TrimSpace(application))]
	return ok
}

func (s *WorkerService) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	jitterMillis := 0
	if s.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = s.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}
