package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/kursadbilgin/notification-dispatch/internal/observability"
	"github.com/kursadbilgin/notification-dispatch/internal/queue"
)

const (
	defaultRetryScanInterval = 30 * time.Second
	defaultRetryScanLookback = 24 * time.Hour
	defaultRetryScanStale    = 5 * time.Minute
	defaultStrandedLookback  = 7 * 24 * time.Hour
)

// RetryScannerOptions bounds which notifications a scan considers.
type RetryScannerOptions struct {
	Interval time.Duration
	// Lookback is how far back in send dates a scan reaches.
	Lookback time.Duration
	// StaleAfter is how long a Queued, Retrying or Processing notification must sit
	// untouched before it is enqueued again.
	StaleAfter time.Duration
	// StrandedLookback is how far back in send dates a scan looks for notifications
	// left in Processing by a worker that never finished them.
	StrandedLookback time.Duration
	MaxRetries       int
}

// RetryScanner periodically re-enqueues Queued and Retrying notifications whose delivery
// message was lost, moves stranded Processing notifications back to Retrying, and fails
// the ones that used up their retries.
type RetryScanner struct {
	store     DeliveryStore
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	opts      RetryScannerOptions
	now       func() time.Time
}

func NewRetryScanner(
	store DeliveryStore,
	publisher queue.Publisher,
	opts RetryScannerOptions,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if store == nil {
		return nil, fmt.Errorf("delivery store is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultRetryScanInterval
	}
	if opts.Lookback <= 0 {
		opts.Lookback = defaultRetryScanLookback
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultRetryScanStale
	}
	if opts.StrandedLookback <= 0 {
		opts.StrandedLookback = defaultStrandedLookback
	}
	if opts.StrandedLookback < opts.Lookback {
		opts.StrandedLookback = opts.Lookback
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		store:     store,
		publisher: publisher,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}, nil
}

func (s *RetryScanner) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *RetryScanner) scanDue(ctx context.Context) error {
	for _, t := range []domain.NotificationType{domain.TypeEmail, domain.TypeMeeting} {
		if err := s.scanType(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (s *RetryScanner) scanType(ctx context.Context, t domain.NotificationType) error {
	now := s.now().UTC()
	end := now.Add(-s.opts.StaleAfter)

	pending, err := s.store.GetPendingOrFailed(ctx, t,
		domain.DateRange{Start: now.Add(-s.opts.Lookback), End: end}, "",
		[]domain.Status{domain.StatusQueued, domain.StatusRetrying}, false)
	if err != nil {
		return fmt.Errorf("failed to fetch pending %s notifications: %w", t, err)
	}
	stranded, err := s.store.GetPendingOrFailed(ctx, t,
		domain.DateRange{Start: now.Add(-s.opts.StrandedLookback), End: end}, "",
		[]domain.Status{domain.StatusProcessing}, false)
	if err != nil {
		return fmt.Errorf("failed to fetch stranded %s notifications: %w", t, err)
	}

	msgs := make([]queue.DeliveryMessage, 0, len(pending)+len(stranded))
	for _, r := range append(pending, stranded...) {
		if now.Sub(r.Timestamp) < s.opts.StaleAfter {
			continue
		}

		if r.Status != domain.StatusQueued && r.TryCount >= s.opts.MaxRetries {
			s.fail(ctx, r)
			continue
		}

		if r.Status == domain.StatusProcessing {
			r.Status = domain.StatusRetrying
			if err := s.store.Update(ctx, []domain.NotificationRecord{r}); err != nil {
				s.logger.Error("failed to release stranded notification",
					zap.String("notificationId", r.NotificationID),
					zap.Error(err),
				)
				continue
			}
			s.logger.Warn("stranded notification moved back to retrying",
				zap.String("notificationId", r.NotificationID),
				zap.Int("tryCount", r.TryCount),
			)
		}

		msgs = append(msgs, queue.NewDeliveryMessage(r, "", false))
	}

	if len(msgs) == 0 {
		return nil
	}
	if err := s.publisher.Enqueue(ctx, msgs, 0); err != nil {
		s.logger.Error("failed to re-enqueue stale notifications",
			zap.String("type", t.String()),
			zap.Int("count", len(msgs)),
			zap.Error(err),
		)
		return nil
	}
	s.metrics.AddEnqueued(t.String(), len(msgs))
	s.logger.Info("re-enqueued stale notifications",
		zap.String("type", t.String()),
		zap.Int("count", len(msgs)),
	)
	return nil
}

func (s *RetryScanner) fail(ctx context.Context, r domain.NotificationRecord) {
	r.Status = domain.StatusFailed
	if err := s.store.Update(ctx, []domain.NotificationRecord{r}); err != nil {
		s.logger.Error("failed to fail exhausted notification",
			zap.String("notificationId", r.NotificationID),
			zap.Error(err),
		)
		return
	}
	s.metrics.IncNotificationFailed(r.Type.String(), "retry_exhausted")
}
