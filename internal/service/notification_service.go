package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/kursadbilgin/notification-dispatch/internal/observability"
	"github.com/kursadbilgin/notification-dispatch/internal/queue"
)

const maxSubmitSize = 1000

// NotificationService is the entry point used by the HTTP API: it stores new
// notifications, hands them to the delivery queue and serves reports.
type NotificationService struct {
	lifecycle *LifecycleEngine
	history   *HistoryEngine
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewNotificationService(
	lifecycle *LifecycleEngine,
	history *HistoryEngine,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*NotificationService, error) {
	if lifecycle == nil {
		return nil, fmt.Errorf("lifecycle engine is required")
	}
	if history == nil {
		return nil, fmt.Errorf("history engine is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		lifecycle: lifecycle,
		history:   history,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (s *NotificationService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
	s.lifecycle.SetMetrics(metrics)
	s.history.SetMetrics(metrics)
}

// Submit creates the notifications and enqueues one delivery message each, delayed
// until the notification's send date. Records whose enqueue fails stay Queued and are
// picked up by the retry scanner.
func (s *NotificationService) Submit(
	ctx context.Context,
	t domain.NotificationType,
	records []domain.NotificationRecord,
	applicationName string,
) ([]domain.NotificationRecord, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("%w: invalid notification type %q", domain.ErrValidation, t)
	}
	if len(records) > maxSubmitSize {
		return nil, fmt.Errorf("%w: at most %d notifications per request", domain.ErrValidation, maxSubmitSize)
	}

	typed := make([]domain.NotificationRecord, len(records))
	for i := range records {
		typed[i] = records[i]
		if typed[i].Type == "" {
			typed[i].Type = t
		}
		if typed[i].Type != t {
			return nil, fmt.Errorf("%w: notification %d has type %q, expected %q", domain.ErrValidation, i, typed[i].Type, t)
		}
		typed[i].Status = domain.StatusQueued
		typed[i].TryCount = 0
		typed[i].ErrorMessage = nil
		typed[i].EmailAccountUsed = nil
	}

	created, err := s.lifecycle.Create(ctx, typed, strings.TrimSpace(applicationName))
	if err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, t, created, false); err != nil {
		return nil, err
	}
	return created, nil
}

// Resend enqueues another delivery attempt for existing notifications. Stored status is
// left as it is.
func (s *NotificationService) Resend(
	ctx context.Context,
	t domain.NotificationType,
	ids []string,
	applicationName string,
) ([]domain.NotificationRecord, error) {
	records, err := s.lifecycle.Get(ctx, t, ids, "")
	if err != nil {
		return nil, err
	}

	applicationName = strings.TrimSpace(applicationName)
	matched := records[:0]
	for _, r := range records {
		if applicationName == "" || r.Application == applicationName {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("%w: notifications %s", domain.ErrNotFound, strings.Join(nonBlank(ids), ","))
	}

	if err := s.enqueue(ctx, t, matched, true); err != nil {
		return nil, err
	}
	return matched, nil
}

func (s *NotificationService) enqueue(
	ctx context.Context,
	t domain.NotificationType,
	records []domain.NotificationRecord,
	resend bool,
) error {
	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	now := s.now().UTC()

	byDelay := make(map[time.Duration][]queue.DeliveryMessage)
	for _, r := range records {
		delay := time.Duration(0)
		if !resend && r.SendOnUtcDate.After(now) {
			delay = r.SendOnUtcDate.Sub(now).Round(time.Second)
		}
		byDelay[delay] = append(byDelay[delay], queue.NewDeliveryMessage(r, correlationID, resend))
	}

	delays := make([]time.Duration, 0, len(byDelay))
	for d := range byDelay {
		delays = append(delays, d)
	}
	sort.Slice(delays, func(i, j int) bool { return delays[i] < delays[j] })

	for _, delay := range delays {
		msgs := byDelay[delay]
		if err := s.publisher.Enqueue(ctx, msgs, delay); err != nil {
			observability.WithContextLogger(s.logger, ctx).Error("failed to enqueue notifications",
				zap.String("type", t.String()),
				zap.Int("count", len(msgs)),
				zap.Duration("delay", delay),
				zap.Bool("resend", resend),
				zap.Error(err),
			)
			return fmt.Errorf("failed to enqueue notifications: %w", err)
		}
		s.metrics.AddEnqueued(t.String(), len(msgs))
	}
	return nil
}

func (s *NotificationService) Get(
	ctx context.Context,
	t domain.NotificationType,
	ids []string,
	applicationName string,
) ([]domain.NotificationRecord, error) {
	return s.lifecycle.Get(ctx, t, ids, strings.TrimSpace(applicationName))
}

func (s *NotificationService) GetOne(
	ctx context.Context,
	t domain.NotificationType,
	id string,
	applicationName string,
) (domain.NotificationRecord, error) {
	if strings.TrimSpace(id) == "" {
		return domain.NotificationRecord{}, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return s.lifecycle.GetOne(ctx, t, strings.TrimSpace(id), strings.TrimSpace(applicationName))
}

// StatusChange is a caller-reported delivery outcome for one notification.
type StatusChange struct {
	NotificationID   string
	Status           domain.Status
	ErrorMessage     *string
	EmailAccountUsed *string
}

// ApplyStatusChanges loads the notifications, applies the changes and writes them back
// through the lifecycle engine. A notification may appear once per call, and a
// finished notification (Sent, Failed, FakeMail) keeps its status. Jumps between
// unfinished statuses are accepted as reported.
func (s *NotificationService) ApplyStatusChanges(
	ctx context.Context,
	t domain.NotificationType,
	changes []StatusChange,
) ([]domain.NotificationRecord, error) {
	if len(changes) == 0 {
		return nil, fmt.Errorf("%w: at least one status change is required", domain.ErrValidation)
	}

	ids := make([]string, 0, len(changes))
	seen := make(map[string]struct{}, len(changes))
	for i, change := range changes {
		id := strings.TrimSpace(change.NotificationID)
		if id == "" {
			return nil, fmt.Errorf("%w: status change %d has no notification id", domain.ErrValidation, i)
		}
		if !change.Status.IsValid() {
			return nil, fmt.Errorf("%w: invalid status %d for notification %q", domain.ErrValidation, int(change.Status), id)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: notification %q appears more than once", domain.ErrConflict, id)
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	stored, err := s.lifecycle.Get(ctx, t, ids, "")
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.NotificationRecord, len(stored))
	for _, r := range stored {
		if _, dup := byID[r.NotificationID]; dup {
			return nil, fmt.Errorf("%w: more than one notification has id %q", domain.ErrConflict, r.NotificationID)
		}
		byID[r.NotificationID] = r
	}

	updated := make([]domain.NotificationRecord, 0, len(changes))
	for _, change := range changes {
		id := strings.TrimSpace(change.NotificationID)
		r, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: notification %q", domain.ErrNotFound, id)
		}
		if r.Status.IsTerminal() && change.Status != r.Status {
			return nil, fmt.Errorf("%w: notification %q is %s and cannot become %s", domain.ErrConflict, id, r.Status, change.Status)
		}
		r.Status = change.Status
		if change.ErrorMessage != nil {
			r.ErrorMessage = change.ErrorMessage
		}
		if change.EmailAccountUsed != nil {
			r.EmailAccountUsed = change.EmailAccountUsed
		}
		updated = append(updated, r)
	}

	if err := s.lifecycle.Update(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *NotificationService) QueryHistory(
	ctx context.Context,
	req domain.ReportRequest,
) ([]domain.NotificationRecord, string, error) {
	return s.history.QueryHistory(ctx, req)
}

func (s *NotificationService) PendingOrFailed(
	ctx context.Context,
	t domain.NotificationType,
	dateRange domain.DateRange,
	applicationName string,
	statuses []domain.Status,
	loadBody bool,
) ([]domain.NotificationRecord, error) {
	return s.lifecycle.GetPendingOrFailed(ctx, t, dateRange, applicationName, statuses, loadBody)
}
