package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/kursadbilgin/notification-dispatch/internal/eventstore"
	"github.com/kursadbilgin/notification-dispatch/internal/observability"
	"github.com/kursadbilgin/notification-dispatch/internal/predicate"
	"github.com/kursadbilgin/notification-dispatch/internal/repository"
)

// DeliveryStore is the part of the lifecycle engine the worker and retry scanner drive.
type DeliveryStore interface {
	GetOne(ctx context.Context, t domain.NotificationType, id string, applicationName string) (domain.NotificationRecord, error)
	Update(ctx context.Context, records []domain.NotificationRecord) error
	GetPendingOrFailed(
		ctx context.Context,
		t domain.NotificationType,
		dateRange domain.DateRange,
		applicationName string,
		statuses []domain.Status,
		loadBody bool,
	) ([]domain.NotificationRecord, error)
}

var _ DeliveryStore = (*LifecycleEngine)(nil)

// LifecycleEngine owns notification records: it creates them, serves lookups and
// writes status changes, mirroring each change into the event store.
type LifecycleEngine struct {
	notifications repository.NotificationRepository
	events        eventstore.Container
	attachments   *AttachmentOffloader
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
	newID         func() string
}

// NewLifecycleEngine builds the engine. events and attachments are optional: without
// an event store updates are not mirrored, without an offloader bodies stay inline.
func NewLifecycleEngine(
	notifications repository.NotificationRepository,
	events eventstore.Container,
	attachments *AttachmentOffloader,
	logger *zap.Logger,
) (*LifecycleEngine, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LifecycleEngine{
		notifications: notifications,
		events:        events,
		attachments:   attachments,
		logger:        logger,
		now:           time.Now,
		newID:         uuid.NewString,
	}, nil
}

func (e *LifecycleEngine) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// Create validates and stores new notifications. When applicationName is set,
// bodies are offloaded to the blob store first.
func (e *LifecycleEngine) Create(
	ctx context.Context,
	records []domain.NotificationRecord,
	applicationName string,
) ([]domain.NotificationRecord, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: at least one notification is required", domain.ErrValidation)
	}

	now := e.now().UTC()
	created := make([]domain.NotificationRecord, len(records))
	for i := range records {
		r := records[i]
		e.prepareForCreate(&r, applicationName, now)
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("notification %d: %w", i, err)
		}
		if err := r.ValidateContent(); err != nil {
			return nil, fmt.Errorf("notification %d: %w", i, err)
		}
		created[i] = r
	}

	var uploaded []string
	if applicationName != "" && e.attachments != nil {
		for i := range created {
			name, err := e.attachments.Offload(ctx, applicationName, &created[i])
			if err != nil {
				e.attachments.Discard(context.WithoutCancel(ctx), uploaded)
				return nil, err
			}
			if name != "" {
				uploaded = append(uploaded, name)
			}
		}
	}

	if err := e.notifications.Insert(ctx, created); err != nil {
		if len(uploaded) > 0 {
			e.attachments.Discard(context.WithoutCancel(ctx), uploaded)
		}
		return nil, err
	}
	if err := e.stampStored(ctx, created); err != nil {
		e.logger.Warn("created notifications returned without store stamps", zap.Error(err))
	}

	for _, r := range created {
		e.metrics.AddNotificationsCreated(r.Type.String(), 1)
	}
	e.logger.Info("notifications created",
		zap.Int("count", len(created)),
		zap.String("application", applicationName),
	)
	return created, nil
}

// stampStored copies the store-assigned etag and timestamp onto freshly inserted records.
func (e *LifecycleEngine) stampStored(ctx context.Context, created []domain.NotificationRecord) error {
	idsByType := make(map[domain.NotificationType][]string)
	for _, r := range created {
		idsByType[r.Type] = append(idsByType[r.Type], r.NotificationID)
	}

	type key struct{ app, id string }
	stored := make(map[key]domain.NotificationRecord, len(created))
	for t, ids := range idsByType {
		records, err := e.notifications.Find(ctx, t, predicate.AnyOf(predicate.FieldRowKey, ids))
		if err != nil {
			return fmt.Errorf("failed to read back created notifications: %w", err)
		}
		for _, r := range records {
			stored[key{r.Application, r.NotificationID}] = r
		}
	}

	for i := range created {
		if r, ok := stored[key{created[i].Application, created[i].NotificationID}]; ok {
			created[i].ETag = r.ETag
			created[i].Timestamp = r.Timestamp
		}
	}
	return nil
}

func (e *LifecycleEngine) prepareForCreate(r *domain.NotificationRecord, applicationName string, now time.Time) {
	if strings.TrimSpace(r.NotificationID) == "" {
		r.NotificationID = e.newID()
	}
	if strings.TrimSpace(r.Application) == "" {
		r.Application = applicationName
	}
	if r.CreatedDateTime.IsZero() {
		r.CreatedDateTime = now
	}
	if r.SendOnUtcDate.IsZero() {
		r.SendOnUtcDate = now
	}
	if r.Priority == "" {
		r.Priority = domain.PriorityNormal
	}
	if r.Sensitivity == "" {
		r.Sensitivity = domain.SensitivityNormal
	}
	r.ETag = ""
	r.Timestamp = time.Time{}
}

// Get loads notifications by id. Bodies are loaded back from the blob store when
// applicationName is set.
func (e *LifecycleEngine) Get(
	ctx context.Context,
	t domain.NotificationType,
	ids []string,
	applicationName string,
) ([]domain.NotificationRecord, error) {
	filter := predicate.AnyOf(predicate.FieldRowKey, nonBlank(ids))
	if filter == nil {
		return nil, fmt.Errorf("%w: at least one notification id is required", domain.ErrValidation)
	}

	records, err := e.notifications.Find(ctx, t, filter)
	if err != nil {
		return nil, err
	}
	if applicationName != "" {
		if err := e.rehydrate(ctx, records); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// GetOne loads exactly one notification.
func (e *LifecycleEngine) GetOne(
	ctx context.Context,
	t domain.NotificationType,
	id string,
	applicationName string,
) (domain.NotificationRecord, error) {
	records, err := e.Get(ctx, t, []string{id}, applicationName)
	if err != nil {
		return domain.NotificationRecord{}, err
	}

	switch len(records) {
	case 0:
		return domain.NotificationRecord{}, fmt.Errorf("%w: notification %q", domain.ErrNotFound, id)
	case 1:
		return records[0], nil
	}
	return domain.NotificationRecord{}, fmt.Errorf("%w: %d notifications share id %q", domain.ErrConflict, len(records), id)
}

// Update writes records as they are and then mirrors their status into the event
// store. Mirror failures are logged and counted, never returned.
func (e *LifecycleEngine) Update(ctx context.Context, records []domain.NotificationRecord) error {
	if len(records) == 0 {
		return fmt.Errorf("%w: at least one notification is required", domain.ErrValidation)
	}
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return fmt.Errorf("notification %d: %w", i, err)
		}
	}

	if err := e.notifications.Upsert(ctx, records); err != nil {
		return err
	}
	for _, r := range records {
		e.metrics.IncStatusUpdate(r.Type.String(), r.Status.String())
	}

	e.reconcile(ctx, records)
	return nil
}

func (e *LifecycleEngine) reconcile(ctx context.Context, records []domain.NotificationRecord) {
	if e.events == nil {
		return
	}

	var g errgroup.Group
	for _, r := range records {
		g.Go(func() error {
			e.reconcileOne(ctx, r)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *LifecycleEngine) reconcileOne(ctx context.Context, r domain.NotificationRecord) {
	logger := observability.WithContextLogger(e.logger, ctx).With(
		zap.String("notificationId", r.NotificationID),
		zap.String("status", r.Status.String()),
	)

	items, err := e.events.QueryByExternalID(ctx, r.NotificationID)
	if err != nil {
		e.metrics.IncMirrorReconcile("error")
		logger.Warn("event store lookup failed", zap.Error(err))
		return
	}
	if len(items) == 0 {
		e.metrics.IncMirrorReconcile("missing")
		logger.Debug("no event store item to reconcile")
		return
	}

	now := e.now().UTC()
	for _, item := range items {
		item.StatusCode = int(r.Status)
		item.StatusName = r.Status.String()
		item.StatusDescription = r.Status.Description()
		item.LastModified = now
		if err := e.events.UpsertItem(ctx, item); err != nil {
			e.metrics.IncMirrorReconcile("error")
			logger.Warn("event store update failed", zap.String("itemId", item.ID), zap.Error(err))
			continue
		}
		e.metrics.IncMirrorReconcile("updated")
	}
}

// GetPendingOrFailed returns notifications due in [start, end), optionally narrowed
// to one application and a set of statuses. It returns nil when nothing matches.
func (e *LifecycleEngine) GetPendingOrFailed(
	ctx context.Context,
	t domain.NotificationType,
	dateRange domain.DateRange,
	applicationName string,
	statuses []domain.Status,
	loadBody bool,
) ([]domain.NotificationRecord, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, err
	}

	filter := predicate.AndAlso(
		predicate.Ge(predicate.FieldSendOnUtcDate, dateRange.Start.UTC()),
		predicate.Lt(predicate.FieldSendOnUtcDate, dateRange.End.UTC()),
	)
	if applicationName = strings.TrimSpace(applicationName); applicationName != "" {
		filter = predicate.AndAlso(filter, predicate.Eq(predicate.FieldPartitionKey, applicationName))
	}
	labels := make([]string, 0, len(statuses))
	for _, s := range statuses {
		labels = append(labels, s.String())
	}
	filter = predicate.AndAlso(filter, predicate.AnyOf(predicate.FieldStatus, labels))

	records, err := e.notifications.Find(ctx, t, filter)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	if loadBody {
		if err := e.rehydrate(ctx, records); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (e *LifecycleEngine) rehydrate(ctx context.Context, records []domain.NotificationRecord) error {
	if e.attachments == nil {
		return nil
	}
	for i := range records {
		if err := e.attachments.Rehydrate(ctx, &records[i]); err != nil {
			return err
		}
	}
	return nil
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
