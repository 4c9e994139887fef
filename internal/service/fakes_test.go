package service

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/kursadbilgin/notification-dispatch/internal/eventstore"
	"github.com/kursadbilgin/notification-dispatch/internal/predicate"
	"github.com/kursadbilgin/notification-dispatch/internal/provider"
	"github.com/kursadbilgin/notification-dispatch/internal/queue"
	"github.com/kursadbilgin/notification-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/notification-dispatch/internal/repository"
	"github.com/kursadbilgin/notification-dispatch/internal/tablestore"
)

func testEmail(app, id string) domain.NotificationRecord {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return domain.NotificationRecord{
		NotificationID:  id,
		Application:     app,
		Type:            domain.TypeEmail,
		Subject:         "Welcome",
		To:              []string{"user@contoso.com"},
		From:            "noreply@contoso.com",
		Status:          domain.StatusQueued,
		Priority:        domain.PriorityNormal,
		Sensitivity:     domain.SensitivityNormal,
		SendOnUtcDate:   created,
		CreatedDateTime: created,
	}
}

type fakeNotificationRepo struct {
	insertFn   func(ctx context.Context, records []domain.NotificationRecord) error
	upsertFn   func(ctx context.Context, records []domain.NotificationRecord) error
	findFn     func(ctx context.Context, t domain.NotificationType, filter predicate.Predicate) ([]domain.NotificationRecord, error)
	findPageFn func(ctx context.Context, t domain.NotificationType, filter predicate.Predicate, pageSize int, token string) ([]domain.NotificationRecord, string, error)
}

var _ repository.NotificationRepository = (*fakeNotificationRepo)(nil)

func (f *fakeNotificationRepo) Insert(ctx context.Context, records []domain.NotificationRecord) error {
	if f.insertFn != nil {
		return f.insertFn(ctx, records)
	}
	return nil
}

func (f *fakeNotificationRepo) Upsert(ctx context.Context, records []domain.NotificationRecord) error {
	if f.upsertFn != nil {
		return f.upsertFn(ctx, records)
	}
	return nil
}

func (f *fakeNotificationRepo) Find(ctx context.Context, t domain.NotificationType, filter predicate.Predicate) ([]domain.NotificationRecord, error) {
	if f.findFn != nil {
		return f.findFn(ctx, t, filter)
	}
	return nil, nil
}

func (f *fakeNotificationRepo) FindPage(
	ctx context.Context,
	t domain.NotificationType,
	filter predicate.Predicate,
	pageSize int,
	token string,
) ([]domain.NotificationRecord, string, error) {
	if f.findPageFn != nil {
		return f.findPageFn(ctx, t, filter, pageSize, token)
	}
	return nil, "", nil
}

type fakeContainer struct {
	queryFn  func(ctx context.Context, externalID string) ([]eventstore.Item, error)
	upsertFn func(ctx context.Context, item eventstore.Item) error
}

var _ eventstore.Container = (*fakeContainer)(nil)

func (f *fakeContainer) QueryByExternalID(ctx context.Context, externalID string) ([]eventstore.Item, error) {
	if f.queryFn != nil {
		return f.queryFn(ctx, externalID)
	}
	return nil, nil
}

func (f *fakeContainer) UpsertItem(ctx context.Context, item eventstore.Item) error {
	if f.upsertFn != nil {
		return f.upsertFn(ctx, item)
	}
	return nil
}

type fakePublisher struct {
	enqueueFn func(ctx context.Context, msgs []queue.DeliveryMessage, delay time.Duration) error
	closeFn   func() error
}

var _ queue.Publisher = (*fakePublisher)(nil)

func (f *fakePublisher) Enqueue(ctx context.Context, msgs []queue.DeliveryMessage, delay time.Duration) error {
	if f.enqueueFn != nil {
		return f.enqueueFn(ctx, msgs, delay)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeDeliveryStore struct {
	getOneFn     func(ctx context.Context, t domain.NotificationType, id string, applicationName string) (domain.NotificationRecord, error)
	updateFn     func(ctx context.Context, records []domain.NotificationRecord) error
	getPendingFn func(ctx context.Context, t domain.NotificationType, dateRange domain.DateRange, applicationName string, statuses []domain.Status, loadBody bool) ([]domain.NotificationRecord, error)
}

var _ DeliveryStore = (*fakeDeliveryStore)(nil)

func (f *fakeDeliveryStore) GetOne(ctx context.Context, t domain.NotificationType, id string, applicationName string) (domain.NotificationRecord, error) {
	if f.getOneFn != nil {
		return f.getOneFn(ctx, t, id, applicationName)
	}
	return domain.NotificationRecord{}, domain.ErrNotFound
}

func (f *fakeDeliveryStore) Update(ctx context.Context, records []domain.NotificationRecord) error {
	if f.updateFn != nil {
		return f.updateFn(ctx, records)
	}
	return nil
}

func (f *fakeDeliveryStore) GetPendingOrFailed(
	ctx context.Context,
	t domain.NotificationType,
	dateRange domain.DateRange,
	applicationName string,
	statuses []domain.Status,
	loadBody bool,
) ([]domain.NotificationRecord, error) {
	if f.getPendingFn != nil {
		return f.getPendingFn(ctx, t, dateRange, applicationName, statuses, loadBody)
	}
	return nil, nil
}

type fakeProvider struct {
	sendFn func(ctx context.Context, notification domain.NotificationRecord) (*provider.ProviderResponse, error)
}

func (f *fakeProvider) Send(ctx context.Context, notification domain.NotificationRecord) (*provider.ProviderResponse, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, notification)
	}
	return &provider.ProviderResponse{StatusCode: 250, Account: notification.From}, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, n domain.NotificationRecord) (bool, error)
	waitFn  func(ctx context.Context, n domain.NotificationRecord) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, n domain.NotificationRecord) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, n)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, n domain.NotificationRecord) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, n)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queue string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

// countingStore records the size of every transaction submitted to its tables.
type countingStore struct {
	*tablestore.MemoryStore

	mu           sync.Mutex
	transactions map[string][]int
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: tablestore.NewMemoryStore(), transactions: make(map[string][]int)}
}

func (s *countingStore) GetTable(name string) (tablestore.Table, error) {
	table, err := s.MemoryStore.GetTable(name)
	if err != nil {
		return nil, err
	}
	return &countingTable{Table: table, store: s}, nil
}

func (s *countingStore) sizes(table string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.transactions[table]...)
}

type countingTable struct {
	tablestore.Table
	store *countingStore
}

func (t *countingTable) SubmitTransaction(ctx context.Context, actions []tablestore.Action) error {
	t.store.mu.Lock()
	t.store.transactions[t.Name()] = append(t.store.transactions[t.Name()], len(actions))
	t.store.mu.Unlock()
	return t.Table.SubmitTransaction(ctx, actions)
}
