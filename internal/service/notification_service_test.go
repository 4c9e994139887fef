package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/kursadbilgin/notification-dispatch/internal/observability"
	"github.com/kursadbilgin/notification-dispatch/internal/predicate"
	"github.com/kursadbilgin/notification-dispatch/internal/queue"
	"github.com/kursadbilgin/notification-dispatch/internal/repository"
	"github.com/kursadbilgin/notification-dispatch/internal/tablestore"
)

type enqueueCall struct {
	msgs  []queue.DeliveryMessage
	delay time.Duration
}

func newTestNotificationService(t *testing.T, publisher queue.Publisher) (*NotificationService, *LifecycleEngine) {
	t.Helper()

	repo := repository.NewTableNotificationRepo(tablestore.NewMemoryStore(), nil)
	lifecycle, err := NewLifecycleEngine(repo, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewLifecycleEngine() error = %v", err)
	}
	history, err := NewHistoryEngine(repo, predicate.ComposeOptions{}, nil)
	if err != nil {
		t.Fatalf("NewHistoryEngine() error = %v", err)
	}
	svc, err := NewNotificationService(lifecycle, history, publisher, nil)
	if err != nil {
		t.Fatalf("NewNotificationService() error = %v", err)
	}
	return svc, lifecycle
}

func TestNewNotificationServiceValidation(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{}
	lifecycle, _ := NewLifecycleEngine(repo, nil, nil, nil)
	history, _ := NewHistoryEngine(repo, predicate.ComposeOptions{}, nil)

	if _, err := NewNotificationService(nil, history, &fakePublisher{}, nil); err == nil {
		t.Fatal("expected error when lifecycle engine is nil")
	}
	if _, err := NewNotificationService(lifecycle, nil, &fakePublisher{}, nil); err == nil {
		t.Fatal("expected error when history engine is nil")
	}
	if _, err := NewNotificationService(lifecycle, history, nil, nil); err == nil {
		t.Fatal("expected error when publisher is nil")
	}
}

func TestNotificationServiceSubmitEnqueuesByDelay(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		calls []enqueueCall
	)
	publisher := &fakePublisher{
		enqueueFn: func(ctx context.Context, msgs []queue.DeliveryMessage, delay time.Duration) error {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, enqueueCall{msgs: msgs, delay: delay})
			return nil
		},
	}
	svc, lifecycle := newTestNotificationService(t, publisher)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	lifecycle.now = func() time.Time { return now }

	due := testEmail("", "due")
	due.Type = ""
	scheduled := testEmail("", "scheduled")
	scheduled.SendOnUtcDate = now.Add(10 * time.Minute)

	ctx := observability.WithCorrelationID(context.Background(), "corr-1")
	created, err := svc.Submit(ctx, domain.TypeEmail, []domain.NotificationRecord{due, scheduled}, "Contoso")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created = %d, want 2", len(created))
	}
	for _, r := range created {
		if r.Type != domain.TypeEmail || r.Application != "Contoso" || r.Status != domain.StatusQueued {
			t.Fatalf("created record = %+v", r)
		}
	}

	if len(calls) != 2 {
		t.Fatalf("enqueue calls = %d, want 2", len(calls))
	}
	if calls[0].delay != 0 || calls[0].msgs[0].NotificationID != "due" {
		t.Fatalf("first enqueue = %+v, want due without delay", calls[0])
	}
	if calls[1].delay != 10*time.Minute || calls[1].msgs[0].NotificationID != "scheduled" {
		t.Fatalf("second enqueue = %+v, want scheduled after 10m", calls[1])
	}
	msg := calls[0].msgs[0]
	if msg.CorrelationID != "corr-1" || msg.Application != "Contoso" || msg.Type != domain.TypeEmail || msg.Resend {
		t.Fatalf("message = %+v", msg)
	}

	stored, err := svc.GetOne(context.Background(), domain.TypeEmail, "scheduled", "")
	if err != nil {
		t.Fatalf("GetOne() error = %v", err)
	}
	if stored.Status != domain.StatusQueued {
		t.Fatalf("stored status = %s, want Queued", stored.Status)
	}
}

func TestNotificationServiceSubmitRejectsMismatchedType(t *testing.T) {
	t.Parallel()

	svc, _ := newTestNotificationService(t, &fakePublisher{
		enqueueFn: func(ctx context.Context, msgs []queue.DeliveryMessage, delay time.Duration) error {
			t.Fatal("Enqueue should not be called")
			return nil
		},
	})

	meeting := testEmail("Contoso", "m1")
	meeting.Type = domain.TypeMeeting
	if _, err := svc.Submit(context.Background(), domain.TypeEmail, []domain.NotificationRecord{meeting}, ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Submit() error = %v, want ErrValidation", err)
	}
	if _, err := svc.Submit(context.Background(), "Sms", []domain.NotificationRecord{meeting}, ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Submit(bad type) error = %v, want ErrValidation", err)
	}
}

func TestNotificationServiceSubmitEnqueueFailureKeepsRecordsQueued(t *testing.T) {
	t.Parallel()

	publishErr := errors.New("broker down")
	svc, _ := newTestNotificationService(t, &fakePublisher{
		enqueueFn: func(ctx context.Context, msgs []queue.DeliveryMessage, delay time.Duration) error {
			return publishErr
		},
	})

	_, err := svc.Submit(context.Background(), domain.TypeEmail, []domain.NotificationRecord{testEmail("Contoso", "n1")}, "")
	if !errors.Is(err, publishErr) {
		t.Fatalf("Submit() error = %v, want %v", err, publishErr)
	}

	stored, err := svc.GetOne(context.Background(), domain.TypeEmail, "n1", "")
	if err != nil {
		t.Fatalf("GetOne() error = %v", err)
	}
	if stored.Status != domain.StatusQueued {
		t.Fatalf("stored status = %s, want Queued", stored.Status)
	}
}

func TestNotificationServiceResend(t *testing.T) {
	t.Parallel()

	var calls []enqueueCall
	svc, lifecycle := newTestNotificationService(t, &fakePublisher{
		enqueueFn: func(ctx context.Context, msgs []queue.DeliveryMessage, delay time.Duration) error {
			calls = append(calls, enqueueCall{msgs: msgs, delay: delay})
			return nil
		},
	})
	ctx := context.Background()

	sent := testEmail("Contoso", "sent-1")
	sent.Status = domain.StatusSent
	other := testEmail("Fabrikam", "other-1")
	if _, err := lifecycle.Create(ctx, []domain.NotificationRecord{sent, other}, ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	resent, err := svc.Resend(ctx, domain.TypeEmail, []string{"sent-1", "other-1"}, "Contoso")
	if err != nil {
		t.Fatalf("Resend() error = %v", err)
	}
	if len(resent) != 1 || resent[0].NotificationID != "sent-1" {
		t.Fatalf("Resend() = %+v, want only sent-1", resent)
	}
	if len(calls) != 1 || len(calls[0].msgs) != 1 || !calls[0].msgs[0].Resend || calls[0].delay != 0 {
		t.Fatalf("enqueue calls = %+v, want one immediate resend", calls)
	}

	stored, err := svc.GetOne(ctx, domain.TypeEmail, "sent-1", "")
	if err != nil {
		t.Fatalf("GetOne() error = %v", err)
	}
	if stored.Status != domain.StatusSent {
		t.Fatalf("stored status = %s, want Sent", stored.Status)
	}

	if _, err := svc.Resend(ctx, domain.TypeEmail, []string{"unknown"}, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Resend(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestNotificationServiceApplyStatusChanges(t *testing.T) {
	t.Parallel()

	svc, lifecycle := newTestNotificationService(t, &fakePublisher{})
	ctx := context.Background()
	if _, err := lifecycle.Create(ctx, []domain.NotificationRecord{testEmail("Contoso", "n1"), testEmail("Contoso", "n2")}, ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	reason := "mailbox full"
	updated, err := svc.ApplyStatusChanges(ctx, domain.TypeEmail, []StatusChange{
		{NotificationID: "n1", Status: domain.StatusFailed, ErrorMessage: &reason},
	})
	if err != nil {
		t.Fatalf("ApplyStatusChanges() error = %v", err)
	}
	if len(updated) != 1 || updated[0].Subject != "Welcome" {
		t.Fatalf("ApplyStatusChanges() = %+v, want the stored record with new status", updated)
	}

	stored, err := svc.GetOne(ctx, domain.TypeEmail, "n1", "")
	if err != nil {
		t.Fatalf("GetOne() error = %v", err)
	}
	if stored.Status != domain.StatusFailed || stored.ErrorMessage == nil || *stored.ErrorMessage != reason {
		t.Fatalf("stored = %+v, want Failed with reason", stored)
	}
	untouched, err := svc.GetOne(ctx, domain.TypeEmail, "n2", "")
	if err != nil {
		t.Fatalf("GetOne() error = %v", err)
	}
	if untouched.Status != domain.StatusQueued {
		t.Fatalf("n2 status = %s, want Queued", untouched.Status)
	}

	tests := []struct {
		name    string
		changes []StatusChange
		wantErr error
	}{
		{name: "empty", changes: nil, wantErr: domain.ErrValidation},
		{name: "blank id", changes: []StatusChange{{Status: domain.StatusSent}}, wantErr: domain.ErrValidation},
		{name: "bad status", changes: []StatusChange{{NotificationID: "n1", Status: domain.Status(9)}}, wantErr: domain.ErrValidation},
		{name: "unknown id", changes: []StatusChange{{NotificationID: "nope", Status: domain.StatusSent}}, wantErr: domain.ErrNotFound},
		{
			name:    "repeated id",
			changes: []StatusChange{{NotificationID: "n2", Status: domain.StatusSent}, {NotificationID: "n2", Status: domain.StatusFailed}},
			wantErr: domain.ErrConflict,
		},
		{
			name:    "repeated id with padding",
			changes: []StatusChange{{NotificationID: "n2", Status: domain.StatusSent}, {NotificationID: " n2 ", Status: domain.StatusSent}},
			wantErr: domain.ErrConflict,
		},
	}
	for _, tt := range tests {
		if _, err := svc.ApplyStatusChanges(ctx, domain.TypeEmail, tt.changes); !errors.Is(err, tt.wantErr) {
			t.Fatalf("%s: ApplyStatusChanges() error = %v, want %v", tt.name, err, tt.wantErr)
		}
	}

	if _, err := svc.GetOne(ctx, domain.TypeEmail, " ", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("GetOne(blank) error = %v, want ErrValidation", err)
	}
	if untouched, _ = svc.GetOne(ctx, domain.TypeEmail, "n2", ""); untouched.Status != domain.StatusQueued {
		t.Fatalf("n2 status after rejected changes = %s, want Queued", untouched.Status)
	}
}

func TestNotificationServiceApplyStatusChangesRepeatedIDLeavesBatchUntouched(t *testing.T) {
	t.Parallel()

	svc, lifecycle := newTestNotificationService(t, &fakePublisher{})
	ctx := context.Background()

	ids := []string{"a", "b", "c", "d"}
	records := make([]domain.NotificationRecord, 0, len(ids))
	changes := make([]StatusChange, 0, len(ids)+1)
	for _, id := range ids {
		records = append(records, testEmail("Contoso", id))
		changes = append(changes, StatusChange{NotificationID: id, Status: domain.StatusSent})
	}
	changes = append(changes, StatusChange{NotificationID: "a", Status: domain.StatusFailed})
	if _, err := lifecycle.Create(ctx, records, ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := svc.ApplyStatusChanges(ctx, domain.TypeEmail, changes); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("ApplyStatusChanges() error = %v, want ErrConflict", err)
	}
	for _, id := range ids {
		stored, err := svc.GetOne(ctx, domain.TypeEmail, id, "")
		if err != nil {
			t.Fatalf("GetOne(%s) error = %v", id, err)
		}
		if stored.Status != domain.StatusQueued {
			t.Fatalf("%s status = %s, want Queued", id, stored.Status)
		}
	}
}

func TestNotificationServiceApplyStatusChangesFinishedStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		stored     domain.Status
		next       domain.Status
		wantErr    error
		wantStatus domain.Status
	}{
		{name: "sent cannot be queued again", stored: domain.StatusSent, next: domain.StatusQueued, wantErr: domain.ErrConflict, wantStatus: domain.StatusSent},
		{name: "sent cannot fail", stored: domain.StatusSent, next: domain.StatusFailed, wantErr: domain.ErrConflict, wantStatus: domain.StatusSent},
		{name: "failed cannot retry", stored: domain.StatusFailed, next: domain.StatusRetrying, wantErr: domain.ErrConflict, wantStatus: domain.StatusFailed},
		{name: "fake mail cannot be sent", stored: domain.StatusFakeMail, next: domain.StatusSent, wantErr: domain.ErrConflict, wantStatus: domain.StatusFakeMail},
		{name: "sent can be reported again", stored: domain.StatusSent, next: domain.StatusSent, wantStatus: domain.StatusSent},
		{name: "queued can jump to failed", stored: domain.StatusQueued, next: domain.StatusFailed, wantStatus: domain.StatusFailed},
		{name: "retrying can jump to sent", stored: domain.StatusRetrying, next: domain.StatusSent, wantStatus: domain.StatusSent},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc, lifecycle := newTestNotificationService(t, &fakePublisher{})
			ctx := context.Background()

			record := testEmail("Contoso", "n1")
			record.Status = tt.stored
			if _, err := lifecycle.Create(ctx, []domain.NotificationRecord{record}, ""); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			_, err := svc.ApplyStatusChanges(ctx, domain.TypeEmail, []StatusChange{{NotificationID: "n1", Status: tt.next}})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ApplyStatusChanges() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("ApplyStatusChanges() error = %v", err)
			}

			stored, err := svc.GetOne(ctx, domain.TypeEmail, "n1", "")
			if err != nil {
				t.Fatalf("GetOne() error = %v", err)
			}
			if stored.Status != tt.wantStatus {
				t.Fatalf("stored status = %s, want %s", stored.Status, tt.wantStatus)
			}
		})
	}
}
