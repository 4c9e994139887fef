package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/kursadbilgin/notification-dispatch/internal/ratelimit"
)

func sentFrom(from string) domain.NotificationRecord {
	return domain.NotificationRecord{NotificationID: "n1", Application: "Contoso", From: from}
}

func TestMailboxRateLimiterAllowWindow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	limiter, err := newMailboxRateLimiter(
		newTestRedisClient(t),
		ratelimit.Policy{DefaultLimit: 2},
		func() time.Time { return now },
		sleepWithContext,
	)
	if err != nil {
		t.Fatalf("newMailboxRateLimiter() error = %v", err)
	}
	n := sentFrom("reports@contoso.com")

	for i, want := range []bool{true, true, false} {
		allowed, err := limiter.Allow(context.Background(), n)
		if err != nil {
			t.Fatalf("Allow() #%d error = %v", i+1, err)
		}
		if allowed != want {
			t.Fatalf("Allow() #%d = %v, want %v", i+1, allowed, want)
		}
	}

	now = now.Add(time.Second)
	if allowed, err := limiter.Allow(context.Background(), n); err != nil || !allowed {
		t.Fatalf("Allow() in next window = %v, %v, want allowed", allowed, err)
	}
}

func TestMailboxRateLimiterPolicy(t *testing.T) {
	t.Parallel()

	used := "Alerts@Contoso.com"
	tests := []struct {
		name    string
		policy  ratelimit.Policy
		first   domain.NotificationRecord
		second  domain.NotificationRecord
		allowed bool
	}{
		{
			name:    "mailboxes have separate budgets",
			policy:  ratelimit.Policy{DefaultLimit: 1},
			first:   sentFrom("reports@contoso.com"),
			second:  sentFrom("alerts@contoso.com"),
			allowed: true,
		},
		{
			name:    "sender case and spacing share one budget",
			policy:  ratelimit.Policy{DefaultLimit: 1},
			first:   sentFrom("Reports@Contoso.com"),
			second:  sentFrom(" reports@contoso.com "),
			allowed: false,
		},
		{
			name:    "no sender falls back to the default account",
			policy:  ratelimit.Policy{DefaultAccount: "noreply@contoso.com", DefaultLimit: 1},
			first:   sentFrom(""),
			second:  sentFrom("noreply@contoso.com"),
			allowed: false,
		},
		{
			name:    "no sender uses the mailbox of an earlier attempt",
			policy:  ratelimit.Policy{DefaultAccount: "noreply@contoso.com", DefaultLimit: 1},
			first:   domain.NotificationRecord{NotificationID: "n1", EmailAccountUsed: &used},
			second:  sentFrom("alerts@contoso.com"),
			allowed: false,
		},
		{
			name: "account override raises the budget",
			policy: ratelimit.Policy{
				DefaultLimit:  1,
				AccountLimits: map[string]int{"bulk@contoso.com": 2},
			},
			first:   sentFrom("bulk@contoso.com"),
			second:  sentFrom("bulk@contoso.com"),
			allowed: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			now := time.Unix(1_700_000_100, 0)
			limiter, err := newMailboxRateLimiter(newTestRedisClient(t), tt.policy, func() time.Time { return now }, sleepWithContext)
			if err != nil {
				t.Fatalf("newMailboxRateLimiter() error = %v", err)
			}

			if allowed, err := limiter.Allow(context.Background(), tt.first); err != nil || !allowed {
				t.Fatalf("first Allow() = %v, %v, want allowed", allowed, err)
			}
			allowed, err := limiter.Allow(context.Background(), tt.second)
			if err != nil {
				t.Fatalf("second Allow() error = %v", err)
			}
			if allowed != tt.allowed {
				t.Fatalf("second Allow() = %v, want %v", allowed, tt.allowed)
			}
		})
	}
}

func TestMailboxRateLimiterWait(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_200, 0).Add(995 * time.Millisecond)
	var slept []time.Duration
	limiter, err := newMailboxRateLimiter(
		newTestRedisClient(t),
		ratelimit.Policy{DefaultLimit: 1},
		func() time.Time { return now },
		func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			now = now.Add(d)
			return nil
		},
	)
	if err != nil {
		t.Fatalf("newMailboxRateLimiter() error = %v", err)
	}
	n := sentFrom("noreply@contoso.com")

	if allowed, err := limiter.Allow(context.Background(), n); err != nil || !allowed {
		t.Fatalf("Allow() = %v, %v, want allowed", allowed, err)
	}
	if err := limiter.Wait(context.Background(), n); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(slept) != 1 || slept[0] != 5*time.Millisecond {
		t.Fatalf("slept = %v, want one sleep to the end of the window", slept)
	}
}

func TestMailboxRateLimiterWaitContextDeadline(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_300, 0)
	limiter, err := newMailboxRateLimiter(
		newTestRedisClient(t),
		ratelimit.Policy{DefaultLimit: 1},
		func() time.Time { return now },
		sleepWithContext,
	)
	if err != nil {
		t.Fatalf("newMailboxRateLimiter() error = %v", err)
	}
	n := sentFrom("reports@contoso.com")

	if allowed, err := limiter.Allow(context.Background(), n); err != nil || !allowed {
		t.Fatalf("Allow() = %v, %v, want allowed", allowed, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, n); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestSendWindowKey(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_400, 0)
	if got := sendWindowKey("reports@contoso.com", now); got != "ratelimit:send:reports@contoso.com:1700000400" {
		t.Fatalf("sendWindowKey() = %q", got)
	}
	if got := untilNextWindow(now.Add(250 * time.Millisecond)); got != 750*time.Millisecond {
		t.Fatalf("untilNextWindow() = %v, want 750ms", got)
	}
	if _, err := NewMailboxRateLimiter(nil, ratelimit.Policy{}); err == nil {
		t.Fatal("NewMailboxRateLimiter(nil) expected error")
	}
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
	})
	return rdb
}
