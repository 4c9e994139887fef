package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/kursadbilgin/notification-dispatch/internal/ratelimit"
)

const (
	backoffStep   = 10 * time.Millisecond
	backoffMax    = 50 * time.Millisecond
	windowSeconds = 1
)

// sendWindowScript counts one send in the mailbox's current one-second window and
// reports whether the mailbox is still within its budget.
var sendWindowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*MailboxRateLimiter)(nil)

// MailboxRateLimiter enforces a per-second send budget for every sending mailbox,
// shared by all workers through Redis. The mailbox and its budget come from the
// Policy.
type MailboxRateLimiter struct {
	client *goredis.Client
	policy ratelimit.Policy
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewMailboxRateLimiter(client *goredis.Client, policy ratelimit.Policy) (*MailboxRateLimiter, error) {
	return newMailboxRateLimiter(client, policy, time.Now, sleepWithContext)
}

func newMailboxRateLimiter(
	client *goredis.Client,
	policy ratelimit.Policy,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*MailboxRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &MailboxRateLimiter{
		client: client,
		policy: policy,
		now:    nowFn,
		sleep:  sleepFn,
	}, nil
}

// Allow counts one send for the mailbox n goes out from and reports whether it fits
// the mailbox's budget for the current second.
func (r *MailboxRateLimiter) Allow(ctx context.Context, n domain.NotificationRecord) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}
	account := r.policy.Account(n)
	return r.allowAccount(ctx, account, r.policy.Limit(account))
}

// Wait blocks until the mailbox n goes out from has budget left, or ctx ends.
func (r *MailboxRateLimiter) Wait(ctx context.Context, n domain.NotificationRecord) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("rate limiter is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	account := r.policy.Account(n)
	limit := r.policy.Limit(account)
	backoff := backoffStep
	for {
		allowed, err := r.allowAccount(ctx, account, limit)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, min(backoff, untilNextWindow(r.now()))); err != nil {
			return err
		}
		backoff = min(backoff+backoffStep, backoffMax)
	}
}

func (r *MailboxRateLimiter) allowAccount(ctx context.Context, account string, limit int) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	key := sendWindowKey(account, r.now())
	result, err := sendWindowScript.Run(ctx, r.client, []string{key}, limit, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate send budget of %s: %w", account, err)
	}
	return result == 1, nil
}

func sendWindowKey(account string, now time.Time) string {
	return fmt.Sprintf("ratelimit:send:%s:%d", account, now.UTC().Unix())
}

// untilNextWindow is the time left in the one-second window now falls in.
func untilNextWindow(now time.Time) time.Duration {
	return now.Truncate(time.Second).Add(time.Second).Sub(now)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
