package ratelimit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
)

const (
	DefaultAccount     = "default"
	DefaultLimitPerSec = 30
	accountLimitSep    = ","
	accountLimitAssign = "="
)

// Policy decides which mailbox a notification is sent from and how many
// messages per second that mailbox may submit.
type Policy struct {
	// DefaultAccount is used when a notification names no sender. It should be
	// the provider's default sender.
	DefaultAccount string
	DefaultLimit   int
	// AccountLimits overrides DefaultLimit per mailbox. Keys are lower case.
	AccountLimits map[string]int
}

// Account returns the normalized mailbox n is sent from: its sender, else the
// mailbox an earlier attempt used, else the default account.
func (p Policy) Account(n domain.NotificationRecord) string {
	if account := normalizeAccount(n.From); account != "" {
		return account
	}
	if n.EmailAccountUsed != nil {
		if account := normalizeAccount(*n.EmailAccountUsed); account != "" {
			return account
		}
	}
	if account := normalizeAccount(p.DefaultAccount); account != "" {
		return account
	}
	return DefaultAccount
}

// Limit returns the per-second budget of account.
func (p Policy) Limit(account string) int {
	if limit, ok := p.AccountLimits[normalizeAccount(account)]; ok && limit > 0 {
		return limit
	}
	if p.DefaultLimit > 0 {
		return p.DefaultLimit
	}
	return DefaultLimitPerSec
}

// ParseAccountLimits reads "mailbox=limit" pairs separated by commas, e.g.
// "reports@contoso.com=10,alerts@contoso.com=2". An empty string yields no overrides.
func ParseAccountLimits(raw string) (map[string]int, error) {
	limits := make(map[string]int)
	for _, pair := range strings.Split(raw, accountLimitSep) {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		account, value, ok := strings.Cut(pair, accountLimitAssign)
		account = normalizeAccount(account)
		if !ok || account == "" {
			return nil, fmt.Errorf("invalid account limit %q, want mailbox=limit", pair)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || limit <= 0 {
			return nil, fmt.Errorf("invalid limit for account %q: %q", account, value)
		}
		limits[account] = limit
	}
	return limits, nil
}

func normalizeAccount(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}
