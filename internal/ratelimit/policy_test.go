package ratelimit

import (
	"testing"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
)

func TestPolicyAccount(t *testing.T) {
	t.Parallel()

	used := " Reports@Contoso.com "
	tests := []struct {
		name   string
		policy Policy
		n      domain.NotificationRecord
		want   string
	}{
		{name: "sender", n: domain.NotificationRecord{From: "Alerts@Contoso.com", EmailAccountUsed: &used}, want: "alerts@contoso.com"},
		{name: "earlier attempt", n: domain.NotificationRecord{EmailAccountUsed: &used}, want: "reports@contoso.com"},
		{name: "default sender", policy: Policy{DefaultAccount: "NoReply@contoso.com"}, want: "noreply@contoso.com"},
		{name: "nothing configured", want: DefaultAccount},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.policy.Account(tt.n); got != tt.want {
				t.Fatalf("Account() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPolicyLimit(t *testing.T) {
	t.Parallel()

	policy := Policy{DefaultLimit: 5, AccountLimits: map[string]int{"bulk@contoso.com": 50}}
	if got := policy.Limit(" Bulk@Contoso.com"); got != 50 {
		t.Fatalf("Limit(bulk) = %d, want 50", got)
	}
	if got := policy.Limit("alerts@contoso.com"); got != 5 {
		t.Fatalf("Limit(alerts) = %d, want 5", got)
	}
	if got := (Policy{}).Limit("alerts@contoso.com"); got != DefaultLimitPerSec {
		t.Fatalf("Limit() without policy = %d, want %d", got, DefaultLimitPerSec)
	}
}

func TestParseAccountLimits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    map[string]int
		wantErr bool
	}{
		{name: "empty", raw: "", want: map[string]int{}},
		{name: "pairs", raw: "Bulk@Contoso.com=50, alerts@contoso.com=2,", want: map[string]int{"bulk@contoso.com": 50, "alerts@contoso.com": 2}},
		{name: "missing limit", raw: "bulk@contoso.com", wantErr: true},
		{name: "zero limit", raw: "bulk@contoso.com=0", wantErr: true},
		{name: "blank mailbox", raw: "=5", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseAccountLimits(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseAccountLimits(%q) error = nil, want error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAccountLimits(%q) error = %v", tt.raw, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseAccountLimits(%q) = %v, want %v", tt.raw, got, tt.want)
			}
			for account, limit := range tt.want {
				if got[account] != limit {
					t.Fatalf("limit of %s = %d, want %d", account, got[account], limit)
				}
			}
		})
	}
}
