package domain

import (
	"testing"
	"time"
)

func TestLinkStateTerminal(t *testing.T) {
	t.Parallel()

	if LinkStatePending.IsTerminal() {
		t.Fatal("PENDING should not be terminal")
	}
	for _, s := range []LinkState{LinkStateExpired, LinkStateLocked, LinkStateUsed} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	if LinkState("BOGUS").IsTerminal() {
		t.Fatal("invalid state should not report terminal")
	}
}

func TestPendingLinkExpired(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	link := PendingLink{ExpiresAt: now.Add(10 * time.Minute)}

	if link.Expired(now) {
		t.Fatal("link should not be expired before the deadline")
	}
	if link.Expired(now.Add(10 * time.Minute)) {
		t.Fatal("link expiring exactly at the deadline is still verifiable")
	}
	if !link.Expired(now.Add(10*time.Minute + time.Second)) {
		t.Fatal("link should be expired after the deadline")
	}
}

func TestPendingLinkExhausted(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		attempts    int
		maxAttempts int
		want        bool
	}{
		{name: "fresh", attempts: 0, maxAttempts: 5, want: false},
		{name: "one left", attempts: 4, maxAttempts: 5, want: false},
		{name: "at limit", attempts: 5, maxAttempts: 5, want: true},
		{name: "zero max falls back to default", attempts: 5, maxAttempts: 0, want: true},
		{name: "zero max under default", attempts: 4, maxAttempts: 0, want: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			link := PendingLink{Attempts: tc.attempts, MaxAttempts: tc.maxAttempts}
			if got := link.Exhausted(); got != tc.want {
				t.Fatalf("Exhausted() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	t.Parallel()

	if got := NormalizeEmail("  Dev@Example.COM "); got != "dev@example.com" {
		t.Fatalf("NormalizeEmail() = %q, want dev@example.com", got)
	}
}
